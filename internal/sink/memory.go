package sink

import (
	"context"
	"sort"
	"sync"

	"github.com/reconscan/reconscan/internal/scheduler"
)

// memorySink is the mandatory in-process default, with no external
// dependency. It keeps every saved scan for the life of the process and
// never evicts; task records are not stored here.
type memorySink struct {
	mu    sync.RWMutex
	scans map[string]scheduler.ScanRecord
}

// NewMemorySink returns a Sink backed by an in-process map.
func NewMemorySink() Sink {
	return &memorySink{scans: make(map[string]scheduler.ScanRecord)}
}

func (s *memorySink) SaveScan(_ context.Context, record scheduler.ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans[record.ScanID] = record
	return nil
}

func (s *memorySink) UpdateScan(ctx context.Context, record scheduler.ScanRecord) error {
	return s.SaveScan(ctx, record)
}

func (s *memorySink) SaveResults(_ context.Context, scanID string, record scheduler.ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.scans[scanID]
	if !ok {
		return ErrNotFound
	}
	existing.Results = record.Results
	s.scans[scanID] = existing
	return nil
}

func (s *memorySink) ListScans(_ context.Context, requestedBy string, limit int) ([]scheduler.ScanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []scheduler.ScanRecord
	for _, rec := range s.scans {
		if requestedBy != "" && rec.RequestedBy != requestedBy {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memorySink) GetScan(_ context.Context, scanID string) (scheduler.ScanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.scans[scanID]
	if !ok {
		return scheduler.ScanRecord{}, ErrNotFound
	}
	return rec, nil
}
