package queue

import "context"

// memoryBroker is the default, dependency-free Broker: dispatch
// messages travel over a buffered Go channel within the same process.
type memoryBroker struct {
	messages chan DispatchMessage
}

// NewMemoryBroker creates the in-process channel-backed broker.
func NewMemoryBroker(capacity int) Broker {
	if capacity <= 0 {
		capacity = 256
	}
	return &memoryBroker{messages: make(chan DispatchMessage, capacity)}
}

func (b *memoryBroker) Publish(ctx context.Context, msg DispatchMessage) error {
	select {
	case b.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *memoryBroker) Consume(ctx context.Context) (<-chan DispatchMessage, error) {
	return b.messages, nil
}

func (b *memoryBroker) Close() error {
	close(b.messages)
	return nil
}
