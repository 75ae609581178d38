package shell

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/reconscan/reconscan/internal/events"
)

func TestParseScanArgsDefaultsPorts(t *testing.T) {
	target, ports, force, ok := parseScanArgs([]string{"example.com"})
	if !ok || target != "example.com" || ports != "1-1024" || force {
		t.Fatalf("unexpected parse result: %q %q %v %v", target, ports, force, ok)
	}
}

func TestParseScanArgsHonorsForceFlag(t *testing.T) {
	target, ports, force, ok := parseScanArgs([]string{"10.0.0.1", "1-100", "--force"})
	if !ok || target != "10.0.0.1" || ports != "1-100" || !force {
		t.Fatalf("unexpected parse result: %q %q %v %v", target, ports, force, ok)
	}
}

func TestParseScanArgsRejectsTooManyArgs(t *testing.T) {
	_, _, _, ok := parseScanArgs([]string{"a", "b", "c"})
	if ok {
		t.Fatal("expected rejection of three positional args")
	}
}

func TestParseScanArgsRejectsEmpty(t *testing.T) {
	_, _, _, ok := parseScanArgs(nil)
	if ok {
		t.Fatal("expected rejection of no args")
	}
}

func TestREPLPrintEventRendersOpenPort(t *testing.T) {
	var buf bytes.Buffer
	r := NewREPL(nil, strings.NewReader(""), &buf)

	r.printEvent(events.OpenPort(nil, 42))

	if !strings.Contains(buf.String(), "open port") {
		t.Fatalf("expected rendered output to mention open port, got %q", buf.String())
	}
}

func TestREPLPrintEventRendersCachedFreshness(t *testing.T) {
	var buf bytes.Buffer
	r := NewREPL(nil, strings.NewReader(""), &buf)

	e := events.WithFreshness(events.OpenPort(nil, 100), "cached", time.Now())
	r.printEvent(e)

	if !strings.Contains(buf.String(), "cached") {
		t.Fatalf("expected rendered output to mention cached freshness, got %q", buf.String())
	}
}

func TestREPLHelpCommandListsCommands(t *testing.T) {
	var buf bytes.Buffer
	r := NewREPL(nil, strings.NewReader("help\nexit\n"), &buf)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "commands:") {
		t.Fatalf("expected help output, got %q", buf.String())
	}
}

func TestREPLUnknownCommandWarns(t *testing.T) {
	var buf bytes.Buffer
	r := NewREPL(nil, strings.NewReader("bogus\nexit\n"), &buf)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "unknown command") {
		t.Fatalf("expected unknown-command warning, got %q", buf.String())
	}
}
