package detector

import (
	"bufio"
	"context"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/reconscan/reconscan/internal/prober"
)

// scriptedDialer fails every dial except the one at 1-indexed call
// number matchOn, where it hands out the client half of a net.Pipe
// driven by server. This lets a test target exactly one entry in the
// activeProbes table without the other probes blocking on a
// connection that was never meant for them.
type scriptedDialer struct {
	calls   int
	matchOn int
	server  func(net.Conn)
}

func (d *scriptedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.calls++
	if d.calls != d.matchOn {
		return nil, &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	}
	client, server := net.Pipe()
	go d.server(server)
	return client, nil
}

func withDeadline(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// probePosition returns the 1-indexed dial call number at which the
// named probe's first attempt occurs, assuming every preceding probe
// fails both its attempt and its retry.
func probePosition(name string) int {
	pos := 0
	for _, p := range activeProbes {
		pos++
		if p.name == name {
			return pos
		}
		pos++ // the failing retry
	}
	return -1
}

func TestDetectFallbackWhenDisabled(t *testing.T) {
	r := Detect(withDeadline(t), &scriptedDialer{matchOn: -1}, "127.0.0.1", 22, Config{Enhanced: false})
	if r.Service != "ssh" {
		t.Fatalf("expected fallback service ssh, got %q", r.Service)
	}
	if r.Confidence != fallbackConfidence {
		t.Fatalf("expected fallback confidence, got %v", r.Confidence)
	}
}

func TestDetectFallbackUnknownPort(t *testing.T) {
	r := Detect(withDeadline(t), &scriptedDialer{matchOn: -1}, "127.0.0.1", 54321, Config{Enhanced: false})
	if r.Service != "unknown" {
		t.Fatalf("expected unknown service, got %q", r.Service)
	}
}

func TestDetectActiveSSHBanner(t *testing.T) {
	server := func(c net.Conn) {
		defer c.Close()
		_, _ = c.Write([]byte("SSH-2.0-OpenSSH_9.6\r\n"))
	}
	d := &scriptedDialer{matchOn: probePosition("ssh"), server: server}
	r := Detect(withDeadline(t), d, "127.0.0.1", 22, Config{Enhanced: true})
	if r.Service != "ssh" {
		t.Fatalf("expected ssh match, got %q (confidence %v)", r.Service, r.Confidence)
	}
	if r.Version != "2.0" {
		t.Fatalf("expected version 2.0, got %q", r.Version)
	}
}

func TestDetectActiveRedisPong(t *testing.T) {
	server := func(c net.Conn) {
		defer c.Close()
		buf := make([]byte, 64)
		_, _ = c.Read(buf) // consume PING
		_, _ = c.Write([]byte("+PONG\r\n"))
	}
	d := &scriptedDialer{matchOn: probePosition("redis"), server: server}
	r := Detect(withDeadline(t), d, "127.0.0.1", 6379, Config{Enhanced: true})
	if r.Service != "redis" {
		t.Fatalf("expected redis match, got %q", r.Service)
	}
}

func TestDetectActiveHTTPStatusLine(t *testing.T) {
	server := func(c net.Conn) {
		defer c.Close()
		r := bufio.NewReader(c)
		_, _ = r.ReadString('\n')
		_, _ = c.Write([]byte("HTTP/1.1 200 OK\r\nServer: nginx/1.25\r\n\r\n"))
	}
	d := &scriptedDialer{matchOn: probePosition("http"), server: server}
	r := Detect(withDeadline(t), d, "127.0.0.1", 8080, Config{Enhanced: true})
	if r.Version != "1.1" {
		t.Fatalf("expected http version 1.1, got %q", r.Version)
	}
}

func TestFallbackResultUsesPortTable(t *testing.T) {
	r := fallbackResult(23) // telnet
	if r.Service != "telnet" {
		t.Fatalf("expected telnet, got %q", r.Service)
	}
}

var _ prober.Dialer = (*scriptedDialer)(nil)
