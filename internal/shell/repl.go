package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/reconscan/reconscan/internal/events"
)

// REPL drives the interactive line-oriented shell: one command per
// line, styled output, reading from in and writing to out.
type REPL struct {
	client *Client
	in     *bufio.Scanner
	out    io.Writer
}

// NewREPL creates a REPL reading commands from in and writing output
// to out, issuing requests through client.
func NewREPL(client *Client, in io.Reader, out io.Writer) *REPL {
	return &REPL{client: client, in: bufio.NewScanner(in), out: out}
}

// Run reads commands until EOF, "exit", or "quit". ctx is passed to each
// command's requests; cancelling it does not end the loop.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, stylePrompt.Render("reconscan shell — type 'help' for commands"))

	for {
		fmt.Fprint(r.out, stylePrompt.Render("> "))
		if !r.in.Scan() {
			return r.in.Err()
		}

		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "exit", "quit":
			return nil
		case "help":
			r.printHelp()
		case "scan":
			r.cmdScan(ctx, args)
		case "watch":
			r.cmdWatch(ctx, args)
		case "task":
			r.cmdTask(ctx, args)
		case "scans":
			r.cmdScans(ctx)
		case "cache":
			r.cmdCacheStats(ctx)
		default:
			fmt.Fprintln(r.out, styleWarn.Render("unknown command: "+cmd))
		}
	}
}

func (r *REPL) printHelp() {
	fmt.Fprintln(r.out, `commands:
  scan <target> [ports] [--force]    stream a scan over SSE
  watch <target> [ports] [--force]   stream a scan over WebSocket, prompting for consent
  task <task_id>                     poll an async task's state
  scans                              list recent scan history
  cache                              show cache hit/miss stats
  exit | quit                        leave the shell`)
}

func (r *REPL) cmdScan(ctx context.Context, args []string) {
	target, ports, force, ok := parseScanArgs(args)
	if !ok {
		fmt.Fprintln(r.out, styleWarn.Render("usage: scan <target> [ports] [--force]"))
		return
	}

	fmt.Fprintln(r.out, styleTarget.Render("scanning "+target))
	err := r.client.StreamScan(ctx, target, ports, force, func(e events.Event) {
		r.printEvent(e)
	})
	if err != nil {
		fmt.Fprintln(r.out, styleError.Render("error: "+err.Error()))
	}
}

func (r *REPL) cmdWatch(ctx context.Context, args []string) {
	target, ports, force, ok := parseScanArgs(args)
	if !ok {
		fmt.Fprintln(r.out, styleWarn.Render("usage: watch <target> [ports] [--force]"))
		return
	}

	fmt.Fprintln(r.out, styleTarget.Render("watching "+target))
	err := r.client.WSStream(ctx, target, ports, force,
		func(e events.Event) { r.printEvent(e) },
		func(e events.Event) bool { return r.promptConsent(e) },
	)
	if err != nil {
		fmt.Fprintln(r.out, styleError.Render("error: "+err.Error()))
	}
}

func (r *REPL) promptConsent(e events.Event) bool {
	fmt.Fprintln(r.out, styleWarn.Render(fmt.Sprintf("%s resolved to %s did not answer on sentinel ports — scan anyway? [y/N] ", e.Target, e.ResolvedIP)))
	if !r.in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(r.in.Text()))
	return answer == "y" || answer == "yes"
}

func (r *REPL) cmdTask(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, styleWarn.Render("usage: task <task_id>"))
		return
	}

	task, err := r.client.PollTask(ctx, args[0])
	if err != nil {
		fmt.Fprintln(r.out, styleError.Render("error: "+err.Error()))
		return
	}

	fmt.Fprintf(r.out, "%s  progress=%d%%  %s\n", task.State, task.Progress, task.Message)
	if task.Error != "" {
		fmt.Fprintln(r.out, styleError.Render(task.Error))
	}
}

func (r *REPL) cmdScans(ctx context.Context) {
	history, err := r.client.ListScans(ctx)
	if err != nil {
		fmt.Fprintln(r.out, styleError.Render("error: "+err.Error()))
		return
	}

	for _, h := range history {
		fmt.Fprintf(r.out, "%s  %s  %-9s  %d open  %s\n", h.ID, h.Timestamp, h.Status, h.OpenPorts, h.Target)
	}
}

func (r *REPL) cmdCacheStats(ctx context.Context) {
	stats, err := r.client.CacheStats(ctx)
	if err != nil {
		fmt.Fprintln(r.out, styleError.Render("error: "+err.Error()))
		return
	}

	fmt.Fprintf(r.out, "hits=%d misses=%d hit_rate=%.2f stored=%d\n", stats.Hits, stats.Misses, stats.HitRate, stats.Stored)
}

func (r *REPL) printEvent(e events.Event) {
	switch e.Kind {
	case events.KindScanStart:
		fmt.Fprintln(r.out, styleDim.Render(fmt.Sprintf("scan started: %d ports", e.TotalPorts)))
	case events.KindTierStart:
		fmt.Fprintln(r.out, styleDim.Render(fmt.Sprintf("tier %s: %d ports (%d%%)", e.Priority, e.Count, e.Progress)))
	case events.KindOpenPort:
		freshness := ""
		if e.Freshness != "" {
			freshness = " [" + e.Freshness + "]"
		}
		fmt.Fprintln(r.out, styleOpen.Render(fmt.Sprintf("open port%s (%d%%)", freshness, e.Progress)))
	case events.KindTierComplete:
		fmt.Fprintln(r.out, styleDim.Render(fmt.Sprintf("tier %s complete: %d open (%d%%)", e.Priority, e.OpenCount, e.Progress)))
	case events.KindScanComplete:
		fmt.Fprintln(r.out, styleOpen.Render(fmt.Sprintf("scan complete: %d open, %d closed, %d filtered", e.OpenPorts, e.Closed, e.Filtered)))
	case events.KindScanError:
		fmt.Fprintln(r.out, styleError.Render("scan error: "+e.Message))
	case events.KindPreScanWarning:
		fmt.Fprintln(r.out, styleWarn.Render("pre-scan warning: "+e.Target+" requires forced consent (use --force)"))
	}
}

// parseScanArgs parses "<target> [ports] [--force]" from a command's
// argument list, defaulting ports to "1-1024".
func parseScanArgs(args []string) (target, ports string, force bool, ok bool) {
	var rest []string
	for _, a := range args {
		if a == "--force" {
			force = true
			continue
		}
		rest = append(rest, a)
	}

	switch len(rest) {
	case 1:
		return rest[0], "1-1024", force, true
	case 2:
		return rest[0], rest[1], force, true
	default:
		return "", "", false, false
	}
}
