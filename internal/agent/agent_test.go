//go:build unix

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/talon-obs/talon/internal/config"
	"github.com/talon-obs/talon/internal/egress"
	"github.com/talon-obs/talon/internal/mockcollector"
	"github.com/talon-obs/talon/internal/spool"
)

func startCollector(t *testing.T, statuses ...int) *mockcollector.Server {
	t.Helper()
	cfg := mockcollector.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.StatusScript = statuses
	server := mockcollector.New(cfg)
	if err := server.Start(); err != nil {
		t.Fatalf("start mock collector: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Stop(ctx)
	})
	return server
}

func startAgent(t *testing.T, endpoint string) (*Agent, string) {
	t.Helper()
	dir := t.TempDir()
	sock := filepath.Join(dir, "talon.sock")

	cfg := config.Config{
		Endpoint:      endpoint,
		SocketPath:    sock,
		BatchInterval: 50 * time.Millisecond,
		SpoolDir:      filepath.Join(dir, "spool"),
	}

	a := New(cfg, nil, nil, nil)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start agent: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return a, sock
}

func sendFrame(t *testing.T, sock, frame string) {
	t.Helper()
	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial agent socket: %v", err)
	}
	defer conn.Close()
	if _, err := fmt.Fprintln(conn, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestAgentEndToEnd(t *testing.T) {
	collector := startCollector(t)
	_, sock := startAgent(t, collector.URL())

	sendFrame(t, sock, `{"event":"PostToolUse","ts":"2025-11-13T10:30:00Z","env":{"host":"h","pid":7,"session_id":"s"},"payload":{"tool_name":"Bash"},"plugin":"talon","version":"0.1.0"}`)

	waitFor(t, 5*time.Second, func() bool {
		_, records := collector.Stats()
		return records == 1
	}, "expected one record at the collector")

	recs := collector.Records()
	if recs[0].Event != "tool.post" {
		t.Fatalf("expected tool.post, got %q", recs[0].Event)
	}
	if recs[0].IDs.SessionID != "s" {
		t.Fatalf("expected session id s, got %q", recs[0].IDs.SessionID)
	}
	if recs[0].Inputs.Tool.Name != "Bash" {
		t.Fatalf("expected tool Bash, got %q", recs[0].Inputs.Tool.Name)
	}
}

func TestAgentStartupFlushDrainsSpool(t *testing.T) {
	collector := startCollector(t)

	dir := t.TempDir()
	spoolDir := filepath.Join(dir, "spool")
	pre := spool.NewStore(spoolDir, config.DefaultSpoolBytes)
	if _, err := pre.Append([]json.RawMessage{
		json.RawMessage(`{"event":"model.end","schema_version":"trace/v1"}`),
		json.RawMessage(`{"event":"model.end","schema_version":"trace/v1"}`),
	}); err != nil {
		t.Fatalf("precondition append: %v", err)
	}

	cfg := config.Config{
		Endpoint:      collector.URL(),
		SocketPath:    filepath.Join(dir, "talon.sock"),
		BatchInterval: 50 * time.Millisecond,
		SpoolDir:      spoolDir,
	}
	a := New(cfg, nil, nil, nil)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start agent: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})

	waitFor(t, 5*time.Second, func() bool {
		_, records := collector.Stats()
		return records == 2
	}, "startup flush should deliver spooled backlog")

	waitFor(t, 3*time.Second, func() bool {
		info, err := os.Stat(pre.EventsPath())
		return err == nil && info.Size() == 0
	}, "spool should be empty after startup flush")
}

func TestAgentSurvivesOutageThenFlushDelivers(t *testing.T) {
	// Collector fails the first several attempts, then recovers.
	collector := startCollector(t, 500, 500, 500, 500)
	a, sock := startAgent(t, collector.URL())

	sendFrame(t, sock, `{"event":"model.end"}`)

	waitFor(t, 15*time.Second, func() bool {
		return a.Store().Size() > 0
	}, "record should spool during the outage")

	// Status script exhausted: collector now accepts. An external flush
	// (same path as `talon-agent flush`) drains the spool, contending on
	// the same directory lock as the running agent.
	ext := spool.NewStore(a.Store().Dir(), config.DefaultSpoolBytes)
	if err := egress.Flush(context.Background(), ext, egress.NewSender(collector.URL(), ""), nil, nil, nil); err != nil {
		t.Fatalf("external flush: %v", err)
	}

	if size := a.Store().Size(); size != 0 {
		t.Fatalf("spool should be empty after external flush, got %d bytes", size)
	}
	_, records := collector.Stats()
	if records != 1 {
		t.Fatalf("expected 1 record delivered, got %d", records)
	}
}

func TestAgentStartFailsOnBadSocketPath(t *testing.T) {
	collector := startCollector(t)

	cfg := config.Config{
		Endpoint:   collector.URL(),
		SocketPath: "/nonexistent-dir/sub/talon.sock",
		SpoolDir:   t.TempDir(),
	}
	a := New(cfg, nil, nil, nil)
	if err := a.Start(context.Background()); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Stop(ctx)
		t.Fatal("expected bind failure for bad socket path")
	}
}
