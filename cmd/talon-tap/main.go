// Package main provides the talon-tap CLI binary: a lightweight hook
// event forwarder. It reads JSON from stdin, annotates it with envelope
// metadata, and forwards it to talon-agent over IPC. Designed to stay
// fast and minimal so instrumented hooks are never blocked.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/talon-obs/talon/internal/config"
	"github.com/talon-obs/talon/internal/hostinfo"
)

const version = "0.1.0"

// defaultMaxStdinBytes bounds stdin so a hook accidentally piping a large
// file cannot exhaust memory. 2 MiB covers any realistic hook payload.
const defaultMaxStdinBytes = 2 * 1024 * 1024

func main() {
	event := flag.String("event", "unknown", "Event type name (e.g. \"post_tool_use\")")
	flag.Parse()

	maxBytes := int64(defaultMaxStdinBytes)
	if v := os.Getenv("TALON_TAP_MAX_STDIN_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			maxBytes = n
		}
	}

	buf, _ := io.ReadAll(io.LimitReader(os.Stdin, maxBytes))

	// Forward an empty object on parse failure rather than dropping the
	// event; the agent quarantines anything it cannot map.
	var payload any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(buf))), &payload); err != nil {
		payload = map[string]any{}
	}

	envelope := map[string]any{
		"event":   *event,
		"payload": payload,
		"ts":      time.Now().UTC().Format(time.RFC3339),
		"env": map[string]any{
			"session_id": os.Getenv("CLAUDE_SESSION_ID"),
			"host":       hostinfo.Hostname(),
			"pid":        os.Getpid(),
		},
		"plugin":  "talon",
		"version": version,
	}

	serialized, err := json.Marshal(envelope)
	if err != nil {
		fmt.Fprintln(os.Stderr, "talon-tap: failed to serialize envelope")
		os.Exit(1)
	}

	ipcPath := os.Getenv("TALON_SOCK")
	if ipcPath == "" {
		ipcPath = config.DefaultSocketPath
	}

	// If the agent isn't running, start it and retry exactly once. The
	// sleep gives the agent time to create its socket.
	if trySend(ipcPath, serialized) != nil {
		err := startAgent(ipcPath)
		if err == nil {
			time.Sleep(150 * time.Millisecond)
			err = trySend(ipcPath, serialized)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "talon-tap: failed to send event to agent")
			os.Exit(1)
		}
	}
}

// startAgent spawns talon-agent in the background. TALON_AGENT_PATH
// overrides the binary location for non-standard installs; collector
// configuration passes through the environment.
func startAgent(ipcPath string) error {
	agentPath := os.Getenv("TALON_AGENT_PATH")
	if agentPath == "" {
		agentPath = "talon-agent"
	}

	args := []string{"start"}
	if endpoint := os.Getenv(config.EnvEndpoint); endpoint != "" {
		args = append(args, "--endpoint", endpoint)
	}
	if key := os.Getenv(config.EnvAPIKey); key != "" {
		args = append(args, "--api-key", key)
	}
	if ipcPath != "" {
		args = append(args, "--sock", ipcPath)
	}

	return exec.Command(agentPath, args...).Start()
}
