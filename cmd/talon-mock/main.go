// Package main provides the talon-mock CLI binary. It starts a local
// mock trace collector for development: accepts the agent's batches,
// optionally plays back a scripted status sequence, and serves stored
// traces in the downstream UI document shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/talon-obs/talon/internal/mockcollector"
)

func main() {
	addr := flag.String("addr", ":9411", "HTTP server address")
	statuses := flag.String("status", "", "Comma-separated status codes for successive POSTs (e.g. 500,500,200)")
	flag.Parse()

	config := mockcollector.DefaultConfig()
	config.Addr = *addr
	if *statuses != "" {
		for _, part := range strings.Split(*statuses, ",") {
			code, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid status code %q\n", part)
				os.Exit(1)
			}
			config.StatusScript = append(config.StatusScript, code)
		}
	}

	server := mockcollector.New(config)

	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting mock collector: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Mock collector listening on %s\n", server.Addr())
	fmt.Printf("Ingest endpoint: %s\n", server.URL())
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Stop(ctx)
	fmt.Println("Mock collector stopped")
}
