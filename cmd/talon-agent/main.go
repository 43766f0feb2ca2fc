// Package main provides the talon-agent CLI binary: the long-lived
// daemon that accepts tap frames over IPC, batches them, and forwards
// them to a trace collector with retry and disk spooling. The flush
// subcommand drains the spool once and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/talon-obs/talon/internal/agent"
	"github.com/talon-obs/talon/internal/config"
	"github.com/talon-obs/talon/internal/egress"
	"github.com/talon-obs/talon/internal/events"
	"github.com/talon-obs/talon/internal/hostinfo"
	"github.com/talon-obs/talon/internal/otelx"
	"github.com/talon-obs/talon/internal/spool"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "start":
		runStart(os.Args[2:])
	case "flush":
		runFlush(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: talon-agent <start|flush> [flags]")
	fmt.Fprintln(os.Stderr, "  start   Start the agent daemon")
	fmt.Fprintln(os.Stderr, "  flush   Manually flush spooled events")
}

func runStart(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	sock := fs.String("sock", config.DefaultSocketPath, "Stream socket path for tap connections")
	endpoint := fs.String("endpoint", os.Getenv(config.EnvEndpoint), "Collector endpoint URL (env TRACE_ENDPOINT)")
	apiKey := fs.String("api-key", os.Getenv(config.EnvAPIKey), "Collector bearer token (env TRACE_API_KEY)")
	batchSize := fs.Int("batch-size", config.DefaultBatchSize, "Records per batch before flush")
	batchMs := fs.Int("batch-ms", 200, "Batch time window in milliseconds")
	chanCapacity := fs.Int("chan-capacity", config.DefaultChanCapacity, "Raw-line channel capacity")
	batchBytes := fs.Int("batch-bytes", config.DefaultBatchBytes, "Serialized bytes per batch before flush")
	spoolBytes := fs.Int64("spool-bytes", config.DefaultSpoolBytes, "Spool file size cap before rotation")
	spoolDir := fs.String("spool-dir", "", "Spool directory (default: per-user data dir)")
	quarantineBytes := fs.Int64("quarantine-bytes", config.DefaultQuarantineBytes, "Quarantine file size cap before pruning")
	healthInterval := fs.Duration("health-interval", config.DefaultHealthInterval, "Health snapshot interval (0 disables)")
	otelEnabled := fs.Bool("otel", false, "Enable OpenTelemetry self-telemetry")
	otelExporter := fs.String("otel-exporter", "stdout", "Telemetry exporter: stdout, otlp-http, otlp-grpc")
	otelEndpoint := fs.String("otel-endpoint", "", "OTLP endpoint for self-telemetry")
	otelInsecure := fs.Bool("otel-insecure", false, "Disable TLS for OTLP self-telemetry")
	fs.Parse(args)

	if *endpoint == "" {
		fmt.Fprintln(os.Stderr, "Error: --endpoint is required (or set TRACE_ENDPOINT)")
		os.Exit(1)
	}

	cfg := config.Config{
		Endpoint:        *endpoint,
		APIKey:          *apiKey,
		SocketPath:      *sock,
		BatchSize:       *batchSize,
		BatchInterval:   time.Duration(*batchMs) * time.Millisecond,
		ChanCapacity:    *chanCapacity,
		BatchBytes:      *batchBytes,
		SpoolBytes:      *spoolBytes,
		SpoolDir:        *spoolDir,
		QuarantineBytes: *quarantineBytes,
		HealthInterval:  *healthInterval,
	}.WithDefaults()

	host := hostinfo.Hostname()
	ev := events.NewEventLogger(host, os.Getpid())
	events.SetGlobalEventLogger(ev)

	ctx := context.Background()

	exporter := otelx.ExporterType(*otelExporter)
	if !*otelEnabled {
		exporter = otelx.ExporterNone
	}
	metrics, err := otelx.NewMetrics(ctx, &otelx.MetricsConfig{
		Enabled:        *otelEnabled,
		ServiceName:    "talon-agent",
		ServiceVersion: version,
		ExporterType:   exporter,
		OTLPEndpoint:   *otelEndpoint,
		OTLPInsecure:   *otelInsecure,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize metrics: %v\n", err)
		os.Exit(1)
	}
	otelx.SetGlobalMetrics(metrics)

	// Span export only supports the stdout and OTLP-HTTP exporters.
	tracerExporter := exporter
	if exporter == otelx.ExporterOTLPGRPC {
		tracerExporter = otelx.ExporterNone
	}
	tracer, err := otelx.NewTracer(ctx, &otelx.TracerConfig{
		Enabled:        *otelEnabled && tracerExporter != otelx.ExporterNone,
		ServiceName:    "talon-agent",
		ServiceVersion: version,
		ExporterType:   tracerExporter,
		OTLPEndpoint:   *otelEndpoint,
		OTLPInsecure:   *otelInsecure,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
		os.Exit(1)
	}

	a := agent.New(cfg, ev, metrics, tracer)
	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start agent: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Agent listening on %s\n", cfg.SocketPath)
	fmt.Printf("Collector endpoint: %s\n", cfg.Endpoint)
	fmt.Printf("Spool directory: %s\n", cfg.SpoolDir)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down agent...")
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx)
	_ = metrics.Shutdown(stopCtx)
	_ = tracer.Shutdown(stopCtx)
	fmt.Println("Agent stopped")
}

func runFlush(args []string) {
	fs := flag.NewFlagSet("flush", flag.ExitOnError)
	endpoint := fs.String("endpoint", os.Getenv(config.EnvEndpoint), "Collector endpoint URL (env TRACE_ENDPOINT)")
	apiKey := fs.String("api-key", os.Getenv(config.EnvAPIKey), "Collector bearer token (env TRACE_API_KEY)")
	spoolDir := fs.String("spool-dir", "", "Spool directory (default: per-user data dir)")
	fs.Parse(args)

	if *endpoint == "" {
		fmt.Fprintln(os.Stderr, "Error: --endpoint is required (or set TRACE_ENDPOINT)")
		os.Exit(1)
	}

	dir := *spoolDir
	if dir == "" {
		dir = config.DefaultSpoolDir()
	}

	ev := events.NewEventLogger(hostinfo.Hostname(), os.Getpid())
	store := spool.NewStore(dir, config.DefaultSpoolBytes)
	sender := egress.NewSender(*endpoint, *apiKey)

	if err := egress.Flush(context.Background(), store, sender, ev, nil, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Flush failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Spool flushed")
}
