package events

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// EventLogger provides structured logging for key events in the agent.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger creates a new EventLogger with JSON output to stderr.
// It includes base attributes: host and pid.
func NewEventLogger(host string, pid int) *EventLogger {
	return NewEventLoggerWithWriter(host, pid, os.Stderr)
}

// NewEventLoggerWithWriter creates a new EventLogger with JSON output to a
// custom writer. Useful for testing or redirecting output.
func NewEventLoggerWithWriter(host string, pid int, w io.Writer) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(handler).With(
		"host", host,
		"pid", pid,
	)
	return &EventLogger{logger: logger}
}

// LogBatchSent logs a successful collector delivery.
// event: "batch_sent"
// Attributes: batch_id, records, latency_ms
func (el *EventLogger) LogBatchSent(batchID string, records int, latencyMs int64) {
	el.logger.Info("batch_sent",
		"batch_id", batchID,
		"records", records,
		"latency_ms", latencyMs,
	)
}

// LogBatchSpooled logs a batch handed to the spool after delivery failed.
// event: "batch_spooled"
// Attributes: batch_id, records, reason
func (el *EventLogger) LogBatchSpooled(batchID string, records int, reason string) {
	el.logger.Warn("batch_spooled",
		"batch_id", batchID,
		"records", records,
		"reason", reason,
	)
}

// LogQuarantined logs a raw line diverted to quarantine.
// event: "quarantined"
// Attributes: reason
func (el *EventLogger) LogQuarantined(reason string) {
	el.logger.Warn("quarantined",
		"reason", reason,
	)
}

// LogSpoolRotated logs a completed spool rotation.
// event: "spool_rotated"
// Attributes: path
func (el *EventLogger) LogSpoolRotated(path string) {
	el.logger.Info("spool_rotated",
		"path", path,
	)
}

// LogFlushComplete logs a finished spool flush.
// event: "flush_complete"
// Attributes: records, duration_ms
func (el *EventLogger) LogFlushComplete(records int, durationMs int64) {
	el.logger.Info("flush_complete",
		"records", records,
		"duration_ms", durationMs,
	)
}

// LogListenerError logs a non-fatal accept or read failure.
// event: "listener_error"
// Attributes: error
func (el *EventLogger) LogListenerError(err error) {
	el.logger.Warn("listener_error",
		"error", err.Error(),
	)
}

// LogHealthSnapshot logs a periodic agent health snapshot.
// event: "health_snapshot"
// Attributes: queue_depth, queue_capacity, spool_bytes, cpu_percent, mem_rss
func (el *EventLogger) LogHealthSnapshot(queueDepth, queueCapacity int, spoolBytes int64, cpuPercent float64, memRSS uint64) {
	el.logger.Info("health_snapshot",
		"queue_depth", queueDepth,
		"queue_capacity", queueCapacity,
		"spool_bytes", spoolBytes,
		"cpu_percent", cpuPercent,
		"mem_rss", memRSS,
	)
}

// Global logger management
var (
	globalLogger *EventLogger
	globalMu     sync.RWMutex
)

// SetGlobalEventLogger sets the global event logger instance.
func SetGlobalEventLogger(l *EventLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalEventLogger returns the global event logger instance.
// If no logger is set, returns a no-op logger.
func GetGlobalEventLogger() *EventLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return NoopEventLogger()
}

// NoopEventLogger returns an event logger that discards all events.
// Useful for testing or when event logging is disabled.
func NoopEventLogger() *EventLogger {
	handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &EventLogger{logger: slog.New(handler)}
}
