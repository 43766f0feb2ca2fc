package egress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/talon-obs/talon/internal/events"
	"github.com/talon-obs/talon/internal/otelx"
	"github.com/talon-obs/talon/internal/spool"
)

// Flush drains the spool through the sender. It is invoked on startup,
// after successful sends, and by the `flush` CLI command. All three run
// the same read, send, truncate cycle under the spool's directory lock,
// so an external flush process and the in-process egress loop serialize
// rather than race.
//
// Returns nil when the spool is empty or fully delivered; the first send
// error otherwise, with the spool file intact.
func Flush(ctx context.Context, store *spool.Store, sender *Sender, ev *events.EventLogger, metrics *otelx.Metrics, tracer *otelx.Tracer) error {
	if ev == nil {
		ev = events.NoopEventLogger()
	}
	if metrics == nil {
		metrics = otelx.GetGlobalMetrics()
	}

	flushCtx := ctx
	if tracer != nil {
		c, span := tracer.StartFlush(ctx)
		defer span.End()
		flushCtx = c
	}

	start := time.Now()
	total := 0

	err := store.Flush(func(batch []json.RawMessage) error {
		if err := sender.Send(flushCtx, batch); err != nil {
			return err
		}
		total += len(batch)
		metrics.RecordFlush(flushCtx, len(batch))
		return nil
	})
	if err != nil {
		return err
	}

	if total > 0 {
		ev.LogFlushComplete(total, time.Since(start).Milliseconds())
	}
	return nil
}
