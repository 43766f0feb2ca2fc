package egress

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/talon-obs/talon/internal/config"
	"github.com/talon-obs/talon/internal/events"
	"github.com/talon-obs/talon/internal/otelx"
	"github.com/talon-obs/talon/internal/spool"
	"github.com/talon-obs/talon/internal/tap"
	"github.com/talon-obs/talon/internal/trace"
)

// Loop is the single consumer of the raw-line channel. It maps frames to
// canonical records, accumulates a batch, and flushes when any trigger
// fires: record count, serialized bytes, or elapsed time.
//
// Failed sends spool to disk for retry. Malformed lines quarantine.
// After a successful send the loop opportunistically drains any spooled
// backlog.
type Loop struct {
	cfg     config.Config
	in      <-chan string
	sender  *Sender
	store   *spool.Store
	events  *events.EventLogger
	metrics *otelx.Metrics
	tracer  *otelx.Tracer
}

// NewLoop wires an egress loop. events, metrics, and tracer fall back to
// no-op instances when nil.
func NewLoop(cfg config.Config, in <-chan string, sender *Sender, store *spool.Store, ev *events.EventLogger, metrics *otelx.Metrics, tracer *otelx.Tracer) *Loop {
	if ev == nil {
		ev = events.NoopEventLogger()
	}
	if metrics == nil {
		metrics = otelx.GetGlobalMetrics()
	}
	if tracer == nil {
		tracer, _ = otelx.NewTracer(context.Background(), nil)
	}
	return &Loop{
		cfg:     cfg,
		in:      in,
		sender:  sender,
		store:   store,
		events:  ev,
		metrics: metrics,
		tracer:  tracer,
	}
}

// Run consumes the channel until it is closed. There is no graceful
// drain: records still in the in-memory batch when the channel closes
// are dropped, and spooled records wait for the next run's startup flush.
func (l *Loop) Run(ctx context.Context) {
	// Drain anything spooled by a previous run before accepting new work.
	_ = l.flushSpool(ctx)

	batch := make([]json.RawMessage, 0, l.cfg.BatchSize)
	batchBytes := 0
	last := time.Now()

	for {
		select {
		case line, ok := <-l.in:
			if !ok {
				return
			}
			l.ingest(ctx, line, &batch, &batchBytes)
		case <-time.After(l.cfg.BatchInterval):
		}

		timeDue := time.Since(last) >= l.cfg.BatchInterval && len(batch) > 0
		sizeDue := len(batch) >= l.cfg.BatchSize || batchBytes >= l.cfg.BatchBytes

		if timeDue || sizeDue {
			l.dispatch(ctx, batch)
			batch = batch[:0]
			batchBytes = 0
			last = time.Now()
		}
	}
}

// ingest parses one raw line, maps it, canonicalizes, and appends the
// serialized record to the batch. Failures divert to quarantine; the
// loop never stops for a bad frame.
func (l *Loop) ingest(ctx context.Context, line string, batch *[]json.RawMessage, batchBytes *int) {
	l.metrics.RecordFrameReceived(ctx)

	var frame any
	if err := json.Unmarshal([]byte(line), &frame); err != nil {
		l.quarantine(ctx, line, fmt.Sprintf("parse error: %v", err), "parse")
		return
	}

	rec, err := tap.FromFrame(frame)
	if err != nil {
		l.quarantine(ctx, line, err.Error(), "map")
		return
	}

	trace.Canonicalize(rec)
	raw, err := rec.MarshalJSONL()
	if err != nil {
		l.quarantine(ctx, line, fmt.Sprintf("encode error: %v", err), "encode")
		return
	}

	*batch = append(*batch, raw)
	*batchBytes += len(raw)
}

// dispatch attempts a synchronous send and hands the batch to the spool
// on failure. Spool write failures are logged and the batch dropped:
// losing a batch here is preferable to crashing a critical producer.
func (l *Loop) dispatch(ctx context.Context, batch []json.RawMessage) {
	if len(batch) == 0 {
		return
	}

	batchID := uuid.NewString()
	start := time.Now()

	sendCtx, span := l.tracer.StartSend(ctx, len(batch))
	err := l.sender.Send(sendCtx, batch)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
	latencyMs := time.Since(start).Milliseconds()

	if err != nil {
		rotated, spoolErr := l.store.Append(batch)
		if spoolErr != nil {
			log.Printf("[Egress] spool append failed, dropping %d records: %v", len(batch), spoolErr)
			return
		}
		l.events.LogBatchSpooled(batchID, len(batch), err.Error())
		l.metrics.RecordBatchSpooled(ctx, len(batch), float64(latencyMs))
		if rotated {
			l.events.LogSpoolRotated(l.store.EventsPath())
			l.metrics.RecordRotation(ctx)
		}
		return
	}

	l.events.LogBatchSent(batchID, len(batch), latencyMs)
	l.metrics.RecordBatchSent(ctx, len(batch), float64(latencyMs))

	// The collector is reachable again; try to clear prior backlog now.
	_ = l.flushSpool(ctx)
}

func (l *Loop) quarantine(ctx context.Context, raw, reason, category string) {
	if err := l.store.Quarantine(reason, raw); err != nil {
		log.Printf("[Egress] quarantine write failed: %v", err)
	}
	l.events.LogQuarantined(reason)
	l.metrics.RecordQuarantined(ctx, category)
}

func (l *Loop) flushSpool(ctx context.Context) error {
	return Flush(ctx, l.store, l.sender, l.events, l.metrics, l.tracer)
}
