// Package agent wires the listener, egress loop, and background managers
// into one lifecycle.
package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talon-obs/talon/internal/config"
	"github.com/talon-obs/talon/internal/egress"
	"github.com/talon-obs/talon/internal/events"
	"github.com/talon-obs/talon/internal/hostinfo"
	"github.com/talon-obs/talon/internal/listener"
	"github.com/talon-obs/talon/internal/otelx"
	"github.com/talon-obs/talon/internal/retention"
	"github.com/talon-obs/talon/internal/spool"
)

// Agent owns the full pipeline: listener → bounded channel → egress loop,
// plus the retention manager and the periodic health snapshot.
type Agent struct {
	cfg      config.Config
	store    *spool.Store
	sender   *egress.Sender
	events   *events.EventLogger
	metrics  *otelx.Metrics
	tracer   *otelx.Tracer
	lines    chan string
	listener *listener.Listener
	loop     *egress.Loop
	ret      *retention.Manager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool
	closed  atomic.Bool
}

// New builds an agent from configuration. ev, metrics, and tracer may be
// nil; no-op instances are substituted.
func New(cfg config.Config, ev *events.EventLogger, metrics *otelx.Metrics, tracer *otelx.Tracer) *Agent {
	cfg = cfg.WithDefaults()
	if ev == nil {
		ev = events.NoopEventLogger()
	}
	if metrics == nil {
		metrics = otelx.GetGlobalMetrics()
	}

	store := spool.NewStore(cfg.SpoolDir, cfg.SpoolBytes)
	metrics.SetSpoolSizeFunc(store.Size)

	sender := egress.NewSender(cfg.Endpoint, cfg.APIKey)
	lines := make(chan string, cfg.ChanCapacity)

	return &Agent{
		cfg:     cfg,
		store:   store,
		sender:  sender,
		events:  ev,
		metrics: metrics,
		tracer:  tracer,
		lines:   lines,
		loop:    egress.NewLoop(cfg, lines, sender, store, ev, metrics, tracer),
		ret:     retention.NewManager(retention.Config{QuarantineCapBytes: cfg.QuarantineBytes}, store),
	}
}

// Start binds the stream endpoint and launches the pipeline. Returns an
// error only for fatal startup failures (bind failure, permission denied).
func (a *Agent) Start(ctx context.Context) error {
	if a.started.Swap(true) {
		return nil
	}

	ln, err := listener.Listen(a.cfg.SocketPath)
	if err != nil {
		return err
	}
	a.listener = listener.New(ln, a.lines, a.events)

	a.ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.loop.Run(a.ctx)
	}()

	a.listener.Start()
	a.ret.Start()

	if a.cfg.HealthInterval > 0 {
		a.wg.Add(1)
		go a.healthLoop()
	}

	return nil
}

// Stop tears the pipeline down: the endpoint closes first so producers
// stop feeding the channel, then the channel closes and the egress loop
// exits. Waits until the deadline in ctx.
func (a *Agent) Stop(ctx context.Context) error {
	if a.closed.Swap(true) {
		return nil
	}

	if a.listener != nil {
		a.listener.Stop()
	}
	close(a.lines)
	if a.cancel != nil {
		a.cancel()
	}
	a.ret.Stop()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Store exposes the spool store, mainly for tests.
func (a *Agent) Store() *spool.Store { return a.store }

func (a *Agent) healthLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			snap := hostinfo.Collect()
			a.events.LogHealthSnapshot(
				len(a.lines), cap(a.lines),
				a.store.Size(),
				snap.CPUPercent, snap.MemRSS,
			)
		}
	}
}
