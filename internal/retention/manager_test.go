package retention

import (
	"sync/atomic"
	"testing"
	"time"
)

type fakeStore struct {
	prunes  atomic.Int64
	lastCap atomic.Int64
}

func (f *fakeStore) PruneQuarantine(capBytes int64) error {
	f.prunes.Add(1)
	f.lastCap.Store(capBytes)
	return nil
}

func TestManagerSweepsPeriodically(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(Config{
		QuarantineCapBytes: 4096,
		SweepInterval:      20 * time.Millisecond,
	}, store)

	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if store.prunes.Load() >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if store.prunes.Load() < 2 {
		t.Fatalf("expected at least 2 sweeps, got %d", store.prunes.Load())
	}
	if store.lastCap.Load() != 4096 {
		t.Fatalf("expected cap 4096, got %d", store.lastCap.Load())
	}
}

func TestManagerStopHaltsSweeps(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(Config{SweepInterval: 10 * time.Millisecond}, store)
	m.Start()
	time.Sleep(50 * time.Millisecond)
	m.Stop()

	count := store.prunes.Load()
	time.Sleep(50 * time.Millisecond)
	if store.prunes.Load() != count {
		t.Fatal("sweeps must stop after Stop")
	}
}

func TestManagerStartStopIdempotent(t *testing.T) {
	m := NewManager(Config{}, &fakeStore{})
	m.Start()
	m.Start()
	m.Stop()
	m.Stop()
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.QuarantineCapBytes != 10*1024*1024 {
		t.Fatalf("unexpected default cap: %d", cfg.QuarantineCapBytes)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Fatalf("unexpected default interval: %v", cfg.SweepInterval)
	}
}
