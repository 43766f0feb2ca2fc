package retention

import (
	"log"
	"sync"
	"time"
)

// QuarantineStore is the storage surface retention needs.
type QuarantineStore interface {
	PruneQuarantine(capBytes int64) error
}

// Manager handles periodic pruning of the quarantine file.
type Manager struct {
	config    Config
	store     QuarantineStore
	stopCh    chan struct{}
	stoppedCh chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewManager creates a new retention Manager.
func NewManager(config Config, store QuarantineStore) *Manager {
	return &Manager{
		config:    config.WithDefaults(),
		store:     store,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start begins the background sweep goroutine.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	go m.run()
}

// Stop signals the background goroutine to stop and waits for it to exit.
func (m *Manager) Stop() {
	shouldStop := false
	func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.running {
			return
		}
		m.running = false
		shouldStop = true
	}()

	if !shouldStop {
		return
	}

	close(m.stopCh)
	<-m.stoppedCh
}

func (m *Manager) run() {
	defer close(m.stoppedCh)

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) sweep() {
	if m.store == nil {
		return
	}
	if err := m.store.PruneQuarantine(m.config.QuarantineCapBytes); err != nil {
		log.Printf("[Retention] quarantine prune failed: %v", err)
	}
}
