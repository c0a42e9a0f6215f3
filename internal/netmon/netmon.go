// Package netmon tracks whether the host currently has connectivity to the
// remote service.
//
// The monitor performs no I/O beyond its reachability probe and owns no sync
// behavior; the sync engine subscribes to its transitions. Edges are
// reported exactly once per actual transition: a probe that confirms the
// current state produces no event.
package netmon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// ProbeFunc reports whether the remote service is reachable right now.
type ProbeFunc func(ctx context.Context) bool

// Monitor polls a reachability probe and notifies listeners on transitions.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	logger   *log.Logger

	mu        sync.Mutex
	online    bool
	listeners map[int]func(online bool)
	nextID    int
	running   bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a monitor polling probe every interval.
// If logger is nil, a default logger writing to stderr is used.
func New(probe ProbeFunc, interval time.Duration, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		probe:     probe,
		interval:  interval,
		logger:    logger,
		listeners: make(map[int]func(online bool)),
		done:      make(chan struct{}),
	}
}

// Start runs one immediate probe to establish the initial state, then polls
// in the background until Stop is called. The initial probe fires no
// transition events.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	m.running = true
	m.mu.Unlock()

	// The probe can block for its full timeout; run it outside the lock so
	// IsOnline callers are never held up behind it.
	online := m.probe(ctx)

	m.mu.Lock()
	m.online = online
	m.mu.Unlock()

	m.logger.Printf("Initial connectivity: online=%v", m.IsOnline())

	m.wg.Add(1)
	go m.poll(ctx)
	return nil
}

// Stop halts polling and waits for the poll goroutine to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
}

// IsOnline reports the last observed connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnChange registers a transition listener and returns its cancellation
// handle. Listeners run on the monitor's poll goroutine and must not block.
func (m *Monitor) OnChange(fn func(online bool)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Monitor) poll(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.setOnline(m.probe(ctx))
		}
	}
}

// setOnline applies a probe result with edge detection. Listeners fire only
// when the state actually changed.
func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online

	listeners := make([]func(online bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	m.logger.Printf("Connectivity transition: online=%v", online)
	for _, fn := range listeners {
		fn(online)
	}
}

// HTTPProbe returns a probe that issues a HEAD request to healthURL and
// treats any completed response as reachable.
func HTTPProbe(healthURL string) ProbeFunc {
	client := &http.Client{Timeout: 5 * time.Second}

	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, healthURL, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	}
}
