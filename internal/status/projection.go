// Package status derives the UI-facing sync counters from local store,
// engine, and network state.
//
// The projection is a pure read-side aggregation: pending count, syncing
// flag, online flag, and the last sync outcome. It recomputes whenever a
// relevant collection changes or connectivity transitions, and pushes fresh
// snapshots to subscribers.
package status

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/trekmed/fieldsync/internal/engine"
	"github.com/trekmed/fieldsync/internal/store"
)

// Snapshot is one computed view of sync state.
type Snapshot struct {
	// PendingCount counts registration drafts not yet synced (pending or
	// error) plus incident-report drafts awaiting replay.
	PendingCount int `json:"pending_count"`
	// Syncing mirrors the engine's in-flight guard.
	Syncing bool `json:"syncing"`
	// Online mirrors the network monitor.
	Online bool `json:"online"`
	// LastSync is the most recent finished sync operation, if any.
	LastSync *engine.Outcome `json:"last_sync,omitempty"`
}

// Projection recomputes and publishes snapshots.
type Projection struct {
	store  *store.Store
	engine *engine.Engine
	net    engine.Connectivity
	logger *log.Logger

	subMu  sync.Mutex
	subs   map[int]chan Snapshot
	nextID int

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a status projection. If logger is nil, a default logger
// writing to stderr is used.
func New(st *store.Store, eng *engine.Engine, net engine.Connectivity, logger *log.Logger) *Projection {
	if logger == nil {
		logger = log.New(os.Stderr, "[status] ", log.LstdFlags)
	}
	return &Projection{
		store:  st,
		engine: eng,
		net:    net,
		logger: logger,
		subs:   make(map[int]chan Snapshot),
		done:   make(chan struct{}),
	}
}

// Current computes a snapshot from live state.
func (p *Projection) Current(ctx context.Context) (Snapshot, error) {
	regs, err := p.store.NonSyncedRegistrationCount(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	reports, err := p.store.PendingIncidentReportCount(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		PendingCount: regs + reports,
		Syncing:      p.engine.Syncing(),
		Online:       p.net.IsOnline(),
		LastSync:     p.engine.LastOutcome(),
	}, nil
}

// Subscribe registers for recomputed snapshots. The channel is buffered;
// a slow subscriber's stale undelivered snapshot is replaced by the fresh
// one, so the projection never blocks and readers see the latest state.
func (p *Projection) Subscribe() (<-chan Snapshot, func()) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan Snapshot, 1)
	p.subs[id] = ch

	return ch, func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		delete(p.subs, id)
	}
}

// Start begins watching store, engine, and connectivity for changes.
func (p *Projection) Start(ctx context.Context) {
	storeCh, cancelStore := p.store.Subscribe()
	engineCh, cancelEngine := p.engine.Subscribe()

	// Connectivity transitions feed the same coalescing signal.
	netCh := make(chan struct{}, 1)
	cancelNet := p.net.OnChange(func(bool) {
		select {
		case netCh <- struct{}{}:
		default:
		}
	})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancelStore()
		defer cancelEngine()
		defer cancelNet()

		for {
			select {
			case <-p.done:
				return
			case <-ctx.Done():
				return
			case <-storeCh:
			case <-engineCh:
			case <-netCh:
			}
			p.publish(ctx)
		}
	}()
}

// Stop halts the watch loop.
func (p *Projection) Stop() {
	close(p.done)
	p.wg.Wait()
}

// publish recomputes and fans a snapshot out to all subscribers.
func (p *Projection) publish(ctx context.Context) {
	snap, err := p.Current(ctx)
	if err != nil {
		p.logger.Printf("Failed to compute sync status: %v", err)
		return
	}

	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- snap:
		default:
			// Replace the stale undelivered snapshot with the fresh one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
