package status

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/trekmed/fieldsync/internal/engine"
	"github.com/trekmed/fieldsync/internal/record"
	"github.com/trekmed/fieldsync/internal/store"
)

// stubNet is a controllable connectivity source
type stubNet struct {
	mu        sync.Mutex
	online    bool
	listeners []func(online bool)
}

func (n *stubNet) IsOnline() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

func (n *stubNet) OnChange(fn func(online bool)) (cancel func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
	return func() {}
}

func (n *stubNet) set(online bool) {
	n.mu.Lock()
	n.online = online
	listeners := append(make([]func(online bool), 0, len(n.listeners)), n.listeners...)
	n.mu.Unlock()
	for _, fn := range listeners {
		fn(online)
	}
}

func testProjection(t *testing.T, net *stubNet) (*Projection, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	quiet := log.New(io.Discard, "", 0)
	eng := engine.New(st, nil, net, quiet)
	return New(st, eng, net, quiet), st
}

func queueDrafts(t *testing.T, st *store.Store, regs, reports int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < regs; i++ {
		draft := record.RegistrationDraft{
			ID: record.NewID(), TripID: record.NewID(), UserID: record.NewID(),
			Status: record.StatusPending, CreatedAt: time.Now().UTC(),
		}
		if err := st.PutRegistrationDraft(ctx, &draft); err != nil {
			t.Fatalf("PutRegistrationDraft() failed: %v", err)
		}
	}
	for i := 0; i < reports; i++ {
		draft := record.IncidentReportDraft{
			ID: record.NewID(), EnrollmentID: record.NewID(),
			Status: record.StatusPending,
		}
		draft.Touch()
		if err := st.PutIncidentReportDraft(ctx, &draft); err != nil {
			t.Fatalf("PutIncidentReportDraft() failed: %v", err)
		}
	}
}

// TestCurrent_CountsBothQueues tests that the pending badge sums
// registration drafts and incident reports
func TestCurrent_CountsBothQueues(t *testing.T) {
	net := &stubNet{online: true}
	p, st := testProjection(t, net)

	queueDrafts(t, st, 2, 1)

	snap, err := p.Current(context.Background())
	if err != nil {
		t.Fatalf("Current() failed: %v", err)
	}
	if snap.PendingCount != 3 {
		t.Errorf("PendingCount = %d, want 3", snap.PendingCount)
	}
	if !snap.Online {
		t.Error("Online = false, want monitor state mirrored")
	}
	if snap.Syncing {
		t.Error("Syncing = true with no in-flight work")
	}
	if snap.LastSync != nil {
		t.Errorf("LastSync = %+v, want nil before any sync", snap.LastSync)
	}
}

// TestStart_PushesOnStoreChange tests reactive recompute on a mutation
func TestStart_PushesOnStoreChange(t *testing.T) {
	net := &stubNet{online: true}
	p, st := testProjection(t, net)

	snapshots, cancel := p.Subscribe()
	defer cancel()

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	queueDrafts(t, st, 1, 0)

	select {
	case snap := <-snapshots:
		if snap.PendingCount != 1 {
			t.Errorf("pushed PendingCount = %d, want 1", snap.PendingCount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot pushed after store mutation")
	}
}

// TestStart_PushesOnConnectivityChange tests reactive recompute on a
// network transition
func TestStart_PushesOnConnectivityChange(t *testing.T) {
	net := &stubNet{online: false}
	p, _ := testProjection(t, net)

	snapshots, cancel := p.Subscribe()
	defer cancel()

	p.Start(context.Background())
	defer p.Stop()

	net.set(true)

	select {
	case snap := <-snapshots:
		if !snap.Online {
			t.Error("pushed Online = false after transition to online")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot pushed after connectivity change")
	}
}

// TestSubscribe_LatestWins tests that a slow subscriber sees the freshest
// snapshot, not a stale backlog
func TestSubscribe_LatestWins(t *testing.T) {
	net := &stubNet{online: true}
	p, st := testProjection(t, net)

	snapshots, cancel := p.Subscribe()
	defer cancel()

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	// Queue several drafts without draining the subscriber
	queueDrafts(t, st, 3, 0)

	// Give the watch loop time to recompute for the last mutation
	deadline := time.Now().Add(2 * time.Second)
	var last Snapshot
	for time.Now().Before(deadline) {
		select {
		case last = <-snapshots:
		case <-time.After(50 * time.Millisecond):
		}
		if last.PendingCount == 3 {
			return
		}
	}
	t.Errorf("latest snapshot PendingCount = %d, want 3", last.PendingCount)
}
