// Package engine orchestrates synchronization between the local cache and
// the remote service.
//
// The engine owns three kinds of work: replaying locally queued mutations
// (registration drafts and incident-report drafts), bulk cache warms that
// download remote snapshots into the local store, and the automatic triggers
// that fire this work when connectivity allows it.
//
// Failure semantics: remote errors are caught per record, recorded as status
// flags and return summaries, and never propagated to the engine's callers.
// Local store errors do propagate, since they mean the offline guarantee
// itself is broken.
package engine

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/trekmed/fieldsync/internal/record"
	"github.com/trekmed/fieldsync/internal/remote"
	"github.com/trekmed/fieldsync/internal/store"
)

// Connectivity is the slice of the network monitor the engine consumes.
type Connectivity interface {
	IsOnline() bool
	OnChange(fn func(online bool)) (cancel func())
}

// Summary reports the outcome of one replay pass.
type Summary struct {
	Succeeded int
	Failed    int
}

// Outcome records the most recent finished sync operation for the status
// projection.
type Outcome struct {
	Kind       string // "registrations", "reports", "warm"
	FinishedAt time.Time
	Succeeded  int
	Failed     int
}

// Engine coordinates replay, cache warming, and automatic triggering.
//
// Syncing state lives on the engine as explicit fields behind its mutex and
// is exposed through Syncing() and Subscribe(); there is no ambient global
// sync flag.
type Engine struct {
	store  *store.Store
	gw     remote.Gateway
	net    Connectivity
	logger *log.Logger

	mu              sync.Mutex
	regReplaying    bool
	reportReplaying bool
	warming         bool
	adminWarmed     bool
	lastOutcome     *Outcome

	subMu     sync.Mutex
	subs      map[int]chan struct{}
	nextSubID int

	cancelNet func()
}

// New creates a sync engine over the given store, gateway, and connectivity
// source. If logger is nil, a default logger writing to stderr is used.
func New(st *store.Store, gw remote.Gateway, net Connectivity, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{
		store:  st,
		gw:     gw,
		net:    net,
		logger: logger,
		subs:   make(map[int]chan struct{}),
	}
}

// Start wires the automatic triggers: the one-shot admin cache warm and the
// passive replay of pending incident reports. Both fire immediately if the
// host is already online, and again on each offline-to-online transition.
func (e *Engine) Start(ctx context.Context) {
	e.cancelNet = e.net.OnChange(func(online bool) {
		if online {
			go e.onOnline(ctx)
		}
	})

	if e.net.IsOnline() {
		go e.onOnline(ctx)
	}
}

// Stop detaches the engine from connectivity transitions.
func (e *Engine) Stop() {
	if e.cancelNet != nil {
		e.cancelNet()
		e.cancelNet = nil
	}
}

// onOnline runs the automatic triggers for one observed online state.
func (e *Engine) onOnline(ctx context.Context) {
	e.MaybeWarmAdminData(ctx)

	pending, err := e.store.PendingIncidentReportCount(ctx)
	if err != nil {
		e.logger.Printf("Failed to count pending incident reports: %v", err)
		return
	}
	if pending == 0 {
		return
	}
	if _, err := e.ReplayIncidentReports(ctx); err != nil {
		e.logger.Printf("Automatic incident report replay failed: %v", err)
	}
}

// Syncing reports whether any replay or warm is currently in flight.
func (e *Engine) Syncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.regReplaying || e.reportReplaying || e.warming
}

// LastOutcome returns the most recent finished sync operation, or nil if
// none has completed this process.
func (e *Engine) LastOutcome() *Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastOutcome == nil {
		return nil
	}
	out := *e.lastOutcome
	return &out
}

// Subscribe registers for engine state change notifications (syncing flag
// flips, finished operations). Signals coalesce like the store's.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	id := e.nextSubID
	e.nextSubID++
	ch := make(chan struct{}, 1)
	e.subs[id] = ch

	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		delete(e.subs, id)
	}
}

func (e *Engine) notify() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// begin flips one of the in-flight guards. Returns false when the guard was
// already held, which suppresses the re-entrant pass.
func (e *Engine) begin(flag *bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if *flag {
		return false
	}
	*flag = true
	e.notify()
	return true
}

func (e *Engine) finish(flag *bool, outcome *Outcome) {
	e.mu.Lock()
	*flag = false
	if outcome != nil {
		outcome.FinishedAt = time.Now()
		e.lastOutcome = outcome
	}
	e.mu.Unlock()
	e.notify()
}

// ReplayRegistrations resends every pending registration draft to the
// remote service as a derived medical-profile upsert keyed by user id.
//
// Each draft succeeds or fails independently: success transitions it to
// synced, failure to error, and both stamp the last-attempt time. A failure
// never stops the pass. The returned error covers local store problems
// only; remote failures are folded into the summary.
func (e *Engine) ReplayRegistrations(ctx context.Context) (Summary, error) {
	if !e.begin(&e.regReplaying) {
		e.logger.Printf("Registration replay already running, skipping")
		return Summary{}, nil
	}
	outcome := &Outcome{Kind: "registrations"}
	defer func() { e.finish(&e.regReplaying, outcome) }()

	pending, err := e.store.PendingRegistrationDrafts(ctx)
	if err != nil {
		return Summary{}, err
	}
	if len(pending) == 0 {
		return Summary{}, nil
	}

	e.logger.Printf("Replaying %d pending registrations", len(pending))

	var summary Summary
	for i := range pending {
		draft := &pending[i]
		profile := remote.ProfileFromForm(draft.UserID, draft.Form)

		if err := e.gw.UpsertMedicalProfile(ctx, profile); err != nil {
			e.logger.Printf("Failed to replay registration %s: %v", draft.ID, err)
			summary.Failed++
			if serr := e.store.SetRegistrationStatus(ctx, draft.ID, record.StatusError, time.Now()); serr != nil {
				return summary, serr
			}
			continue
		}

		summary.Succeeded++
		if serr := e.store.SetRegistrationStatus(ctx, draft.ID, record.StatusSynced, time.Now()); serr != nil {
			return summary, serr
		}
	}

	e.logger.Printf("Registration replay complete: succeeded=%d failed=%d",
		summary.Succeeded, summary.Failed)
	outcome.Succeeded = summary.Succeeded
	outcome.Failed = summary.Failed
	return summary, nil
}

// ReplayIncidentReports resends every pending incident-report draft.
//
// Success promotes the draft to synced; failure leaves it pending so retry
// continues indefinitely on later triggers. The boolean guard suppresses
// overlapping passes.
func (e *Engine) ReplayIncidentReports(ctx context.Context) (Summary, error) {
	if !e.begin(&e.reportReplaying) {
		e.logger.Printf("Incident report replay already running, skipping")
		return Summary{}, nil
	}
	outcome := &Outcome{Kind: "reports"}
	defer func() { e.finish(&e.reportReplaying, outcome) }()

	pending, err := e.store.PendingIncidentReportDrafts(ctx)
	if err != nil {
		return Summary{}, err
	}
	if len(pending) == 0 {
		return Summary{}, nil
	}

	e.logger.Printf("Replaying %d pending incident reports", len(pending))

	var summary Summary
	for i := range pending {
		draft := &pending[i]
		upsert := remote.IncidentReportUpsert{
			ID:           draft.ID,
			EnrollmentID: draft.EnrollmentID,
			Report:       draft.Report,
			UpdatedAt:    draft.UpdatedTime().UTC().Format(time.RFC3339),
		}

		if err := e.gw.UpsertIncidentReport(ctx, upsert); err != nil {
			e.logger.Printf("Failed to replay incident report %s: %v", draft.ID, err)
			summary.Failed++
			continue
		}

		summary.Succeeded++
		if serr := e.store.MarkIncidentReportSynced(ctx, draft.ID); serr != nil {
			return summary, serr
		}
	}

	e.logger.Printf("Incident report replay complete: succeeded=%d failed=%d",
		summary.Succeeded, summary.Failed)
	outcome.Succeeded = summary.Succeeded
	outcome.Failed = summary.Failed
	return summary, nil
}
