// Package draft provides debounced local autosave of an in-progress
// registration form.
//
// Per (trip, user) pair the lifecycle is: no draft, then a pending draft
// created and updated in place by autosave, then deletion once the parent
// registration submission completes. At most one non-synced draft exists
// per pair.
//
// Before the first write for a pair, the remote service is consulted once:
// an already-enrolled user never accumulates a local draft for that trip,
// no matter how much they edit.
package draft

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/trekmed/fieldsync/internal/record"
	"github.com/trekmed/fieldsync/internal/remote"
	"github.com/trekmed/fieldsync/internal/store"
)

// ErrAlreadyEnrolled is returned when a submit or edit targets a trip the
// user is already enrolled in.
var ErrAlreadyEnrolled = errors.New("user already enrolled in trip")

// DefaultDebounce batches rapid field edits into one store write.
const DefaultDebounce = 2 * time.Second

type pairKey struct {
	tripID string
	userID string
}

// Persister owns the debounced autosave state machine.
type Persister struct {
	store    *store.Store
	gw       remote.Gateway
	logger   *log.Logger
	debounce time.Duration

	mu     sync.Mutex
	closed bool
	// timers holds the cancellable scheduled save per pair; each new edit
	// cancels the previous task and schedules a new one, so two saves for
	// the same key never run concurrently.
	timers   map[pairKey]*time.Timer
	forms    map[pairKey]record.RegistrationForm
	enrolled map[pairKey]bool // remote already-enrolled check, done once per pair
}

// New creates a persister with the given debounce window. A non-positive
// debounce gets DefaultDebounce. If logger is nil, a default logger writing
// to stderr is used.
func New(st *store.Store, gw remote.Gateway, debounce time.Duration, logger *log.Logger) *Persister {
	if logger == nil {
		logger = log.New(os.Stderr, "[draft] ", log.LstdFlags)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Persister{
		store:    st,
		gw:       gw,
		logger:   logger,
		debounce: debounce,
		timers:   make(map[pairKey]*time.Timer),
		forms:    make(map[pairKey]record.RegistrationForm),
		enrolled: make(map[pairKey]bool),
	}
}

// Update records the latest form state for a (trip, user) pair and
// schedules a debounced save. Returns ErrAlreadyEnrolled when the remote
// service says the user is enrolled; the pair then never drafts.
//
// Empty forms are not persisted, so a page visit with no edits leaves no
// draft behind.
func (p *Persister) Update(ctx context.Context, tripID, userID string, form record.RegistrationForm) error {
	if err := record.ValidateID(tripID); err != nil {
		return fmt.Errorf("draft update: %w", err)
	}
	if userID == "" {
		return fmt.Errorf("draft update: user id is required")
	}

	enrolled, err := p.checkEnrolled(ctx, tripID, userID)
	if err != nil {
		// The check could not complete (offline); drafting proceeds and the
		// submission path re-checks once connectivity returns.
		p.logger.Printf("Enrollment check failed for trip %s, drafting anyway: %v", tripID, err)
	} else if enrolled {
		return ErrAlreadyEnrolled
	}

	if form.Empty() {
		return nil
	}

	key := pairKey{tripID: tripID, userID: userID}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.forms[key] = form
	if timer, ok := p.timers[key]; ok {
		timer.Stop()
	}
	p.timers[key] = time.AfterFunc(p.debounce, func() {
		p.save(key)
	})
	return nil
}

// save writes the latest form for a pair, updating the existing non-synced
// draft in place or inserting a fresh pending one. A timer that fires after
// Close finds the persister closed and writes nothing.
func (p *Persister) save(key pairKey) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	form, ok := p.forms[key]
	delete(p.forms, key)
	delete(p.timers, key)
	p.mu.Unlock()
	if !ok {
		return
	}

	ctx := context.Background()

	existing, err := p.store.RegistrationDraftForPair(ctx, key.tripID, key.userID)
	switch {
	case err == nil:
		existing.Form = form
		existing.CreatedAt = time.Now()
		if err := p.store.PutRegistrationDraft(ctx, existing); err != nil {
			p.logger.Printf("Failed to update draft for trip %s: %v", key.tripID, err)
		}
	case errors.Is(err, store.ErrNotFound):
		draft := &record.RegistrationDraft{
			ID:        record.NewID(),
			TripID:    key.tripID,
			UserID:    key.userID,
			Status:    record.StatusPending,
			Form:      form,
			CreatedAt: time.Now(),
		}
		if err := p.store.PutRegistrationDraft(ctx, draft); err != nil {
			p.logger.Printf("Failed to create draft for trip %s: %v", key.tripID, err)
		}
	default:
		p.logger.Printf("Failed to read draft for trip %s: %v", key.tripID, err)
	}
}

// Flush cancels all scheduled saves and writes their forms immediately.
// Called on shutdown so a closing process loses no edits.
func (p *Persister) Flush() {
	p.mu.Lock()
	keys := make([]pairKey, 0, len(p.forms))
	for key, timer := range p.timers {
		timer.Stop()
		delete(p.timers, key)
	}
	for key := range p.forms {
		keys = append(keys, key)
	}
	p.mu.Unlock()

	for _, key := range keys {
		p.save(key)
	}
}

// Close cancels all scheduled saves and discards their forms. Call it
// before closing the backing store; a timer that has already fired becomes
// a no-op. Use Flush first when pending edits must still be written.
func (p *Persister) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for key, timer := range p.timers {
		timer.Stop()
		delete(p.timers, key)
	}
	for key := range p.forms {
		delete(p.forms, key)
	}
}

// Load assembles the form state shown on page entry. Remote-known defaults
// are fetched first; a local pending draft then overrides them field by
// field, local winning per populated field and empty local fields falling
// back to the remote default.
func (p *Persister) Load(ctx context.Context, tripID, userID string) (record.RegistrationForm, error) {
	var form record.RegistrationForm
	if err := record.ValidateID(tripID); err != nil {
		return form, fmt.Errorf("draft load: %w", err)
	}

	defaults, err := p.gw.RegistrationDefaults(ctx, userID)
	if err != nil {
		p.logger.Printf("Failed to fetch registration defaults: %v", err)
		// Offline entry still loads the local draft.
	} else {
		form = defaults
	}

	local, err := p.store.RegistrationDraftForPair(ctx, tripID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return form, nil
	}
	if err != nil {
		return form, err
	}

	return form.Merge(local.Form), nil
}

// Submit completes the registration for a pair: the derived medical profile
// is upserted, the enrollment row inserted, and the local pending draft
// deleted. Any scheduled autosave for the pair is cancelled first.
func (p *Persister) Submit(ctx context.Context, tripID, userID string, form record.RegistrationForm) error {
	if err := record.ValidateID(tripID); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if userID == "" {
		return fmt.Errorf("submit: user id is required")
	}

	enrolled, err := p.checkEnrolled(ctx, tripID, userID)
	if err != nil {
		return fmt.Errorf("submit: enrollment check failed: %w", err)
	}
	if enrolled {
		return ErrAlreadyEnrolled
	}

	key := pairKey{tripID: tripID, userID: userID}
	p.mu.Lock()
	if timer, ok := p.timers[key]; ok {
		timer.Stop()
		delete(p.timers, key)
	}
	delete(p.forms, key)
	p.mu.Unlock()

	profile := remote.ProfileFromForm(userID, form)
	if err := p.gw.UpsertMedicalProfile(ctx, profile); err != nil {
		return fmt.Errorf("submit: failed to upsert medical profile: %w", err)
	}

	enrollment := remote.EnrollmentInsert{
		TripID:    tripID,
		UserID:    userID,
		State:     string(record.EnrollmentPending),
		Address:   form.Address,
		City:      form.City,
		Province:  form.Province,
		Country:   form.Country,
		Menu:      form.Menu,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.gw.InsertEnrollment(ctx, enrollment); err != nil {
		return fmt.Errorf("submit: failed to insert enrollment: %w", err)
	}

	p.mu.Lock()
	p.enrolled[key] = true
	p.mu.Unlock()

	if err := p.store.DeleteRegistrationDraftForPair(ctx, tripID, userID); err != nil {
		return err
	}

	p.logger.Printf("Registration submitted for trip %s", tripID)
	return nil
}

// checkEnrolled consults the remote service once per pair and caches a
// positive or negative answer. Errors are not cached, so a failed check is
// retried on the next call.
func (p *Persister) checkEnrolled(ctx context.Context, tripID, userID string) (bool, error) {
	key := pairKey{tripID: tripID, userID: userID}

	p.mu.Lock()
	enrolled, checked := p.enrolled[key]
	p.mu.Unlock()
	if checked {
		return enrolled, nil
	}

	exists, err := p.gw.EnrollmentExists(ctx, tripID, userID)
	if err != nil {
		return false, err
	}

	p.mu.Lock()
	p.enrolled[key] = exists
	p.mu.Unlock()
	return exists, nil
}
