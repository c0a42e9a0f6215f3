package engine

import (
	"context"
	"fmt"

	"github.com/trekmed/fieldsync/internal/record"
	"github.com/trekmed/fieldsync/internal/remote"
)

// WarmTrip downloads one trip's enrollments (with embedded profile
// summaries) into the local cache, replacing the previously cached subset
// for that trip, then hydrates medical-record snapshots for the enrolled
// users in chunks of at most remote.MaxInFilterIDs ids.
//
// The enrollment replace is atomic per scope; the medical hydration that
// follows is best effort, with failed chunks logged and skipped.
func (e *Engine) WarmTrip(ctx context.Context, tripID string) error {
	if err := record.ValidateID(tripID); err != nil {
		return fmt.Errorf("warm trip: %w", err)
	}

	if !e.begin(&e.warming) {
		e.logger.Printf("Cache warm already running, skipping")
		return nil
	}
	outcome := &Outcome{Kind: "warm"}
	defer func() { e.finish(&e.warming, outcome) }()

	e.logger.Printf("Warming cache for trip %s", tripID)

	enrollments, err := e.gw.Enrollments(ctx, tripID)
	if err != nil {
		outcome.Failed++
		return fmt.Errorf("failed to fetch enrollments for trip %s: %w", tripID, err)
	}

	if err := e.store.ReplaceEnrollments(ctx, tripID, enrollments); err != nil {
		return err
	}

	hydrated, failed := e.hydrateMedicalRecords(ctx, distinctUserIDs(enrollments))
	outcome.Succeeded = len(enrollments) + hydrated
	outcome.Failed = failed

	e.logger.Printf("Trip warm complete: enrollments=%d medical=%d (failed chunks=%d)",
		len(enrollments), hydrated, failed)
	return nil
}

// WarmAdminData downloads the full offline working set: all trips, the
// condition catalog, all enrollments, and the medical records of every
// enrolled user.
//
// Trips are always fetched and persisted before enrollments, since
// enrollment display depends on trip titles; warming in the other order
// could leave transient title-less rows.
func (e *Engine) WarmAdminData(ctx context.Context) error {
	if !e.begin(&e.warming) {
		e.logger.Printf("Cache warm already running, skipping")
		return nil
	}
	outcome := &Outcome{Kind: "warm"}
	defer func() { e.finish(&e.warming, outcome) }()

	e.logger.Println("Warming full admin cache")

	// Trips first.
	trips, err := e.gw.Trips(ctx)
	if err != nil {
		outcome.Failed++
		return fmt.Errorf("failed to fetch trips: %w", err)
	}
	if err := e.store.ReplaceTrips(ctx, trips); err != nil {
		return err
	}

	// The condition catalog is small, static reference data; a failure here
	// is logged but does not abort the warm.
	conditions, err := e.gw.Conditions(ctx)
	if err != nil {
		e.logger.Printf("Failed to fetch condition catalog: %v", err)
		outcome.Failed++
	} else if err := e.store.ReplaceConditions(ctx, conditions); err != nil {
		return err
	}

	enrollments, err := e.gw.Enrollments(ctx, "")
	if err != nil {
		outcome.Failed++
		return fmt.Errorf("failed to fetch enrollments: %w", err)
	}
	if err := e.store.ReplaceEnrollments(ctx, "", enrollments); err != nil {
		return err
	}

	hydrated, failed := e.hydrateMedicalRecords(ctx, distinctUserIDs(enrollments))
	outcome.Succeeded = len(trips) + len(enrollments) + hydrated
	outcome.Failed += failed

	e.logger.Printf("Admin warm complete: trips=%d enrollments=%d medical=%d (failed chunks=%d)",
		len(trips), len(enrollments), hydrated, failed)
	return nil
}

// MaybeWarmAdminData triggers the full admin warm the first time a
// privileged session is observed while online. The latch fires at most once
// per process lifetime, not on every reconnect, and is set before the warm
// runs so a failed warm does not re-arm it.
func (e *Engine) MaybeWarmAdminData(ctx context.Context) {
	e.mu.Lock()
	if e.adminWarmed {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if !e.net.IsOnline() {
		return
	}

	session, err := e.gw.Session(ctx)
	if err != nil {
		e.logger.Printf("Failed to read session: %v", err)
		return
	}
	if !session.IsAdmin() {
		return
	}

	e.mu.Lock()
	if e.adminWarmed {
		e.mu.Unlock()
		return
	}
	e.adminWarmed = true
	e.mu.Unlock()

	e.logger.Println("Admin session online, warming offline cache")
	if err := e.WarmAdminData(ctx); err != nil {
		e.logger.Printf("Admin cache warm failed: %v", err)
	}
}

// hydrateMedicalRecords downloads snapshots for the given users in chunks
// of at most remote.MaxInFilterIDs ids, a hard ceiling of the remote query
// interface. Failed chunks are logged and skipped; the rest of the batch
// proceeds. Returns the number of hydrated records and failed chunks.
func (e *Engine) hydrateMedicalRecords(ctx context.Context, userIDs []string) (hydrated, failedChunks int) {
	for start := 0; start < len(userIDs); start += remote.MaxInFilterIDs {
		end := start + remote.MaxInFilterIDs
		if end > len(userIDs) {
			end = len(userIDs)
		}
		chunk := userIDs[start:end]

		snaps, err := e.gw.MedicalRecords(ctx, chunk)
		if err != nil {
			e.logger.Printf("Failed to fetch medical records (chunk of %d): %v", len(chunk), err)
			failedChunks++
			continue
		}
		if err := e.store.PutMedicalRecords(ctx, snaps); err != nil {
			e.logger.Printf("Failed to cache medical records: %v", err)
			failedChunks++
			continue
		}
		hydrated += len(snaps)
	}
	return hydrated, failedChunks
}

// distinctUserIDs extracts the unique user ids from an enrollment set,
// preserving first-seen order.
func distinctUserIDs(enrollments []record.EnrollmentSnapshot) []string {
	seen := make(map[string]bool, len(enrollments))
	var ids []string
	for i := range enrollments {
		id := enrollments[i].UserID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
