package engine

import (
	"context"

	"github.com/trekmed/fieldsync/internal/record"
	"github.com/trekmed/fieldsync/internal/store"
)

// Enrollments serves the enrollment list for a trip ("" for all trips),
// fetching through to the remote service when online and falling back to
// the cache when offline or when the fetch fails.
//
// A successful online fetch also replaces the cached subset for the scope,
// so the next offline read sees current data.
func (e *Engine) Enrollments(ctx context.Context, tripID string) ([]record.EnrollmentSnapshot, error) {
	if e.net.IsOnline() {
		enrollments, err := e.gw.Enrollments(ctx, tripID)
		if err == nil {
			if cerr := e.store.ReplaceEnrollments(ctx, tripID, enrollments); cerr != nil {
				return nil, cerr
			}
			return enrollments, nil
		}
		e.logger.Printf("Enrollment fetch failed, serving cache: %v", err)
	}

	return e.store.Enrollments(ctx, tripID)
}

// MedicalRecord serves one user's medical-record snapshot. Online reads
// fetch through and refresh the cache; offline reads serve the cached copy.
// Returns store.ErrNotFound when neither side has a record.
func (e *Engine) MedicalRecord(ctx context.Context, userID string) (*record.MedicalRecordSnapshot, error) {
	if e.net.IsOnline() {
		snap, err := e.gw.MedicalRecord(ctx, userID)
		if err == nil {
			if snap == nil {
				return nil, store.ErrNotFound
			}
			if cerr := e.store.PutMedicalRecord(ctx, snap); cerr != nil {
				return nil, cerr
			}
			return snap, nil
		}
		e.logger.Printf("Medical record fetch failed, serving cache: %v", err)
	}

	return e.store.MedicalRecord(ctx, userID)
}

// Trips serves the cached trip list. Trips are only refreshed by cache
// warms; the UI reads whatever snapshot the last warm produced.
func (e *Engine) Trips(ctx context.Context) ([]record.TripSnapshot, error) {
	return e.store.Trips(ctx)
}
