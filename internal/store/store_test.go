package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/trekmed/fieldsync/internal/record"
)

// testStore opens a store on a temporary database
func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testTrip(id, title string) record.TripSnapshot {
	return record.TripSnapshot{
		ID:        id,
		Title:     title,
		StartDate: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC),
		State:     record.TripPublished,
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

// TestOpen_SchemaVersion tests that a fresh database ends up on the current
// schema version
func TestOpen_SchemaVersion(t *testing.T) {
	s := testStore(t)

	var version int
	if err := s.conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("Failed to read user_version: %v", err)
	}
	if version != schemaVersion {
		t.Errorf("user_version = %d, want %d", version, schemaVersion)
	}
}

// TestOpen_Reopen tests that reopening an existing database keeps its data
// and does not re-run migrations destructively
// TestClose_LateReadReturnsError tests that a read racing past Close gets
// an error instead of crashing, and that a second Close is a no-op
func TestClose_LateReadReturnsError(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if _, err := s.TripCount(context.Background()); err == nil {
		t.Error("read after Close succeeded, want error")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	trip := testTrip(record.NewID(), "Fitz Roy Trek")
	if err := s.ReplaceTrips(ctx, []record.TripSnapshot{trip}); err != nil {
		t.Fatalf("ReplaceTrips() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s2.Close()

	got, err := s2.Trip(ctx, trip.ID)
	if err != nil {
		t.Fatalf("Trip() after reopen failed: %v", err)
	}
	if got.Title != "Fitz Roy Trek" {
		t.Errorf("Title = %q, want %q", got.Title, "Fitz Roy Trek")
	}
}

// TestReplaceTrips_Wholesale tests that a warm replaces the full collection:
// caching 3 trips then 2 leaves exactly 2
func TestReplaceTrips_Wholesale(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := []record.TripSnapshot{
		testTrip(record.NewID(), "Trip A"),
		testTrip(record.NewID(), "Trip B"),
		testTrip(record.NewID(), "Trip C"),
	}
	if err := s.ReplaceTrips(ctx, first); err != nil {
		t.Fatalf("First ReplaceTrips() failed: %v", err)
	}

	second := []record.TripSnapshot{
		testTrip(record.NewID(), "Trip D"),
		testTrip(first[0].ID, "Trip A v2"),
	}
	if err := s.ReplaceTrips(ctx, second); err != nil {
		t.Fatalf("Second ReplaceTrips() failed: %v", err)
	}

	count, err := s.TripCount(ctx)
	if err != nil {
		t.Fatalf("TripCount() failed: %v", err)
	}
	if count != 2 {
		t.Errorf("TripCount() = %d, want 2", count)
	}

	if _, err := s.Trip(ctx, first[1].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("dropped trip lookup = %v, want ErrNotFound", err)
	}

	got, err := s.Trip(ctx, first[0].ID)
	if err != nil {
		t.Fatalf("Trip() failed: %v", err)
	}
	if got.Title != "Trip A v2" {
		t.Errorf("Title = %q, want replaced value", got.Title)
	}
}

// TestReplaceTrips_InvalidRollsBack tests that one bad row aborts the whole
// replacement, keeping the previous cache intact
func TestReplaceTrips_InvalidRollsBack(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.ReplaceTrips(ctx, []record.TripSnapshot{testTrip(record.NewID(), "Keep Me")}); err != nil {
		t.Fatalf("ReplaceTrips() failed: %v", err)
	}

	bad := []record.TripSnapshot{
		testTrip(record.NewID(), "Fine"),
		{ID: record.NewID(), State: record.TripPublished}, // missing title
	}
	if err := s.ReplaceTrips(ctx, bad); err == nil {
		t.Fatal("ReplaceTrips() with invalid row should fail")
	}

	count, err := s.TripCount(ctx)
	if err != nil {
		t.Fatalf("TripCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("TripCount() after failed replace = %d, want 1", count)
	}
}

// TestRegistrationDraft_UpsertAndStatus tests draft put, pair lookup, and
// status transitions with attempt stamping
func TestRegistrationDraft_UpsertAndStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	draft := record.RegistrationDraft{
		ID:        record.NewID(),
		TripID:    record.NewID(),
		UserID:    record.NewID(),
		Status:    record.StatusPending,
		Form:      record.RegistrationForm{Allergies: "none"},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.PutRegistrationDraft(ctx, &draft); err != nil {
		t.Fatalf("PutRegistrationDraft() failed: %v", err)
	}

	got, err := s.RegistrationDraftForPair(ctx, draft.TripID, draft.UserID)
	if err != nil {
		t.Fatalf("RegistrationDraftForPair() failed: %v", err)
	}
	if got.ID != draft.ID {
		t.Errorf("pair lookup id = %q, want %q", got.ID, draft.ID)
	}
	if got.Form.Allergies != "none" {
		t.Errorf("Form.Allergies = %q, want %q", got.Form.Allergies, "none")
	}

	// Update in place keeps one row per pair
	draft.Form.Allergies = "penicillin"
	if err := s.PutRegistrationDraft(ctx, &draft); err != nil {
		t.Fatalf("Second PutRegistrationDraft() failed: %v", err)
	}
	count, err := s.NonSyncedRegistrationCount(ctx)
	if err != nil {
		t.Fatalf("NonSyncedRegistrationCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("NonSyncedRegistrationCount() = %d, want 1", count)
	}

	// Mark synced: excluded from pending and from pair lookup
	attempt := time.Now().UTC().Truncate(time.Second)
	if err := s.SetRegistrationStatus(ctx, draft.ID, record.StatusSynced, attempt); err != nil {
		t.Fatalf("SetRegistrationStatus() failed: %v", err)
	}

	pending, err := s.PendingRegistrationDrafts(ctx)
	if err != nil {
		t.Fatalf("PendingRegistrationDrafts() failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending count = %d, want 0", len(pending))
	}

	if _, err := s.RegistrationDraftForPair(ctx, draft.TripID, draft.UserID); !errors.Is(err, ErrNotFound) {
		t.Errorf("pair lookup after sync = %v, want ErrNotFound", err)
	}

	// The synced row is still readable by id with the attempt stamped
	byID, err := s.RegistrationDraft(ctx, draft.ID)
	if err != nil {
		t.Fatalf("RegistrationDraft() failed: %v", err)
	}
	if byID.Status != record.StatusSynced {
		t.Errorf("Status = %q, want synced", byID.Status)
	}
	if byID.LastAttempt == nil || !byID.LastAttempt.Equal(attempt) {
		t.Errorf("LastAttempt = %v, want %v", byID.LastAttempt, attempt)
	}
}

// TestRegistrationDraft_ErrorCountsAsPending tests that error drafts count
// toward the pending badge
func TestRegistrationDraft_ErrorCountsAsPending(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	draft := record.RegistrationDraft{
		ID:        record.NewID(),
		TripID:    record.NewID(),
		UserID:    record.NewID(),
		Status:    record.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.PutRegistrationDraft(ctx, &draft); err != nil {
		t.Fatalf("PutRegistrationDraft() failed: %v", err)
	}
	if err := s.SetRegistrationStatus(ctx, draft.ID, record.StatusError, time.Now().UTC()); err != nil {
		t.Fatalf("SetRegistrationStatus() failed: %v", err)
	}

	count, err := s.NonSyncedRegistrationCount(ctx)
	if err != nil {
		t.Fatalf("NonSyncedRegistrationCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("NonSyncedRegistrationCount() = %d, want 1 (error drafts count)", count)
	}

	// Error drafts are retried on the next replay
	pending, err := s.PendingRegistrationDrafts(ctx)
	if err != nil {
		t.Fatalf("PendingRegistrationDrafts() failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("replayable drafts = %d, want 1", len(pending))
	}
}

// TestReplaceEnrollments_Scoped tests that warming one trip's roster leaves
// other trips' cached enrollments alone
func TestReplaceEnrollments_Scoped(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tripA, tripB := record.NewID(), record.NewID()

	mkEnrollment := func(tripID, name string) record.EnrollmentSnapshot {
		return record.EnrollmentSnapshot{
			ID:      record.NewID(),
			TripID:  tripID,
			UserID:  record.NewID(),
			State:   record.EnrollmentConfirmed,
			Profile: record.ProfileSummary{FullName: name},
		}
	}

	if err := s.ReplaceEnrollments(ctx, tripA, []record.EnrollmentSnapshot{
		mkEnrollment(tripA, "Alice"), mkEnrollment(tripA, "Bob"),
	}); err != nil {
		t.Fatalf("ReplaceEnrollments(tripA) failed: %v", err)
	}
	if err := s.ReplaceEnrollments(ctx, tripB, []record.EnrollmentSnapshot{
		mkEnrollment(tripB, "Carol"),
	}); err != nil {
		t.Fatalf("ReplaceEnrollments(tripB) failed: %v", err)
	}

	// Re-warm trip A with a single row
	if err := s.ReplaceEnrollments(ctx, tripA, []record.EnrollmentSnapshot{
		mkEnrollment(tripA, "Dave"),
	}); err != nil {
		t.Fatalf("Re-warm failed: %v", err)
	}

	forA, err := s.Enrollments(ctx, tripA)
	if err != nil {
		t.Fatalf("Enrollments(tripA) failed: %v", err)
	}
	if len(forA) != 1 || forA[0].Profile.FullName != "Dave" {
		t.Errorf("tripA roster = %v, want just Dave", forA)
	}

	forB, err := s.Enrollments(ctx, tripB)
	if err != nil {
		t.Fatalf("Enrollments(tripB) failed: %v", err)
	}
	if len(forB) != 1 || forB[0].Profile.FullName != "Carol" {
		t.Errorf("tripB roster = %v, want untouched Carol", forB)
	}

	// Unscoped replace clears everything first
	if err := s.ReplaceEnrollments(ctx, "", []record.EnrollmentSnapshot{
		mkEnrollment(tripB, "Eve"),
	}); err != nil {
		t.Fatalf("Full ReplaceEnrollments() failed: %v", err)
	}
	all, err := s.Enrollments(ctx, "")
	if err != nil {
		t.Fatalf("Enrollments(all) failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("total enrollments = %d, want 1 after full replace", len(all))
	}
}

// TestMedicalRecords_PutAndGet tests opaque payload storage and the
// not-found contract
func TestMedicalRecords_PutAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	userID := record.NewID()
	payload := json.RawMessage(`{"blood_type":"0+","allergies":"bee stings"}`)

	if _, err := s.MedicalRecord(ctx, userID); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing record = %v, want ErrNotFound", err)
	}

	if err := s.PutMedicalRecord(ctx, &record.MedicalRecordSnapshot{UserID: userID, Data: payload}); err != nil {
		t.Fatalf("PutMedicalRecord() failed: %v", err)
	}

	got, err := s.MedicalRecord(ctx, userID)
	if err != nil {
		t.Fatalf("MedicalRecord() failed: %v", err)
	}
	if string(got.Data) != string(payload) {
		t.Errorf("Data = %s, want %s", got.Data, payload)
	}

	// Overwrite wins; no TTL semantics
	updated := json.RawMessage(`{"blood_type":"A-"}`)
	if err := s.PutMedicalRecord(ctx, &record.MedicalRecordSnapshot{UserID: userID, Data: updated}); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}
	got, err = s.MedicalRecord(ctx, userID)
	if err != nil {
		t.Fatalf("MedicalRecord() after overwrite failed: %v", err)
	}
	if string(got.Data) != string(updated) {
		t.Errorf("Data = %s, want overwritten payload", got.Data)
	}

	count, err := s.MedicalRecordCount(ctx)
	if err != nil {
		t.Fatalf("MedicalRecordCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("MedicalRecordCount() = %d, want 1", count)
	}
}

// TestIncidentReports_Queue tests queueing, replay listing and sync marking
func TestIncidentReports_Queue(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	draft := record.IncidentReportDraft{
		ID:           record.NewID(),
		EnrollmentID: record.NewID(),
		Status:       record.StatusPending,
		Report: record.IncidentReport{
			Subjective: "patient reports ankle pain",
			Vitals:     []record.VitalSigns{{TakenAt: time.Now().UTC(), HeartRate: 88}},
		},
	}
	draft.Touch()

	if err := s.PutIncidentReportDraft(ctx, &draft); err != nil {
		t.Fatalf("PutIncidentReportDraft() failed: %v", err)
	}

	pending, err := s.PendingIncidentReportDrafts(ctx)
	if err != nil {
		t.Fatalf("PendingIncidentReportDrafts() failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending reports = %d, want 1", len(pending))
	}
	if pending[0].Report.Vitals[0].HeartRate != 88 {
		t.Errorf("HeartRate = %d, want 88", pending[0].Report.Vitals[0].HeartRate)
	}

	if err := s.MarkIncidentReportSynced(ctx, draft.ID); err != nil {
		t.Fatalf("MarkIncidentReportSynced() failed: %v", err)
	}

	count, err := s.PendingIncidentReportCount(ctx)
	if err != nil {
		t.Fatalf("PendingIncidentReportCount() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("PendingIncidentReportCount() = %d, want 0", count)
	}
}

// TestConditions_Replace tests condition catalog replacement
func TestConditions_Replace(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.ReplaceConditions(ctx, []record.ConditionCatalogEntry{
		{ID: 1, Label: "Asthma"},
		{ID: 2, Label: "Diabetes"},
	}); err != nil {
		t.Fatalf("ReplaceConditions() failed: %v", err)
	}

	if err := s.ReplaceConditions(ctx, []record.ConditionCatalogEntry{
		{ID: 3, Label: "Hypertension"},
	}); err != nil {
		t.Fatalf("Second ReplaceConditions() failed: %v", err)
	}

	got, err := s.Conditions(ctx)
	if err != nil {
		t.Fatalf("Conditions() failed: %v", err)
	}
	if len(got) != 1 || got[0].Label != "Hypertension" {
		t.Errorf("Conditions() = %v, want just Hypertension", got)
	}
}

// TestSubscribe_NotifiesOnMutation tests the coalescing change signal
func TestSubscribe_NotifiesOnMutation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ch, cancel := s.Subscribe()
	defer cancel()

	if err := s.ReplaceTrips(ctx, []record.TripSnapshot{testTrip(record.NewID(), "Signal Trip")}); err != nil {
		t.Fatalf("ReplaceTrips() failed: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected change notification after mutation")
	}

	// Two quick mutations coalesce into at most one queued signal
	for i := 0; i < 2; i++ {
		draft := record.RegistrationDraft{
			ID: record.NewID(), TripID: record.NewID(), UserID: record.NewID(),
			Status: record.StatusPending, CreatedAt: time.Now().UTC(),
		}
		if err := s.PutRegistrationDraft(ctx, &draft); err != nil {
			t.Fatalf("PutRegistrationDraft() failed: %v", err)
		}
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected coalesced notification")
	}
	select {
	case <-ch:
		t.Fatal("signals should coalesce, got a second queued notification")
	default:
	}
}
