package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trekmed/fieldsync/internal/record"
)

const draftColumns = `id, trip_id, user_id, status, form, created_at, last_attempt`

// RegistrationDraft retrieves a draft by local id.
// Returns ErrNotFound if no draft exists.
func (s *Store) RegistrationDraft(ctx context.Context, id string) (*record.RegistrationDraft, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM registration_drafts WHERE id = ?`, id)

	draft, err := scanRegistrationDraft(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registration draft %s: %w", id, err)
	}
	return draft, nil
}

// RegistrationDraftForPair retrieves the non-synced draft for a (trip, user)
// pair. At most one such draft exists; the persister keeps that invariant by
// updating in place. Returns ErrNotFound when the pair has no active draft.
func (s *Store) RegistrationDraftForPair(ctx context.Context, tripID, userID string) (*record.RegistrationDraft, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT `+draftColumns+` FROM registration_drafts
	WHERE trip_id = ? AND user_id = ? AND status != ?`,
		tripID, userID, string(record.StatusSynced))

	draft, err := scanRegistrationDraft(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read draft for trip %s user %s: %w", tripID, userID, err)
	}
	return draft, nil
}

// PendingRegistrationDrafts returns all drafts still owed to the remote
// service, the set a replay pass operates on. Error drafts are included:
// a failed attempt stays eligible for retry.
func (s *Store) PendingRegistrationDrafts(ctx context.Context) ([]record.RegistrationDraft, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT `+draftColumns+` FROM registration_drafts
	WHERE status != ? ORDER BY created_at ASC`, string(record.StatusSynced))
	if err != nil {
		return nil, fmt.Errorf("failed to query registration drafts: %w", err)
	}
	defer rows.Close()

	var drafts []record.RegistrationDraft
	for rows.Next() {
		draft, err := scanRegistrationDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registration draft: %w", err)
		}
		drafts = append(drafts, *draft)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registration drafts: %w", err)
	}
	return drafts, nil
}

// PutRegistrationDraft inserts or updates a draft keyed by its local id.
func (s *Store) PutRegistrationDraft(ctx context.Context, draft *record.RegistrationDraft) error {
	if err := draft.Validate(); err != nil {
		return fmt.Errorf("invalid registration draft: %w", err)
	}

	form, err := marshalJSON(draft.Form)
	if err != nil {
		return err
	}

	_, err = s.conn.ExecContext(ctx, `
	INSERT INTO registration_drafts (`+draftColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		form = excluded.form,
		created_at = excluded.created_at,
		last_attempt = excluded.last_attempt`,
		draft.ID,
		draft.TripID,
		draft.UserID,
		string(draft.Status),
		form,
		draft.CreatedAt.Format(time.RFC3339),
		timeToNullString(draft.LastAttempt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert registration draft %s: %w", draft.ID, err)
	}

	s.notify()
	return nil
}

// SetRegistrationStatus transitions a draft's replay status and stamps the
// last-attempt time.
func (s *Store) SetRegistrationStatus(ctx context.Context, id string, status record.SyncStatus, attemptedAt time.Time) error {
	_, err := s.conn.ExecContext(ctx, `
	UPDATE registration_drafts SET status = ?, last_attempt = ? WHERE id = ?`,
		string(status), attemptedAt.Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update registration draft %s: %w", id, err)
	}

	s.notify()
	return nil
}

// DeleteRegistrationDraftForPair removes the non-synced draft for a (trip,
// user) pair. Called after the parent registration submission completes.
// Idempotent: deleting a missing draft is not an error.
func (s *Store) DeleteRegistrationDraftForPair(ctx context.Context, tripID, userID string) error {
	_, err := s.conn.ExecContext(ctx, `
	DELETE FROM registration_drafts
	WHERE trip_id = ? AND user_id = ? AND status != ?`,
		tripID, userID, string(record.StatusSynced))
	if err != nil {
		return fmt.Errorf("failed to delete draft for trip %s user %s: %w", tripID, userID, err)
	}

	s.notify()
	return nil
}

// NonSyncedRegistrationCount counts drafts still owed to the remote service
// (pending or error). Feeds the status projection's pending counter.
func (s *Store) NonSyncedRegistrationCount(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM registration_drafts WHERE status != ?`,
		string(record.StatusSynced)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count registration drafts: %w", err)
	}
	return count, nil
}

func scanRegistrationDraft(row scanner) (*record.RegistrationDraft, error) {
	var draft record.RegistrationDraft
	var status, form, createdAt string
	var lastAttempt sql.NullString

	err := row.Scan(
		&draft.ID,
		&draft.TripID,
		&draft.UserID,
		&status,
		&form,
		&createdAt,
		&lastAttempt,
	)
	if err != nil {
		return nil, err
	}

	draft.Status = record.SyncStatus(status)
	if err := json.Unmarshal([]byte(form), &draft.Form); err != nil {
		return nil, fmt.Errorf("failed to unmarshal draft form: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		draft.CreatedAt = t
	}
	draft.LastAttempt = nullStringToTime(lastAttempt)
	return &draft, nil
}
