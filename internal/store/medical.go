package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/trekmed/fieldsync/internal/record"
)

// MedicalRecord retrieves the cached medical-record snapshot for a user.
// Returns ErrNotFound if nothing is cached for that user.
func (s *Store) MedicalRecord(ctx context.Context, userID string) (*record.MedicalRecordSnapshot, error) {
	var data string
	err := s.conn.QueryRowContext(ctx,
		`SELECT data FROM medical_records WHERE user_id = ?`, userID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read medical record for %s: %w", userID, err)
	}

	return &record.MedicalRecordSnapshot{
		UserID: userID,
		Data:   json.RawMessage(data),
	}, nil
}

// PutMedicalRecord upserts one snapshot. The payload is stored opaque and
// overwrites any previous snapshot for the user.
func (s *Store) PutMedicalRecord(ctx context.Context, snap *record.MedicalRecordSnapshot) error {
	return s.PutMedicalRecords(ctx, []record.MedicalRecordSnapshot{*snap})
}

// PutMedicalRecords batch-upserts snapshots, one statement per row inside a
// single transaction. Used by the cache-warm hydration batches.
func (s *Store) PutMedicalRecords(ctx context.Context, snaps []record.MedicalRecordSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin medical record upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO medical_records (user_id, data) VALUES (?, ?)
	ON CONFLICT(user_id) DO UPDATE SET data = excluded.data`)
	if err != nil {
		return fmt.Errorf("failed to prepare medical record upsert: %w", err)
	}
	defer stmt.Close()

	for i := range snaps {
		snap := &snaps[i]
		if snap.UserID == "" {
			return fmt.Errorf("medical record user id is required")
		}
		if _, err := stmt.ExecContext(ctx, snap.UserID, string(snap.Data)); err != nil {
			return fmt.Errorf("failed to upsert medical record for %s: %w", snap.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit medical record upsert: %w", err)
	}

	s.notify()
	return nil
}

// MedicalRecordCount returns the number of cached snapshots.
func (s *Store) MedicalRecordCount(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM medical_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count medical records: %w", err)
	}
	return count, nil
}
