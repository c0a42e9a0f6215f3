package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/trekmed/fieldsync/internal/record"
)

const reportColumns = `id, enrollment_id, status, report, updated_at`

// IncidentReportDraft retrieves a report draft by local id.
// Returns ErrNotFound if no draft exists.
func (s *Store) IncidentReportDraft(ctx context.Context, id string) (*record.IncidentReportDraft, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM incident_report_drafts WHERE id = ?`, id)

	draft, err := scanIncidentReportDraft(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read incident report %s: %w", id, err)
	}
	return draft, nil
}

// PendingIncidentReportDrafts returns all report drafts awaiting replay.
func (s *Store) PendingIncidentReportDrafts(ctx context.Context) ([]record.IncidentReportDraft, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT `+reportColumns+` FROM incident_report_drafts
	WHERE status = ? ORDER BY updated_at ASC`, string(record.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query incident reports: %w", err)
	}
	defer rows.Close()

	var drafts []record.IncidentReportDraft
	for rows.Next() {
		draft, err := scanIncidentReportDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident report: %w", err)
		}
		drafts = append(drafts, *draft)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating incident reports: %w", err)
	}
	return drafts, nil
}

// PutIncidentReportDraft inserts or updates a report draft by local id.
func (s *Store) PutIncidentReportDraft(ctx context.Context, draft *record.IncidentReportDraft) error {
	if err := draft.Validate(); err != nil {
		return fmt.Errorf("invalid incident report: %w", err)
	}

	report, err := marshalJSON(draft.Report)
	if err != nil {
		return err
	}

	_, err = s.conn.ExecContext(ctx, `
	INSERT INTO incident_report_drafts (`+reportColumns+`)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		enrollment_id = excluded.enrollment_id,
		status = excluded.status,
		report = excluded.report,
		updated_at = excluded.updated_at`,
		draft.ID,
		draft.EnrollmentID,
		string(draft.Status),
		report,
		draft.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert incident report %s: %w", draft.ID, err)
	}

	s.notify()
	return nil
}

// MarkIncidentReportSynced promotes a report draft to synced after the
// remote upsert succeeds. The draft stays cached for offline reads.
func (s *Store) MarkIncidentReportSynced(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx, `
	UPDATE incident_report_drafts SET status = ? WHERE id = ?`,
		string(record.StatusSynced), id)
	if err != nil {
		return fmt.Errorf("failed to mark incident report %s synced: %w", id, err)
	}

	s.notify()
	return nil
}

// PendingIncidentReportCount counts report drafts awaiting replay.
func (s *Store) PendingIncidentReportCount(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM incident_report_drafts WHERE status = ?`,
		string(record.StatusPending)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count incident reports: %w", err)
	}
	return count, nil
}

func scanIncidentReportDraft(row scanner) (*record.IncidentReportDraft, error) {
	var draft record.IncidentReportDraft
	var status, report string

	err := row.Scan(
		&draft.ID,
		&draft.EnrollmentID,
		&status,
		&report,
		&draft.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	draft.Status = record.SyncStatus(status)
	if err := json.Unmarshal([]byte(report), &draft.Report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incident report payload: %w", err)
	}
	return &draft, nil
}
