package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/trekmed/fieldsync/internal/record"
)

const enrollmentColumns = `id, trip_id, user_id, state, created_at, menu,
	profile, trip_title, report_created`

// Enrollments returns cached enrollments, scoped to one trip when tripID is
// non-empty or the whole collection when it is "".
func (s *Store) Enrollments(ctx context.Context, tripID string) ([]record.EnrollmentSnapshot, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments`
	var args []any
	if tripID != "" {
		query += ` WHERE trip_id = ?`
		args = append(args, tripID)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []record.EnrollmentSnapshot
	for rows.Next() {
		var e record.EnrollmentSnapshot
		var state, profile string
		var createdAt sql.NullString
		var reportFlag int

		err := rows.Scan(
			&e.ID,
			&e.TripID,
			&e.UserID,
			&state,
			&createdAt,
			&e.Menu,
			&profile,
			&e.TripTitle,
			&reportFlag,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		e.State = record.EnrollmentState(state)
		e.CreatedAt = nullStringToTime(createdAt)
		e.ReportCreated = reportFlag != 0
		if err := json.Unmarshal([]byte(profile), &e.Profile); err != nil {
			return nil, fmt.Errorf("failed to unmarshal enrollment profile: %w", err)
		}
		enrollments = append(enrollments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}
	return enrollments, nil
}

// ReplaceEnrollments replaces the cached enrollment set for one warm scope.
// With a non-empty tripID only rows for that trip are cleared and rewritten;
// with "" the whole collection is replaced. Clear and bulk put run in one
// transaction so the scoped subset is never observable half-replaced.
func (s *Store) ReplaceEnrollments(ctx context.Context, tripID string, enrollments []record.EnrollmentSnapshot) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin enrollment replace: %w", err)
	}
	defer tx.Rollback()

	if tripID != "" {
		_, err = tx.ExecContext(ctx, `DELETE FROM enrollments WHERE trip_id = ?`, tripID)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM enrollments`)
	}
	if err != nil {
		return fmt.Errorf("failed to clear enrollments: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO enrollments (`+enrollmentColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		trip_id = excluded.trip_id,
		user_id = excluded.user_id,
		state = excluded.state,
		created_at = excluded.created_at,
		menu = excluded.menu,
		profile = excluded.profile,
		trip_title = excluded.trip_title,
		report_created = excluded.report_created`)
	if err != nil {
		return fmt.Errorf("failed to prepare enrollment insert: %w", err)
	}
	defer stmt.Close()

	for i := range enrollments {
		e := &enrollments[i]
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid enrollment: %w", err)
		}
		profile, err := marshalJSON(e.Profile)
		if err != nil {
			return err
		}
		reportFlag := 0
		if e.ReportCreated {
			reportFlag = 1
		}
		_, err = stmt.ExecContext(ctx,
			e.ID,
			e.TripID,
			e.UserID,
			string(e.State),
			timeToNullString(e.CreatedAt),
			e.Menu,
			profile,
			e.TripTitle,
			reportFlag,
		)
		if err != nil {
			return fmt.Errorf("failed to insert enrollment %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enrollment replace: %w", err)
	}

	s.notify()
	return nil
}

// ReplaceConditions replaces the read-only condition catalog.
func (s *Store) ReplaceConditions(ctx context.Context, conditions []record.ConditionCatalogEntry) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin catalog replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM condition_catalog`); err != nil {
		return fmt.Errorf("failed to clear condition catalog: %w", err)
	}

	for _, c := range conditions {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO condition_catalog (id, label, description) VALUES (?, ?, ?)`,
			c.ID, c.Label, c.Description)
		if err != nil {
			return fmt.Errorf("failed to insert condition %d: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog replace: %w", err)
	}

	s.notify()
	return nil
}

// Conditions returns the cached condition catalog ordered by label.
func (s *Store) Conditions(ctx context.Context) ([]record.ConditionCatalogEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, label, description FROM condition_catalog ORDER BY label ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query condition catalog: %w", err)
	}
	defer rows.Close()

	var conditions []record.ConditionCatalogEntry
	for rows.Next() {
		var c record.ConditionCatalogEntry
		if err := rows.Scan(&c.ID, &c.Label, &c.Description); err != nil {
			return nil, fmt.Errorf("failed to scan condition: %w", err)
		}
		conditions = append(conditions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conditions: %w", err)
	}
	return conditions, nil
}
