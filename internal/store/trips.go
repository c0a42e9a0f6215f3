package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trekmed/fieldsync/internal/record"
)

const tripColumns = `id, title, description, start_date, end_date,
	total_slots, available_slots, min_participants, state,
	difficulty, location, cover_image_url, updated_at`

// Trip retrieves a single cached trip by id.
// Returns ErrNotFound if the trip is not cached.
func (s *Store) Trip(ctx context.Context, id string) (*record.TripSnapshot, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+tripColumns+` FROM trips WHERE id = ?`, id)

	trip, err := scanTrip(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read trip %s: %w", id, err)
	}
	return trip, nil
}

// Trips returns all cached trips ordered by start date.
func (s *Store) Trips(ctx context.Context) ([]record.TripSnapshot, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+tripColumns+` FROM trips ORDER BY start_date ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	var trips []record.TripSnapshot
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		trips = append(trips, *trip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trips: %w", err)
	}
	return trips, nil
}

// TripCount returns the number of cached trips.
func (s *Store) TripCount(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM trips`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trips: %w", err)
	}
	return count, nil
}

// ReplaceTrips replaces the whole trips collection with the given snapshot
// set. The clear and bulk put run in one transaction so a crash cannot leave
// the collection half-replaced.
func (s *Store) ReplaceTrips(ctx context.Context, trips []record.TripSnapshot) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin trip replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trips`); err != nil {
		return fmt.Errorf("failed to clear trips: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO trips (`+tripColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare trip insert: %w", err)
	}
	defer stmt.Close()

	for i := range trips {
		trip := &trips[i]
		if err := trip.Validate(); err != nil {
			return fmt.Errorf("invalid trip: %w", err)
		}
		_, err := stmt.ExecContext(ctx,
			trip.ID,
			trip.Title,
			trip.Description,
			trip.StartDate.Format(time.RFC3339),
			trip.EndDate.Format(time.RFC3339),
			trip.TotalSlots,
			trip.AvailableSlots,
			trip.MinParticipants,
			string(trip.State),
			trip.Difficulty,
			trip.Location,
			trip.CoverImageURL,
			trip.UpdatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to insert trip %s: %w", trip.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trip replace: %w", err)
	}

	s.notify()
	return nil
}

// scanner abstracts sql.Row and sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanTrip(row scanner) (*record.TripSnapshot, error) {
	var trip record.TripSnapshot
	var startDate, endDate, updatedAt, state string

	err := row.Scan(
		&trip.ID,
		&trip.Title,
		&trip.Description,
		&startDate,
		&endDate,
		&trip.TotalSlots,
		&trip.AvailableSlots,
		&trip.MinParticipants,
		&state,
		&trip.Difficulty,
		&trip.Location,
		&trip.CoverImageURL,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	trip.State = record.TripState(state)
	if t, err := time.Parse(time.RFC3339, startDate); err == nil {
		trip.StartDate = t
	}
	if t, err := time.Parse(time.RFC3339, endDate); err == nil {
		trip.EndDate = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		trip.UpdatedAt = t
	}
	return &trip, nil
}
