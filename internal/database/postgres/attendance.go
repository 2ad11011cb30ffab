package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// Event status values stored in attendance_events.event_status.
const (
	EventInProgress = "in_progress"
	EventClosed     = "closed"
)

// AttendanceRepository lists open events and records check-ins.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// ActiveTargets returns in-progress events, most recent first.
func (r *AttendanceRepository) ActiveTargets(ctx context.Context) ([]database.Target, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, event_name, event_date
		FROM attendance_events
		WHERE event_status = $1
		ORDER BY event_date DESC, created_at DESC
	`, EventInProgress)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var targets []database.Target
	for rows.Next() {
		var t database.Target
		if err := rows.Scan(&t.EventID, &t.EventName, &t.EventDate); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return targets, nil
}

// MarkPresent upserts a present record for the member.
func (r *AttendanceRepository) MarkPresent(ctx context.Context, eventID, memberID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO attendance_records (event_id, member_id, status, checked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id, member_id) DO UPDATE SET
			status = EXCLUDED.status,
			checked_at = EXCLUDED.checked_at
	`, eventID, memberID, string(database.StatusPresent), at)
	if err != nil {
		return fmt.Errorf("mark present: %w", err)
	}
	return nil
}

// CreateEvent opens a new event and pre-fills an absent record for every
// active member, so the check-in list is complete from the start.
func (r *AttendanceRepository) CreateEvent(ctx context.Context, name string, date time.Time) (string, error) {
	tx, err := r.pool.DB().BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx,
		`INSERT INTO attendance_events (event_name, event_date, event_status) VALUES ($1, $2, $3) RETURNING id::text`,
		name, date, EventInProgress,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attendance_records (event_id, member_id, status)
		SELECT $1, id, $2 FROM members WHERE status IS NULL OR status = 'active'
	`, id, string(database.StatusAbsent))
	if err != nil {
		return "", fmt.Errorf("insert absent records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit event: %w", err)
	}
	return id, nil
}

// Status returns the recorded status of a member for an event, or "" when none.
func (r *AttendanceRepository) Status(ctx context.Context, eventID, memberID string) (database.AttendanceStatus, error) {
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT status FROM attendance_records WHERE event_id = $1 AND member_id = $2`,
		eventID, memberID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get status: %w", err)
	}
	return database.AttendanceStatus(status), nil
}
