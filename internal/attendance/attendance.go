package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/geo"
)

// Log is an immutable receipt that a student checked in to a session.
// Written once on a successful submission, never updated or deleted.
type Log struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	StudentID   string         `json:"student_id"`
	StudentName string         `json:"student_name"`
	Timestamp   time.Time      `json:"timestamp"`
	Location    geo.Coordinate `json:"location"`
	Verified    bool           `json:"verified"`
}

// Repository persists attendance logs.
type Repository interface {
	Insert(ctx context.Context, l Log) (Log, error)
	Get(ctx context.Context, id string) (*Log, error)
	Exists(ctx context.Context, sessionID, studentID string) (bool, error)
	ListBySession(ctx context.Context, sessionID string) ([]Log, error)
}

// PostgresRepository is the Postgres-backed Repository.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert writes a new log. The timestamp is assigned by the database.
func (r *PostgresRepository) Insert(ctx context.Context, l Log) (Log, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_logs (id, session_id, student_id, student_name, lat, lng, verified)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING recorded_at
	`, l.ID, l.SessionID, l.StudentID, l.StudentName, l.Location.Lat, l.Location.Lng, l.Verified)
	if err := row.Scan(&l.Timestamp); err != nil {
		return Log{}, err
	}
	return l, nil
}

// Get returns a log by id, or nil when absent.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Log, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, student_id, student_name, recorded_at, lat, lng, verified
		FROM attendance_logs WHERE id = $1
	`, id)
	var l Log
	if err := row.Scan(&l.ID, &l.SessionID, &l.StudentID, &l.StudentName, &l.Timestamp, &l.Location.Lat, &l.Location.Lng, &l.Verified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

// Exists reports whether the student already has a log for the session.
func (r *PostgresRepository) Exists(ctx context.Context, sessionID, studentID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM attendance_logs WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID).Scan(&n)
	return n > 0, err
}

// ListBySession returns a session's logs in check-in order.
func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string) ([]Log, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, student_id, student_name, recorded_at, lat, lng, verified
		FROM attendance_logs WHERE session_id = $1 ORDER BY recorded_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Log
	for rows.Next() {
		var l Log
		if err := rows.Scan(&l.ID, &l.SessionID, &l.StudentID, &l.StudentName, &l.Timestamp, &l.Location.Lat, &l.Location.Lng, &l.Verified); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
