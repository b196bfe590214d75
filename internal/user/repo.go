package user

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists profiles and elevation requests.
type Repository interface {
	GetProfile(ctx context.Context, uid string) (*Profile, error)
	CreateProfile(ctx context.Context, p Profile) (Profile, error)
	ListProfiles(ctx context.Context) ([]Profile, error)
	UpdateRole(ctx context.Context, uid string, role Role) error
	SetCourses(ctx context.Context, uid string, courses []string) error

	InsertElevation(ctx context.Context, req ElevationRequest) (ElevationRequest, error)
	GetElevation(ctx context.Context, id string) (*ElevationRequest, error)
	ListElevations(ctx context.Context, status ElevationStatus) ([]ElevationRequest, error)
	DecideElevation(ctx context.Context, id string, status ElevationStatus, decidedBy string, decidedAt time.Time) error
}

// PostgresRepository is the Postgres-backed Repository.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetProfile returns the profile for uid, or nil when none exists.
func (r *PostgresRepository) GetProfile(ctx context.Context, uid string) (*Profile, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT uid, email, display_name, role, courses, created_at
		FROM users WHERE uid = $1
	`, uid)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// CreateProfile inserts a new profile.
func (r *PostgresRepository) CreateProfile(ctx context.Context, p Profile) (Profile, error) {
	if p.Courses == nil {
		p.Courses = []string{}
	}
	courses, err := json.Marshal(p.Courses)
	if err != nil {
		return Profile{}, err
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (uid, email, display_name, role, courses)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, p.UID, p.Email, p.DisplayName, p.Role, courses)
	if err := row.Scan(&p.CreatedAt); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// ListProfiles returns all profiles ordered by creation.
func (r *PostgresRepository) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT uid, email, display_name, role, courses, created_at
		FROM users ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateRole sets the role on a profile.
func (r *PostgresRepository) UpdateRole(ctx context.Context, uid string, role Role) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET role = $2 WHERE uid = $1`, uid, role)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

// SetCourses replaces the enrolled course list on a profile.
func (r *PostgresRepository) SetCourses(ctx context.Context, uid string, courses []string) error {
	if courses == nil {
		courses = []string{}
	}
	encoded, err := json.Marshal(courses)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE users SET courses = $2 WHERE uid = $1`, uid, encoded)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

// InsertElevation writes a new pending elevation request.
func (r *PostgresRepository) InsertElevation(ctx context.Context, req ElevationRequest) (ElevationRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = ElevationPending
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO elevation_requests (id, requester_uid, requested_role, reason, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, req.ID, req.RequesterUID, req.RequestedRole, req.Reason, req.Status)
	if err := row.Scan(&req.CreatedAt); err != nil {
		return ElevationRequest{}, err
	}
	return req, nil
}

// GetElevation returns one elevation request, or nil when absent.
func (r *PostgresRepository) GetElevation(ctx context.Context, id string) (*ElevationRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, requester_uid, requested_role, reason, status, created_at, decided_by, decided_at
		FROM elevation_requests WHERE id = $1
	`, id)
	var req ElevationRequest
	if err := row.Scan(&req.ID, &req.RequesterUID, &req.RequestedRole, &req.Reason, &req.Status, &req.CreatedAt, &req.DecidedBy, &req.DecidedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

// ListElevations returns requests, optionally filtered by status.
func (r *PostgresRepository) ListElevations(ctx context.Context, status ElevationStatus) ([]ElevationRequest, error) {
	query := `
		SELECT id, requester_uid, requested_role, reason, status, created_at, decided_by, decided_at
		FROM elevation_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ElevationRequest
	for rows.Next() {
		var req ElevationRequest
		if err := rows.Scan(&req.ID, &req.RequesterUID, &req.RequestedRole, &req.Reason, &req.Status, &req.CreatedAt, &req.DecidedBy, &req.DecidedAt); err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// DecideElevation records the decision on a pending request.
func (r *PostgresRepository) DecideElevation(ctx context.Context, id string, status ElevationStatus, decidedBy string, decidedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE elevation_requests
		SET status = $2, decided_by = $3, decided_at = $4
		WHERE id = $1 AND status = $5
	`, id, status, decidedBy, decidedAt, ElevationPending)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (Profile, error) {
	var p Profile
	var courses []byte
	if err := row.Scan(&p.UID, &p.Email, &p.DisplayName, &p.Role, &courses, &p.CreatedAt); err != nil {
		return Profile{}, err
	}
	if len(courses) > 0 {
		if err := json.Unmarshal(courses, &p.Courses); err != nil {
			return Profile{}, err
		}
	}
	if p.Courses == nil {
		p.Courses = []string{}
	}
	return p, nil
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
