package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Repository persists lecture sessions.
type Repository interface {
	Insert(ctx context.Context, s Session) (Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	UpdateToken(ctx context.Context, id, token string) error
	End(ctx context.Context, id string) error
	ListActive(ctx context.Context) ([]Session, error)
	ListByLecturer(ctx context.Context, lecturerID string, limit int) ([]Session, error)
}

// PostgresRepository is the Postgres-backed Repository.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert writes a new session.
func (r *PostgresRepository) Insert(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, course_id, lecturer_id, started_at, is_active, anchor_lat, anchor_lng, radius_m, current_token)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, s.ID, s.CourseID, s.LecturerID, s.StartedAt, s.IsActive, s.Anchor.Lat, s.Anchor.Lng, s.RadiusM, s.CurrentToken)
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// Get returns a session by id, or nil when absent.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, course_id, lecturer_id, started_at, is_active, anchor_lat, anchor_lng, radius_m, current_token
		FROM sessions WHERE id = $1
	`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// UpdateToken overwrites the current verification token in place.
func (r *PostgresRepository) UpdateToken(ctx context.Context, id, token string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET current_token = $2 WHERE id = $1 AND is_active
	`, id, token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotActive
	}
	return nil
}

// End flips the active flag; the record stays queryable as closed history.
func (r *PostgresRepository) End(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET is_active = FALSE WHERE id = $1`, id)
	return err
}

// ListActive returns all sessions with is_active = true, newest first.
func (r *PostgresRepository) ListActive(ctx context.Context) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, course_id, lecturer_id, started_at, is_active, anchor_lat, anchor_lng, radius_m, current_token
		FROM sessions WHERE is_active ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListByLecturer returns a lecturer's sessions, newest first.
func (r *PostgresRepository) ListByLecturer(ctx context.Context, lecturerID string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, course_id, lecturer_id, started_at, is_active, anchor_lat, anchor_lng, radius_m, current_token
		FROM sessions WHERE lecturer_id = $1 ORDER BY started_at DESC LIMIT $2
	`, lecturerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.CourseID, &s.LecturerID, &s.StartedAt, &s.IsActive,
		&s.Anchor.Lat, &s.Anchor.Lng, &s.RadiusM, &s.CurrentToken)
	return s, err
}

func collectSessions(rows *sql.Rows) ([]Session, error) {
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// TokenCache mirrors the current token into a fast store so read traffic
// during a rotation window does not hit Postgres.
type TokenCache interface {
	SetToken(ctx context.Context, sessionID, token string, ttl time.Duration) error
}

// RedisTokenCache stores tokens under session:token:<id>.
type RedisTokenCache struct {
	client *redis.Client
}

// NewRedisTokenCache creates a cache over an existing client.
func NewRedisTokenCache(client *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{client: client}
}

// SetToken writes the token with a TTL.
func (c *RedisTokenCache) SetToken(ctx context.Context, sessionID, token string, ttl time.Duration) error {
	return c.client.Set(ctx, fmt.Sprintf("session:token:%s", sessionID), token, ttl).Err()
}
