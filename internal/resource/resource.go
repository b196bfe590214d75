package resource

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrTitleRequired  = errors.New("title required")
	ErrCourseRequired = errors.New("course required")
	ErrInvalidURL     = errors.New("url must be an absolute http(s) link")
)

// Link is a named external URL attached to a course.
type Link struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"course_id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	AddedBy   string    `json:"added_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists resource links.
type Repository interface {
	Insert(ctx context.Context, l Link) (Link, error)
	ListByCourse(ctx context.Context, courseID string) ([]Link, error)
}

// PostgresRepository is the Postgres-backed Repository.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert writes a new link.
func (r *PostgresRepository) Insert(ctx context.Context, l Link) (Link, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO resources (id, course_id, title, url, added_by)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`, l.ID, l.CourseID, l.Title, l.URL, l.AddedBy)
	if err := row.Scan(&l.CreatedAt); err != nil {
		return Link{}, err
	}
	return l, nil
}

// ListByCourse returns a course's links, newest first.
func (r *PostgresRepository) ListByCourse(ctx context.Context, courseID string) ([]Link, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, course_id, title, url, added_by, created_at
		FROM resources WHERE course_id = $1 ORDER BY created_at DESC
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.ID, &l.CourseID, &l.Title, &l.URL, &l.AddedBy, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// Service validates and stores course resource links.
type Service struct {
	repo Repository
}

// NewService creates a service backed by a repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Add validates and persists a new link for a course.
func (s *Service) Add(ctx context.Context, courseID, title, rawURL, addedBy string) (Link, error) {
	if strings.TrimSpace(courseID) == "" {
		return Link{}, ErrCourseRequired
	}
	if strings.TrimSpace(title) == "" {
		return Link{}, ErrTitleRequired
	}
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return Link{}, ErrInvalidURL
	}

	link, err := s.repo.Insert(ctx, Link{
		CourseID: courseID,
		Title:    strings.TrimSpace(title),
		URL:      parsed.String(),
		AddedBy:  addedBy,
	})
	if err != nil {
		return Link{}, err
	}
	logrus.WithFields(logrus.Fields{"course_id": courseID, "title": link.Title}).Info("resource link added")
	return link, nil
}

// List returns a course's links.
func (s *Service) List(ctx context.Context, courseID string) ([]Link, error) {
	if strings.TrimSpace(courseID) == "" {
		return nil, ErrCourseRequired
	}
	return s.repo.ListByCourse(ctx, courseID)
}
