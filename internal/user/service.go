package user

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrProfileNotFound   = errors.New("profile not found")
	ErrInvalidRole       = errors.New("invalid role")
	ErrForbidden         = errors.New("forbidden")
	ErrElevationNotFound = errors.New("elevation request not found")
	ErrElevationDecided  = errors.New("elevation request already decided")
	ErrSelfDecision      = errors.New("cannot decide your own elevation request")
)

// Service manages profiles and role elevation.
type Service struct {
	repo Repository
}

// NewService creates a service backed by a repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// EnsureProfile returns the stored profile for uid, creating a default
// student profile with an empty course list on first sign-in. The second
// return value reports whether a profile was created.
func (s *Service) EnsureProfile(ctx context.Context, uid, email, displayName string) (Profile, bool, error) {
	if uid == "" {
		return Profile{}, false, errors.New("uid required")
	}
	existing, err := s.repo.GetProfile(ctx, uid)
	if err != nil {
		return Profile{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	if displayName == "" {
		displayName = "User"
	}
	created, err := s.repo.CreateProfile(ctx, Profile{
		UID:         uid,
		Email:       email,
		DisplayName: displayName,
		Role:        RoleStudent,
		Courses:     []string{},
	})
	if err != nil {
		return Profile{}, false, err
	}
	logrus.WithFields(logrus.Fields{"uid": uid, "role": created.Role}).Info("profile created on first sign-in")
	return created, true, nil
}

// Profile returns the profile for uid.
func (s *Service) Profile(ctx context.Context, uid string) (Profile, error) {
	p, err := s.repo.GetProfile(ctx, uid)
	if err != nil {
		return Profile{}, err
	}
	if p == nil {
		return Profile{}, ErrProfileNotFound
	}
	return *p, nil
}

// List returns all profiles.
func (s *Service) List(ctx context.Context) ([]Profile, error) {
	return s.repo.ListProfiles(ctx)
}

// SetCourses replaces a user's enrolled course list.
func (s *Service) SetCourses(ctx context.Context, uid string, courses []string) error {
	err := s.repo.SetCourses(ctx, uid, courses)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrProfileNotFound
	}
	return err
}

// RequestElevation files an audited request to raise the requester's role.
func (s *Service) RequestElevation(ctx context.Context, requesterUID string, role Role, reason string) (ElevationRequest, error) {
	if !role.Valid() || role == RoleStudent {
		return ElevationRequest{}, ErrInvalidRole
	}
	requester, err := s.repo.GetProfile(ctx, requesterUID)
	if err != nil {
		return ElevationRequest{}, err
	}
	if requester == nil {
		return ElevationRequest{}, ErrProfileNotFound
	}

	req, err := s.repo.InsertElevation(ctx, ElevationRequest{
		RequesterUID:  requesterUID,
		RequestedRole: role,
		Reason:        reason,
		Status:        ElevationPending,
	})
	if err != nil {
		return ElevationRequest{}, err
	}
	logrus.WithFields(logrus.Fields{
		"request_id": req.ID,
		"requester":  requesterUID,
		"role":       role,
	}).Info("elevation requested")
	return req, nil
}

// ListElevations returns elevation requests, optionally filtered by status.
func (s *Service) ListElevations(ctx context.Context, status ElevationStatus) ([]ElevationRequest, error) {
	return s.repo.ListElevations(ctx, status)
}

// DecideElevation approves or rejects a pending request. The decider must
// hold manage_users; on approval the requester's role is updated.
func (s *Service) DecideElevation(ctx context.Context, id, deciderUID string, approve bool) (ElevationRequest, error) {
	decider, err := s.repo.GetProfile(ctx, deciderUID)
	if err != nil {
		return ElevationRequest{}, err
	}
	if decider == nil || !decider.Role.Has(CapManageUsers) {
		return ElevationRequest{}, ErrForbidden
	}

	req, err := s.repo.GetElevation(ctx, id)
	if err != nil {
		return ElevationRequest{}, err
	}
	if req == nil {
		return ElevationRequest{}, ErrElevationNotFound
	}
	if req.Status != ElevationPending {
		return ElevationRequest{}, ErrElevationDecided
	}
	if req.RequesterUID == deciderUID {
		return ElevationRequest{}, ErrSelfDecision
	}

	status := ElevationRejected
	if approve {
		status = ElevationApproved
	}
	now := time.Now().UTC()
	if err := s.repo.DecideElevation(ctx, id, status, deciderUID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ElevationRequest{}, ErrElevationDecided
		}
		return ElevationRequest{}, err
	}

	if approve {
		if err := s.repo.UpdateRole(ctx, req.RequesterUID, req.RequestedRole); err != nil {
			return ElevationRequest{}, err
		}
	}

	req.Status = status
	req.DecidedBy = &deciderUID
	req.DecidedAt = &now
	logrus.WithFields(logrus.Fields{
		"request_id": id,
		"decided_by": deciderUID,
		"status":     status,
	}).Info("elevation request decided")
	return *req, nil
}
