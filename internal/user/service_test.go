package user

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeRepo struct {
	profiles   map[string]Profile
	elevations map[string]ElevationRequest
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		profiles:   make(map[string]Profile),
		elevations: make(map[string]ElevationRequest),
	}
}

func (f *fakeRepo) GetProfile(_ context.Context, uid string) (*Profile, error) {
	p, ok := f.profiles[uid]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeRepo) CreateProfile(_ context.Context, p Profile) (Profile, error) {
	p.CreatedAt = time.Now().UTC()
	f.profiles[p.UID] = p
	return p, nil
}

func (f *fakeRepo) ListProfiles(_ context.Context) ([]Profile, error) {
	var res []Profile
	for _, p := range f.profiles {
		res = append(res, p)
	}
	return res, nil
}

func (f *fakeRepo) UpdateRole(_ context.Context, uid string, role Role) error {
	p, ok := f.profiles[uid]
	if !ok {
		return sql.ErrNoRows
	}
	p.Role = role
	f.profiles[uid] = p
	return nil
}

func (f *fakeRepo) SetCourses(_ context.Context, uid string, courses []string) error {
	p, ok := f.profiles[uid]
	if !ok {
		return sql.ErrNoRows
	}
	p.Courses = courses
	f.profiles[uid] = p
	return nil
}

func (f *fakeRepo) InsertElevation(_ context.Context, req ElevationRequest) (ElevationRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.CreatedAt = time.Now().UTC()
	f.elevations[req.ID] = req
	return req, nil
}

func (f *fakeRepo) GetElevation(_ context.Context, id string) (*ElevationRequest, error) {
	req, ok := f.elevations[id]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (f *fakeRepo) ListElevations(_ context.Context, status ElevationStatus) ([]ElevationRequest, error) {
	var res []ElevationRequest
	for _, req := range f.elevations {
		if status == "" || req.Status == status {
			res = append(res, req)
		}
	}
	return res, nil
}

func (f *fakeRepo) DecideElevation(_ context.Context, id string, status ElevationStatus, decidedBy string, decidedAt time.Time) error {
	req, ok := f.elevations[id]
	if !ok || req.Status != ElevationPending {
		return sql.ErrNoRows
	}
	req.Status = status
	req.DecidedBy = &decidedBy
	req.DecidedAt = &decidedAt
	f.elevations[id] = req
	return nil
}

func TestEnsureProfile_FirstSignIn(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	p, created, err := svc.EnsureProfile(ctx, "u1", "student@uni.example", "Sara")
	if err != nil {
		t.Fatalf("EnsureProfile: %v", err)
	}
	if !created {
		t.Error("expected profile to be created on first sign-in")
	}
	if p.Role != RoleStudent {
		t.Errorf("role = %q, want %q", p.Role, RoleStudent)
	}
	if p.Courses == nil || len(p.Courses) != 0 {
		t.Errorf("courses = %v, want empty list", p.Courses)
	}

	// Second sign-in returns the stored profile without recreating it.
	again, created, err := svc.EnsureProfile(ctx, "u1", "student@uni.example", "Sara")
	if err != nil {
		t.Fatalf("EnsureProfile (second): %v", err)
	}
	if created {
		t.Error("profile should not be recreated on repeat sign-in")
	}
	if again.UID != p.UID || again.Role != p.Role {
		t.Errorf("second sign-in returned %+v, want %+v", again, p)
	}
}

func TestRoleCapabilities(t *testing.T) {
	cases := []struct {
		role Role
		cap  Capability
		want bool
	}{
		{RoleStudent, CapViewAttendance, true},
		{RoleStudent, CapBroadcastSession, false},
		{RoleStudent, CapManageUsers, false},
		{RoleLecturer, CapBroadcastSession, true},
		{RoleLecturer, CapManageResources, true},
		{RoleLecturer, CapManageUsers, false},
		{RoleAdmin, CapManageUsers, true},
		{RoleAdmin, CapBroadcastSession, false},
		{RoleSuperAdmin, CapBroadcastSession, true},
		{RoleSuperAdmin, CapManageUsers, true},
		{Role("unknown"), CapViewAttendance, false},
	}
	for _, tc := range cases {
		if got := tc.role.Has(tc.cap); got != tc.want {
			t.Errorf("%s.Has(%s) = %v, want %v", tc.role, tc.cap, got, tc.want)
		}
	}
}

func TestElevation_ApproveFlow(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	requester, _, err := svc.EnsureProfile(ctx, "u1", "s@uni.example", "Sara")
	if err != nil {
		t.Fatalf("EnsureProfile: %v", err)
	}
	repo.profiles["boss"] = Profile{UID: "boss", Role: RoleSuperAdmin}

	req, err := svc.RequestElevation(ctx, requester.UID, RoleLecturer, "teaching CS101 this term")
	if err != nil {
		t.Fatalf("RequestElevation: %v", err)
	}
	if req.Status != ElevationPending {
		t.Fatalf("status = %q, want pending", req.Status)
	}

	decided, err := svc.DecideElevation(ctx, req.ID, "boss", true)
	if err != nil {
		t.Fatalf("DecideElevation: %v", err)
	}
	if decided.Status != ElevationApproved {
		t.Errorf("status = %q, want approved", decided.Status)
	}
	if decided.DecidedBy == nil || *decided.DecidedBy != "boss" {
		t.Errorf("decided_by not recorded: %+v", decided)
	}
	if got := repo.profiles["u1"].Role; got != RoleLecturer {
		t.Errorf("requester role = %q, want lecturer after approval", got)
	}

	// A decided request cannot be decided twice.
	if _, err := svc.DecideElevation(ctx, req.ID, "boss", false); !errors.Is(err, ErrElevationDecided) {
		t.Errorf("second decision err = %v, want ErrElevationDecided", err)
	}
}

func TestElevation_Guards(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	repo.profiles["u1"] = Profile{UID: "u1", Role: RoleStudent}
	repo.profiles["peer"] = Profile{UID: "peer", Role: RoleStudent}
	repo.profiles["boss"] = Profile{UID: "boss", Role: RoleSuperAdmin}

	if _, err := svc.RequestElevation(ctx, "u1", RoleStudent, ""); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("requesting student role: err = %v, want ErrInvalidRole", err)
	}
	if _, err := svc.RequestElevation(ctx, "ghost", RoleLecturer, ""); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("unknown requester: err = %v, want ErrProfileNotFound", err)
	}

	req, err := svc.RequestElevation(ctx, "u1", RoleSuperAdmin, "recovery")
	if err != nil {
		t.Fatalf("RequestElevation: %v", err)
	}

	// A student cannot decide requests.
	if _, err := svc.DecideElevation(ctx, req.ID, "peer", true); !errors.Is(err, ErrForbidden) {
		t.Errorf("student decider: err = %v, want ErrForbidden", err)
	}
	if got := repo.profiles["u1"].Role; got != RoleStudent {
		t.Errorf("role changed without approval: %q", got)
	}

	// Rejection records the decision and leaves the role untouched.
	decided, err := svc.DecideElevation(ctx, req.ID, "boss", false)
	if err != nil {
		t.Fatalf("DecideElevation: %v", err)
	}
	if decided.Status != ElevationRejected {
		t.Errorf("status = %q, want rejected", decided.Status)
	}
	if got := repo.profiles["u1"].Role; got != RoleStudent {
		t.Errorf("role = %q, want student after rejection", got)
	}
}

func TestElevation_SelfDecision(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	repo.profiles["admin"] = Profile{UID: "admin", Role: RoleAdmin}

	req, err := svc.RequestElevation(ctx, "admin", RoleSuperAdmin, "")
	if err != nil {
		t.Fatalf("RequestElevation: %v", err)
	}
	if _, err := svc.DecideElevation(ctx, req.ID, "admin", true); !errors.Is(err, ErrSelfDecision) {
		t.Errorf("self decision err = %v, want ErrSelfDecision", err)
	}
}
