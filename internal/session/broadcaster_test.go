package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"geoattend/internal/geo"
)

type memoryRepo struct {
	mu       sync.Mutex
	sessions map[string]Session
	tokens   []string
	updates  int
	failNext error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sessions: make(map[string]Session)}
}

func (m *memoryRepo) Insert(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = "sess-" + strconv.Itoa(len(m.sessions)+1)
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memoryRepo) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memoryRepo) UpdateToken(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	s, ok := m.sessions[id]
	if !ok || !s.IsActive {
		return ErrNotActive
	}
	s.CurrentToken = token
	m.sessions[id] = s
	m.tokens = append(m.tokens, token)
	m.updates++
	return nil
}

func (m *memoryRepo) End(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	s.IsActive = false
	m.sessions[id] = s
	return nil
}

func (m *memoryRepo) ListActive(_ context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Session
	for _, s := range m.sessions {
		if s.IsActive {
			res = append(res, s)
		}
	}
	return res, nil
}

func (m *memoryRepo) ListByLecturer(_ context.Context, lecturerID string, _ int) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Session
	for _, s := range m.sessions {
		if s.LecturerID == lecturerID {
			res = append(res, s)
		}
	}
	return res, nil
}

func (m *memoryRepo) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

func (m *memoryRepo) allTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokens...)
}

func TestNewToken_Format(t *testing.T) {
	for i := 0; i < 1000; i++ {
		tok := NewToken()
		if len(tok) != 4 {
			t.Fatalf("token %q is not 4 digits", tok)
		}
		n, err := strconv.Atoi(tok)
		if err != nil {
			t.Fatalf("token %q is not numeric: %v", tok, err)
		}
		if n < 1000 || n > 9999 {
			t.Fatalf("token %d outside [1000, 9999]", n)
		}
	}
}

func TestBroadcaster_StartRotatesAndEndStops(t *testing.T) {
	repo := newMemoryRepo()
	b := NewBroadcaster(repo, nil, 20*time.Millisecond)
	defer b.Close()
	ctx := context.Background()

	sess, err := b.Start(ctx, "lect-1", "CS101", geo.Coordinate{Lat: 30, Lng: 32}, 0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.RadiusM != DefaultRadiusM {
		t.Errorf("radius = %v, want default %v", sess.RadiusM, DefaultRadiusM)
	}
	if len(sess.CurrentToken) != 4 {
		t.Errorf("initial token %q is not 4 digits", sess.CurrentToken)
	}
	if !b.Rotating(sess.ID) {
		t.Fatal("rotator not running after Start")
	}

	time.Sleep(150 * time.Millisecond)
	if n := repo.updateCount(); n < 3 {
		t.Errorf("rotations after 150ms = %d, want >= 3", n)
	}
	for _, tok := range repo.allTokens() {
		n, err := strconv.Atoi(tok)
		if err != nil || n < 1000 || n > 9999 {
			t.Errorf("rotated token %q outside [1000, 9999]", tok)
		}
	}

	if err := b.End(ctx, sess.ID, "lect-1"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if b.Rotating(sess.ID) {
		t.Error("rotator still running after End")
	}

	time.Sleep(30 * time.Millisecond) // drain any in-flight tick
	after := repo.updateCount()
	time.Sleep(80 * time.Millisecond)
	if n := repo.updateCount(); n != after {
		t.Errorf("rotation continued after End: %d -> %d", after, n)
	}

	// Ending preserves the session's anchor and radius; it only flips the flag.
	stored, _ := repo.Get(ctx, sess.ID)
	if stored.IsActive {
		t.Error("session still active after End")
	}
	if stored.Anchor != sess.Anchor || stored.RadiusM != sess.RadiusM {
		t.Errorf("End changed immutable fields: %+v", stored)
	}
	if active, _ := repo.ListActive(ctx); len(active) != 0 {
		t.Errorf("ended session still listed active: %v", active)
	}
}

func TestBroadcaster_RotationSurvivesWriteFailure(t *testing.T) {
	repo := newMemoryRepo()
	b := NewBroadcaster(repo, nil, 15*time.Millisecond)
	defer b.Close()
	ctx := context.Background()

	sess, err := b.Start(ctx, "lect-1", "CS101", geo.Coordinate{Lat: 30, Lng: 32}, 75)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	repo.mu.Lock()
	repo.failNext = errors.New("store unavailable")
	repo.mu.Unlock()

	// The failed write is logged and the next tick rotates again.
	time.Sleep(120 * time.Millisecond)
	if n := repo.updateCount(); n < 2 {
		t.Errorf("rotations after failure = %d, want >= 2", n)
	}

	_ = b.End(ctx, sess.ID, "lect-1")
}

func TestBroadcaster_EndGuards(t *testing.T) {
	repo := newMemoryRepo()
	b := NewBroadcaster(repo, nil, time.Minute)
	defer b.Close()
	ctx := context.Background()

	sess, err := b.Start(ctx, "lect-1", "CS101", geo.Coordinate{Lat: 30, Lng: 32}, 50)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := b.End(ctx, "missing", "lect-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("End unknown session: err = %v, want ErrNotFound", err)
	}
	if err := b.End(ctx, sess.ID, "someone-else"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("End by non-owner: err = %v, want ErrNotOwner", err)
	}
	if err := b.End(ctx, sess.ID, "lect-1"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := b.End(ctx, sess.ID, "lect-1"); !errors.Is(err, ErrNotActive) {
		t.Errorf("End twice: err = %v, want ErrNotActive", err)
	}
}

func TestBroadcaster_StartValidation(t *testing.T) {
	repo := newMemoryRepo()
	b := NewBroadcaster(repo, nil, time.Minute)
	defer b.Close()
	ctx := context.Background()

	if _, err := b.Start(ctx, "", "CS101", geo.Coordinate{}, 50); err == nil {
		t.Error("Start without lecturer should fail")
	}
	if _, err := b.Start(ctx, "lect-1", "", geo.Coordinate{}, 50); err == nil {
		t.Error("Start without course should fail")
	}
	if _, err := b.Start(ctx, "lect-1", "CS101", geo.Coordinate{}, -5); !errors.Is(err, ErrBadRadius) {
		t.Errorf("negative radius err = %v, want ErrBadRadius", err)
	}
}
