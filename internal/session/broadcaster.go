package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"geoattend/internal/geo"
	"geoattend/internal/metrics"
)

const rotationWriteTimeout = 5 * time.Second

// Broadcaster owns the lifecycle of lecture sessions and rotates each active
// session's verification token on a fixed period. Rotation is scheduled from
// the completion of the previous persistence write, so a slow or failing
// store never piles up concurrent writes for one session.
type Broadcaster struct {
	repo     Repository
	cache    TokenCache
	interval time.Duration

	mu       sync.Mutex
	rotators map[string]context.CancelFunc
}

// NewBroadcaster creates a broadcaster rotating tokens every interval.
func NewBroadcaster(repo Repository, cache TokenCache, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Broadcaster{
		repo:     repo,
		cache:    cache,
		interval: interval,
		rotators: make(map[string]context.CancelFunc),
	}
}

// Start persists a new active session anchored at the lecturer's coordinate
// and begins rotating its token. The anchor comes from the lecturer's device;
// callers must reject requests without a usable location before reaching here.
func (b *Broadcaster) Start(ctx context.Context, lecturerID, courseID string, anchor geo.Coordinate, radiusM float64) (Session, error) {
	if lecturerID == "" || courseID == "" {
		return Session{}, errors.New("lecturer and course required")
	}
	if radiusM == 0 {
		radiusM = DefaultRadiusM
	}
	if radiusM < 0 {
		return Session{}, ErrBadRadius
	}

	sess, err := b.repo.Insert(ctx, Session{
		CourseID:     courseID,
		LecturerID:   lecturerID,
		StartedAt:    time.Now().UTC(),
		IsActive:     true,
		Anchor:       anchor,
		RadiusM:      radiusM,
		CurrentToken: NewToken(),
	})
	if err != nil {
		return Session{}, err
	}

	b.cacheToken(ctx, sess.ID, sess.CurrentToken)
	b.startRotator(sess.ID)
	metrics.SessionsStarted.Inc()
	logrus.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"course_id":  courseID,
		"radius_m":   radiusM,
	}).Info("session started")
	return sess, nil
}

// End flips the session inactive and stops its rotator. The record is kept
// as closed history. Only the owning lecturer may end a session.
func (b *Broadcaster) End(ctx context.Context, sessionID, lecturerID string) error {
	sess, err := b.repo.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotFound
	}
	if sess.LecturerID != lecturerID {
		return ErrNotOwner
	}
	if !sess.IsActive {
		return ErrNotActive
	}

	if err := b.repo.End(ctx, sessionID); err != nil {
		return err
	}
	b.stopRotator(sessionID)
	metrics.SessionsEnded.Inc()
	logrus.WithField("session_id", sessionID).Info("session ended")
	return nil
}

// Close cancels every running rotator. Called on shutdown; sessions stay
// active in the store and resume rotation is not attempted.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, cancel := range b.rotators {
		cancel()
		delete(b.rotators, id)
	}
}

// Rotating reports whether a rotator is running for the session.
func (b *Broadcaster) Rotating(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.rotators[sessionID]
	return ok
}

func (b *Broadcaster) startRotator(sessionID string) {
	ctx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.rotators[sessionID] = cancel
	b.mu.Unlock()

	go b.rotate(ctx, sessionID)
}

func (b *Broadcaster) stopRotator(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cancel, ok := b.rotators[sessionID]; ok {
		cancel()
		delete(b.rotators, sessionID)
	}
}

// rotate regenerates the token once per interval until cancelled. The timer
// is re-armed only after the write returns, confirmed or failed, so the
// in-memory and persisted tokens cannot silently diverge across overlapping
// writes. A write failure is logged and the next tick tries again.
func (b *Broadcaster) rotate(ctx context.Context, sessionID string) {
	timer := time.NewTimer(b.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		token := NewToken()
		writeCtx, cancel := context.WithTimeout(ctx, rotationWriteTimeout)
		err := b.repo.UpdateToken(writeCtx, sessionID, token)
		cancel()

		switch {
		case err == nil:
			metrics.TokenRotations.Inc()
			b.cacheToken(ctx, sessionID, token)
		case errors.Is(err, ErrNotActive):
			// Session was ended out from under us; stop quietly.
			b.stopRotator(sessionID)
			return
		case ctx.Err() != nil:
			return
		default:
			metrics.TokenRotationFailures.Inc()
			logrus.WithError(err).WithField("session_id", sessionID).Warn("token rotation write failed")
		}

		timer.Reset(b.interval)
	}
}

func (b *Broadcaster) cacheToken(ctx context.Context, sessionID, token string) {
	if b.cache == nil {
		return
	}
	if err := b.cache.SetToken(ctx, sessionID, token, 2*b.interval); err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Debug("token cache write failed")
	}
}
