package attendance

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"geoattend/internal/geo"
	"geoattend/internal/metrics"
	"geoattend/internal/queue"
	"geoattend/internal/session"
	"geoattend/internal/user"
)

var (
	ErrNoActiveSession  = errors.New("no active lecture right now")
	ErrLocationRequired = errors.New("enable location services to check in")
	ErrTokenMismatch    = errors.New("invalid or expired token")
	ErrAlreadyRecorded  = errors.New("attendance already recorded for this session")
	ErrSubmitFailed     = errors.New("check-in failed; the session may have ended")
)

// OutOfRangeError rejects a submission made from outside the acceptance
// radius, carrying both distances so the caller can state them.
type OutOfRangeError struct {
	DistanceM float64
	RadiusM   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("you are %d m from the lecture anchor; allowed radius is %d m",
		int(math.Round(e.DistanceM)), int(math.Round(e.RadiusM)))
}

// SessionSource is the slice of the session store the verifier reads.
type SessionSource interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	ListActive(ctx context.Context) ([]session.Session, error)
}

// Publisher emits check-in events for asynchronous processing.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Service decides whether a student's submitted token is acceptable against
// a session, gated on proximity, and records the attendance log.
type Service struct {
	logs          Repository
	sessions      SessionSource
	publisher     Publisher
	accuracyWarnM float64
}

// NewService creates a verifier. accuracyWarnM is the reported GPS accuracy
// above which a non-fatal low-confidence warning is attached.
func NewService(logs Repository, sessions SessionSource, publisher Publisher, accuracyWarnM float64) *Service {
	if accuracyWarnM <= 0 {
		accuracyWarnM = 100
	}
	return &Service{logs: logs, sessions: sessions, publisher: publisher, accuracyWarnM: accuracyWarnM}
}

// ActiveSessionFor selects the session a student checks into. Active sessions
// are filtered to the student's enrolled courses when the profile lists any;
// among eligible sessions the most recently started wins.
func (s *Service) ActiveSessionFor(ctx context.Context, profile user.Profile) (*session.Session, error) {
	active, err := s.sessions.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	enrolled := make(map[string]bool, len(profile.Courses))
	for _, c := range profile.Courses {
		enrolled[c] = true
	}

	var best *session.Session
	for i := range active {
		cand := &active[i]
		if len(enrolled) > 0 && !enrolled[cand.CourseID] {
			continue
		}
		if best == nil || cand.StartedAt.After(best.StartedAt) {
			best = cand
		}
	}
	if best == nil {
		return nil, ErrNoActiveSession
	}
	return best, nil
}

// Distance returns the student's great-circle distance to the session anchor
// in meters.
func (s *Service) Distance(student geo.Coordinate, sess session.Session) float64 {
	return geo.Distance(student, sess.Anchor)
}

// AccuracyWarning returns a non-fatal message when the reported GPS accuracy
// is too coarse to trust, or "" when it is fine.
func (s *Service) AccuracyWarning(accuracyM float64) string {
	if accuracyM > s.accuracyWarnM {
		return fmt.Sprintf("GPS accuracy is low (±%d m); move to an open area for a reliable reading", int(math.Round(accuracyM)))
	}
	return ""
}

// Submit verifies a check-in and writes the attendance log. The checks run
// in a fixed order, each with its own rejection: location present, distance
// within the acceptance radius, then exact token equality. Rejections leave
// no trace; the student may retry with a fresh token.
func (s *Service) Submit(ctx context.Context, profile user.Profile, sessionID string, at *geo.Coordinate, token string) (Log, error) {
	if at == nil {
		metrics.Checkins.WithLabelValues("no_location").Inc()
		return Log{}, ErrLocationRequired
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return Log{}, err
	}
	if sess == nil || !sess.IsActive {
		metrics.Checkins.WithLabelValues("no_session").Inc()
		return Log{}, ErrNoActiveSession
	}

	if d := geo.Distance(*at, sess.Anchor); d > sess.RadiusM {
		metrics.Checkins.WithLabelValues("out_of_range").Inc()
		return Log{}, &OutOfRangeError{DistanceM: d, RadiusM: sess.RadiusM}
	}

	if token == "" || token != sess.CurrentToken {
		metrics.Checkins.WithLabelValues("token_mismatch").Inc()
		return Log{}, ErrTokenMismatch
	}

	if exists, err := s.logs.Exists(ctx, sess.ID, profile.UID); err != nil {
		return Log{}, err
	} else if exists {
		metrics.Checkins.WithLabelValues("duplicate").Inc()
		return Log{}, ErrAlreadyRecorded
	}

	rec, err := s.logs.Insert(ctx, Log{
		SessionID:   sess.ID,
		StudentID:   profile.UID,
		StudentName: profile.DisplayName,
		Location:    *at,
		Verified:    true,
	})
	if err != nil {
		metrics.Checkins.WithLabelValues("store_error").Inc()
		logrus.WithError(err).WithFields(logrus.Fields{
			"session_id": sess.ID,
			"student_id": profile.UID,
		}).Error("attendance log write failed")
		return Log{}, ErrSubmitFailed
	}

	metrics.Checkins.WithLabelValues("accepted").Inc()
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, queue.Message{Type: "checkin", Body: []byte(rec.ID)}); err != nil {
			logrus.WithError(err).WithField("log_id", rec.ID).Warn("check-in event publish failed")
		}
	}
	return rec, nil
}

// ListLogs returns a session's attendance logs. Only the owning lecturer
// may read them.
func (s *Service) ListLogs(ctx context.Context, sessionID, lecturerID string) ([]Log, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, session.ErrNotFound
	}
	if sess.LecturerID != lecturerID {
		return nil, session.ErrNotOwner
	}
	return s.logs.ListBySession(ctx, sessionID)
}
