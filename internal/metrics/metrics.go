package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts lecture sessions opened by lecturers.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geoattend_sessions_started_total",
		Help: "Number of lecture sessions started.",
	})

	// SessionsEnded counts lecture sessions explicitly closed.
	SessionsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geoattend_sessions_ended_total",
		Help: "Number of lecture sessions ended.",
	})

	// TokenRotations counts successful verification-token rotations.
	TokenRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geoattend_token_rotations_total",
		Help: "Number of verification token rotations persisted.",
	})

	// TokenRotationFailures counts rotation writes that did not persist.
	TokenRotationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geoattend_token_rotation_failures_total",
		Help: "Number of verification token rotation writes that failed.",
	})

	// CheckinsProcessed counts check-in events handled by the worker.
	CheckinsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoattend_worker_checkins_processed_total",
		Help: "Number of check-in events processed by the worker by outcome.",
	}, []string{"outcome"})

	// Checkins counts check-in submissions by outcome.
	Checkins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoattend_checkins_total",
		Help: "Number of attendance check-in submissions by result.",
	}, []string{"result"})
)
