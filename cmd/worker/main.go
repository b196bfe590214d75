package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"geoattend/internal/attendance"
	"geoattend/internal/config"
	"geoattend/internal/logging"
	"geoattend/internal/metrics"
	"geoattend/internal/queue"
	"geoattend/internal/session"
	"geoattend/internal/store"
)

// Worker consumes check-in events and maintains per-course daily attendance
// counters in Redis for dashboards.
func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogJSON)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logrus.WithError(err).Fatal("db connect failed")
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	switch cfg.QueueBackend {
	case "memory":
		q = queue.NewInMemory(64)
	case "amqp":
		amqpQueue, err := queue.NewAMQPQueue(cfg.AMQPURL, "geoattend.checkins")
		if err != nil {
			logrus.WithError(err).Fatal("amqp connect failed")
		}
		defer amqpQueue.Close()
		q = amqpQueue
	default:
		q = queue.NewRedisQueue(redisClient.Client, "geoattend:checkins")
	}

	logs := attendance.NewPostgresRepository(db.Client)
	sessions := session.NewPostgresRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("queue consume init failed")
	}

	logrus.Info("worker started, waiting for check-in events")
	for msg := range messages {
		if msg.Type != "checkin" {
			continue
		}

		id := string(msg.Body)
		log := logrus.WithField("log_id", id)

		rec, err := logs.Get(ctx, id)
		if err != nil {
			log.WithError(err).Error("fetch attendance log failed")
			metrics.CheckinsProcessed.WithLabelValues("fetch_error").Inc()
			continue
		}
		if rec == nil {
			log.Warn("attendance log not found, skipping")
			metrics.CheckinsProcessed.WithLabelValues("missing").Inc()
			continue
		}

		sess, err := sessions.Get(ctx, rec.SessionID)
		if err != nil || sess == nil {
			log.WithError(err).Error("fetch session failed")
			metrics.CheckinsProcessed.WithLabelValues("fetch_error").Inc()
			continue
		}

		day := rec.Timestamp.UTC().Format(time.DateOnly)
		key := fmt.Sprintf("attendance:daily:%s:%s", sess.CourseID, day)
		if err := redisClient.Client.Incr(ctx, key).Err(); err != nil {
			log.WithError(err).Warn("daily counter update failed")
			metrics.CheckinsProcessed.WithLabelValues("counter_error").Inc()
			continue
		}
		// Counters are only useful for the current term.
		_ = redisClient.Client.Expire(ctx, key, 180*24*time.Hour).Err()

		metrics.CheckinsProcessed.WithLabelValues("ok").Inc()
		log.WithFields(logrus.Fields{
			"course_id":  sess.CourseID,
			"session_id": sess.ID,
		}).Info("check-in processed")
	}

	logrus.Info("worker stopped")
}
