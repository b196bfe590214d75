package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/config"
	"geoattend/internal/httpmiddleware"
	"geoattend/internal/logging"
	"geoattend/internal/queue"
	"geoattend/internal/resource"
	"geoattend/internal/session"
	"geoattend/internal/store"
	"geoattend/internal/user"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogJSON)

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		logrus.WithError(err).Fatal("http server failed")
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logrus.WithError(err).Warn("db not reachable")
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	q := newQueue(cfg, redisClient)

	sessionRepo := session.NewPostgresRepository(db.Client)
	tokenCache := session.NewRedisTokenCache(redisClient.Client)
	broadcaster := session.NewBroadcaster(sessionRepo, tokenCache, cfg.RotateInterval)
	defer broadcaster.Close()

	userRepo := user.NewPostgresRepository(db.Client)
	users := user.NewService(userRepo)

	logRepo := attendance.NewPostgresRepository(db.Client)
	verifier := attendance.NewService(logRepo, sessionRepo, q, cfg.AccuracyWarnM)

	resources := resource.NewService(resource.NewPostgresRepository(db.Client))

	a := &api{
		cfg:         cfg,
		users:       users,
		broadcaster: broadcaster,
		sessions:    sessionRepo,
		verifier:    verifier,
		resources:   resources,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil && db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/register", a.register)

	authed := r.Group("/v1", auth.RequireAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	authed.GET("/profile", a.profile)
	authed.GET("/sessions/active", a.activeSession)
	authed.GET("/resources", a.listResources)
	authed.POST("/elevations", a.requestElevation)

	students := authed.Group("", auth.RequireCapability(user.CapViewAttendance))
	students.POST("/checkins", a.checkin)

	lecturers := authed.Group("", auth.RequireCapability(user.CapBroadcastSession))
	lecturers.POST("/sessions", a.startSession)
	lecturers.POST("/sessions/:id/end", a.endSession)
	lecturers.GET("/sessions", a.mySessions)
	lecturers.GET("/sessions/:id/logs", a.sessionLogs)

	curators := authed.Group("", auth.RequireCapability(user.CapManageResources))
	curators.POST("/resources", a.addResource)

	admins := authed.Group("", auth.RequireCapability(user.CapManageUsers))
	admins.GET("/users", a.listUsers)
	admins.PUT("/users/:uid/courses", a.setCourses)
	admins.GET("/elevations", a.listElevations)
	admins.POST("/elevations/:id/decide", a.decideElevation)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.WithField("port", cfg.HTTPPort).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("server forced shutdown")
	}

	logrus.Info("server exited")
	return nil
}

func newQueue(cfg config.App, redisClient *store.Redis) queue.Queue {
	switch cfg.QueueBackend {
	case "memory":
		return queue.NewInMemory(64)
	case "amqp":
		q, err := queue.NewAMQPQueue(cfg.AMQPURL, "geoattend.checkins")
		if err != nil {
			logrus.WithError(err).Fatal("amqp connect failed")
		}
		return q
	default:
		return queue.NewRedisQueue(redisClient.Client, "geoattend:checkins")
	}
}

// CORS middleware for browser requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
