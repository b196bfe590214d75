package main

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/config"
	"geoattend/internal/geo"
	"geoattend/internal/resource"
	"geoattend/internal/session"
	"geoattend/internal/user"
)

type api struct {
	cfg         config.App
	users       *user.Service
	broadcaster *session.Broadcaster
	sessions    session.Repository
	verifier    *attendance.Service
	resources   *resource.Service
}

// register upserts the caller's profile and issues a JWT pair carrying the
// stored role. Identity proof itself is delegated to the fronting identity
// provider; this endpoint trusts its (uid, email, display_name) triple.
func (a *api) register(c *gin.Context) {
	var req struct {
		UID         string `json:"uid" binding:"required"`
		Email       string `json:"email" binding:"required,email"`
		DisplayName string `json:"display_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile, created, err := a.users.EnsureProfile(c.Request.Context(), req.UID, req.Email, req.DisplayName)
	if err != nil {
		logrus.WithError(err).Error("profile registration failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	tokens, err := auth.Issue(profile.UID, string(profile.Role), a.cfg.JWTIssuer, a.cfg.JWTSigningKey, a.cfg.AccessTTL, a.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
		"profile":       profile,
	})
}

func (a *api) profile(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	profile, err := a.users.Profile(c.Request.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, user.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile lookup failed"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// startSession opens a lecture session anchored at the lecturer's current
// device coordinate. Without a usable location the request is rejected; no
// retry is attempted server-side.
func (a *api) startSession(c *gin.Context) {
	var req struct {
		CourseID string   `json:"course_id" binding:"required"`
		Lat      *float64 `json:"lat"`
		Lng      *float64 `json:"lng"`
		RadiusM  float64  `json:"radius_m"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Lat == nil || req.Lng == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device location is required to start a session"})
		return
	}

	claims, _ := auth.ClaimsFrom(c)
	sess, err := a.broadcaster.Start(c.Request.Context(), claims.Subject, req.CourseID,
		geo.Coordinate{Lat: *req.Lat, Lng: *req.Lng}, req.RadiusM)
	if err != nil {
		if errors.Is(err, session.ErrBadRadius) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logrus.WithError(err).Error("session start failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start session"})
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (a *api) endSession(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	err := a.broadcaster.End(c.Request.Context(), c.Param("id"), claims.Subject)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ended"})
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, session.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, session.ErrNotActive):
		c.JSON(http.StatusConflict, gin.H{"error": "session already ended"})
	default:
		logrus.WithError(err).Error("session end failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not end session"})
	}
}

func (a *api) mySessions(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	limit := 50
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	sessions, err := a.sessions.ListByLecturer(c.Request.Context(), claims.Subject, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// activeSession resolves the session the caller would check into. The
// current token is only revealed to the owning lecturer. When the caller
// supplies its coordinate the response includes the measured distance so
// the client can gate its submit control; the check is re-run on
// submission regardless.
func (a *api) activeSession(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	profile, err := a.users.Profile(c.Request.Context(), claims.Subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile lookup failed"})
		return
	}

	sess, err := a.verifier.ActiveSessionFor(c.Request.Context(), profile)
	if err != nil {
		if errors.Is(err, attendance.ErrNoActiveSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active lecture right now", "hint": "refresh to check again"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
		return
	}

	out := *sess
	if out.LecturerID != claims.Subject {
		out.CurrentToken = ""
	}

	resp := gin.H{"session": out}
	if lat, lng, ok := coordinateQuery(c); ok {
		at := geo.Coordinate{Lat: lat, Lng: lng}
		d := a.verifier.Distance(at, *sess)
		resp["distance_m"] = math.Round(d)
		resp["in_range"] = d <= sess.RadiusM
	}
	if acc, err := strconv.ParseFloat(c.Query("accuracy_m"), 64); err == nil {
		if warning := a.verifier.AccuracyWarning(acc); warning != "" {
			resp["warning"] = warning
		}
	}
	c.JSON(http.StatusOK, resp)
}

// checkin verifies a student's token against their proximity to the session
// anchor and records the attendance log. Rejections leave the attempt
// retryable.
func (a *api) checkin(c *gin.Context) {
	var req struct {
		SessionID string   `json:"session_id"`
		Lat       *float64 `json:"lat"`
		Lng       *float64 `json:"lng"`
		AccuracyM float64  `json:"accuracy_m"`
		Token     string   `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	claims, _ := auth.ClaimsFrom(c)
	profile, err := a.users.Profile(ctx, claims.Subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile lookup failed"})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sess, err := a.verifier.ActiveSessionFor(ctx, profile)
		if err != nil {
			if errors.Is(err, attendance.ErrNoActiveSession) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no active lecture right now"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
			return
		}
		sessionID = sess.ID
	}

	var at *geo.Coordinate
	if req.Lat != nil && req.Lng != nil {
		at = &geo.Coordinate{Lat: *req.Lat, Lng: *req.Lng}
	}

	rec, err := a.verifier.Submit(ctx, profile, sessionID, at, req.Token)
	if err != nil {
		a.rejectCheckin(c, err)
		return
	}

	resp := gin.H{"log": rec}
	if req.AccuracyM > 0 {
		if warning := a.verifier.AccuracyWarning(req.AccuracyM); warning != "" {
			resp["warning"] = warning
		}
	}
	c.JSON(http.StatusCreated, resp)
}

func (a *api) rejectCheckin(c *gin.Context, err error) {
	var oor *attendance.OutOfRangeError
	switch {
	case errors.Is(err, attendance.ErrLocationRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrNoActiveSession):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &oor):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      oor.Error(),
			"distance_m": math.Round(oor.DistanceM),
			"radius_m":   oor.RadiusM,
		})
	case errors.Is(err, attendance.ErrTokenMismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrAlreadyRecorded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": attendance.ErrSubmitFailed.Error()})
	}
}

func (a *api) sessionLogs(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	logs, err := a.verifier.ListLogs(c.Request.Context(), c.Param("id"), claims.Subject)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"logs": logs})
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, session.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "log list failed"})
	}
}

func (a *api) listResources(c *gin.Context) {
	courseID := c.Query("course_id")
	links, err := a.resources.List(c.Request.Context(), courseID)
	if err != nil {
		if errors.Is(err, resource.ErrCourseRequired) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "course_id query parameter required"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resource list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resources": links})
}

func (a *api) addResource(c *gin.Context) {
	var req struct {
		CourseID string `json:"course_id" binding:"required"`
		Title    string `json:"title" binding:"required"`
		URL      string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, _ := auth.ClaimsFrom(c)
	link, err := a.resources.Add(c.Request.Context(), req.CourseID, req.Title, req.URL, claims.Subject)
	if err != nil {
		switch {
		case errors.Is(err, resource.ErrCourseRequired),
			errors.Is(err, resource.ErrTitleRequired),
			errors.Is(err, resource.ErrInvalidURL):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "resource save failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, link)
}

func (a *api) listUsers(c *gin.Context) {
	profiles, err := a.users.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": profiles})
}

func (a *api) setCourses(c *gin.Context) {
	var req struct {
		Courses []string `json:"courses" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := a.users.SetCourses(c.Request.Context(), c.Param("uid"), req.Courses)
	if err != nil {
		if errors.Is(err, user.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "course update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (a *api) requestElevation(c *gin.Context) {
	var req struct {
		RequestedRole string `json:"requested_role" binding:"required"`
		Reason        string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, _ := auth.ClaimsFrom(c)
	elevation, err := a.users.RequestElevation(c.Request.Context(), claims.Subject, user.Role(req.RequestedRole), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrInvalidRole):
			c.JSON(http.StatusBadRequest, gin.H{"error": "requested role is not grantable"})
		case errors.Is(err, user.ErrProfileNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "elevation request failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, elevation)
}

func (a *api) listElevations(c *gin.Context) {
	elevations, err := a.users.ListElevations(c.Request.Context(), user.ElevationStatus(c.Query("status")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "elevation list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"elevations": elevations})
}

func (a *api) decideElevation(c *gin.Context) {
	var req struct {
		Approve *bool `json:"approve" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, _ := auth.ClaimsFrom(c)
	elevation, err := a.users.DecideElevation(c.Request.Context(), c.Param("id"), claims.Subject, *req.Approve)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		case errors.Is(err, user.ErrElevationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "elevation request not found"})
		case errors.Is(err, user.ErrElevationDecided), errors.Is(err, user.ErrSelfDecision):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "elevation decision failed"})
		}
		return
	}
	c.JSON(http.StatusOK, elevation)
}

func coordinateQuery(c *gin.Context) (lat, lng float64, ok bool) {
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
	return lat, lng, latErr == nil && lngErr == nil
}
