package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"techentry-bot/internal/audit"
	"techentry-bot/internal/auth"
	"techentry-bot/internal/outbound"
	"techentry-bot/internal/rbac"
	"techentry-bot/internal/reporting"
	"techentry-bot/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Sweeps is the part of the outbound scheduler the ops endpoints trigger.
type Sweeps interface {
	DispatchInitial(ctx context.Context, limit int) (outbound.Result, error)
	FollowupSweep(ctx context.Context) (outbound.Result, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Sweeps    Sweeps
	Reporting *reporting.Service
	Audit     *audit.Service
	Location  *time.Location
	Clock     func() time.Time
}

func (h Handlers) now() time.Time {
	now := time.Now()
	if h.Clock != nil {
		now = h.Clock()
	}
	if h.Location != nil {
		now = now.In(h.Location)
	}
	return now
}

// Health reports liveness and the server time in the configured zone.
func (h Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "ts": h.now().Format(time.RFC3339)})
}

// --- Auth ---

type issueTokenRequest struct {
	OperatorID string `json:"operator_id"`
	Role       string `json:"role"`
	TTL        string `json:"ttl,omitempty"`
}

// IssueToken signs an ops token for another operator.
// RBAC: admin.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.OperatorID == "" || !rbac.IsKnown(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "operator_id and a known role required"})
		return
	}
	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "ttl must be a positive duration"})
			return
		}
		ttl = d
	}
	tok, err := h.Auth.Issue(time.Now(), req.OperatorID, req.Role, ttl)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	issuer, _ := auth.OperatorID(c.Request.Context())
	logger.FromGin(c).Info("ops token issued", "operator_id", req.OperatorID, "role", req.Role, "issued_by", issuer)
	if h.Audit != nil {
		issuerRole, _ := auth.Role(c.Request.Context())
		if err := h.Audit.LogTokenIssued(c.Request.Context(), issuer, issuerRole, c.ClientIP(), req.OperatorID, req.Role); err != nil {
			logger.FromGin(c).Warn("audit append failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// --- Sweeps ---

type sendPendingRequest struct {
	Limit int `json:"limit"`
}

// SendPending runs the initial dispatch sweep.
func (h Handlers) SendPending(c *gin.Context) {
	if h.Sweeps == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "scheduler not configured"})
		return
	}
	// An empty body means the default limit.
	var req sendPendingRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	res, err := h.Sweeps.DispatchInitial(c.Request.Context(), req.Limit)
	if err != nil {
		writeSweepError(c, err)
		return
	}
	h.auditSweep(c, "dispatch", res)
	c.JSON(http.StatusOK, gin.H{
		"sent":      res.Records,
		"messages":  res.Messages,
		"failed":    res.Failed,
		"escalated": res.Escalated,
		"errors":    res.Errors,
	})
}

// FollowupSweep runs the follow-up sweep.
func (h Handlers) FollowupSweep(c *gin.Context) {
	if h.Sweeps == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "scheduler not configured"})
		return
	}
	res, err := h.Sweeps.FollowupSweep(c.Request.Context())
	if err != nil {
		writeSweepError(c, err)
		return
	}
	h.auditSweep(c, "followup", res)
	c.JSON(http.StatusOK, gin.H{
		"followups_sent": res.Records,
		"messages":       res.Messages,
		"failed":         res.Failed,
		"escalated":      res.Escalated,
		"errors":         res.Errors,
	})
}

// auditSweep records who triggered a sweep. Failures are only logged.
func (h Handlers) auditSweep(c *gin.Context, sweep string, res outbound.Result) {
	if h.Audit == nil {
		return
	}
	ctx := c.Request.Context()
	actor, _ := auth.OperatorID(ctx)
	role, _ := auth.Role(ctx)
	if err := h.Audit.LogSweep(ctx, actor, role, c.ClientIP(), sweep, res); err != nil {
		logger.FromGin(c).Warn("audit append failed", "sweep", sweep, "err", err)
	}
}

func writeSweepError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, outbound.ErrWindowClosed):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "window_closed"})
	case errors.Is(err, outbound.ErrSweepInProgress):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "sweep_in_progress"})
	case errors.Is(err, outbound.ErrInvalidLimit):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.FromGin(c).Error("sweep failed", "err", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
	}
}

// --- Reporting ---

// Summary returns ops counters. Optional from/to query params are RFC3339.
func (h Handlers) Summary(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	var req reporting.SummaryRequest
	for key, dst := range map[string]*time.Time{"from": &req.Range.From, "to": &req.Range.To} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": key + " must be RFC3339"})
			return
		}
		*dst = t
	}

	out, err := h.Reporting.Summary(c.Request.Context(), req)
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// Convenience middleware bundles.

// RequireOpsRole authenticates the bearer token and checks the role.
func RequireOpsRole(m *auth.Manager, roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{auth.RequireAccessToken(m), rbac.RequireAnyRole(roles...)}
}
