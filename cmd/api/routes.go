package main

import (
	"techentry-bot/internal/app"
	"techentry-bot/internal/httpapi"
	"techentry-bot/internal/messaging"
	"techentry-bot/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app.App) {
	h := httpapi.Handlers{
		Auth:      a.Auth,
		Sweeps:    a.Scheduler,
		Reporting: a.Reporting,
		Audit:     a.Audit,
		Location:  a.Location,
	}

	// public
	r.GET("/healthz", h.Health)

	// Provider webhook. An empty auth token rejects every call.
	webhook := messaging.WebhookHandler{Processor: a.Engine}
	r.POST("/twilio/webhook", messaging.RequireSignature(a.Config.Twilio.AuthToken, a.Config.Twilio.PublicWebhookURL), webhook.Handle)

	v1 := r.Group("/v1")

	// OPS routes
	ops := v1.Group("/ops")
	ops.Use(httpapi.RequireOpsRole(a.Auth, rbac.RoleOperator)...)
	{
		ops.POST("/send-pending", h.SendPending)
		ops.POST("/followup-sweep", h.FollowupSweep)
	}

	// Read-only reporting is open to viewers too.
	reports := v1.Group("/ops")
	reports.Use(httpapi.RequireOpsRole(a.Auth, rbac.RoleOperator, rbac.RoleViewer)...)
	reports.GET("/summary", h.Summary)

	// ADMIN routes
	admin := v1.Group("/auth")
	admin.Use(httpapi.RequireOpsRole(a.Auth, rbac.RoleAdmin)...)
	admin.POST("/token", h.IssueToken)
}
