package messaging

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"techentry-bot/pkg/logger"
)

// InboundProcessor runs the workflow for one webhook delivery.
type InboundProcessor interface {
	HandleInbound(ctx context.Context, form InboundForm) error
	HandleStatusCallback(ctx context.Context, form InboundForm) error
}

// WebhookHandler converts the Twilio webhook to internal types,
// delegates to the workflow, and writes TwiML.
//
// No business logic here. Signature checks run in RequireSignature before
// this handler. Processing failures are logged and still acknowledged so the
// provider does not retry a message the workflow already saw.
type WebhookHandler struct {
	Processor InboundProcessor
}

func (h WebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Processor == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "workflow not configured"})
		return
	}

	form, err := ParseInboundForm(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		writeAck(c)
		return
	}

	ctx := logger.With(c.Request.Context(), log.With("message_sid", form.MessageSID))
	if form.IsStatusCallback() {
		if err := h.Processor.HandleStatusCallback(ctx, form); err != nil {
			log.Error("status callback failed", "message_sid", form.MessageSID, "status", form.MessageStatus, "err", err)
		}
	} else if err := h.Processor.HandleInbound(ctx, form); err != nil {
		log.Error("inbound message failed", "message_sid", form.MessageSID, "err", err)
	}
	writeAck(c)
}

func writeAck(c *gin.Context) {
	twiml, err := RenderTwiML()
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
