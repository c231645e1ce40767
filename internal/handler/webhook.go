package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/edgegate/edgegate/internal/middleware"
	"github.com/edgegate/edgegate/internal/model"
	"github.com/edgegate/edgegate/internal/pkg/apperrors"
	"github.com/edgegate/edgegate/internal/signer"
	"github.com/gin-gonic/gin"
)

// WebhookHandler receives signed callbacks from upstream systems. The HMAC
// middleware has already rejected anything with a bad signature by the time
// this runs.
type WebhookHandler struct{}

func NewWebhookHandler() *WebhookHandler {
	return &WebhookHandler{}
}

// Receive handles POST /v1/webhooks/:source
func (h *WebhookHandler) Receive(c *gin.Context) {
	source := c.Param("source")
	if source == "" {
		c.Error(apperrors.NewInvalidRequest("webhook source required"))
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Error(apperrors.NewInvalidRequest("unreadable webhook body"))
		return
	}

	middleware.SetAuditAction(c, model.ActionWebhookReceived, model.ResourceWebhook, source)
	middleware.AddAuditMetadata(c, "source", source)
	middleware.AddAuditMetadata(c, "payload_bytes", len(body))

	// 记录事件类型 (如果有)
	var payload struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Type != "" {
		middleware.AddAuditMetadata(c, "event_type", payload.Type)
	}

	if res, ok := c.Get(middleware.ContextHMACResult); ok {
		if vr, ok := res.(signer.Result); ok && vr.Bypassed {
			middleware.AddAuditMetadata(c, "signature_bypassed", true)
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":     true,
		"received_at": time.Now().UTC().Format(time.RFC3339),
	})
}
