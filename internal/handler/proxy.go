package handler

import (
	"io"

	"github.com/edgegate/edgegate/internal/middleware"
	"github.com/edgegate/edgegate/internal/model"
	"github.com/edgegate/edgegate/internal/pkg/apperrors"
	"github.com/edgegate/edgegate/internal/repository"
	"github.com/gin-gonic/gin"
)

// ProxyHandler forwards tenant requests to edge functions, signing each
// outbound call. The upstream response passes back verbatim.
type ProxyHandler struct {
	edge *repository.EdgeClient
}

func NewProxyHandler(edge *repository.EdgeClient) *ProxyHandler {
	return &ProxyHandler{edge: edge}
}

// Invoke handles ANY /v1/functions/:name
func (h *ProxyHandler) Invoke(c *gin.Context) {
	if h.edge == nil {
		c.Error(apperrors.New(apperrors.ErrUpstream, "edge backend not configured", nil))
		return
	}

	name := c.Param("name")
	if name == "" {
		c.Error(apperrors.NewInvalidRequest("function name required"))
		return
	}

	tenant := middleware.TenantFrom(c)
	if tenant == nil {
		c.Error(apperrors.New(apperrors.ErrAuthFailed, "Authentication failed", nil))
		return
	}
	// 白名单检查
	if !tenant.AllowsFunction(name) {
		c.Error(apperrors.New(apperrors.ErrForbidden, "tenant may not invoke function "+name, nil))
		return
	}

	auth := middleware.AuthFrom(c)
	if !auth.Can(func(p model.Permissions) bool { return p.InvokeFunctions }) {
		c.Error(apperrors.New(apperrors.ErrForbidden, "role may not invoke functions", nil))
		return
	}

	var body []byte
	if c.Request.Body != nil {
		var err error
		body, err = io.ReadAll(c.Request.Body)
		if err != nil {
			c.Error(apperrors.NewInvalidRequest("unreadable request body"))
			return
		}
	}

	middleware.SetAuditAction(c, model.ActionFunctionInvoked, model.ResourceFunction, name)

	status, respBody, err := h.edge.Invoke(c.Request.Context(), name, c.Request.Method,
		c.Request.URL.Query(), body, auth.Token)
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrUpstream, "edge function call failed: "+err.Error(), err))
		return
	}

	middleware.AddAuditMetadata(c, "function", name)
	middleware.AddAuditMetadata(c, "upstream_status", status)
	c.Data(status, "application/json", respBody)
}
