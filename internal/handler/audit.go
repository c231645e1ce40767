package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/edgegate/edgegate/internal/middleware"
	"github.com/edgegate/edgegate/internal/model"
	"github.com/edgegate/edgegate/internal/pkg/apperrors"
	"github.com/edgegate/edgegate/internal/service"
	"github.com/edgegate/edgegate/internal/stream"
	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	svc *service.AuditService
	hub *stream.Hub
}

func NewAuditHandler(svc *service.AuditService, hub *stream.Hub) *AuditHandler {
	return &AuditHandler{svc: svc, hub: hub}
}

// List 查询审计日志 (GET /v1/audit)
func (h *AuditHandler) List(c *gin.Context) {
	auth := middleware.AuthFrom(c)
	if !auth.Can(func(p model.Permissions) bool { return p.ReadAuditLogs }) {
		c.Error(apperrors.New(apperrors.ErrForbidden, "role may not read audit logs", nil))
		return
	}

	filters, err := filtersFromQuery(c)
	if err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	scopeFilters(&filters, auth)

	result, err := h.svc.Query(c.Request.Context(), filters, auth.Token)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result.Entries,
		"total":   result.Total,
		"limit":   filters.Limit,
		"offset":  filters.Offset,
	})
}

// Stats 聚合统计 (GET /v1/audit/stats)
func (h *AuditHandler) Stats(c *gin.Context) {
	auth := middleware.AuthFrom(c)
	if !auth.Can(func(p model.Permissions) bool { return p.ReadAuditLogs }) {
		c.Error(apperrors.New(apperrors.ErrForbidden, "role may not read audit logs", nil))
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -7)
	if raw := c.Query("from"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			c.Error(apperrors.NewInvalidRequest(err.Error()))
			return
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			c.Error(apperrors.NewInvalidRequest(err.Error()))
			return
		}
		to = t
	}

	tenantID := c.Query("tenant_id")
	if !auth.Can(func(p model.Permissions) bool { return p.CrossTenantReads }) || tenantID == "" {
		tenantID = auth.TenantID
	}

	stats, err := h.svc.Statistics(c.Request.Context(), tenantID, from, to, auth.Token)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
}

// Export 导出 (GET /v1/audit/export?format=csv|json)
func (h *AuditHandler) Export(c *gin.Context) {
	auth := middleware.AuthFrom(c)
	if !auth.Can(func(p model.Permissions) bool { return p.ExportAuditLogs }) {
		c.Error(apperrors.New(apperrors.ErrForbidden, "role may not export audit logs", nil))
		return
	}

	format := model.ExportFormat(c.DefaultQuery("format", string(model.ExportJSON)))
	filters, err := filtersFromQuery(c)
	if err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	scopeFilters(&filters, auth)

	data, contentType, err := h.svc.Export(c.Request.Context(), filters, format, auth.Token)
	if err != nil {
		c.Error(err)
		return
	}

	middleware.SetAuditAction(c, model.ActionExportDownloaded, model.ResourceAuditLog, string(format))
	filename := fmt.Sprintf("audit-export-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, data)
}

// Stream upgrades to a websocket feed of live audit entries
// (GET /v1/audit/stream).
func (h *AuditHandler) Stream(c *gin.Context) {
	auth := middleware.AuthFrom(c)
	if !auth.Can(func(p model.Permissions) bool { return p.StreamAuditLogs }) {
		c.Error(apperrors.New(apperrors.ErrForbidden, "role may not stream audit logs", nil))
		return
	}

	tenantScope := auth.TenantID
	if auth.Can(func(p model.Permissions) bool { return p.CrossTenantReads }) {
		tenantScope = ""
	}
	if err := h.hub.Serve(c.Writer, c.Request, tenantScope); err != nil {
		c.Error(apperrors.New(apperrors.ErrInvalidRequest, "websocket upgrade failed: "+err.Error(), err))
		return
	}
	// hijacked connection, no further writes through gin
	c.Abort()
}

// scopeFilters pins non-privileged callers to their own tenant.
func scopeFilters(filters *model.AuditQueryFilters, auth *model.AuthContext) {
	if auth.Can(func(p model.Permissions) bool { return p.CrossTenantReads }) {
		return
	}
	filters.TenantID = auth.TenantID
}

func filtersFromQuery(c *gin.Context) (model.AuditQueryFilters, error) {
	filters := model.AuditQueryFilters{
		TenantID:      c.Query("tenant_id"),
		UserID:        c.Query("user_id"),
		Action:        c.Query("action"),
		Resource:      c.Query("resource"),
		Severity:      model.Severity(c.Query("severity")),
		CorrelationID: c.Query("correlation_id"),
		Search:        c.Query("search"),
		OrderBy:       c.Query("order_by"),
		Ascending:     c.Query("order") == "asc",
	}

	if raw := c.Query("success"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return filters, fmt.Errorf("invalid success value %q", raw)
		}
		filters.Success = &parsed
	}
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return filters, fmt.Errorf("invalid limit %q", raw)
		}
		filters.Limit = parsed
	}
	if raw := c.Query("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return filters, fmt.Errorf("invalid offset %q", raw)
		}
		filters.Offset = parsed
	}
	if raw := c.Query("from"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return filters, err
		}
		filters.From = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return filters, err
		}
		filters.To = &t
	}
	return filters, nil
}

// parseTime 支持 RFC3339 和 unix 秒两种写法
func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time format")
}
