package handler

import (
	"net/http"

	"github.com/edgegate/edgegate/internal/middleware"
	"github.com/edgegate/edgegate/internal/model"
	"github.com/edgegate/edgegate/internal/repository"
	"github.com/edgegate/edgegate/internal/service"
	"github.com/gin-gonic/gin"
)

// AdminHandler exposes the operator surface: tenant management and the audit
// dead-letter queue. Routes are gated by AdminMiddleware.
type AdminHandler struct {
	tm         *service.TenantManager
	auditSvc   *service.AuditService
	deadLetter *repository.RedisDeadLetter
}

func NewAdminHandler(tm *service.TenantManager, auditSvc *service.AuditService, deadLetter *repository.RedisDeadLetter) *AdminHandler {
	return &AdminHandler{tm: tm, auditSvc: auditSvc, deadLetter: deadLetter}
}

// tenantPublic hides the api key from list responses.
type tenantPublic struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	AllowedFunctions []string `json:"allowed_functions,omitempty"`
	Environment      string   `json:"environment"`
	Suspended        bool     `json:"suspended"`
}

func toTenantPublic(t *model.Tenant) tenantPublic {
	return tenantPublic{
		ID:               t.ID,
		Name:             t.Name,
		AllowedFunctions: t.AllowedFunctions,
		Environment:      t.Environment,
		Suspended:        t.Suspended,
	}
}

// ListTenants handles GET /admin/tenants
func (h *AdminHandler) ListTenants(c *gin.Context) {
	tenants := h.tm.ListTenants()
	out := make([]tenantPublic, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, toTenantPublic(t))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": out})
}

// SuspendTenant handles POST /admin/tenants/:id/suspend
func (h *AdminHandler) SuspendTenant(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}
	if !h.tm.Suspend(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
		return
	}
	middleware.SetAuditAction(c, model.ActionTenantSuspended, model.ResourceTenant, id)
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "suspended"})
}

// DeadLetterDepth handles GET /admin/audit/dead-letter
func (h *AdminHandler) DeadLetterDepth(c *gin.Context) {
	if h.deadLetter == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "dead-letter store not configured"})
		return
	}
	depth, err := h.deadLetter.Depth(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "depth": depth})
}

// ReclaimDeadLetter handles POST /admin/audit/dead-letter/reclaim: pulls
// spilled entries back out of redis and re-enqueues them for delivery.
func (h *AdminHandler) ReclaimDeadLetter(c *gin.Context) {
	if h.deadLetter == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "dead-letter store not configured"})
		return
	}
	max := 1000
	entries, err := h.deadLetter.Reclaim(c.Request.Context(), max)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	for _, entry := range entries {
		h.auditSvc.Log(entry)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "reclaimed": len(entries)})
}
