package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/edgegate/edgegate/internal/model"
	"github.com/edgegate/edgegate/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mssola/useragent"
)

const (
	ContextAuditEntry   = "audit_entry"
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID"
)

// bodyLogWriter 包装 ResponseWriter 以捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// AuditMiddleware records every request as an audit entry: caller identity
// from the auth context, sanitized request/response bodies, latency, status.
// The enqueue at the end is synchronous but in-memory only, so audit never
// adds network latency to the response.
func AuditMiddleware(auditSvc *service.AuditService, maxBodyCapture int) gin.HandlerFunc {
	if maxBodyCapture <= 0 {
		maxBodyCapture = 16384
	}
	return func(c *gin.Context) {
		start := time.Now()
		reqID := uuid.New().String()
		c.Header(HeaderRequestID, reqID)

		// callers stitching a multi-step operation pass their own id; echo
		// whichever one this request ends up grouped under
		correlationID := c.GetHeader(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Header(HeaderCorrelationID, correlationID)

		// 读取请求体 (并写回以便后续 Bind 使用)
		var reqBodyBytes []byte
		if c.Request.Body != nil {
			reqBodyBytes, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(reqBodyBytes))
		}

		entry := &model.AuditLogEntry{
			ID:            reqID,
			Action:        model.ActionRequest,
			CorrelationID: correlationID,
			IPAddress:     c.ClientIP(),
			UserAgent:     c.Request.UserAgent(),
			CreatedAt:     start.UTC(),
			Metadata:      map[string]interface{}{},
		}
		// 业务层可以往 Metadata 里塞额外信息
		c.Set(ContextAuditEntry, entry)

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		if auth := AuthFrom(c); auth != nil {
			entry.TenantID = auth.TenantID
			entry.UserID = auth.UserID
			entry.UserEmail = auth.UserEmail
			entry.SessionID = auth.SessionID
			entry.AllTenantIDs = auth.AllTenantIDs
			entry.IsSuperAdmin = auth.IsSuperAdmin()
			entry.IsTenantAdmin = auth.IsTenantAdmin()
		}

		status := c.Writer.Status()
		entry.Success = status < http.StatusBadRequest
		if !entry.Success && len(c.Errors) > 0 {
			entry.Error = c.Errors.Last().Error()
		}
		if entry.Resource == "" {
			entry.Resource = resourceForPath(c.FullPath())
		}

		sanitizer := auditSvc.Sanitizer()
		entry.Metadata["method"] = c.Request.Method
		entry.Metadata["path"] = c.Request.URL.Path
		entry.Metadata["status_code"] = status
		entry.Metadata["duration_ms"] = time.Since(start).Milliseconds()
		if len(reqBodyBytes) > 0 {
			entry.Metadata["request_body"] = sanitizer.Body(capped(reqBodyBytes, maxBodyCapture))
		}
		if blw.body.Len() > 0 {
			entry.Metadata["response_body"] = sanitizer.Body(capped(blw.body.Bytes(), maxBodyCapture))
		}
		if ua := c.Request.UserAgent(); ua != "" {
			parsed := useragent.New(ua)
			name, version := parsed.Browser()
			entry.Metadata["client_os"] = parsed.OS()
			entry.Metadata["client_browser"] = name + " " + version
			entry.Metadata["client_is_bot"] = parsed.Bot()
		}

		auditSvc.Log(entry)
	}
}

// AddAuditMetadata 辅助函数：允许 Handler 向当前请求的审计日志添加业务上下文
func AddAuditMetadata(c *gin.Context, key string, value interface{}) {
	if val, exists := c.Get(ContextAuditEntry); exists {
		if entry, ok := val.(*model.AuditLogEntry); ok {
			entry.Metadata[key] = value
		}
	}
}

// SetAuditAction overrides the generic http.request action for handlers that
// know what operation they audited.
func SetAuditAction(c *gin.Context, action, resource, resourceID string) {
	if val, exists := c.Get(ContextAuditEntry); exists {
		if entry, ok := val.(*model.AuditLogEntry); ok {
			entry.Action = action
			entry.Resource = resource
			entry.ResourceID = resourceID
		}
	}
}

func resourceForPath(fullPath string) string {
	switch {
	case strings.HasPrefix(fullPath, "/v1/functions"):
		return model.ResourceFunction
	case strings.HasPrefix(fullPath, "/v1/webhooks"):
		return model.ResourceWebhook
	case strings.HasPrefix(fullPath, "/v1/audit"):
		return model.ResourceAuditLog
	default:
		return ""
	}
}

func capped(b []byte, max int) []byte {
	if len(b) <= max {
		return b
	}
	return b[:max]
}
