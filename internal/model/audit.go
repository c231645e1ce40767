package model

import (
	"time"
)

// Severity classifies how alarming an audited action is.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Well-known audit actions. Call sites may also log free-form action names;
// these constants exist so the severity and alerting tables stay consistent.
const (
	ActionLogin            = "auth.login"
	ActionLoginFailed      = "auth.login_failed"
	ActionLogout           = "auth.logout"
	ActionTokenRejected    = "auth.token_rejected"
	ActionHMACRejected     = "auth.hmac_rejected"
	ActionRequest          = "http.request"
	ActionWebhookReceived  = "webhook.received"
	ActionFunctionInvoked  = "function.invoked"
	ActionTenantSuspended  = "tenant.suspended"
	ActionExportDownloaded = "audit.export"
)

// Resource names the kind of object an action touched.
const (
	ResourceAuth     = "auth"
	ResourceFunction = "function"
	ResourceWebhook  = "webhook"
	ResourceTenant   = "tenant"
	ResourceAuditLog = "audit_log"
)

// AuditLogEntry 代表一次完整的操作审计记录
type AuditLogEntry struct {
	ID            string                 `json:"id" db:"id"`
	Action        string                 `json:"action" db:"action"`
	Resource      string                 `json:"resource" db:"resource"`
	ResourceID    string                 `json:"resource_id,omitempty" db:"resource_id"`
	Severity      Severity               `json:"severity" db:"severity"`
	Success       bool                   `json:"success" db:"success"`
	Error         string                 `json:"error,omitempty" db:"error"`
	CorrelationID string                 `json:"correlation_id" db:"correlation_id"`

	// Metadata 是开放的键值上下文 (method, path, status code, duration,
	// 脱敏后的请求/响应体等)，入队前必须已脱敏
	Metadata map[string]interface{} `json:"metadata,omitempty" db:"-"`

	// 调用方上下文，在 Log 时从请求上下文合入
	TenantID      string   `json:"tenant_id,omitempty" db:"tenant_id"`
	UserID        string   `json:"user_id,omitempty" db:"user_id"`
	UserEmail     string   `json:"user_email,omitempty" db:"user_email"`
	SessionID     string   `json:"session_id,omitempty" db:"session_id"`
	IPAddress     string   `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent     string   `json:"user_agent,omitempty" db:"user_agent"`
	AllTenantIDs  []string `json:"all_tenant_ids,omitempty" db:"-"`
	IsSuperAdmin  bool     `json:"is_super_admin,omitempty" db:"is_super_admin"`
	IsTenantAdmin bool     `json:"is_tenant_admin,omitempty" db:"is_tenant_admin"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AuditQueryFilters narrows the audit read path. Zero values mean "no filter".
type AuditQueryFilters struct {
	TenantID      string     `json:"tenant_id,omitempty"`
	UserID        string     `json:"user_id,omitempty"`
	Action        string     `json:"action,omitempty"`
	Resource      string     `json:"resource,omitempty"`
	Severity      Severity   `json:"severity,omitempty"`
	Success       *bool      `json:"success,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Search        string     `json:"search,omitempty"`
	From          *time.Time `json:"from,omitempty"`
	To            *time.Time `json:"to,omitempty"`
	OrderBy       string     `json:"order_by,omitempty"`
	Ascending     bool       `json:"ascending,omitempty"`
	Limit         int        `json:"limit,omitempty"`
	Offset        int        `json:"offset,omitempty"`
}

// AuditQueryResult is a page of audit entries plus the total match count.
type AuditQueryResult struct {
	Entries []*AuditLogEntry `json:"entries"`
	Total   int              `json:"total"`
}

// AuditStatistics is the report shape for a tenant's activity window.
type AuditStatistics struct {
	TenantID     string           `json:"tenant_id"`
	From         time.Time        `json:"from"`
	To           time.Time        `json:"to"`
	Total        int              `json:"total"`
	SuccessCount int              `json:"success_count"`
	ErrorCount   int              `json:"error_count"`
	SuccessRate  float64          `json:"success_rate"`
	ByAction     map[string]int   `json:"by_action"`
	ByResource   map[string]int   `json:"by_resource"`
	BySeverity   map[Severity]int `json:"by_severity"`
	TopUsers     []NameCount      `json:"top_users"`
	TopActions   []NameCount      `json:"top_actions"`
	ByHourOfDay  [24]int          `json:"by_hour_of_day"`
	ByDay        map[string]int   `json:"by_day"` // key: YYYY-MM-DD
}

// NameCount is a generic ranked bucket.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ExportFormat selects the materialized shape of exported audit logs.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// DefaultSeverity maps an action to the severity it gets when the caller
// does not set one explicitly.
func DefaultSeverity(action string, success bool) Severity {
	switch action {
	case ActionLoginFailed, ActionTokenRejected, ActionHMACRejected:
		return SeverityWarning
	case ActionTenantSuspended:
		return SeverityCritical
	}
	if !success {
		return SeverityError
	}
	return SeverityInfo
}

// ShouldAlert reports whether an (action, severity) pair warrants an
// out-of-band alert on top of the regular audit record.
func ShouldAlert(action string, severity Severity) bool {
	if severity == SeverityCritical {
		return true
	}
	switch action {
	case ActionHMACRejected, ActionTokenRejected, ActionTenantSuspended:
		return true
	}
	return false
}
