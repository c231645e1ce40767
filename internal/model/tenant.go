package model

// RateLimitConfig 定义租户的限流规则
type RateLimitConfig struct {
	QPS   float64 `json:"qps"`
	Burst int     `json:"burst"`
}

// Tenant 代表一个接入方 (前端应用, 集成客户)
type Tenant struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	ApiKey           string          `json:"api_key"` // 网关颁发给租户的 Access Key
	AllowedFunctions []string        `json:"allowed_functions,omitempty"`
	Environment      string          `json:"environment"` // production | staging | development
	Rate             RateLimitConfig `json:"rate_limit"`
	Suspended        bool            `json:"suspended"`
}

// AllowsFunction reports whether the tenant may invoke the named edge
// function. An empty whitelist allows everything.
func (t *Tenant) AllowsFunction(name string) bool {
	if len(t.AllowedFunctions) == 0 {
		return true
	}
	for _, fn := range t.AllowedFunctions {
		if fn == name {
			return true
		}
	}
	return false
}

// Role is the closed set of caller roles. Permissions are a fixed record per
// role rather than a runtime-extensible map, so adding an operation type is a
// compile-time change here.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleTenantAdmin Role = "tenant_admin"
	RoleMember      Role = "member"
	RoleService     Role = "service"
)

// Permissions is the immutable capability record attached to a role.
type Permissions struct {
	InvokeFunctions  bool
	ReadAuditLogs    bool
	ExportAuditLogs  bool
	StreamAuditLogs  bool
	CrossTenantReads bool
}

// PermissionsFor returns the capability record for a role. Unknown roles get
// the empty record.
func PermissionsFor(role Role) Permissions {
	switch role {
	case RoleSuperAdmin:
		return Permissions{
			InvokeFunctions:  true,
			ReadAuditLogs:    true,
			ExportAuditLogs:  true,
			StreamAuditLogs:  true,
			CrossTenantReads: true,
		}
	case RoleTenantAdmin:
		return Permissions{
			InvokeFunctions: true,
			ReadAuditLogs:   true,
			ExportAuditLogs: true,
			StreamAuditLogs: true,
		}
	case RoleMember:
		return Permissions{InvokeFunctions: true}
	case RoleService:
		return Permissions{InvokeFunctions: true, ReadAuditLogs: true}
	default:
		return Permissions{}
	}
}

// AuthContext carries the authenticated caller identity through a request and
// into the audit records it produces.
type AuthContext struct {
	TenantID     string   `json:"tenant_id"`
	UserID       string   `json:"user_id,omitempty"`
	UserEmail    string   `json:"user_email,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	AllTenantIDs []string `json:"all_tenant_ids,omitempty"`
	Role         Role     `json:"role"`
	Token        string   `json:"-"` // raw bearer token, forwarded to the backend read paths
}

// Can reports whether the caller's role grants the given check.
func (a *AuthContext) Can(check func(Permissions) bool) bool {
	if a == nil {
		return false
	}
	return check(PermissionsFor(a.Role))
}

// IsSuperAdmin is a convenience accessor used when stamping audit entries.
func (a *AuthContext) IsSuperAdmin() bool {
	return a != nil && a.Role == RoleSuperAdmin
}

// IsTenantAdmin is a convenience accessor used when stamping audit entries.
func (a *AuthContext) IsTenantAdmin() bool {
	return a != nil && a.Role == RoleTenantAdmin
}
