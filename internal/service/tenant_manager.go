package service

import (
	"sync"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/model"
	"golang.org/x/time/rate"
)

// TenantManager 管理租户信息以及每个租户的限流器
type TenantManager struct {
	mu            sync.RWMutex
	tenants       map[string]*model.Tenant // Key: Gateway ApiKey
	limiters      map[string]*rate.Limiter // Key: TenantID
	defaultTenant *model.Tenant
}

const (
	defaultQPS   = 10
	defaultBurst = 20
)

func NewTenantManager(cfg *config.Config) *TenantManager {
	tm := &TenantManager{
		tenants:  make(map[string]*model.Tenant),
		limiters: make(map[string]*rate.Limiter),
	}

	for _, tenantCfg := range cfg.Tenants {
		qps := tenantCfg.QPS
		if qps <= 0 {
			qps = defaultQPS
		}
		burst := tenantCfg.Burst
		if burst <= 0 {
			burst = defaultBurst
		}
		tm.RegisterTenant(&model.Tenant{
			ID:               tenantCfg.ID,
			Name:             tenantCfg.Name,
			ApiKey:           tenantCfg.APIKey,
			AllowedFunctions: tenantCfg.AllowedFunctions,
			Environment:      tenantCfg.Environment,
			Rate:             model.RateLimitConfig{QPS: qps, Burst: burst},
		})
	}

	// 单租户兼容模式：没有租户配置时用认证配置里的 API Key 构造默认租户
	if len(cfg.Tenants) == 0 && cfg.Auth.APIKey != "" {
		tenant := &model.Tenant{
			ID:          "default-tenant",
			Name:        "Default Tenant",
			ApiKey:      cfg.Auth.APIKey,
			Environment: cfg.Server.Mode,
			Rate:        model.RateLimitConfig{QPS: defaultQPS, Burst: defaultBurst},
		}
		tm.RegisterTenant(tenant)
		tm.defaultTenant = tenant
	}

	// 开发模式：完全没有租户也没有 key, 放一个匿名默认租户进去
	if len(tm.tenants) == 0 && !cfg.Auth.RequireAPIKey {
		tenant := &model.Tenant{
			ID:          "anonymous",
			Name:        "Anonymous",
			Environment: cfg.Server.Mode,
			Rate:        model.RateLimitConfig{QPS: defaultQPS, Burst: defaultBurst},
		}
		tm.RegisterTenant(tenant)
		tm.defaultTenant = tenant
	}

	return tm
}

func (tm *TenantManager) RegisterTenant(t *model.Tenant) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.tenants[t.ApiKey] = t
	tm.limiters[t.ID] = rate.NewLimiter(rate.Limit(t.Rate.QPS), t.Rate.Burst)
}

// GetTenantByApiKey resolves the tenant that owns a gateway API key.
func (tm *TenantManager) GetTenantByApiKey(apiKey string) (*model.Tenant, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	tenant, ok := tm.tenants[apiKey]
	if !ok || tenant.Suspended {
		return nil, false
	}
	return tenant, true
}

// GetTenantByID resolves a tenant by its ID.
func (tm *TenantManager) GetTenantByID(id string) (*model.Tenant, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	for _, tenant := range tm.tenants {
		if tenant.ID == id {
			return tenant, true
		}
	}
	return nil, false
}

func (tm *TenantManager) DefaultTenant() *model.Tenant {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.defaultTenant
}

// GetLimiterForTenant returns the token bucket for a tenant, nil if unknown.
func (tm *TenantManager) GetLimiterForTenant(tenantID string) *rate.Limiter {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.limiters[tenantID]
}

// ListTenants returns a snapshot of all registered tenants.
func (tm *TenantManager) ListTenants() []*model.Tenant {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	out := make([]*model.Tenant, 0, len(tm.tenants))
	for _, t := range tm.tenants {
		out = append(out, t)
	}
	return out
}

// Suspend marks a tenant as suspended so its API key stops resolving.
func (tm *TenantManager) Suspend(tenantID string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for _, t := range tm.tenants {
		if t.ID == tenantID {
			t.Suspended = true
			return true
		}
	}
	return false
}
