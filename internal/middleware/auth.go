package middleware

import (
	"net/http"
	"strings"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/model"
	"github.com/edgegate/edgegate/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	HeaderGatewayKey = "X-Gateway-Key"
	ContextTenantKey = "tenant"
	ContextAuthKey   = "auth_context"
)

// AuthMiddleware resolves the calling tenant from the gateway API key and,
// when a bearer token is present, the end-user identity from its claims. Both
// land in the gin context for the handlers and the audit middleware.
func AuthMiddleware(cfg *config.Config, tm *service.TenantManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(HeaderGatewayKey)
		if apiKey == "" {
			if !cfg.Auth.RequireAPIKey {
				if tenant := tm.DefaultTenant(); tenant != nil {
					attachIdentity(c, cfg, tenant)
					c.Next()
					return
				}
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			c.Abort()
			return
		}

		tenant, ok := tm.GetTenantByApiKey(apiKey)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			c.Abort()
			return
		}

		attachIdentity(c, cfg, tenant)
		c.Next()
	}
}

func attachIdentity(c *gin.Context, cfg *config.Config, tenant *model.Tenant) {
	c.Set(ContextTenantKey, tenant)

	auth := &model.AuthContext{
		TenantID: tenant.ID,
		Role:     model.RoleService,
	}
	if token := bearerToken(c); token != "" {
		if claims, ok := parseUserToken(token, cfg.Auth.JWTSecret); ok {
			auth = claims
			auth.TenantID = tenant.ID
			auth.Token = token
		}
	}
	c.Set(ContextAuthKey, auth)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

type userClaims struct {
	Email       string   `json:"email"`
	SessionID   string   `json:"session_id"`
	TenantIDs   []string `json:"tenant_ids"`
	Role        string   `json:"role"`
	TenantAdmin bool     `json:"tenant_admin"`
	jwt.RegisteredClaims
}

// parseUserToken extracts the caller identity from a JWT. A bad or expired
// token degrades to the anonymous service identity instead of failing the
// request; endpoints that need a user identity check the role themselves.
func parseUserToken(token, secret string) (*model.AuthContext, bool) {
	if secret == "" {
		return nil, false
	}
	parsed, err := jwt.ParseWithClaims(token, &userClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return nil, false
	}
	claims, ok := parsed.Claims.(*userClaims)
	if !ok {
		return nil, false
	}

	role := model.RoleMember
	switch {
	case claims.Role == string(model.RoleSuperAdmin):
		role = model.RoleSuperAdmin
	case claims.TenantAdmin || claims.Role == string(model.RoleTenantAdmin):
		role = model.RoleTenantAdmin
	}

	return &model.AuthContext{
		UserID:       claims.Subject,
		UserEmail:    claims.Email,
		SessionID:    claims.SessionID,
		AllTenantIDs: claims.TenantIDs,
		Role:         role,
	}, true
}

// TenantFrom pulls the resolved tenant out of the gin context, nil when the
// request never passed AuthMiddleware.
func TenantFrom(c *gin.Context) *model.Tenant {
	if val, exists := c.Get(ContextTenantKey); exists {
		if tenant, ok := val.(*model.Tenant); ok {
			return tenant
		}
	}
	return nil
}

// AuthFrom pulls the caller identity out of the gin context.
func AuthFrom(c *gin.Context) *model.AuthContext {
	if val, exists := c.Get(ContextAuthKey); exists {
		if auth, ok := val.(*model.AuthContext); ok {
			return auth
		}
	}
	return &model.AuthContext{}
}
