package middleware

import (
	"github.com/edgegate/edgegate/internal/pkg/apperrors"
	"github.com/edgegate/edgegate/internal/service"
	"github.com/gin-gonic/gin"
)

func RateLimitMiddleware(tm *service.TenantManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. 获取当前租户 (必须在 AuthMiddleware 之后使用)
		tenant := TenantFrom(c)
		if tenant == nil {
			c.Error(apperrors.New(apperrors.ErrAuthFailed, "Authentication failed", nil))
			c.Abort()
			return
		}

		// 2. 获取限流器
		limiter := tm.GetLimiterForTenant(tenant.ID)
		if limiter == nil {
			// 只有极其罕见的情况才会发生（TenantManager 数据不一致）
			c.Next()
			return
		}

		// 3. 尝试获取令牌
		if !limiter.Allow() {
			c.Error(apperrors.New(apperrors.ErrRateLimited, "rate limit exceeded for tenant "+tenant.ID, nil))
			c.Abort()
			return
		}

		c.Next()
	}
}
