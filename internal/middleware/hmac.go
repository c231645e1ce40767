package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/pkg/logger"
	"github.com/edgegate/edgegate/internal/pkg/metrics"
	"github.com/edgegate/edgegate/internal/signer"
	"github.com/gin-gonic/gin"
)

const ContextHMACResult = "hmac_result"

// HMACMiddleware verifies the request signature before anything else touches
// the payload. Failures answer with a generic 401; the diagnostic detail
// (which check failed, computed vs provided signature) stays in server logs.
func HMACMiddleware(cfg *config.Config, verifier *signer.Verifier) gin.HandlerFunc {
	// The dev bypass must be asked for twice: the flag AND a non-production
	// mode. A production config with the flag set still verifies.
	bypassAll := cfg.HMAC.AllowDevBypass && !cfg.Server.IsProduction()
	if bypassAll {
		logger.Warn("⚠️ HMAC verification bypassed by dev flag", "mode", cfg.Server.Mode)
	}

	return func(c *gin.Context) {
		if bypassAll {
			c.Set(ContextHMACResult, signer.Result{Valid: true, Bypassed: true})
			c.Next()
			return
		}

		// read and restore the body so handlers can still bind it
		var bodyBytes []byte
		if c.Request.Body != nil {
			bodyBytes, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		}

		result := verifier.Verify(signer.Request{
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
			Query:  c.Request.URL.Query(),
			Body:   bodyBytes,
			Header: c.GetHeader,
		})

		if result.Bypassed {
			// no secret configured: pass, but never silently
			logger.Warn("⚠️ HMAC verification skipped, no secret configured",
				"method", c.Request.Method, "path", c.Request.URL.Path)
			metrics.HMACVerifications.WithLabelValues("bypassed").Inc()
			c.Set(ContextHMACResult, result)
			c.Next()
			return
		}

		if !result.Valid {
			metrics.HMACVerifications.WithLabelValues("rejected").Inc()
			logger.Warn("HMAC verification failed",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"code", result.Code,
				"detail", result.Error,
				"client_ip", c.ClientIP(),
			)
			c.JSON(http.StatusUnauthorized, gin.H{
				"success":   false,
				"error":     "Authentication failed",
				"code":      "INVALID_HMAC_SIGNATURE",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Abort()
			return
		}

		metrics.HMACVerifications.WithLabelValues("ok").Inc()
		c.Set(ContextHMACResult, result)
		c.Next()
	}
}
