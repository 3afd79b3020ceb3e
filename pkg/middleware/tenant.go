package middleware

import (
	"github.com/gin-gonic/gin"

	"sendloop-engine/pkg/errutil"
)

const (
	// TenantHeader carries the billing tenant on every API request.
	TenantHeader = "X-Tenant-ID"

	tenantContextKey = "tenant_id"
)

// RequireTenant rejects requests without a tenant header. Handlers read the
// resolved id through TenantID.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(TenantHeader)
		if tenantID == "" {
			_ = c.Error(errutil.Unauthorized("missing " + TenantHeader + " header"))
			c.Abort()
			return
		}
		c.Set(tenantContextKey, tenantID)
		c.Next()
	}
}

func TenantID(c *gin.Context) string {
	return c.GetString(tenantContextKey)
}
