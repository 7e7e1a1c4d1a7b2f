package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/autoreel/api/pkg/response"
)

// TenantMiddleware reads the tenant identity from X-Tenant-* headers set by
// the gateway (auth itself lives in the reverse proxy) and populates Fiber
// context locals.
func TenantMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID := c.Get("X-Tenant-Id")
		if tenantID == "" {
			return response.Unauthorized(c, "Missing tenant identity headers")
		}

		c.Locals("tenantId", tenantID)
		c.Locals("userId", c.Get("X-User-Id"))

		return c.Next()
	}
}

// GetTenantID extracts the tenant id from context.
func GetTenantID(c *fiber.Ctx) string {
	if v, ok := c.Locals("tenantId").(string); ok {
		return v
	}
	return ""
}
