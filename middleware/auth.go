package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// EntrantContextMiddleware extracts the entrant address and roles set by the
// Gateway. Secured routes refuse requests without an identity.
func EntrantContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		entrantID := c.Get("X-Entrant-ID")
		rolesStr := c.Get("X-User-Roles")

		if entrantID == "" {
			log.Printf("❌ [ENTRANT_CTX] X-Entrant-ID required but missing on secured route: %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-Entrant-ID — request must come through gateway with auth context",
			})
		}

		var roles []string
		if rolesStr != "" {
			for _, r := range strings.Split(rolesStr, ",") {
				r = strings.TrimSpace(r)
				if r != "" {
					roles = append(roles, r)
				}
			}
		}

		c.Locals("entrant_id", entrantID)
		c.Locals("user_roles", roles)

		return c.Next()
	}
}

// RequireAdmin allows only requests whose gateway role list contains "admin".
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles, _ := c.Locals("user_roles").([]string)
		for _, r := range roles {
			if r == "admin" {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "admin role required",
		})
	}
}
