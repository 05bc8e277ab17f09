package middleware

import (
	"strings"

	"cadence/utils"

	"github.com/gofiber/fiber/v2"
)

// Protected verifies the bearer token and stores the caller's user and
// tenant IDs in the request locals.
func Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Try to get token from Authorization header first
		var token string
		authHeader := c.Get("Authorization")
		if authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid authorization format",
				})
			}
			token = tokenParts[1]
		} else {
			// Websocket clients cannot set headers; fall back to cookie or query
			token = c.Cookies("access_token")
			if token == "" {
				token = c.Query("token")
			}
			if token == "" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Authorization required",
				})
			}
		}

		claims, err := utils.ParseJWTToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals("userID", claims.UserID)
		c.Locals("tenantID", claims.TenantID)
		return c.Next()
	}
}

// TenantID returns the tenant resolved by Protected.
func TenantID(c *fiber.Ctx) uint {
	id, _ := c.Locals("tenantID").(uint)
	return id
}

// UserID returns the user resolved by Protected.
func UserID(c *fiber.Ctx) uint {
	id, _ := c.Locals("userID").(uint)
	return id
}
