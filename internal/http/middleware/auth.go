package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// TenantIDLocalKey is the key under which the authenticated tenant id is
// stored in Fiber's context locals.
const TenantIDLocalKey = "tenant_id"

var errUnexpectedSigning = errors.New("unexpected token signing method")

// Auth verifies a bearer token issued by the external identity provider and
// stores its subject claim as the authenticated tenant id. The core trusts
// that id; no credentials are issued or checked here beyond the signature.
func Auth(secret string) fiber.Handler {
	key := []byte(secret)

	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errUnexpectedSigning
			}
			return key, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "token has no subject")
		}

		c.Locals(TenantIDLocalKey, sub)
		return c.Next()
	}
}

// TenantID extracts the authenticated tenant id stored by Auth. The empty
// string means the request never passed the Auth middleware.
func TenantID(c *fiber.Ctx) string {
	if v, ok := c.Locals(TenantIDLocalKey).(string); ok {
		return v
	}
	return ""
}
