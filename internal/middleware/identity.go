package middleware

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/gofiber/fiber/v2"
)

// IdentityCookie names the per-browser-session token cookie.
const IdentityCookie = "uid"

const identityLocalsKey = "identity"

// EnsureIdentity assigns an anonymous session token to every request: reuse
// the cookie when present, otherwise generate one and set it. The token
// namespaces storage keys and temp directories so concurrent users never
// collide. Lifetime is the browser session.
func EnsureIdentity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity := c.Cookies(IdentityCookie)
		if identity == "" {
			identity = newIdentity()
			c.Cookie(&fiber.Cookie{
				Name:     IdentityCookie,
				Value:    identity,
				HTTPOnly: true,
				SameSite: fiber.CookieSameSiteLaxMode,
			})
		}
		c.Locals(identityLocalsKey, identity)
		return c.Next()
	}
}

// GetIdentity returns the session token set by EnsureIdentity.
func GetIdentity(c *fiber.Ctx) string {
	if id, ok := c.Locals(identityLocalsKey).(string); ok {
		return id
	}
	return ""
}

func newIdentity() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "anonymous"
	}
	return hex.EncodeToString(buf)
}
