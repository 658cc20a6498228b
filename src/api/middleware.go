package api

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/Egcarson/chatroom/src/types"
)

const identityKey = "identity"

// requireAuth verifies the bearer credential on REST requests and
// stashes the identity for downstream handlers.
func (a *API) requireAuth(c fiber.Ctx) error {
	token := bearerFromHeader(c)
	if token == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing bearer credential")
	}
	ident, err := a.verifier.Verify(c.Context(), token)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credential")
	}
	c.Locals(identityKey, ident)
	return c.Next()
}

func bearerFromHeader(c fiber.Ctx) string {
	header := c.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func identityFrom(c fiber.Ctx) types.Identity {
	ident, _ := c.Locals(identityKey).(types.Identity)
	return ident
}
