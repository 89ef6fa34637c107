package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"messagepusher/internal/store"
)

// authenticate resolves the caller's Credential from the token carried as
// a query parameter or form field, per spec §6 ("Every request carries
// token ... either as a query parameter or form field"). On any failure it
// writes the error envelope itself (1001 for a missing, unknown, disabled
// or expired token; 1005 for a store error) and returns a nil Credential
// together with the result of that write, so a caller that gets a nil
// Credential can just `return` the error.
func (h *Handlers) authenticate(c *fiber.Ctx) (*store.Credential, error) {
	token := c.Query("token")
	if token == "" {
		token = c.FormValue("token")
	}
	if token == "" {
		return nil, fail(c, fiber.StatusUnauthorized, CodeAuth, "missing token")
	}

	cred, err := h.credentials.GetByToken(c.Context(), token)
	if err == store.ErrNotFound {
		return nil, fail(c, fiber.StatusUnauthorized, CodeAuth, "invalid token")
	}
	if err != nil {
		return nil, fail(c, fiber.StatusInternalServerError, CodeInternal, "internal error")
	}
	if !cred.Valid(time.Now()) {
		return nil, fail(c, fiber.StatusUnauthorized, CodeAuth, "token disabled or expired")
	}
	return cred, nil
}
