// Package api implements the thin HTTP ingress layer: /api/v1/push and
// /api/v1/message/{id}, credential lookup, and the stable envelope/error
// code mapping from spec.md §6. This layer is explicitly out of scope
// for the dispatch engine core and kept intentionally small, grounded on
// the teacher's internal/api/handlers.go / routes.go / middleware.go.
package api

import "github.com/gofiber/fiber/v2"

// Envelope is the response shape every /api/v1 endpoint returns.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Error codes stable per spec.md §6.
const (
	CodeOK               = 0
	CodeAuth             = 1001
	CodeParamError       = 1002
	CodeChannelInvalid   = 1003
	CodeAIChannelInvalid = 1004
	CodeInternal         = 1005
	CodeNotFound         = 1006
)

func ok(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusOK).JSON(Envelope{Code: CodeOK, Message: "success", Data: data})
}

func fail(c *fiber.Ctx, status, code int, message string) error {
	return c.Status(status).JSON(Envelope{Code: code, Message: message, Data: nil})
}
