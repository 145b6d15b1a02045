package utils

import (
	"github.com/fathima-sithara/chat-app/internal/apperrors"
	"github.com/gofiber/fiber/v2"
)

func JSONSuccess(c *fiber.Ctx, status int, payload interface{}) error {
	return c.Status(status).JSON(fiber.Map{"status": "ok", "data": payload})
}

func JSONError(c *fiber.Ctx, status int, kind apperrors.Kind, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"status": "error",
		"error":  apperrors.Wire{Kind: kind, Message: msg},
	})
}

// JSONAppError maps err to its status code and wire shape.
func JSONAppError(c *fiber.Ctx, err error) error {
	w := apperrors.ToWire(err)
	return JSONError(c, apperrors.HTTPStatus(w.Kind), w.Kind, w.Message)
}
