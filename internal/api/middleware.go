package api

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fathima-sithara/chat-app/internal/apperrors"
	"github.com/fathima-sithara/chat-app/internal/metrics"
	"github.com/fathima-sithara/chat-app/internal/utils"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	localUserID        = "user_id"
	headerConnectionID = "X-Connection-ID"
)

type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// JWTAuth requires "Authorization: Bearer <token>" and stores the subject
// in c.Locals("user_id").
func JWTAuth(tokens TokenVerifier, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		h := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(h, "Bearer ") {
			return utils.JSONAppError(c, apperrors.ErrUnauthenticated)
		}
		userID, err := tokens.VerifyToken(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			log.Debug("jwt rejected", zap.Error(err))
			return utils.JSONAppError(c, apperrors.ErrUnauthenticated)
		}
		c.Locals(localUserID, userID)
		return c.Next()
	}
}

func currentUser(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

// RequestLogger logs one line per request and counts it by route.
func RequestLogger(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			// let the error handler set the status before it is read
			if herr := c.App().Config().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}
		status := c.Response().StatusCode()
		metrics.HTTPRequests.WithLabelValues(c.Method(), c.Route().Path, strconv.Itoa(status)).Inc()

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()),
		}
		if uid := currentUser(c); uid != "" {
			fields = append(fields, zap.String("user_id", uid))
		}
		if status >= fiber.StatusInternalServerError {
			log.Error("request", fields...)
		} else {
			log.Info("request", fields...)
		}
		return nil
	}
}

// ErrorHandler renders fiber errors and unhandled errors in the error envelope.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return utils.JSONError(c, fe.Code, kindForStatus(fe.Code), fe.Message)
		}
		if apperrors.KindOf(err) == apperrors.KindInternal {
			log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		}
		return utils.JSONAppError(c, err)
	}
}

func kindForStatus(code int) apperrors.Kind {
	switch {
	case code == fiber.StatusUnauthorized:
		return apperrors.KindUnauthorized
	case code == fiber.StatusForbidden:
		return apperrors.KindForbidden
	case code == fiber.StatusNotFound:
		return apperrors.KindNotFound
	case code == fiber.StatusConflict:
		return apperrors.KindConflict
	case code == fiber.StatusServiceUnavailable || code == fiber.StatusTooManyRequests:
		return apperrors.KindTransient
	case code >= 500:
		return apperrors.KindInternal
	default:
		return apperrors.KindValidation
	}
}
