package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/nuget-hub/internal/packages"
)

// ErrUnauthorized 表示 API key 校验失败。
var ErrUnauthorized = errors.New("unauthorized")

// StatusFor 把领域错误映射为 HTTP 状态码与错误码。
func StatusFor(err error) (int, string) {
	var fiberErr *fiber.Error
	switch {
	case errors.Is(err, packages.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, packages.ErrAlreadyExists):
		return fiber.StatusConflict, "already_exists"
	case errors.Is(err, packages.ErrUpstreamUnavailable):
		return fiber.StatusServiceUnavailable, "upstream_unavailable"
	case errors.Is(err, ErrUnauthorized):
		return fiber.StatusUnauthorized, "unauthorized"
	case errors.Is(err, packages.ErrStoreUnavailable):
		return fiber.StatusInternalServerError, "store_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable, "request_cancelled"
	case errors.As(err, &fiberErr):
		return fiberErr.Code, codeForStatus(fiberErr.Code)
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	case fiber.StatusBadRequest:
		return "bad_request"
	default:
		if status >= fiber.StatusInternalServerError {
			return "internal_error"
		}
		return "request_failed"
	}
}

// WriteError 输出统一的错误响应体。
func WriteError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status, code := StatusFor(err)
		if status >= fiber.StatusInternalServerError {
			logger.WithFields(logrus.Fields{
				"action":     "request_error",
				"request_id": RequestID(c),
				"path":       c.Path(),
				"error":      err.Error(),
			}).Warn(code)
		}
		return WriteError(c, status, code)
	}
}
