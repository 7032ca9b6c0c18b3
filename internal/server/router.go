package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/nuget-hub/internal/logging"
	"github.com/any-hub/nuget-hub/internal/metrics"
)

// AppOptions controls how the Fiber application is assembled.
type AppOptions struct {
	Logger     *logrus.Logger
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	ListenPort int
}

const contextKeyRequestID = "_nugethub_request_id"

// NewApp builds a Fiber application with request-id, access logging, metrics
// and structured error handling. Routes are attached by the caller.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	handleError := errorHandler(opts.Logger)
	app := fiber.New(fiber.Config{
		ErrorHandler: handleError,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts, handleError))

	if opts.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	return app, nil
}

// requestContextMiddleware 生成请求 ID，并在请求结束后记录访问日志与指标。
// 处理器返回的错误在这里就地渲染，保证日志与指标拿到最终状态码。
func requestContextMiddleware(opts AppOptions, handleError fiber.ErrorHandler) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		if err := c.Next(); err != nil {
			if renderErr := handleError(c, err); renderErr != nil {
				return renderErr
			}
		}

		status := c.Response().StatusCode()
		route := c.Route().Path
		elapsed := time.Since(started)
		opts.Metrics.RecordHTTPRequest(c.Method(), route, status, elapsed)

		fields := logging.RequestFields(reqID, c.Method(), c.Path())
		fields["action"] = "http_request"
		fields["route"] = route
		fields["status"] = status
		fields["elapsed_ms"] = elapsed.Milliseconds()
		entry := opts.Logger.WithFields(fields)
		switch {
		case status >= fiber.StatusInternalServerError:
			entry.Error("request_failed")
		default:
			entry.Info("request_complete")
		}
		return nil
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
