package http

import (
	"errors"
	"io"
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// AppOption 定義了 NewApp 的配置選項函數
type AppOption func(*appConfig)

type appConfig struct {
	metrics   nethttp.Handler
	accessLog io.Writer
}

// WithMetrics 在 /metrics 掛上 Prometheus handler
func WithMetrics(h nethttp.Handler) AppOption {
	return func(c *appConfig) {
		c.metrics = h
	}
}

// WithAccessLog 每個請求寫一行 access log
func WithAccessLog(w io.Writer) AppOption {
	return func(c *appConfig) {
		c.accessLog = w
	}
}

// NewApp 建立 fiber app 並掛上所有路由
func NewApp(h *Handler, opts ...AppOption) *fiber.App {
	var cfg appConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	app := fiber.New(fiber.Config{
		AppName:               "balance-ledger",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
			return c.Status(status).JSON(errorResponse{Error: err.Error()})
		},
	})

	app.Use(recover.New())
	if cfg.accessLog != nil {
		app.Use(fiberlogger.New(fiberlogger.Config{Output: cfg.accessLog}))
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	if cfg.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.metrics))
	}
	h.Register(app)

	return app
}
