package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/banka1/banking/internal/account"
	"github.com/banka1/banking/internal/app"
	"github.com/banka1/banking/internal/config"
	"github.com/banka1/banking/internal/loan"
	"github.com/banka1/banking/internal/middleware"
	"github.com/banka1/banking/internal/transfer"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Services *app.Services
}

// Setup configures middlewares and all application routes.
func Setup(fa *fiber.App, d Deps) error {
	if d.Services == nil {
		return fmt.Errorf("services are required")
	}
	if !d.Cfg.Development() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	fa.Use(recover.New())
	fa.Use(middleware.RequestID())
	// [HH:MM:SS] 200 -  145ms METHOD /path
	fa.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	fa.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(fa, d)

	api := fa.Group("/api/v1")
	if d.Cache != nil {
		api.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterAccountRoutes(api, account.NewHandler(d.Services.Accounts))
	RegisterTransferRoutes(api, transfer.NewHandler(d.Services.Transfers))
	RegisterLoanRoutes(api, loan.NewHandler(d.Services.Loans))

	return nil
}
