package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/smartclass/backend/internal/api/handlers"
	"github.com/smartclass/backend/internal/exam"
	"github.com/smartclass/backend/internal/ingestion"
	"github.com/smartclass/backend/internal/metrics"
	"github.com/smartclass/backend/internal/middleware/ratelimit"
	"github.com/smartclass/backend/internal/middleware/security"
	"github.com/smartclass/backend/internal/middleware/validation"
	"github.com/smartclass/backend/internal/results"
	"github.com/smartclass/backend/internal/storage/blob"
	"github.com/smartclass/backend/pkg/config"
	appLogger "github.com/smartclass/backend/pkg/logger"
)

// unavailableUploader stands in when blob storage could not be initialized.
type unavailableUploader struct {
	err error
}

func (u unavailableUploader) Upload(context.Context, string, []byte, string) (string, error) {
	return "", u.err
}

func runServer(ctx context.Context, cfg *config.Config) error {
	appLogger.Info("Starting SmartClass API server")

	metrics.Init()

	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	var uploader exam.Uploader
	gcs, err := blob.NewGCS(ctx, blob.Config{
		Bucket:          cfg.Storage.QuestionsBucket,
		PublicBaseURL:   cfg.Storage.PublicBaseURL,
		CredentialsFile: cfg.Storage.CredentialsFile,
		Endpoint:        cfg.Storage.Endpoint,
	})
	if err != nil {
		appLogger.Warn("Blob storage unavailable, exam generation disabled", zap.Error(err))
		uploader = unavailableUploader{err: err}
	} else {
		defer gcs.Close()
		uploader = gcs
	}

	scraper, err := results.NewScraper(results.Config{
		URL:     cfg.Results.URL,
		Timeout: time.Duration(cfg.Results.TimeoutSec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create results scraper: %w", err)
	}

	processor := ingestion.NewProcessor(d.loader, d.llm, d.db)
	examGenerator := exam.NewGenerator(d.loader, d.llm, uploader, d.db)

	app := fiber.New(fiber.Config{
		AppName:      "SmartClass",
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(ratelimit.Config{
			MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
			SkipPaths:            []string{"/", "/health", "/ready", "/metrics"},
			Logger:               appLogger.GetLogger(),
		})
		defer limiter.Stop()
		app.Use(limiter.Middleware())
	}

	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	chatHandler := handlers.NewChatbotHandler(d.engine)
	materialHandler := handlers.NewMaterialHandler(processor, examGenerator)
	resultsHandler := handlers.NewResultsHandler(scraper)
	wsHandler := handlers.NewWebSocketHandler(d.engine, time.Duration(cfg.LLM.TimeoutSec+cfg.Fetch.TimeoutSec)*time.Second)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "SmartClass Backend running",
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		if err := d.db.Ping(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
				"error":  "database unreachable",
			})
		}
		if d.redis != nil {
			if err := d.redis.Ping(c.UserContext()); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status": "unavailable",
					"error":  "redis unreachable",
				})
			}
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Post("/upload/", materialHandler.Upload)
	app.Post("/quiz/store", materialHandler.StoreQuiz)
	app.Post("/question/generate-exam", materialHandler.GenerateExam)
	app.Post("/getResult", resultsHandler.GetResult)

	chat := app.Group("/chatbot")
	chat.Post("/", chatHandler.Ask)
	chat.Get("/history", chatHandler.History)
	chat.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	chat.Get("/ws", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- app.Listen(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	}

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Warn("Server shutdown incomplete", zap.Error(err))
	}
	appLogger.Info("Server stopped")
	return nil
}
