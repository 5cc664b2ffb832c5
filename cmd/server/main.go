package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/fitzone-app/FitZoneBack/internal/config"
	"github.com/fitzone-app/FitZoneBack/internal/database"
	"github.com/fitzone-app/FitZoneBack/internal/routes"
	"github.com/fitzone-app/FitZoneBack/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger := logger.New(cfg.AppEnv)
	defer func() {
		_ = zapLogger.Sync()
	}()

	if cfg.DBUrl == "" {
		zapLogger.Fatal("DB_URL is required")
	}

	ctx := context.Background()

	db, err := database.ConnectDB(ctx, cfg.DBUrl)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	zapLogger.Info("Connected to PostgreSQL")

	redisClient, err := database.ConnectRedis(ctx, database.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		zapLogger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer func() {
		_ = redisClient.Close()
	}()
	zapLogger.Info("Connected to Redis")

	app := fiber.New()

	app.Use(cors.New())
	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	routes.RegisterRoutes(app, cfg, db, redisClient, zapLogger)

	zapLogger.Info("Server starting", zap.String("port", cfg.Port))
	if err := app.Listen(":" + cfg.Port); err != nil {
		zapLogger.Fatal("Server failed to start", zap.Error(err))
	}
}
