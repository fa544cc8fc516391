package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/scriptoria/scriptoria-backend/internal/api"
	"github.com/scriptoria/scriptoria-backend/internal/config"
	"github.com/scriptoria/scriptoria-backend/internal/database"
	"github.com/scriptoria/scriptoria-backend/internal/mcp"
	"github.com/scriptoria/scriptoria-backend/internal/providers/factory"
	"github.com/scriptoria/scriptoria-backend/internal/repository/postgres"
	"github.com/scriptoria/scriptoria-backend/internal/services"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("SCRIPTORIA_DEBUG") != "" {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Connect to database
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	// Build the provider registry; startup fails only when no provider
	// at all is usable
	registry, err := factory.BuildRegistry(cfg, logger)
	if err != nil {
		log.Fatal("Failed to build provider registry:", err)
	}

	// Start the tool-execution peer when configured
	var peer services.ToolPeer
	if cfg.MCP.Command != "" {
		client := mcp.NewClient(exec.Command(cfg.MCP.Command, cfg.MCP.Args...), logger)
		if err := client.Start(); err != nil {
			logger.WithError(err).Warn("tool peer failed to start; continuing with local tools only")
		} else {
			peer = client
			defer client.Close()
		}
	}

	// Initialize repositories
	sessionRepo := postgres.NewSessionRepository(db.DB)
	messageRepo := postgres.NewMessageRepository(db.DB)

	// Initialize services
	svc := services.NewServices(cfg, registry, sessionRepo, messageRepo, peer, logger)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName: "Scriptoria Backend",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: getOrigins(),
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	api.SetupRoutes(app, svc, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.WithField("addr", addr).Info("starting server")
	if err := app.Listen(addr); err != nil {
		log.Fatal("Server failed:", err)
	}
}

func getOrigins() string {
	if origins := os.Getenv("SCRIPTORIA_CORS_ORIGINS"); origins != "" {
		return origins
	}
	return "http://localhost:5173"
}
