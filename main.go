package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"standhub/config"
	"standhub/db"
	"standhub/handlers"
	"standhub/middleware"
	"standhub/services"
	"standhub/utils"
	"standhub/websocket"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	logger := utils.NewLogger(cfg.Environment)

	// Connect to database
	database, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}

	// Initialize Redis-backed services
	redisClient := services.NewRedisClient(cfg, logger)
	defer redisClient.Close()

	presence := services.NewPresenceStore(redisClient, cfg.PresenceTTL, logger)
	broker := services.NewBroker(redisClient, logger)
	guard := services.NewTeamGuard(database)

	// Start the websocket hub and the cross-instance event feed
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)
	go broker.Subscribe(ctx, hub.Deliver)

	gateway := websocket.NewGateway(hub, presence, broker, guard, logger)

	// Initialize handlers
	companyHandler := handlers.NewCompanyHandler(database, logger)
	teamHandler := handlers.NewTeamHandler(database, logger)
	standupHandler := handlers.NewStandupHandler(database, broker, logger)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// Realtime channel endpoint
	router.GET("/ws", middleware.Auth(cfg.JWTSecret), gateway.Serve())

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(cfg.JWTSecret))
	{
		companies := v1.Group("/companies")
		{
			companies.GET("", companyHandler.ListCompanies)
			companies.POST("", companyHandler.CreateCompany)
			companies.GET("/:id", companyHandler.GetCompany)
		}

		teams := v1.Group("/teams")
		{
			teams.GET("", teamHandler.ListTeams)
			teams.POST("", teamHandler.CreateTeam)
			teams.POST("/:id/members", teamHandler.AddMember)
		}

		standups := v1.Group("/standups")
		{
			standups.GET("", standupHandler.ListTodayStandups)
			standups.POST("", standupHandler.SubmitStandup)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting StandHub server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop the hub and broker feed
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
