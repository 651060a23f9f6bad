// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coinshop/coinshop-backend/internal/config"
	"github.com/coinshop/coinshop-backend/internal/database"
	"github.com/coinshop/coinshop-backend/internal/jobs"
	"github.com/coinshop/coinshop-backend/internal/router"
	"github.com/coinshop/coinshop-backend/internal/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer database.Close(db)

	// Run database migrations
	if err := database.RunMigrations(db); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	// Development convenience: issue a throwaway webhook token so the
	// chain notifier can be pointed at a local instance. Production
	// requires a configured secret (enforced by config validation).
	if cfg.Crypto.WebhookSecret == "" {
		secret, err := utils.GenerateWebhookSecret()
		if err != nil {
			log.Fatal("Failed to generate webhook secret:", err)
		}
		cfg.Crypto.WebhookSecret = secret
		log.Printf("Generated webhook token for this run: %s", secret)
	}
	log.Printf("Webhook token fingerprint: %s", utils.HashString(cfg.Crypto.WebhookSecret)[:12])

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Wire services and router
	svc := router.BuildServices(db, cfg)
	r := router.Initialize(db, cfg, svc)

	// Start background jobs
	jobCtx, stopJobs := context.WithCancel(context.Background())
	runner := jobs.NewRunner(cfg, svc)
	runner.Start(jobCtx)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Stop background jobs first so no sweep races the shutdown
	stopJobs()
	runner.Wait()

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown server
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
