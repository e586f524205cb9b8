package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/codyseavey/kpi-widget/internal/api"
	"github.com/codyseavey/kpi-widget/internal/api/handlers"
	"github.com/codyseavey/kpi-widget/internal/database"
	"github.com/codyseavey/kpi-widget/internal/host"
	"github.com/codyseavey/kpi-widget/internal/services"
)

func main() {
	// Database path
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./kpi_widget.db"
	}

	// Initialize database
	if err := database.Initialize(dbPath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// The worksheet is both the data source and the widget
	// configuration source
	worksheet := host.NewSQLiteWorksheet(database.GetDB())

	// Initialize the refresh orchestrator
	orchestrator := services.NewOrchestrator(worksheet, worksheet)
	if ms := envMillis("REFRESH_DEBOUNCE_MS"); ms > 0 {
		orchestrator.SetDebounce(ms)
	}
	if ms := envMillis("REFRESH_COOLDOWN_MS"); ms > 0 {
		orchestrator.SetCooldown(ms)
	}

	// Restore the persisted period selection before the initial refresh
	handlers.LoadPersistedPeriod(database.GetDB(), orchestrator)

	// Create a cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the orchestrator in background with panic recovery
	go func() {
		for {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("PANIC in refresh orchestrator: %v - restarting in 30 seconds", r)
					}
				}()
				orchestrator.Start(ctx)
			}()

			select {
			case <-ctx.Done():
				return // Graceful shutdown
			case <-time.After(30 * time.Second):
				log.Println("Refresh orchestrator restarting after panic recovery...")
			}
		}
	}()

	// Setup router
	router := api.SetupRouter(orchestrator, worksheet)

	// Get port from environment
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create HTTP server for graceful shutdown
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on port %s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Cancel the context to stop the orchestrator
	cancel()

	// Give outstanding requests a deadline to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// envMillis reads a millisecond duration from the environment,
// returning 0 when unset or invalid.
func envMillis(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
