package api

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codyseavey/kpi-widget/internal/api/handlers"
	"github.com/codyseavey/kpi-widget/internal/host"
	"github.com/codyseavey/kpi-widget/internal/metrics"
	"github.com/codyseavey/kpi-widget/internal/services"
)

func SetupRouter(orchestrator *services.Orchestrator, worksheet *host.SQLiteWorksheet) *gin.Engine {
	router := gin.Default()

	// CORS configuration - allow origins from environment or use defaults
	config := cors.DefaultConfig()
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		config.AllowOrigins = strings.Split(corsOrigins, ",")
	} else {
		config.AllowOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	config.AllowCredentials = false // Explicitly set
	router.Use(cors.New(config))
	router.Use(requestMetrics())

	// Initialize handlers
	cardHandler := handlers.NewCardHandler(orchestrator)
	widgetHandler := handlers.NewWidgetHandler(orchestrator, worksheet)

	// API routes
	api := router.Group("/api")
	{
		// Card routes
		cards := api.Group("/cards")
		{
			cards.GET("", cardHandler.GetCards)
			cards.GET("/:id/series", cardHandler.GetCardSeries)
			cards.GET("/:id/summary", cardHandler.GetCardSummary)
			cards.POST("/:id/hover", cardHandler.Hover)
			cards.POST("/:id/hover/exit", cardHandler.HoverExit)
			cards.POST("/:id/brush", cardHandler.Brush)
			cards.POST("/:id/brush/clear", cardHandler.BrushClear)
		}

		// Widget routes
		api.GET("/period", widgetHandler.GetPeriod)
		api.PUT("/period", widgetHandler.PutPeriod)
		api.POST("/refresh", widgetHandler.Refresh)
		api.GET("/status", widgetHandler.GetStatus)
		api.POST("/worksheet/rows", widgetHandler.AppendRow)
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Prometheus scrape endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// requestMetrics records request counts and latency per route
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
