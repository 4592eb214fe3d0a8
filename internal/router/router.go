package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
}

// SetupRouter configures the simulator routes.
func SetupRouter(handlers *Handlers, metrics *middleware.Metrics, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.GinMode != gin.TestMode {
		router.Use(gin.Logger())
	}

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", response.HeaderRequestID, response.HeaderStudentID}
	corsConfig.ExposeHeaders = []string{response.HeaderRequestID}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(metrics.Middleware())

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst)

	// ─── 1. Attempt Group (Student header, Rate Limited) ───────────────
	attempts := router.Group("/api/v1/attempts")
	attempts.Use(middleware.RequireStudent(), limiter.Middleware())
	{
		attempts.GET("/tests", handlers.Attempt.ListTests)
		attempts.POST("/start-session", handlers.Attempt.StartSession)
		attempts.POST("/fetch-by-number", handlers.Attempt.FetchByNumber)
		attempts.POST("/submit-and-next", handlers.Attempt.SubmitAndNext)
		attempts.POST("/submit-and-previous", handlers.Attempt.SubmitAndPrevious)
		attempts.POST("/submit-session", handlers.Attempt.SubmitSession)
		attempts.GET("/results/:session_id", handlers.Attempt.GetResult)
	}

	// ─── 2. Realtime ───────────────────────────────────────────────────
	router.GET("/ws", middleware.RequireStudent(), handlers.WS.Stream)

	return router
}
