package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Quiz       *handler.QuizHandler
	Submission *handler.SubmissionHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	handlers *Handlers,
	rdb *redis.Client,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID first so the request log and every envelope share it.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			_ = c.Error(err)
			response.Success(c, http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.Use(middleware.RequireToken(cfg.JWTSecret), middleware.NoStore())

	// ─── 1. Quizzes ────────────────────────────────────────────────────
	quizzes := api.Group("/quizzes")
	{
		quizzes.GET("", handlers.Quiz.ListQuizzes)
		quizzes.GET("/:quiz_id", middleware.Brotli(middleware.DefaultCompressMinLength), handlers.Quiz.GetQuiz)
		quizzes.POST("", middleware.RequireTeacher(), handlers.Quiz.CreateQuiz)
	}

	// ─── 2. Submissions ────────────────────────────────────────────────
	// Submits are limited per principal across instances.
	submitLimiter := middleware.NewRateLimiter(rdb, "submit", cfg.SubmitRateLimit, time.Minute, log)

	submissions := api.Group("/submissions")
	{
		submissions.POST("", submitLimiter.Middleware(), handlers.Submission.Submit)
		submissions.GET("", handlers.Submission.ListSubmissions)
		submissions.GET("/:submission_id", handlers.Submission.GetSubmission)
		submissions.PUT("/:submission_id/marks", middleware.RequireTeacher(), handlers.Submission.UpdateMarks)
	}

	return router
}
