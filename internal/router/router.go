package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/liveclass/internal/config"
	"github.com/stemsi/liveclass/internal/handler"
	"github.com/stemsi/liveclass/internal/middleware"
	"github.com/stemsi/liveclass/internal/response"
	"github.com/stemsi/liveclass/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Session *handler.SessionHandler
	Monitor *handler.MonitorHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	rdb *redis.Client,
	log zerolog.Logger,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

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
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())

	// Monitor feeds and the gateway stream; never buffer them.
	brotliCfg := middleware.DefaultBrotliConfig
	brotliCfg.SkipPrefixes = []string{"/ws/", "/api/v1/teacher/system/"}
	router.Use(middleware.BrotliWithConfig(brotliCfg))

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 0. Public Group (No Auth) ─────────────────────────────────────
	publicAPI := router.Group("/api/v1/public")
	publicAPI.Use(middleware.NoStore())
	{
		lookupLimiter := middleware.NewRateLimiter(rdb, log, "code-lookup", 60, time.Minute)
		publicAPI.GET("/codes/:code", lookupLimiter.Middleware(), handlers.Session.LookupCode)
	}

	// ─── 1. Auth Group ─────────────────────────────────────────────────
	authLimiter := middleware.NewRateLimiter(rdb, log, "teacher-login", 30, time.Minute)
	teacherAuth := []gin.HandlerFunc{
		middleware.RequireTeacherJWT(authService),
		middleware.RejectRevokedTokens(authService),
	}

	auth := router.Group("/api/v1/auth/teacher")
	{
		auth.POST("/login", authLimiter.Middleware(), handlers.Auth.TeacherLogin)
		auth.GET("/me", append(teacherAuth, handlers.Auth.GetTeacherProfile)...)
		auth.POST("/logout", append(teacherAuth, handlers.Auth.TeacherLogout)...)
	}

	// ─── 2. Teacher Group (JWT) ────────────────────────────────────────
	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(teacherAuth...)
	teacherAPI.Use(middleware.NoStore())
	{
		sessions := teacherAPI.Group("/sessions")
		sessions.POST("", handlers.Session.CreateSession)
		sessions.GET("/:id", handlers.Session.GetSession)
		sessions.POST("/:id/slide", handlers.Session.SetSlide)
		sessions.POST("/:id/lock", handlers.Session.SetLocked)
		sessions.POST("/:id/pause", handlers.Session.SetPaused)
		sessions.POST("/:id/end", handlers.Session.EndSession)
		sessions.POST("/:id/students/:student_id/responses/:slide_id/evaluation", handlers.Session.EvaluateResponse)
		sessions.GET("/:id/results", handlers.Session.GetResults)
		sessions.GET("/:id/monitor", handlers.Monitor.MonitorSessionSSE)

		teacherAPI.GET("/system/status", handlers.System.SystemStatusSSE)
	}

	// ─── 3. Realtime Gateway (student devices) ─────────────────────────
	// Students are anonymous; access is bounded by the gateway policy.
	wsLimiter := middleware.NewRateLimiter(rdb, log, "realtime", 120, time.Minute)
	ws := router.Group("/ws/v1")
	ws.Use(wsLimiter.Middleware())
	{
		ws.GET("/realtime", handlers.WS.RealtimeStream)
	}

	return router
}
