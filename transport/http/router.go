package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/layer-3/sigkey/service"
)

// SetupRouter sets up the Gin router. A nil gatherer leaves /metrics out.
func SetupRouter(
	authService *service.AuthService,
	challengeService *service.ChallengeService,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	// Key derivation routes
	crypto := NewCryptoHandlers(challengeService)
	router.POST("/crypto/challenge", crypto.GetChallenge)

	// Auth routes
	handlers := NewAuthHandlers(authService)
	auth := router.Group("/auth")
	{
		auth.POST("/challenge", handlers.Challenge)
		auth.POST("/login", handlers.Login)
		auth.POST("/refresh", handlers.Refresh)
		auth.POST("/logout", handlers.Logout)
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(AuthMiddleware(authService))
	{
		api.GET("/me", handlers.Me)
		api.GET("/authorize", handlers.Authorize)
	}

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return router
}
