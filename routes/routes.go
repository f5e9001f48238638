package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"stonetify/controllers"
	"stonetify/models"
)

type Options struct {
	DB           *gorm.DB
	RateLimitRPM int
}

func SetupRoutes(r *gin.Engine, deps controllers.Dependencies, opts Options) {
	authController := controllers.NewAuthController(deps)
	socialController := controllers.NewSocialController(deps)
	playbackController := controllers.NewPlaybackController(deps)

	r.Use(CSPMiddleware())
	r.GET("/health", healthHandler(opts.DB))

	limiter := NewRateLimiter(opts.RateLimitRPM)

	authGroup := r.Group("/auth", limiter.Handler(), deps.Sessions.OptionalSession())
	authGroup.POST("/social/state", authController.IssueState)
	authGroup.GET("/:provider/callback", authController.Callback)
	authGroup.POST("/complete", authController.Complete)

	social := r.Group("/social/:provider", deps.Sessions.RequireSession())
	social.POST("/token", socialController.Token)
	social.GET("/token", socialController.AccessToken)
	social.POST("/refresh", socialController.Refresh)
	social.POST("/revoke", socialController.Revoke)
	social.GET("/me", socialController.Me)
	social.GET("/status", socialController.Status)

	sp := r.Group("/spotify", deps.Sessions.RequireSession(), controllers.FixedProvider(models.ProviderSpotify))
	sp.POST("/token", socialController.Token)
	sp.GET("/token", socialController.AccessToken)
	sp.POST("/refresh", socialController.Refresh)
	sp.POST("/revoke", socialController.Revoke)
	sp.GET("/me", socialController.Me)
	sp.GET("/status", socialController.Status)

	sp.GET("/playback/devices", playbackController.GetDevices)
	sp.PUT("/playback/play", playbackController.Play)
	sp.PUT("/playback/pause", playbackController.Pause)
	sp.POST("/playback/next", playbackController.Next)
	sp.POST("/playback/previous", playbackController.Previous)
	sp.GET("/playback/current", playbackController.GetCurrent)
}

func healthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			c.JSON(200, gin.H{"status": "healthy", "timestamp": time.Now().Unix()})
			return
		}

		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(503, gin.H{
				"status":    "unhealthy",
				"error":     "database connection error",
				"timestamp": time.Now().Unix(),
			})
			return
		}

		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := sqlDB.PingContext(pingCtx); err != nil {
			c.JSON(503, gin.H{
				"status":    "unhealthy",
				"error":     "database ping failed",
				"timestamp": time.Now().Unix(),
			})
			return
		}

		c.JSON(200, gin.H{
			"status":    "healthy",
			"database":  "connected",
			"timestamp": time.Now().Unix(),
		})
	}
}
