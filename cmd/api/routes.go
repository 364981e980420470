package main

import (
	"log/slog"
	"net/http"
	"time"

	"marketplace-rtc/internal/auth"
	"marketplace-rtc/internal/config"
	"marketplace-rtc/internal/directory"
	"marketplace-rtc/internal/history"
	"marketplace-rtc/internal/presence"
	"marketplace-rtc/internal/socket"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	cfg      config.Config
	log      *slog.Logger
	auth     *auth.Manager
	dir      directory.Directory
	hub      *socket.Hub
	history  history.Handlers
	registry *presence.Registry
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Realtime endpoint. Auth happens inside the handler, before the
	// upgrade, so browsers can pass the token as a query parameter.
	r.GET("/ws", socket.Handler(d.hub, d.auth, d.dir, d.log))

	// Token issuance for non-production environments. The marketplace's
	// account service issues real tokens; this exists so local stacks and
	// integration tests can mint one without it.
	if !d.cfg.IsProduction() {
		r.POST("/auth/dev-token", func(c *gin.Context) {
			var req struct {
				UserID string `json:"user_id"`
			}
			if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
				return
			}
			user, err := d.dir.Lookup(c.Request.Context(), req.UserID)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown user"})
				return
			}
			pair, err := d.auth.IssuePair(time.Now(), user.ID, user.Name, user.Role)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
		})
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.auth))
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			name, _ := auth.Name(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "name": name, "role": role})
		})

		// Presence check for pages that show call buttons.
		v1.GET("/presence/:user_id", func(c *gin.Context) {
			userID := c.Param("user_id")
			c.JSON(200, gin.H{"user_id": userID, "is_online": d.registry.IsOnline(userID)})
		})

		// CALL HISTORY routes
		calls := v1.Group("/calls")
		{
			calls.GET("/history", d.history.ListCalls)
			calls.GET("/:id", d.history.GetCall)
		}
	}
}
