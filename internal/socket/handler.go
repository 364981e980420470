package socket

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"marketplace-rtc/internal/auth"
	"marketplace-rtc/internal/directory"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Token auth gates the handshake; origin checks add nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades authenticated requests to realtime connections.
// Authentication happens before the upgrade so a bad token costs a plain
// 401 instead of a dropped socket.
func Handler(hub *Hub, authMgr *auth.Manager, dir directory.Directory, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := auth.TokenFromRequest(c.Request)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := authMgr.Verify(tok, auth.TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		user, err := dir.Lookup(c.Request.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
				return
			}
			log.Error("directory lookup failed", "user_id", claims.UserID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error response.
			log.Debug("upgrade failed", "err", err)
			return
		}

		client := newClient(uuid.NewString(), user, hub, ws, log)
		hub.register(client)

		go client.writePump()
		go client.readPump()
	}
}
