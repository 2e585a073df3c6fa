package relay

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by the OriginFilter middleware.
		return true
	},
}

// NewRouter builds the relay's HTTP surface: a health probe and the
// per-room websocket upgrade endpoint. A request to the upgrade path
// without the upgrade capability is rejected with a client-error status
// (the upgrader replies 400 before we ever see an error).
func NewRouter(registry *Registry, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(OriginFilter(allowedOrigins))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/rooms/:room/ws", func(c *gin.Context) {
		roomName := c.Param("room")
		if roomName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "room name is required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the client-error response.
			slog.Debug("websocket upgrade rejected", "err", err, "room", roomName)
			return
		}

		p := registry.Accept(roomName, conn)
		slog.Debug("participant accepted", "room", roomName, "participant", p.ID())
	})

	return router
}

// OriginFilter restricts websocket and API access to the configured origins.
// An empty allow-list permits everything, which suits local deployments and
// tests. Browserless clients send no Origin header and are always admitted.
func OriginFilter(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || len(allowedOrigins) == 0 {
			c.Next()
			return
		}

		for _, allowed := range allowedOrigins {
			if origin == allowed {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
	}
}
