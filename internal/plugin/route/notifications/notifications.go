package notifications

import (
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/realtime"
	registryroute "github.com/chirino/chat-service/internal/registry/route"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 120,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts the unread-counts endpoint and the WebSocket
// upgrade endpoint. The WebSocket endpoint authenticates on its own so
// browser clients can pass the bearer token as a query parameter.
func MountRoutes(r *gin.Engine, store registrystore.ChatStore, dispatcher *realtime.Dispatcher, presence *realtime.Presence, resolver *security.TokenResolver, cfg *config.Config, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)
	g.GET("/notifications/unread-counts", func(c *gin.Context) {
		unreadCounts(c, store)
	})

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Cross-origin policy is enforced by the bearer token, not the
		// Origin header.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	r.GET("/v1/ws", func(c *gin.Context) {
		serveWS(c, store, dispatcher, presence, resolver, cfg, &upgrader)
	})
}

func unreadCounts(c *gin.Context, store registrystore.ChatStore) {
	userID := security.GetUserID(c)
	counts, err := store.UnreadCounts(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	out := gin.H{}
	for _, uc := range counts {
		out[uc.ConversationID.String()] = uc.Count
	}
	c.JSON(http.StatusOK, gin.H{"unreadCounts": out})
}

func serveWS(c *gin.Context, store registrystore.ChatStore, dispatcher *realtime.Dispatcher, presence *realtime.Presence, resolver *security.TokenResolver, cfg *config.Config, upgrader *websocket.Upgrader) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	id, err := resolver.Resolve(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	if _, err := store.EnsureUser(c.Request.Context(), id.UserID, id.KahaID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Debug("WebSocket upgrade failed", "user", id.UserID, "err", err)
		return
	}

	client := realtime.NewClient(sock, id.UserID, dispatcher, presence, cfg)
	// Run blocks for the connection's lifetime. The request context is
	// tied to the underlying connection, so client frames dispatch with it.
	client.Run(c.Request.Context())
}
