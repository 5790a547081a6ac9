package messages

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/realtime"
	registryroute "github.com/chirino/chat-service/internal/registry/route"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 110,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts message routes on the given router.
func MountRoutes(r *gin.Engine, store registrystore.ChatStore, dispatcher *realtime.Dispatcher, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.GET("/conversations/:conversationId/messages", func(c *gin.Context) {
		listMessages(c, store)
	})
	g.POST("/conversations/:conversationId/messages", func(c *gin.Context) {
		sendMessage(c, store, dispatcher)
	})
	g.GET("/messages/:messageId", func(c *gin.Context) {
		getMessage(c, store)
	})
}

func listMessages(c *gin.Context, store registrystore.ChatStore) {
	userID := security.GetUserID(c)
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}

	var beforeSeq *int64
	if v := c.Query("cursor"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid cursor", "field": "cursor"})
			return
		}
		beforeSeq = &seq
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	page, err := store.GetMessages(c.Request.Context(), userID, convID, beforeSeq, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func sendMessage(c *gin.Context, store registrystore.ChatStore, dispatcher *realtime.Dispatcher) {
	userID := security.GetUserID(c)
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}

	var req registrystore.NewMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := store.AppendMessage(c.Request.Context(), convID, userID, req)
	if err != nil {
		handleError(c, err)
		return
	}

	// The append is durable at this point. Unread bookkeeping and the
	// realtime fan-out run after it and are not part of the transaction;
	// the repair sweep reconciles counters if the increment is lost.
	if err := store.IncrementUnread(c.Request.Context(), convID, userID); err != nil {
		log.Warn("Unread increment failed after append", "conversation", convID, "err", err)
	}
	if dispatcher != nil {
		dispatcher.PublishMessage(c.Request.Context(), msg)
	}

	c.JSON(http.StatusCreated, msg)
}

func getMessage(c *gin.Context, store registrystore.ChatStore) {
	userID := security.GetUserID(c)
	msgID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "message not found"})
		return
	}

	msg, err := store.GetMessage(c.Request.Context(), userID, msgID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
