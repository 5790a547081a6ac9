package conversations

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/profile"
	registryroute "github.com/chirino/chat-service/internal/registry/route"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 100,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts conversation routes on the given router.
// Called after store initialization so the store is available.
func MountRoutes(r *gin.Engine, store registrystore.ChatStore, profiles *profile.Cache, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.POST("/conversations/direct", func(c *gin.Context) {
		createDirect(c, store)
	})
	g.POST("/conversations/group", func(c *gin.Context) {
		createGroup(c, store)
	})
	g.POST("/conversations/business", func(c *gin.Context) {
		createBusiness(c, store)
	})
	g.GET("/conversations", func(c *gin.Context) {
		listConversations(c, store, profiles)
	})
	g.GET("/conversations/:conversationId", func(c *gin.Context) {
		getConversation(c, store)
	})
}

func createDirect(c *gin.Context, store registrystore.ChatStore) {
	userID := security.GetUserID(c)
	var req struct {
		TargetUserID string `json:"targetUserId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TargetUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "targetUserId is required", "field": "targetUserId"})
		return
	}

	conv, created, err := store.CreateDirectConversation(c.Request.Context(), userID, req.TargetUserID)
	if err != nil {
		handleError(c, err)
		return
	}
	// Requesting an already-existing pair is not an error; the existing
	// conversation comes back with 200 instead of 201.
	if created {
		c.JSON(http.StatusCreated, conv)
	} else {
		c.JSON(http.StatusOK, conv)
	}
}

func createGroup(c *gin.Context, store registrystore.ChatStore) {
	userID := security.GetUserID(c)
	var req struct {
		ParticipantIDs []string `json:"participantIds"`
		Name           string   `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := store.CreateGroupConversation(c.Request.Context(), userID, req.ParticipantIDs, req.Name)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func createBusiness(c *gin.Context, store registrystore.ChatStore) {
	userID := security.GetUserID(c)
	var req struct {
		BusinessID     string                    `json:"businessId"`
		InitialMessage *registrystore.NewMessage `json:"initialMessage"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.BusinessID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "businessId is required", "field": "businessId"})
		return
	}

	conv, initial, err := store.CreateBusinessConversation(c.Request.Context(), userID, req.BusinessID, req.InitialMessage)
	if err != nil {
		handleError(c, err)
		return
	}
	resp := gin.H{"conversation": conv}
	if initial != nil {
		resp["initialMessage"] = initial
	}
	c.JSON(http.StatusCreated, resp)
}

func listConversations(c *gin.Context, store registrystore.ChatStore, profiles *profile.Cache) {
	userID := security.GetUserID(c)

	summaries, err := store.ListConversations(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}

	resp := gin.H{"data": summaries}
	if enriched := resolveProfiles(c, profiles, summaries); enriched != nil {
		resp["profiles"] = enriched
	}
	c.JSON(http.StatusOK, resp)
}

// resolveProfiles collects the participant identities across the listed
// conversations and resolves them through the profile cache. Resolution
// is best effort; a nil result means the list goes out without display
// data.
func resolveProfiles(c *gin.Context, profiles *profile.Cache, summaries []registrystore.ConversationSummary) map[string]json.RawMessage {
	if profiles == nil {
		return nil
	}
	var userIDs, businessIDs []string
	seen := map[string]bool{}
	for _, s := range summaries {
		for _, pid := range s.ParticipantIDs {
			if seen[pid] {
				continue
			}
			seen[pid] = true
			if businessID, ok := model.ParseBusinessParticipantID(pid); ok {
				businessIDs = append(businessIDs, businessID)
			} else {
				userIDs = append(userIDs, pid)
			}
		}
	}
	resolved, err := profiles.BatchFetch(c.Request.Context(), userIDs, businessIDs)
	if err != nil {
		return nil
	}
	return resolved
}

func getConversation(c *gin.Context, store registrystore.ChatStore) {
	userID := security.GetUserID(c)
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}

	conv, err := store.GetConversation(c.Request.Context(), userID, convID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
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
