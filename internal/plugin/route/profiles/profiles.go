package profiles

import (
	"net/http"
	"strings"

	"github.com/chirino/chat-service/internal/profile"
	registryroute "github.com/chirino/chat-service/internal/registry/route"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 130,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after cache init
		},
	})
}

// MountRoutes mounts the batch profile lookup endpoint. Lookups go
// through the cache and never fail hard on external outages.
func MountRoutes(r *gin.Engine, cache *profile.Cache, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)
	g.GET("/profiles", func(c *gin.Context) {
		getProfiles(c, cache)
	})
}

func getProfiles(c *gin.Context, cache *profile.Cache) {
	userUUIDs := splitParam(c.Query("userUuids"))
	businessUUIDs := splitParam(c.Query("businessUuids"))
	if len(userUUIDs) == 0 && len(businessUUIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "userUuids or businessUuids is required"})
		return
	}

	resolved, err := cache.BatchFetch(c.Request.Context(), userUUIDs, businessUUIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": resolved})
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
