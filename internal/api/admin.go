package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	mw "github.com/cankoe/rcon-event-scheduler/api"
	"github.com/cankoe/rcon-event-scheduler/internal/store"
)

// RegisterAdminRoutes registers destructive and operational routes behind the admin key.
func RegisterAdminRoutes(r *gin.Engine, st store.Store, adminAPIKey string) {
	adminGroup := r.Group("/admin", mw.APIKeyMiddleware(adminAPIKey, true))
	{
		adminGroup.DELETE("/events/:id", purgeEventHandler(st))
		adminGroup.DELETE("/tasks/:id", deletePendingTaskHandler(st))
		adminGroup.GET("/health", healthHandler(st))
	}
}

func purgeEventHandler(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		if err := st.DeleteEvent(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		log.Info().Str("route", "DELETE /admin/events/:id").Int64("event_id", id).Msg("Event and its tasks purged")
		c.JSON(http.StatusOK, gin.H{"message": "Event and associated tasks deleted."})
	}
}

func deletePendingTaskHandler(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		if err := st.DeletePendingTask(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		log.Info().Str("route", "DELETE /admin/tasks/:id").Int64("task_id", id).Msg("Pending task deleted")
		c.JSON(http.StatusOK, gin.H{"message": "Pending task deleted."})
	}
}

func healthHandler(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := st.Ping(c.Request.Context()); err != nil {
			log.Error().Err(err).Str("route", "GET /admin/health").Msg("Store ping failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
