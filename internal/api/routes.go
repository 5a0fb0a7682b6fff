// Package api exposes events, their tasks and results over HTTP.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/cankoe/rcon-event-scheduler/internal/generator"
	"github.com/cankoe/rcon-event-scheduler/internal/store"
	"github.com/cankoe/rcon-event-scheduler/internal/templates"
)

// TemplateSource lets event creation reject unknown config references.
type TemplateSource interface {
	Load(ref string) (*templates.Template, error)
}

type Deps struct {
	Store     store.Store
	Events    *generator.Service
	Templates TemplateSource
}

// RegisterRoutes registers the event routes under /api.
func RegisterRoutes(r *gin.Engine, d Deps) {
	group := r.Group("/api")

	group.POST("/events", createEventHandler(d))
	group.GET("/events", func(c *gin.Context) {
		limit, page := getPaginationParams(c)
		events, err := d.Store.ListEvents(c.Request.Context(), toPage(limit, page))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": nonNil(events), "page": page, "limit": limit})
	})

	group.GET("/events/:id", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		ev, err := d.Store.GetEvent(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, ev)
	})

	group.GET("/events/:id/tasks", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		if _, err := d.Store.GetEvent(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		handleListTasks(c, d.Store, id)
	})

	group.GET("/events/:id/winners", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		winners, err := d.Store.ListWinners(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"winners": nonNil(winners)})
	})

	group.GET("/events/:id/notifications", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		sent, err := d.Store.ListNotifications(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"notifications": nonNil(sent)})
	})

	group.GET("/tasks", func(c *gin.Context) {
		handleListTasks(c, d.Store, 0)
	})
}

func createEventHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req generator.CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Error().Err(err).Str("route", "POST /api/events").Msg("Invalid request body")
			c.JSON(http.StatusBadRequest, gin.H{"error": &ApiError{
				Code:    ErrCodeInvalidRequest,
				Message: "Invalid request body. Ensure the JSON structure matches the required format.",
			}})
			return
		}

		if d.Templates != nil {
			if _, err := d.Templates.Load(req.ConfigRef); err != nil {
				log.Warn().Err(err).Str("config_ref", req.ConfigRef).Msg("Unknown or invalid event template")
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": &ApiError{
					Code:    ErrCodeValidationFailed,
					Message: "config_ref does not name a valid event template",
				}})
				return
			}
		}

		ev, tasks, err := d.Events.CreateEvent(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"event": ev, "tasks": nonNil(tasks)})
	}
}

func handleListTasks(c *gin.Context, st store.Store, eventID int64) {
	limit, page := getPaginationParams(c)
	pending, _ := strconv.ParseBool(c.Query("pending"))
	tasks, err := st.ListTasks(c.Request.Context(), store.TaskFilter{
		EventID:     eventID,
		PendingOnly: pending,
		Page:        toPage(limit, page),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": nonNil(tasks), "page": page, "limit": limit})
}

func respondError(c *gin.Context, err error) {
	statusCode, apiErr := mapErrorToStatusCode(err)
	if statusCode >= http.StatusInternalServerError {
		log.Error().Err(err).Str("route", c.FullPath()).Msg("Request failed")
	}
	c.JSON(statusCode, gin.H{"error": apiErr})
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": &ApiError{Code: ErrCodeInvalidRequest, Message: "Invalid id format"}})
		return 0, false
	}
	return id, true
}

func getPaginationParams(c *gin.Context) (int, int) {
	const defaultLimit = 10
	const maxLimit = 200
	const defaultPage = 1

	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page <= 0 {
		page = defaultPage
	}
	return limit, page
}

func toPage(limit, page int) store.Page {
	return store.Page{Limit: limit, Offset: (page - 1) * limit}
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
