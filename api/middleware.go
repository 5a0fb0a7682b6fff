// Package api holds the HTTP middleware shared by the admin API server.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const RequestIDHeader = "X-Request-ID"

// APIKeyMiddleware rejects requests whose X-API-KEY header does not match apiKey.
// An empty apiKey disables the check.
func APIKeyMiddleware(apiKey string, isAdmin bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Set("isAdmin", isAdmin)
			c.Next()
			return
		}
		providedKey := c.GetHeader("X-API-KEY")
		if providedKey == "" || providedKey != apiKey {
			log.Warn().Str("middleware", "APIKeyMiddleware").Str("path", c.FullPath()).Msg("Invalid or missing API key")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or missing API key"})
			c.Abort()
			return
		}

		c.Set("isAdmin", isAdmin)
		log.Debug().Bool("isAdmin", isAdmin).Msg("API key validated, proceeding with request")
		c.Next()
	}
}

// RequestLogger logs one line per request and tags it with a request id.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(RequestIDHeader, reqID)
		c.Set("request_id", reqID)

		c.Next()

		status := c.Writer.Status()
		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}
		ev.Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
