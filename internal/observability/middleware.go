package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// UnmatchedRoute labels admin requests that hit no registered route, so stray
// paths do not grow the metric label set.
const UnmatchedRoute = "unmatched"

// AdminRoute is the registered route pattern for c, or UnmatchedRoute.
func AdminRoute(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return UnmatchedRoute
}

// AdminAccessLog logs each admin request against server. Scrapes of /metrics
// log at trace level.
func AdminAccessLog(logger zerolog.Logger, server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := AdminRoute(c)
		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case route == "/metrics":
			event = logger.Trace()
		default:
			event = logger.Debug()
		}
		event.
			Str("server", server).
			Str("route", route).
			Str("url", c.Request.URL.Path).
			Int("status", status).
			Dur("took", time.Since(start)).
			Str("peer", c.ClientIP()).
			Msg("admin request")
	}
}

// AdminMetrics records admin request counts and latency by route.
func AdminMetrics(server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(server, c.Request.Method, AdminRoute(c), c.Writer.Status(), time.Since(start))
	}
}
