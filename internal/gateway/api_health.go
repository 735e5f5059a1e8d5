// ABOUTME: Service banner and health check endpoints
// ABOUTME: /health pings the database with a short timeout and reports 503 when it fails

package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/2389/helpdesk-gateway/internal/store"
)

const healthPingTimeout = 2 * time.Second

func databaseLabel(driver string) string {
	if driver == store.DriverPostgres {
		return "PostgreSQL"
	}
	return "SQLite"
}

func (g *Gateway) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":  "Facebook Helpdesk API",
		"version":  Version,
		"database": databaseLabel(g.store.Driver()),
	})
}

func (g *Gateway) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Error("health check failed", "error", err)
		sendJSONError(c, http.StatusServiceUnavailable, "Database connection failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "healthy",
		"version":  Version,
	})
}
