// ABOUTME: gin engine construction: middleware stack and route table
// ABOUTME: Public webhook/health routes, JWT-protected REST routes, and the WebSocket route

package gateway

import (
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/2389/helpdesk-gateway/internal/auth"
	"github.com/2389/helpdesk-gateway/internal/metrics"
)

func (g *Gateway) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(g.logger))
	r.Use(requestMetrics())
	r.Use(cors.New(corsConfig(g.config.CORS.AllowedOrigins)))

	r.GET("/", g.handleRoot)
	r.GET("/health", g.handleHealth)
	if g.config.Metrics.Enabled {
		r.GET(g.config.Metrics.Path, gin.WrapH(metrics.Handler()))
	}

	requireUser := auth.RequireUser(g.store, g.verifier, g.logger)

	authAPI := r.Group("/api/v1/auth")
	{
		authAPI.POST("/register", g.handleRegister)
		authAPI.POST("/login", g.handleLogin)
		authAPI.GET("/me", requireUser, g.handleMe)
		authAPI.GET("/protected", requireUser, g.handleProtected)
	}

	fb := r.Group("/facebook", requireUser)
	{
		fb.GET("/auth", g.handleFacebookAuthURL)
		fb.POST("/connect", g.handleFacebookConnect)
		fb.POST("/disconnect/:page_id", g.handleFacebookDisconnect)
		fb.GET("/connection", g.handleFacebookConnection)
	}

	messenger := r.Group("/api/messenger")
	{
		messenger.GET("/webhook", g.handleWebhookVerify)
		messenger.POST("/webhook", g.handleWebhook)

		messenger.GET("/chats", requireUser, g.handleListChats)
		messenger.GET("/chats/:chat_id/messages", requireUser, g.handleListMessages)
		messenger.POST("/chats/:chat_id/messages", requireUser, g.handleSendMessage)
		messenger.GET("/chats/:chat_id/ws", auth.RequireUserWS(g.store, g.verifier, g.logger), g.handleChatSocket)
	}

	return r
}

// corsConfig allows credentials from the listed origins. An empty list or
// "*" allows every origin without credentials.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

// requestLogger writes one slog line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", time.Since(start),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("HTTP request", attrs...)
		case status >= http.StatusBadRequest:
			logger.Warn("HTTP request", attrs...)
		default:
			logger.Debug("HTTP request", attrs...)
		}
	}
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// sendJSONError aborts the request with {"detail": message}.
func sendJSONError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": message})
}
