// ABOUTME: Messenger endpoints: webhook handshake and delivery, chat listing, outbound send
// ABOUTME: Also upgrades authenticated chat subscribers to WebSocket and registers them for pushes

package gateway

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/2389/helpdesk-gateway/internal/auth"
	"github.com/2389/helpdesk-gateway/internal/conversation"
	"github.com/2389/helpdesk-gateway/internal/metrics"
	"github.com/2389/helpdesk-gateway/internal/realtime"
	"github.com/2389/helpdesk-gateway/internal/webhook"
)

// maxWebhookBody caps a single webhook delivery.
const maxWebhookBody = 1 << 20

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (g *Gateway) handleWebhookVerify(c *gin.Context) {
	challenge, err := webhook.Handshake(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
		g.config.Facebook.VerifyToken,
	)
	if err != nil {
		g.logger.Warn("webhook handshake rejected", "mode", c.Query("hub.mode"))
		sendJSONError(c, http.StatusForbidden, "Verification failed")
		return
	}
	c.String(http.StatusOK, challenge)
}

func (g *Gateway) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.WebhookDeliveries.WithLabelValues("too_large").Inc()
			sendJSONError(c, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		metrics.WebhookDeliveries.WithLabelValues("malformed").Inc()
		sendJSONError(c, http.StatusBadRequest, "Failed to read body")
		return
	}

	if err := webhook.VerifySignature([]byte(g.config.Facebook.AppSecret), body, c.GetHeader(webhook.SignatureHeader)); err != nil {
		metrics.WebhookDeliveries.WithLabelValues("bad_signature").Inc()
		g.logger.Warn("webhook signature rejected", "error", err)
		sendJSONError(c, http.StatusForbidden, "Invalid signature")
		return
	}

	payload, err := webhook.Parse(body)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("malformed").Inc()
		sendJSONError(c, http.StatusBadRequest, "Invalid payload")
		return
	}
	if !payload.IsPage() {
		metrics.WebhookDeliveries.WithLabelValues("not_page").Inc()
		sendJSONError(c, http.StatusNotFound, "Unsupported webhook object")
		return
	}

	ctx := c.Request.Context()
	failed := 0
	for _, entry := range payload.Entries {
		for _, ev := range entry.Messaging {
			res, err := g.manager.RecordInbound(ctx, ev, entry.PageID)
			if err != nil {
				failed++
				g.logger.Error("recording inbound event",
					"page_id", entry.PageID,
					"kind", ev.Kind(),
					"error", err)
				continue
			}
			if res.Outcome == conversation.OutcomeDropped {
				g.logger.Debug("inbound event dropped", "page_id", entry.PageID, "reason", res.Reason)
			}
		}
	}

	if failed > 0 {
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		sendJSONError(c, http.StatusInternalServerError, "Failed to process webhook")
		return
	}
	metrics.WebhookDeliveries.WithLabelValues("accepted").Inc()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// chatID parses the :chat_id path parameter, writing 400 on failure.
func chatID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("chat_id"), 10, 64)
	if err != nil || id == 0 {
		sendJSONError(c, http.StatusBadRequest, "Invalid chat id")
		return 0, false
	}
	return uint(id), true
}

func (g *Gateway) handleListChats(c *gin.Context) {
	ctx := c.Request.Context()
	user := auth.MustFromContext(ctx)

	chats, err := g.manager.ListConversations(ctx, user.UserID)
	if err != nil {
		g.logger.Error("listing conversations", "user_id", user.UserID, "error", err)
		sendJSONError(c, http.StatusInternalServerError, "Failed to load chats")
		return
	}
	c.JSON(http.StatusOK, chats)
}

func (g *Gateway) handleListMessages(c *gin.Context) {
	id, ok := chatID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	user := auth.MustFromContext(ctx)

	msgs, err := g.manager.ListMessages(ctx, user.UserID, id)
	if errors.Is(err, conversation.ErrConversationNotFound) {
		sendJSONError(c, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		g.logger.Error("listing messages", "conversation_id", id, "error", err)
		sendJSONError(c, http.StatusInternalServerError, "Failed to load messages")
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (g *Gateway) handleSendMessage(c *gin.Context) {
	id, ok := chatID(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendJSONError(c, http.StatusBadRequest, "content is required")
		return
	}
	ctx := c.Request.Context()
	user := auth.MustFromContext(ctx)

	msg, err := g.manager.SendOutboundForUser(ctx, user.UserID, id, req.Content)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, msg)
	case errors.Is(err, conversation.ErrEmptyMessage):
		sendJSONError(c, http.StatusBadRequest, "content is required")
	case errors.Is(err, conversation.ErrConversationNotFound):
		sendJSONError(c, http.StatusNotFound, "Chat not found")
	case errors.Is(err, conversation.ErrUpstreamUnavailable):
		sendJSONError(c, http.StatusServiceUnavailable, "No active page connection")
	default:
		g.logger.Error("sending message", "conversation_id", id, "error", err)
		sendJSONError(c, http.StatusInternalServerError, "Failed to send message")
	}
}

func (g *Gateway) handleChatSocket(c *gin.Context) {
	id, ok := chatID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	user := auth.MustFromContext(ctx)

	if _, err := g.manager.Conversation(ctx, user.UserID, id); err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			sendJSONError(c, http.StatusNotFound, "Chat not found")
			return
		}
		g.logger.Error("loading conversation for socket", "conversation_id", id, "error", err)
		sendJSONError(c, http.StatusInternalServerError, "Failed to open chat")
		return
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		g.logger.Warn("websocket upgrade failed", "conversation_id", id, "error", err)
		c.Abort()
		return
	}

	conn := realtime.NewConn(ws, g.logger)
	g.registry.Subscribe(conn, id)
	conn.OnClose(func() { g.registry.Unsubscribe(conn, id) })

	g.logger.Info("chat subscriber connected",
		"conversation_id", id,
		"user_id", user.UserID,
		"conn_id", conn.ID(),
		"subscribers", g.registry.Len(id))
	conn.Serve(g.connCtx)
	g.logger.Info("chat subscriber disconnected", "conversation_id", id, "conn_id", conn.ID())
}
