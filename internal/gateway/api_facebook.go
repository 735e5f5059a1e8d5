// ABOUTME: Page connection endpoints: OAuth dialog URL, connect, disconnect, and status
// ABOUTME: Connect trades the OAuth code for a page token and upserts the (page, user) row

package gateway

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/2389/helpdesk-gateway/internal/auth"
	"github.com/2389/helpdesk-gateway/internal/graph"
	"github.com/2389/helpdesk-gateway/internal/store"
)

var errNoPages = errors.New("no pages found for the authorizing account")

type connectRequest struct {
	Code        string `json:"code" binding:"required"`
	RedirectURI string `json:"redirect_uri" binding:"required"`
}

type connectResponse struct {
	Success bool                  `json:"success"`
	Page    *store.PageConnection `json:"page"`
	Message string                `json:"message"`
}

type connectionResponse struct {
	Connected   int                   `json:"connected"`
	Page        *store.PageConnection `json:"page"`
	LastChecked float64               `json:"last_checked"`
}

// newOAuthState returns a random url-safe token for the OAuth state parameter.
func newOAuthState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (g *Gateway) handleFacebookAuthURL(c *gin.Context) {
	redirectURI := c.Query("redirect_uri")
	if redirectURI == "" {
		sendJSONError(c, http.StatusBadRequest, "redirect_uri is required")
		return
	}
	state, err := newOAuthState()
	if err != nil {
		sendJSONError(c, http.StatusInternalServerError, "Failed to generate state")
		return
	}
	c.JSON(http.StatusOK, gin.H{"auth_url": g.graph.AuthURL(redirectURI, state)})
}

func (g *Gateway) handleFacebookConnect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendJSONError(c, http.StatusBadRequest, "code and redirect_uri are required")
		return
	}
	ctx := c.Request.Context()
	user := auth.MustFromContext(ctx)

	page, err := g.fetchFirstPage(ctx, req)
	if err != nil {
		g.logger.Warn("page connect failed", "user_id", user.UserID, "error", err)
		sendJSONError(c, http.StatusBadRequest, upstreamDetail(err))
		return
	}

	existing, err := g.store.GetPageConnection(ctx, page.ID, user.UserID)
	switch {
	case err == nil && existing.IsActive:
		c.JSON(http.StatusOK, connectResponse{Success: true, Message: "Page already connected"})
		return

	case err == nil:
		if err := g.store.ReactivatePageConnection(ctx, existing, page.AccessToken); err != nil {
			g.logger.Error("reactivating page", "page_id", page.ID, "error", err)
			sendJSONError(c, http.StatusInternalServerError, "Failed to connect page")
			return
		}
		g.logger.Info("page reconnected", "page_id", page.ID, "user_id", user.UserID)
		c.JSON(http.StatusOK, connectResponse{Success: true, Page: existing, Message: "Page reconnected successfully"})
		return

	case !errors.Is(err, store.ErrNotFound):
		g.logger.Error("loading page connection", "page_id", page.ID, "error", err)
		sendJSONError(c, http.StatusInternalServerError, "Failed to connect page")
		return
	}

	conn := &store.PageConnection{
		PageID:      page.ID,
		UserID:      user.UserID,
		Name:        page.Name,
		AccessToken: page.AccessToken,
		IsActive:    true,
	}
	if page.PictureURL != "" {
		pic := page.PictureURL
		conn.PictureURL = &pic
	}
	if err := g.store.CreatePageConnection(ctx, conn); err != nil {
		g.logger.Error("creating page connection", "page_id", page.ID, "error", err)
		sendJSONError(c, http.StatusInternalServerError, "Failed to connect page")
		return
	}

	g.logger.Info("page connected", "page_id", page.ID, "user_id", user.UserID)
	c.JSON(http.StatusOK, connectResponse{Success: true, Page: conn, Message: "Page connected successfully"})
}

// fetchFirstPage runs code -> short token -> long-lived token -> pages and
// returns the first page.
func (g *Gateway) fetchFirstPage(ctx context.Context, req connectRequest) (*graph.Page, error) {
	short, err := g.graph.ExchangeCode(ctx, req.Code, req.RedirectURI)
	if err != nil {
		return nil, err
	}
	long, err := g.graph.LongLivedToken(ctx, short.AccessToken)
	if err != nil {
		return nil, err
	}
	pages, err := g.graph.Pages(ctx, long.AccessToken)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, errNoPages
	}
	return &pages[0], nil
}

// upstreamDetail renders a platform failure for the client.
func upstreamDetail(err error) string {
	if errors.Is(err, errNoPages) {
		return "No Facebook pages found"
	}
	var apiErr *graph.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

func (g *Gateway) handleFacebookDisconnect(c *gin.Context) {
	ctx := c.Request.Context()
	user := auth.MustFromContext(ctx)
	pageID := c.Param("page_id")

	page, err := g.store.GetActivePageConnection(ctx, pageID, user.UserID)
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(c, http.StatusNotFound, "Facebook page not found or already disconnected")
		return
	}
	if err != nil {
		g.logger.Error("loading page connection", "page_id", pageID, "error", err)
		sendJSONError(c, http.StatusInternalServerError, "Failed to disconnect page")
		return
	}

	if g.config.Facebook.RevokeOnDisconnect {
		if err := g.graph.RevokePage(ctx, page.PageID, page.AccessToken); err != nil {
			g.logger.Warn("revoking page permissions", "page_id", pageID, "error", err)
			sendJSONError(c, http.StatusBadRequest, "Failed to disconnect page")
			return
		}
	}

	err = g.store.DeactivatePageConnection(ctx, pageID, user.UserID)
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(c, http.StatusNotFound, "Facebook page not found or already disconnected")
		return
	}
	if err != nil {
		g.logger.Error("deactivating page", "page_id", pageID, "error", err)
		sendJSONError(c, http.StatusInternalServerError, "Failed to disconnect page")
		return
	}

	g.logger.Info("page disconnected", "page_id", pageID, "user_id", user.UserID)
	c.JSON(http.StatusOK, connectResponse{Success: true, Message: "Page disconnected successfully"})
}

func (g *Gateway) handleFacebookConnection(c *gin.Context) {
	ctx := c.Request.Context()
	user := auth.MustFromContext(ctx)

	resp := connectionResponse{LastChecked: float64(g.now().UnixNano()) / 1e9}
	page, err := g.store.LatestActivePage(ctx, user.UserID)
	switch {
	case err == nil:
		resp.Connected = 1
		resp.Page = page
	case !errors.Is(err, store.ErrNotFound):
		g.logger.Error("loading page connection", "user_id", user.UserID, "error", err)
		sendJSONError(c, http.StatusInternalServerError, "Failed to load connection")
		return
	}
	c.JSON(http.StatusOK, resp)
}
