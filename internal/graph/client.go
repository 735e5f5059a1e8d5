// ABOUTME: Messaging platform API client: OAuth dialog/code exchange plus Graph REST calls
// ABOUTME: Uses x/oauth2 for the authorization code flow and resty for everything else

package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
)

// Defaults for the public platform endpoints.
const (
	DefaultBaseURL   = "https://graph.facebook.com/v18.0"
	DefaultDialogURL = "https://www.facebook.com/v18.0/dialog/oauth"
	DefaultTimeout   = 10 * time.Second
)

// PageScopes are the permissions requested when connecting a page.
const PageScopes = "pages_manage_metadata,pages_messaging"

// Config configures a Client.
type Config struct {
	AppID     string
	AppSecret string
	BaseURL   string
	DialogURL string
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Client talks to the messaging platform.
type Client struct {
	appID     string
	appSecret string
	baseURL   string
	dialogURL string
	http      *resty.Client
	logger    *slog.Logger
}

// New creates a client. Zero-valued fields fall back to the public defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.DialogURL == "" {
		cfg.DialogURL = DefaultDialogURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		baseURL:   baseURL,
		dialogURL: cfg.DialogURL,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(cfg.Timeout).
			SetHeader("Accept", "application/json"),
		logger: logger.With("component", "graph"),
	}
}

// Page is a page the authorizing user manages, with its page access token.
type Page struct {
	ID          string
	Name        string
	AccessToken string
	PictureURL  string
}

// Profile is the public profile of a page-scoped participant.
type Profile struct {
	Name       string
	ProfilePic string
}

// Token is an access token returned by the platform.
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int64
}

func (c *Client) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.appID,
		ClientSecret: c.appSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{PageScopes},
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.dialogURL,
			TokenURL:  c.baseURL + "/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthURL returns the OAuth dialog URL the browser should be sent to.
func (c *Client) AuthURL(redirectURI, state string) string {
	return c.oauthConfig(redirectURI).AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for a short-lived user token.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http.GetClient())
	tok, err := c.oauthConfig(redirectURI).Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, apiErrorFromBody(re.Response.StatusCode, re.Body, "failed to get access token")
		}
		return nil, fmt.Errorf("%w: exchanging code: %v", ErrUpstream, err)
	}
	var expiresIn int64
	if !tok.Expiry.IsZero() {
		expiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	return &Token{AccessToken: tok.AccessToken, TokenType: tok.TokenType, ExpiresIn: expiresIn}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// LongLivedToken exchanges a short-lived user token for a long-lived one.
func (c *Client) LongLivedToken(ctx context.Context, shortToken string) (*Token, error) {
	var out tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"grant_type":        "fb_exchange_token",
			"client_id":         c.appID,
			"client_secret":     c.appSecret,
			"fb_exchange_token": shortToken,
		}).
		SetResult(&out).
		Get("/oauth/access_token")
	if err := c.check(resp, err, "failed to get long-lived token"); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, &APIError{Status: resp.StatusCode(), Message: "failed to get long-lived token"}
	}
	return &Token{AccessToken: out.AccessToken, TokenType: out.TokenType, ExpiresIn: out.ExpiresIn}, nil
}

type accountsResponse struct {
	Data []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		AccessToken string `json:"access_token"`
		Picture     struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	} `json:"data"`
}

// Pages lists the pages managed by the holder of userToken.
func (c *Client) Pages(ctx context.Context, userToken string) ([]Page, error) {
	var out accountsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"access_token": userToken,
			"fields":       "access_token,name,id,picture",
		}).
		SetResult(&out).
		Get("/me/accounts")
	if err := c.check(resp, err, "failed to get page access token"); err != nil {
		return nil, err
	}

	pages := make([]Page, 0, len(out.Data))
	for _, d := range out.Data {
		pages = append(pages, Page{
			ID:          d.ID,
			Name:        d.Name,
			AccessToken: d.AccessToken,
			PictureURL:  d.Picture.Data.URL,
		})
	}
	return pages, nil
}

type profileResponse struct {
	Name       string `json:"name"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	ProfilePic string `json:"profile_pic"`
}

// UserProfile fetches a participant's display name using a page token.
func (c *Client) UserProfile(ctx context.Context, psid, pageToken string) (*Profile, error) {
	var out profileResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"access_token": pageToken,
			"fields":       "name,profile_pic",
		}).
		SetResult(&out).
		Get("/" + url.PathEscape(psid))
	if err := c.check(resp, err, "failed to get user profile"); err != nil {
		return nil, err
	}

	name := out.Name
	if name == "" {
		name = strings.TrimSpace(out.FirstName + " " + out.LastName)
	}
	return &Profile{Name: name, ProfilePic: out.ProfilePic}, nil
}

type sendRequest struct {
	MessagingType string `json:"messaging_type"`
	Recipient     struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

type sendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// SendText sends a text reply to recipientID and returns the platform
// message id.
func (c *Client) SendText(ctx context.Context, pageToken, recipientID, text string) (string, error) {
	body := sendRequest{MessagingType: "RESPONSE"}
	body.Recipient.ID = recipientID
	body.Message.Text = text

	var out sendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("access_token", pageToken).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/me/messages")
	if err := c.check(resp, err, "failed to send message"); err != nil {
		return "", err
	}
	if out.MessageID == "" {
		return "", &APIError{Status: resp.StatusCode(), Message: "send response missing message_id"}
	}

	c.logger.Debug("message sent", "recipient", recipientID, "message_id", out.MessageID)
	return out.MessageID, nil
}

// RevokePage removes the app's permissions for a page.
func (c *Client) RevokePage(ctx context.Context, pageID, pageToken string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("access_token", pageToken).
		Delete("/" + url.PathEscape(pageID) + "/permissions")
	return c.check(resp, err, "failed to revoke page permissions")
}

// check converts transport failures and non-2xx responses into errors
// matching ErrUpstream.
func (c *Client) check(resp *resty.Response, err error, fallback string) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUpstream, fallback, err)
	}
	if resp.IsError() {
		apiErr := apiErrorFromBody(resp.StatusCode(), resp.Body(), fallback)
		c.logger.Warn("platform API error",
			"op", fallback,
			"status", apiErr.Status,
			"code", apiErr.Code,
			"error", apiErr.Message)
		return apiErr
	}
	return nil
}
