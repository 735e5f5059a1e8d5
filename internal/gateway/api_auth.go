// ABOUTME: Account endpoints: register, login, current user, and a protected probe
// ABOUTME: Passwords are bcrypt hashed; login issues a JWT whose subject is the user's UUID

package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/2389/helpdesk-gateway/internal/auth"
	"github.com/2389/helpdesk-gateway/internal/store"
)

type registerRequest struct {
	Email    string  `json:"email" binding:"required,email"`
	Password string  `json:"password" binding:"required"`
	FullName *string `json:"full_name"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (g *Gateway) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendJSONError(c, http.StatusBadRequest, "A valid email and password are required")
		return
	}
	switch err := auth.ValidatePassword(req.Password); {
	case errors.Is(err, auth.ErrPasswordTooShort):
		sendJSONError(c, http.StatusBadRequest, fmt.Sprintf("Password must be at least %d characters", auth.MinPasswordLength))
		return
	case errors.Is(err, auth.ErrPasswordTooLong):
		sendJSONError(c, http.StatusBadRequest, fmt.Sprintf("Password must be at most %d bytes", auth.MaxPasswordLength))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		g.logger.Error("hashing password", "error", err)
		sendJSONError(c, http.StatusInternalServerError, "Failed to create user")
		return
	}

	user := &store.User{
		UUID:         uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     trimmedOrNil(req.FullName),
		IsActive:     true,
	}
	err = g.store.CreateUser(c.Request.Context(), user)
	if errors.Is(err, store.ErrDuplicateEmail) {
		sendJSONError(c, http.StatusBadRequest, "Email already registered")
		return
	}
	if err != nil {
		g.logger.Error("creating user", "error", err)
		sendJSONError(c, http.StatusInternalServerError, "Failed to create user")
		return
	}

	g.logger.Info("user registered", "user_id", user.ID)
	c.JSON(http.StatusCreated, user)
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func (g *Gateway) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendJSONError(c, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := auth.Authenticate(c.Request.Context(), g.store, store.NormalizeEmail(req.Email), req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.Header("WWW-Authenticate", "Bearer")
		sendJSONError(c, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	if err != nil {
		g.logger.Error("authenticating user", "error", err)
		sendJSONError(c, http.StatusInternalServerError, "Login failed")
		return
	}

	token, err := g.verifier.Generate(user.UUID, g.config.Auth.TokenExpire)
	if err != nil {
		g.logger.Error("signing token", "error", err)
		sendJSONError(c, http.StatusInternalServerError, "Login failed")
		return
	}
	c.JSON(http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (g *Gateway) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, auth.MustFromContext(c.Request.Context()).User)
}

func (g *Gateway) handleProtected(c *gin.Context) {
	a := auth.MustFromContext(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Hello %s, this is a protected route!", a.Email),
		"user_id": a.UserID,
	})
}
