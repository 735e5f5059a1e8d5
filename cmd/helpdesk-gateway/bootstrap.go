// ABOUTME: bootstrap command: writes a starter config if none exists and creates the first agent
// ABOUTME: Prints a bearer token for the new account so the API can be used immediately

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/2389/helpdesk-gateway/internal/auth"
	"github.com/2389/helpdesk-gateway/internal/store"
)

type bootstrapOptions struct {
	email    string
	password string
	fullName string
	tokenTTL time.Duration
}

func newBootstrapCmd() *cobra.Command {
	var opts bootstrapOptions
	cmd := &cobra.Command{
		Use:   "bootstrap --email EMAIL",
		Short: "Create the config (if missing) and the first agent account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.email, "email", "", "email of the first agent (required)")
	cmd.Flags().StringVar(&opts.password, "password", "", "password; generated and printed when empty")
	cmd.Flags().StringVar(&opts.fullName, "name", "", "display name")
	cmd.Flags().DurationVar(&opts.tokenTTL, "token-ttl", 30*24*time.Hour, "lifetime of the printed token")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// dataPath returns $XDG_DATA_HOME/helpdesk or ~/.local/share/helpdesk.
func dataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "helpdesk")
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// writeStarterConfig creates a SQLite-backed config at path with fresh secrets.
func writeStarterConfig(path, dbPath string) error {
	jwtSecret, err := randomString(32)
	if err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	verifyToken, err := randomString(16)
	if err != nil {
		return fmt.Errorf("generating verify token: %w", err)
	}

	content := fmt.Sprintf(`# helpdesk-gateway configuration
# Generated by helpdesk-gateway bootstrap

server:
  http_addr: ":8000"

database:
  driver: sqlite
  path: %q

auth:
  jwt_secret: %q
  token_expire: "30m"

facebook:
  app_id: "${FACEBOOK_APP_ID}"
  app_secret: "${FACEBOOK_APP_SECRET}"
  verify_token: %q

conversation:
  continuity_window: "24h"
  display_utc_offset: "5h30m"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret, verifyToken)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func runBootstrap(ctx context.Context, out io.Writer, opts bootstrapOptions) error {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	email := store.NormalizeEmail(opts.email)
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email %q", opts.email)
	}

	password := opts.password
	generated := false
	if password == "" {
		p, err := randomString(12)
		if err != nil {
			return fmt.Errorf("generating password: %w", err)
		}
		password, generated = p, true
	}
	if err := auth.ValidatePassword(password); err != nil {
		return err
	}

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := writeStarterConfig(configPath, filepath.Join(dataPath(), "helpdesk.db")); err != nil {
			return err
		}
		green.Fprintf(out, "  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Fprintf(out, "  Using existing config: %s\n", configPath)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	green.Fprintf(out, "  ✓ Database: %s\n", describeDatabase(cfg.Database))

	count, err := s.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("checking users: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("bootstrap already complete: %d user(s) exist", count)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	user := &store.User{
		UUID:         uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	}
	if name := strings.TrimSpace(opts.fullName); name != "" {
		user.FullName = &name
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	green.Fprintf(out, "  ✓ Created agent: %s\n", user.Email)

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(user.UUID, opts.tokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	expiresAt := time.Now().Add(opts.tokenTTL).UTC()

	fmt.Fprintln(out)
	green.Fprintln(out, "  Bootstrap complete!")
	fmt.Fprintln(out)
	cyan.Fprintln(out, "  Agent")
	cyan.Fprintln(out, "  -----")
	fmt.Fprintf(out, "  UUID:     %s\n", user.UUID)
	fmt.Fprintf(out, "  Email:    %s\n", user.Email)
	if generated {
		fmt.Fprintf(out, "  Password: %s\n", password)
	}
	fmt.Fprintf(out, "  Token:    %s\n", token)
	fmt.Fprintf(out, "  Expires:  %s\n", expiresAt.Format("Jan 02, 2006"))
	fmt.Fprintln(out)

	yellow.Fprintln(out, "  Ready to go:")
	fmt.Fprintln(out, "    helpdesk-gateway serve")
	fmt.Fprintln(out)
	return nil
}
