// ABOUTME: Entry point for the helpdesk-gateway server
// ABOUTME: cobra commands for serving, migrating, bootstrapping, and probing health

package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/2389/helpdesk-gateway/internal/config"
	"github.com/2389/helpdesk-gateway/internal/gateway"
	"github.com/2389/helpdesk-gateway/internal/store"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _          _           _           _
| |__   ___| |_ __   __| | ___  ___| | __
| '_ \ / _ \ | '_ \ / _' |/ _ \/ __| |/ /
| | | |  __/ | |_) | (_| |  __/\__ \   <
|_| |_|\___|_| .__/ \__,_|\___||___/_|\_\
             |_|                 gateway
`

var (
	configPath string
	envFiles   []string
)

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configPath, "config", "c", "", "config file (default $HELPDESK_CONFIG or ~/.config/helpdesk/gateway.yaml)")
	fs.StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config is read")
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "helpdesk-gateway",
		Short:         "Messenger helpdesk backend",
		Long:          "helpdesk-gateway receives page messages from the messaging platform, groups them into conversations, and relays agent replies.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = config.DefaultPath()
			}
			return config.LoadDotEnv(envFiles...)
		},
	}
	addGlobalFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newBootstrapCmd(),
		newHealthCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	gateway.Version = version

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func runServe(ctx context.Context, out io.Writer) error {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	cyan.Fprint(out, banner)
	gray.Fprintf(out, "    version: %s\n\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Config:    %s\n", configPath)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Database:  %s\n", describeDatabase(cfg.Database))
	if cfg.Metrics.Enabled {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "Metrics:   %s\n", cfg.Metrics.Path)
	}
	fmt.Fprintln(out)

	logger.Info("starting helpdesk-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Driver,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

// describeDatabase names the backend without leaking credentials.
func describeDatabase(db config.DatabaseConfig) string {
	if db.Driver == store.DriverPostgres {
		if db.DSN != "" {
			return "postgres (dsn)"
		}
		return fmt.Sprintf("postgres %s:%d/%s", db.Host, db.Port, db.Name)
	}
	return "sqlite " + db.Path
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Migrate(cmd.Context()); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "  ✓ Schema up to date: %s\n", describeDatabase(cfg.Database))
			return nil
		},
	}
}

func openStore(cfg *config.Config) (*store.Store, error) {
	opts := store.Options{
		Driver: cfg.Database.Driver,
		Path:   cfg.Database.Path,
		Logger: setupLogger(cfg.Logging),
	}
	if cfg.Database.Driver == store.DriverPostgres {
		opts.DSN = cfg.Database.PostgresDSN()
	}
	s, err := store.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func newHealthCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runHealth(ctx, healthURL(cfg.Server.HTTPAddr), cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

// healthURL turns a listen address into a URL reachable from this host.
func healthURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/health"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/health"
}

func runHealth(ctx context.Context, url string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Fprintln(out, "healthy")
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		// No config needed.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
