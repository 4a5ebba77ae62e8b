// Cell Core - automation cell controller
//
// cellcore bridges a conveyor PLC (Modbus), the cell's MQTT bus and an
// HTTP/WebSocket API around one node registry. Run without arguments it
// starts the controller; "cellcore token" mints an API access token.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-cell/internal/auth"
	"github.com/nerrad567/gray-logic-cell/internal/cell"
	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run loads configuration, builds the cell and runs it until ctx is
// cancelled. Separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting cellcore",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing left to log to
	log.Info("configuration loaded",
		"path", configPath,
		"cell_id", cfg.Cell.ID,
		"plc_mode", cfg.PLC.Mode,
	)

	c, err := cell.New(cfg, log, version)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing connections")
		if closeErr := c.Close(); closeErr != nil {
			log.Error("error during close", "error", closeErr)
		}
	}()

	if err := c.Run(ctx); err != nil {
		return err
	}
	log.Info("cellcore stopped")
	return nil
}

// runToken prints a signed access token for the configured JWT secret.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("sub", "", "token subject (panel or operator name)")
	role := fs.String("role", string(auth.RoleViewer), "role: viewer, operator or admin")
	ttl := fs.Duration("ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("-sub is required")
	}
	if !auth.IsValidRole(auth.Role(*role)) {
		return fmt.Errorf("%w: %q", auth.ErrInvalidRole, *role)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = cfg.GetAccessTokenTTL()
	}

	token, err := auth.GenerateAccessToken(*subject, auth.Role(*role), cfg.Security.JWT.Secret, lifetime)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

// getConfigPath returns CELLCORE_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("CELLCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
