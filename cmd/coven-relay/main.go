// ABOUTME: Entry point for the coven-relay context router
// ABOUTME: Routes published agent events to approved session members

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/relay"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __        _ __ ___| | __ _ _   _
 / __/ _ \ \ / / _ \ '_ \ _____| '__/ _ \ |/ _' | | | |
| (_| (_) \ V /  __/ | | |_____| | |  __/ | (_| | |_| |
 \___\___/ \_/ \___|_| |_|     |_|  \___|_|\__,_|\__, |
                                                 |___/
`

// getConfigPath returns the optional config file path from RELAY_CONFIG.
// An empty return means environment-only configuration.
func getConfigPath() string {
	return os.Getenv("RELAY_CONFIG")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-relay <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the router")
		fmt.Println("  init     Write a starter config file")
		fmt.Println("  health   Check router health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Port:     %d\n", cfg.Server.Port)
	green.Print("    ▶ ")
	fmt.Printf("Audit DB: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Loop cap: %d/min\n", cfg.Loop.MaxPerMinute)
	fmt.Println()

	logger.Info("starting coven-relay",
		"port", cfg.Server.Port,
		"audit_db", cfg.Database.Path,
		"loop_max_per_minute", cfg.Loop.MaxPerMinute,
		"delivery_max_retries", cfg.Delivery.MaxRetries,
	)

	rl, err := relay.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}

	return rl.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)
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

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	fmt.Println(string(body))
	return nil
}

func runInit() error {
	outputFile := getConfigPath()
	if outputFile == "" {
		outputFile = "relay.yaml"
	}

	if _, err := os.Stat(outputFile); err == nil {
		return fmt.Errorf("config file %s already exists", outputFile)
	}

	configContent := `# coven-relay configuration
# Generated by coven-relay init
# Every value can be overridden by its environment variable.

server:
  port: 8787                 # PORT

loop:
  max_per_minute: 6          # LOOP_MAX_PER_MINUTE
  default_delay_ms: 2000     # LOOP_DELAY_DEFAULT_MS
  burst_delay_ms: 0          # LOOP_DELAY_BURST_MS (0 = follow default_delay_ms)

delivery:
  max_retries: 3             # DELIVERY_MAX_RETRIES
  base_delay_ms: 1000        # DELIVERY_BASE_DELAY_MS

admin:
  password: "${ADMIN_PASSWORD}"

database:
  path: "data/relay.db"      # SQLITE_PATH

logging:
  level: "info"
  format: "text"
`

	if dir := filepath.Dir(outputFile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(outputFile, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("Config written to %s\n", outputFile)
	fmt.Println("\nTo start the router:")
	fmt.Printf("  RELAY_CONFIG=%s coven-relay serve\n", outputFile)
	return nil
}
