// ABOUTME: Entry point for the mcph-gateway MCP server
// ABOUTME: Subcommands: serve, init, keygen, health

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/ravediamond/mcph-gateway/internal/auth"
	"github.com/ravediamond/mcph-gateway/internal/config"
	"github.com/ravediamond/mcph-gateway/internal/server"
	"github.com/ravediamond/mcph-gateway/internal/store"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
                          _
  _ __ ___   ___ _ __ | |__         __ _  __ _| |_ _____      ____ _ _   _
 | '_ ' _ \ / __| '_ \| '_ \ _____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | | | | | | (__| |_) | | | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 |_| |_| |_|\___| .__/|_| |_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                |_|                |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: MCPH_CONFIG env var > XDG_CONFIG_HOME/mcph/gateway.yaml > ~/.config/mcph/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MCPH_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "mcph", "gateway.yaml")
}

// getDataPath returns the path to the mcph data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "mcph")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: mcph-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                   Start the gateway server")
		fmt.Println("  init                    Create a new config file interactively")
		fmt.Println("  keygen --owner OWNER    Create an API key for an owner")
		fmt.Println("  health                  Check gateway health")
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
	case "keygen":
		err = runKeygen(ctx)
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
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Blobs:    %s\n", cfg.Blob.URL)
	fmt.Println()

	logger.Info("starting mcph-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	server.Version = version
	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
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

	fmt.Println("healthy")
	return nil
}

// runKeygen mints a new API key, stores its hash, and prints the raw key
// once. Supports "--owner value" and "--owner=value" formats.
func runKeygen(ctx context.Context) error {
	var owner, name string
	var scopes []string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--owner" || arg == "-o":
			if i+1 >= len(args) {
				return fmt.Errorf("--owner requires a value")
			}
			owner = args[i+1]
			i++
		case strings.HasPrefix(arg, "--owner="):
			owner = strings.TrimPrefix(arg, "--owner=")
		case arg == "--name":
			if i+1 >= len(args) {
				return fmt.Errorf("--name requires a value")
			}
			name = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			name = strings.TrimPrefix(arg, "--name=")
		case arg == "--scopes":
			if i+1 >= len(args) {
				return fmt.Errorf("--scopes requires a value")
			}
			scopes = strings.Split(args[i+1], ",")
			i++
		case strings.HasPrefix(arg, "--scopes="):
			scopes = strings.Split(strings.TrimPrefix(arg, "--scopes="), ",")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	owner = strings.TrimSpace(owner)
	if owner == "" {
		return fmt.Errorf("--owner flag is required")
	}
	if name == "" {
		name = "cli-generated"
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	rawBytes := make([]byte, 24)
	if _, err := rand.Read(rawBytes); err != nil {
		return fmt.Errorf("generating key: %w", err)
	}
	rawKey := "mcph_live_" + base64.RawURLEncoding.EncodeToString(rawBytes)

	key := &store.APIKey{
		ID:        uuid.New().String(),
		OwnerID:   owner,
		Name:      name,
		KeyHash:   auth.HashKey(rawKey),
		Scopes:    scopes,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateKey(ctx, key); err != nil {
		return fmt.Errorf("storing key: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Println("  API key created")
	fmt.Printf("  Owner:  %s\n", owner)
	fmt.Printf("  Name:   %s\n", name)
	fmt.Printf("  Key ID: %s\n", key.ID)
	fmt.Println()
	yellow.Println("  Store this key now; it cannot be shown again:")
	fmt.Printf("  %s\n", rawKey)

	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("mcph-gateway configuration setup")
	fmt.Println("================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")
	defaultBlobURL := "file://" + filepath.Join(defaultDataPath, "crates")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	baseURL := prompt(reader, "External base URL", "http://localhost:8080")

	fmt.Println("\n--- Storage Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)
	blobURL := prompt(reader, "Blob bucket URL", defaultBlobURL)

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Token secret is always generated, never prompted.
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating token secret: %w", err)
	}
	tokenSecret := base64.StdEncoding.EncodeToString(secretBytes)

	var cfg strings.Builder
	cfg.WriteString("# mcph-gateway configuration\n")
	cfg.WriteString("# Generated by mcph-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	cfg.WriteString(fmt.Sprintf("  base_url: %q\n", baseURL))
	cfg.WriteString("  request_timeout: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("blob:\n")
	cfg.WriteString(fmt.Sprintf("  url: %q\n", blobURL))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  token_secret: %q\n", tokenSecret))
	cfg.WriteString("\n")

	cfg.WriteString("throttle:\n")
	cfg.WriteString("  max_requests: 100\n")
	cfg.WriteString("  window: \"1m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n")

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  mcph-gateway serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
