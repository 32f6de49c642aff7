package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/kilupskalvis/modsync/internal/remote"
	"github.com/kilupskalvis/modsync/internal/remote/metastore"
	"github.com/kilupskalvis/modsync/internal/remote/server"
	"github.com/kilupskalvis/modsync/internal/store"
	"github.com/spf13/cobra"
)

var (
	serverListen        string
	serverDataDir       string
	serverBackend       string
	serverDSN           string
	serverLogLevel      string
	serverLogFormat     string
	serverTLSCert       string
	serverTLSKey        string
	serverWebhookURLs   string
	serverWebhookSecret string

	serverAdminURL        string
	serverAdminToken      string
	serverTokenDesc       string
	serverTokenCourses    []string
	serverTokenPermission string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run and administer the modsync server",
	Long:  "Commands for running the modsync server and managing its tokens and data.",
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the modsync server",
	Long: `Start the modsync server.

Modules are stored in SQLite by default. Use --backend bbolt for an embedded
key/value file, or --backend postgres with --dsn for a shared database.
Bearer token authentication is required for all course endpoints.

The admin token is read from the MODSYNC_ADMIN_TOKEN environment variable and
enables the /admin/ endpoints for token management and compaction.

Examples:
  modsync server start
  modsync server start --listen 0.0.0.0:8720 --data-dir /var/lib/modsync
  modsync server start --backend postgres --dsn postgres://modsync@db/modsync?sslmode=disable
  modsync server start --tls-cert server.crt --tls-key server.key`,
	Args: cobra.NoArgs,
	Run:  runServerStart,
}

var serverSeedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Load courses and modules from a YAML file",
	Long: `Load courses and modules from a YAML file directly into the server's
store. Courses that already have modules are skipped. Run it while the
server is stopped when using the bbolt backend.`,
	Args: cobra.ExactArgs(1),
	Run:  runServerSeed,
}

var serverCompactCmd = &cobra.Command{
	Use:   "compact <course>",
	Short: "Renumber a course's modules to 1..N on a running server",
	Args:  cobra.ExactArgs(1),
	Run:   runServerCompact,
}

func init() {
	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverSeedCmd)
	serverCmd.AddCommand(serverTokensCmd)
	serverCmd.AddCommand(serverCompactCmd)

	// Store flags shared by start and seed.
	for _, cmd := range []*cobra.Command{serverStartCmd, serverSeedCmd} {
		f := cmd.Flags()
		f.StringVar(&serverDataDir, "data-dir", envOrDefault("MODSYNC_DATA_DIR", defaultDataDir()), "Directory for server data")
		f.StringVar(&serverBackend, "backend", envOrDefault("MODSYNC_BACKEND", store.BackendSQLite), "Module store (sqlite|bbolt|postgres)")
		f.StringVar(&serverDSN, "dsn", os.Getenv("MODSYNC_DSN"), "Database DSN (postgres) or file path (sqlite)")
	}

	f := serverStartCmd.Flags()
	f.StringVar(&serverListen, "listen", envOrDefault("MODSYNC_LISTEN", "127.0.0.1:8720"), "Listen address (host:port)")
	f.StringVar(&serverLogLevel, "log-level", envOrDefault("MODSYNC_LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")
	f.StringVar(&serverLogFormat, "log-format", envOrDefault("MODSYNC_LOG_FORMAT", "json"), "Log format (json|text)")
	f.StringVar(&serverTLSCert, "tls-cert", os.Getenv("MODSYNC_TLS_CERT"), "TLS certificate file")
	f.StringVar(&serverTLSKey, "tls-key", os.Getenv("MODSYNC_TLS_KEY"), "TLS key file")
	f.StringVar(&serverWebhookURLs, "webhook-urls", os.Getenv("MODSYNC_WEBHOOK_URLS"), "Comma-separated webhook URLs to notify on module changes")
	f.StringVar(&serverWebhookSecret, "webhook-secret", os.Getenv("MODSYNC_WEBHOOK_SECRET"), "HMAC secret for signing webhook payloads")

	// Shared admin connection flags. Both parents bind the same package-level
	// vars, which is safe because only one command path executes at runtime.
	for _, cmd := range []*cobra.Command{serverTokensCmd, serverCompactCmd} {
		cmd.PersistentFlags().StringVar(&serverAdminURL, "url",
			envOrDefault("MODSYNC_SERVER_URL", ""),
			"Server base URL (env: MODSYNC_SERVER_URL)")
		cmd.PersistentFlags().StringVar(&serverAdminToken, "admin-token",
			os.Getenv("MODSYNC_ADMIN_TOKEN"),
			"Admin token (env: MODSYNC_ADMIN_TOKEN)")
	}

	serverTokensCmd.AddCommand(serverTokensCreateCmd, serverTokensListCmd, serverTokensDeleteCmd)

	tf := serverTokensCreateCmd.Flags()
	tf.StringVar(&serverTokenDesc, "desc", "", "Token description")
	tf.StringArrayVar(&serverTokenCourses, "course", nil,
		"Courses to grant access to, repeat for multiple (default: *)")
	tf.StringVar(&serverTokenPermission, "permission", "rw", "Permission level: ro or rw")
}

// newServerLogger builds the server's structured logger.
func newServerLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// splitURLs parses a comma-separated URL list, dropping blanks.
func splitURLs(s string) []string {
	var out []string
	for _, u := range strings.Split(s, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func openServerStore(logger *slog.Logger) metastore.ModuleStore {
	if err := os.MkdirAll(serverDataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "error", err, "path", serverDataDir)
		os.Exit(1)
	}
	modules, err := store.OpenModuleStore(serverBackend, serverDataDir, serverDSN)
	if err != nil {
		logger.Error("failed to open module store", "error", err, "backend", serverBackend)
		os.Exit(1)
	}
	return modules
}

func runServerStart(_ *cobra.Command, _ []string) {
	logger := newServerLogger(serverLogLevel, serverLogFormat)

	modules := openServerStore(logger)
	defer modules.Close()

	tokens := server.NewFileTokenStore(filepath.Join(serverDataDir, "tokens.json"), logger)
	if err := tokens.Load(); err != nil {
		logger.Warn("no token store loaded, starting empty", "error", err)
	}

	cfg := server.DefaultServerConfig()
	cfg.AdminToken = os.Getenv("MODSYNC_ADMIN_TOKEN")

	if urls := splitURLs(serverWebhookURLs); len(urls) > 0 {
		cfg.Webhooks = server.NewWebhookNotifier(&server.WebhookConfig{
			URLs:   urls,
			Secret: serverWebhookSecret,
		}, logger)
		logger.Info("webhooks configured", "count", len(urls))
	}

	h, handlerCleanup := server.Handler(modules, tokens, cfg, logger)
	defer handlerCleanup()

	srv := &http.Server{
		Addr:              serverListen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.Background() },
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting modsync server", "listen", serverListen, "backend", serverBackend, "data_dir", serverDataDir)
		var err error
		if serverTLSCert != "" && serverTLSKey != "" {
			err = srv.ListenAndServeTLS(serverTLSCert, serverTLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

func runServerSeed(_ *cobra.Command, args []string) {
	logger := newServerLogger("warn", "text")

	seed, err := metastore.LoadSeedFile(args[0])
	if err != nil {
		exitError("%v", err)
	}

	modules := openServerStore(logger)
	defer modules.Close()

	result, err := metastore.ApplySeed(context.Background(), modules, seed)
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Seeded %d modules\n", result.Created)
	for _, course := range result.Skipped {
		fmt.Printf("  skipped '%s' (already has modules)\n", course)
	}
}

// defaultDataDir returns the default server data directory (~/.modsync-server).
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/modsync-server"
	}
	return filepath.Join(home, ".modsync-server")
}

// envOrDefault returns the value of the environment variable key, or defaultVal if unset.
func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// --- modsync server tokens ---

var serverTokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage server tokens",
	Long:  "Commands for managing authentication tokens on a running modsync server.",
}

var serverTokensCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new authentication token",
	Run:   runServerTokensCreate,
}

var serverTokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all authentication tokens",
	Run:   runServerTokensList,
}

var serverTokensDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an authentication token",
	Args:  cobra.ExactArgs(1),
	Run:   runServerTokensDelete,
}

// resolveAdminClient builds an AdminClient from the package-level admin flag vars.
func resolveAdminClient() *remote.AdminClient {
	if serverAdminURL == "" {
		exitError("--url or MODSYNC_SERVER_URL is required")
	}
	if serverAdminToken == "" {
		exitError("--admin-token or MODSYNC_ADMIN_TOKEN is required")
	}
	return remote.NewAdminClient(serverAdminURL, serverAdminToken)
}

func runServerTokensCreate(_ *cobra.Command, _ []string) {
	c := resolveAdminClient()
	ctx := context.Background()

	courses := serverTokenCourses
	if len(courses) == 0 {
		courses = []string{"*"}
	}

	resp, err := c.CreateToken(ctx, serverTokenDesc, courses, serverTokenPermission)
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Println("Token created.")
	fmt.Printf("  ID:          %s\n", resp.ID)
	fmt.Printf("  Description: %s\n", resp.Description)
	fmt.Printf("  Courses:     %s\n", strings.Join(resp.Courses, ", "))
	fmt.Printf("  Permission:  %s\n", resp.Permission)
	fmt.Println()
	green.Printf("Token: %s\n", resp.Token)
	yellow.Println("Save this token; it will not be shown again.")
}

func runServerTokensList(_ *cobra.Command, _ []string) {
	c := resolveAdminClient()
	ctx := context.Background()

	tokens, err := c.ListTokens(ctx)
	if err != nil {
		exitError("%v", err)
	}

	if len(tokens) == 0 {
		return
	}

	fmt.Printf("  %-32s  %-20s  %-16s  %s\n", "ID", "Description", "Courses", "Permission")
	for _, t := range tokens {
		fmt.Printf("  %-32s  %-20s  %-16s  %s\n",
			t.ID,
			t.Description,
			strings.Join(t.Courses, ","),
			t.Permission,
		)
	}
}

func runServerTokensDelete(_ *cobra.Command, args []string) {
	c := resolveAdminClient()
	ctx := context.Background()

	if err := c.DeleteToken(ctx, args[0]); err != nil {
		exitError("%v", err)
	}

	fmt.Printf("Deleted token '%s'\n", args[0])
}

func runServerCompact(_ *cobra.Command, args []string) {
	c := resolveAdminClient()
	ctx := context.Background()

	result, err := c.Compact(ctx, args[0])
	if err != nil {
		exitError("%v", err)
	}

	if result.Renumbered == 0 {
		fmt.Printf("Course '%s' is already dense (%d modules)\n", result.Course, result.Modules)
		return
	}
	color.New(color.FgGreen).Printf("Renumbered %d of %d modules in '%s'\n",
		result.Renumbered, result.Modules, result.Course)
}
