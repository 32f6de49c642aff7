// Command modsync-server runs the modsync server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kilupskalvis/modsync/internal/remote/server"
	"github.com/kilupskalvis/modsync/internal/store"
)

func main() {
	listen := flag.String("listen", envOrDefault("MODSYNC_LISTEN", "0.0.0.0:8720"), "Listen address")
	dataDir := flag.String("data-dir", envOrDefault("MODSYNC_DATA_DIR", "/var/lib/modsync-server"), "Data directory")
	backend := flag.String("backend", envOrDefault("MODSYNC_BACKEND", store.BackendSQLite), "Module store (sqlite, bbolt, postgres)")
	dsn := flag.String("dsn", os.Getenv("MODSYNC_DSN"), "Database DSN (postgres) or file path (sqlite)")
	adminToken := flag.String("admin-token", os.Getenv("MODSYNC_ADMIN_TOKEN"), "Admin API token")
	logLevel := flag.String("log-level", envOrDefault("MODSYNC_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", envOrDefault("MODSYNC_LOG_FORMAT", "json"), "Log format (json, text)")
	tlsCert := flag.String("tls-cert", os.Getenv("MODSYNC_TLS_CERT"), "TLS certificate file")
	tlsKey := flag.String("tls-key", os.Getenv("MODSYNC_TLS_KEY"), "TLS key file")
	webhookURLs := flag.String("webhook-urls", os.Getenv("MODSYNC_WEBHOOK_URLS"), "Comma-separated webhook URLs to notify on module changes")
	webhookSecret := flag.String("webhook-secret", os.Getenv("MODSYNC_WEBHOOK_SECRET"), "HMAC secret for signing webhook payloads")
	flag.Parse()

	// Setup logger
	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "error", err, "path", *dataDir)
		os.Exit(1)
	}

	modules, err := store.OpenModuleStore(*backend, *dataDir, *dsn)
	if err != nil {
		logger.Error("failed to open module store", "error", err, "backend", *backend)
		os.Exit(1)
	}
	defer modules.Close()

	// Token store (in-memory, loaded from JSON file)
	tokens := server.NewFileTokenStore(filepath.Join(*dataDir, "tokens.json"), logger)
	if err := tokens.Load(); err != nil {
		logger.Warn("no token store loaded, starting empty", "error", err)
	}

	cfg := server.DefaultServerConfig()
	cfg.AdminToken = *adminToken

	// Webhooks
	if *webhookURLs != "" {
		var urls []string
		for _, u := range strings.Split(*webhookURLs, ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) > 0 {
			cfg.Webhooks = server.NewWebhookNotifier(&server.WebhookConfig{URLs: urls, Secret: *webhookSecret}, logger)
			logger.Info("webhooks configured", "count", len(urls))
		}
	}

	h, handlerCleanup := server.Handler(modules, tokens, cfg, logger)
	defer handlerCleanup()

	srv := &http.Server{
		Addr:              *listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.Background() },
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting modsync-server", "listen", *listen, "backend", *backend, "data_dir", *dataDir)
		var err error
		if *tlsCert != "" && *tlsKey != "" {
			err = srv.ListenAndServeTLS(*tlsCert, *tlsKey)
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

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
