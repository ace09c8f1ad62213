// Package main is the entry point for the Mochi Mirror server.
//
// main only reads configuration from the environment, creates the logger and
// hands both to internal/server. Everything else lives in internal/.
//
// ENVIRONMENT:
//
//	PORT                   listen port (default 8080)
//	DB_PATH                SQLite file (default data/mochi.db)
//	JWT_SECRET             session signing secret (required)
//	SESSION_TTL            session lifetime, e.g. "168h" (default 7 days)
//	TOKEN_ENCRYPTION_KEY   hex 32-byte key sealing TikTok tokens (default: derived from JWT_SECRET)
//	GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET / GOOGLE_CALLBACK_URL
//	TIKTOK_CLIENT_KEY / TIKTOK_CLIENT_SECRET / TIKTOK_REDIRECT_URI
//	TIKTOK_SCOPES          comma-separated (default user.info.basic,user.info.profile,user.info.stats)
//	APP_BASE_URL           frontend origin (default http://localhost:PORT)
//	LINK_RATE_LIMIT        requests/minute/IP on TikTok OAuth routes (default 20, 0 disables)
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/mochi-mirror/internal/auth"
	"github.com/sakif/mochi-mirror/internal/server"
	"github.com/sakif/mochi-mirror/internal/tiktok"
)

const (
	defaultSessionTTL    = 7 * 24 * time.Hour
	defaultLinkRateLimit = 20
)

func main() {
	// === 1. LOGGING ===
	// LOG_LEVEL=debug turns on debug output; the default is info.
	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// A missing provider credential is not fatal: the affected routes answer
	// "server_misconfigured" until it is set.
	if cfg.TikTok.ClientKey == "" || cfg.TikTok.ClientSecret == "" {
		logger.Warn("TIKTOK_CLIENT_KEY/TIKTOK_CLIENT_SECRET not set, linking is disabled")
	}
	if cfg.Google.ClientID == "" || cfg.Google.ClientSecret == "" {
		logger.Warn("GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set, sign-in is disabled")
	}

	// === 2. DATABASE DIRECTORY ===
	dbDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		logger.Error("failed to create database directory",
			slog.String("dir", dbDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// === 3. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// loadConfig reads server.Config from the environment. Malformed values are
// errors; absent ones fall back to defaults.
func loadConfig() (server.Config, error) {
	cfg := server.Config{
		Port:          8080,
		DBPath:        envOr("DB_PATH", "data/mochi.db"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		SessionTTL:    defaultSessionTTL,
		LinkRateLimit: defaultLinkRateLimit,
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return cfg, fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Port = port
	}

	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET is required (generate one with: openssl rand -hex 32)")
	}

	if v := os.Getenv("SESSION_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil || ttl <= 0 {
			return cfg, fmt.Errorf("invalid SESSION_TTL %q", v)
		}
		cfg.SessionTTL = ttl
	}

	if v := os.Getenv("TOKEN_ENCRYPTION_KEY"); v != "" {
		key, err := auth.ParseTokenKey(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid TOKEN_ENCRYPTION_KEY: %w", err)
		}
		cfg.TokenKey = key
	}

	if v := os.Getenv("LINK_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("invalid LINK_RATE_LIMIT %q", v)
		}
		cfg.LinkRateLimit = n
	}

	cfg.AppBaseURL = envOr("APP_BASE_URL", fmt.Sprintf("http://localhost:%d", cfg.Port))

	cfg.Google = auth.GoogleConfig{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		CallbackURL:  envOr("GOOGLE_CALLBACK_URL", fmt.Sprintf("http://localhost:%d/auth/google/callback", cfg.Port)),
	}

	cfg.TikTok = tiktok.Config{
		ClientKey:    os.Getenv("TIKTOK_CLIENT_KEY"),
		ClientSecret: os.Getenv("TIKTOK_CLIENT_SECRET"),
		RedirectURI:  envOr("TIKTOK_REDIRECT_URI", fmt.Sprintf("http://localhost:%d/api/auth/tiktok/callback", cfg.Port)),
	}
	if v := os.Getenv("TIKTOK_SCOPES"); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.TikTok.Scopes = append(cfg.TikTok.Scopes, s)
			}
		}
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
