package config

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Discord Bot
	DiscordToken string

	// Discord OAuth2 (operator login)
	DiscordClientID     string
	DiscordClientSecret string
	DiscordRedirectURI  string
	AdminUserIDs        []string

	// Database
	DatabaseURL string

	// Web Server
	WebBind string

	// Session
	JWTSecret string

	// Outbound
	HTTPProxy string

	// Catalog provider
	CatalogBaseURL     string
	CatalogPageURL     string
	CatalogCookie      string
	CatalogHash        string
	CatalogAutoRefresh bool

	// Chain
	TONConfigURL     string
	TONWalletVersion string

	// Gateway
	GatewayBaseURL string

	// Orders
	OrderTTL        time.Duration
	OrderMaxEntries int
	PollInterval    time.Duration
	PollMaxAttempts int
	PriceRefresh    time.Duration
	SettlementOrder []string
}

func Load() (*Config, error) {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:        os.Getenv("DISCORD_TOKEN"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		WebBind:             getEnvDefault("WEB_BIND", "0.0.0.0:3000"),
		DiscordClientID:     os.Getenv("DISCORD_CLIENT_ID"),
		DiscordClientSecret: os.Getenv("DISCORD_CLIENT_SECRET"),
		DiscordRedirectURI:  getEnvDefault("DISCORD_REDIRECT_URI", "http://localhost:3000/api/auth/callback"),
		AdminUserIDs:        splitList(os.Getenv("ADMIN_USER_IDS")),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		HTTPProxy:           os.Getenv("HTTP_PROXY"),
		CatalogBaseURL:      os.Getenv("CATALOG_BASE_URL"),
		CatalogPageURL:      os.Getenv("CATALOG_PAGE_URL"),
		CatalogCookie:       os.Getenv("CATALOG_COOKIE"),
		CatalogHash:         os.Getenv("CATALOG_HASH"),
		CatalogAutoRefresh:  getEnvBool("CATALOG_AUTO_REFRESH", true),
		TONConfigURL:        os.Getenv("TON_CONFIG_URL"),
		TONWalletVersion:    getEnvDefault("TON_WALLET_VERSION", "v4r2"),
		GatewayBaseURL:      os.Getenv("GATEWAY_BASE_URL"),
		OrderTTL:            getEnvSeconds("ORDER_TTL_SECONDS", 900),
		OrderMaxEntries:     getEnvInt("ORDER_MAX_ENTRIES", 500),
		PollInterval:        getEnvSeconds("POLL_INTERVAL_SECONDS", 3),
		PollMaxAttempts:     getEnvInt("POLL_MAX_ATTEMPTS", 40),
		PriceRefresh:        getEnvSeconds("PRICE_REFRESH_SECONDS", 300),
		SettlementOrder:     splitList(getEnvDefault("SETTLEMENT_ORDER", "gateway,chain")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" && (cfg.OAuthEnabled() || len(cfg.AdminUserIDs) > 0) {
		return nil, fmt.Errorf("JWT_SECRET is required when ADMIN_USER_IDS or Discord OAuth is configured")
	}
	for _, s := range cfg.SettlementOrder {
		switch s {
		case "balance", "gateway", "chain":
		default:
			return nil, fmt.Errorf("SETTLEMENT_ORDER: unknown strategy %q", s)
		}
	}

	return cfg, nil
}

// RequireBot checks what the long-running bot cannot start without.
func (c *Config) RequireBot() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_TOKEN is required")
	}
	return nil
}

// OAuthEnabled reports whether operator login can be offered.
func (c *Config) OAuthEnabled() bool {
	return c.DiscordClientID != "" && c.DiscordClientSecret != ""
}

func (c *Config) IsAdmin(userID string) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// HTTPClient returns the client used for upstream calls, honouring HTTP_PROXY.
func (c *Config) HTTPClient() (*http.Client, error) {
	client := &http.Client{Timeout: 20 * time.Second}
	if c.HTTPProxy == "" {
		return client, nil
	}
	proxy, err := url.Parse(c.HTTPProxy)
	if err != nil {
		return nil, fmt.Errorf("HTTP_PROXY: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(proxy)
	client.Transport = transport
	return client, nil
}

// WebhookPath is the path component of the gateway notify URL.
func WebhookPath(notifyURL string) string {
	parsed, err := url.Parse(notifyURL)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return "/gateway/notify"
	}
	return parsed.Path
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}

func getEnvBool(key string, defaultValue bool) bool {
	return parseBool(os.Getenv(key), defaultValue)
}

func parseBool(s string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
