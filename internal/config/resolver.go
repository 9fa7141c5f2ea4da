package config

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/susu3304/premiumbot/internal/catalog"
)

// Settings keys stored in the key-value table.
const (
	KeyCatalogCookie    = "catalog_cookie"
	KeyCatalogHash      = "catalog_hash"
	KeyCatalogExpiresAt = "catalog_expires_at"
	KeyTONMnemonic      = "ton_mnemonic"
	KeyTONAutopay       = "ton_autopay"
	KeyGatewayToken     = "gateway_token"
	KeyGatewayNotifyURL = "gateway_notify_url"
	KeyGatewayRedirect  = "gateway_redirect_url"
)

const defaultSettingsTTL = 60 * time.Second

// SettingsStore is the durable key-value table behind the resolver.
type SettingsStore interface {
	Settings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Resolver reads settings from the store, falling back to the environment
// variable of the same name in upper case when a key is absent.
type Resolver struct {
	store SettingsStore
	ttl   time.Duration
	env   func(string) string
	now   func() time.Time

	mu       sync.Mutex
	cache    map[string]string
	loadedAt time.Time
}

func NewResolver(store SettingsStore) *Resolver {
	return &Resolver{
		store: store,
		ttl:   defaultSettingsTTL,
		env:   os.Getenv,
		now:   time.Now,
	}
}

func (r *Resolver) Get(ctx context.Context, key string) string {
	if v, ok := r.lookup(ctx, key); ok {
		return v
	}
	return r.env(strings.ToUpper(key))
}

func (r *Resolver) GetDefault(ctx context.Context, key, def string) string {
	if v := r.Get(ctx, key); v != "" {
		return v
	}
	return def
}

func (r *Resolver) Bool(ctx context.Context, key string, def bool) bool {
	return parseBool(r.Get(ctx, key), def)
}

// Set writes through to the store and drops the cache.
func (r *Resolver) Set(ctx context.Context, key, value string) error {
	if err := r.store.SetSetting(ctx, key, value); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}

func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = nil
	r.mu.Unlock()
}

// lookup consults the store only, never the environment.
func (r *Resolver) lookup(ctx context.Context, key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cache == nil || r.now().Sub(r.loadedAt) > r.ttl {
		settings, err := r.store.Settings(ctx)
		if err != nil {
			log.Printf("config: load settings: %v", err)
			if r.cache == nil {
				return "", false
			}
		} else {
			r.cache = settings
			r.loadedAt = r.now()
		}
	}
	v, ok := r.cache[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// LoadCredential returns the persisted catalog credential.
func (r *Resolver) LoadCredential(ctx context.Context) (catalog.Credential, bool, error) {
	token, ok1 := r.lookup(ctx, KeyCatalogCookie)
	hash, ok2 := r.lookup(ctx, KeyCatalogHash)
	if !ok1 || !ok2 {
		return catalog.Credential{}, false, nil
	}
	cred := catalog.Credential{Token: token, Hash: hash}
	if raw, ok := r.lookup(ctx, KeyCatalogExpiresAt); ok {
		cred.ExpiresAt = parseTime(raw)
	}
	return cred, true, nil
}

// SaveCredential persists the catalog credential.
func (r *Resolver) SaveCredential(ctx context.Context, cred catalog.Credential) error {
	values := map[string]string{
		KeyCatalogCookie: cred.Token,
		KeyCatalogHash:   cred.Hash,
	}
	if !cred.ExpiresAt.IsZero() {
		values[KeyCatalogExpiresAt] = cred.ExpiresAt.UTC().Format(time.RFC3339)
	}
	for k, v := range values {
		if err := r.store.SetSetting(ctx, k, v); err != nil {
			return err
		}
	}
	r.Invalidate()
	return nil
}

// Status lists configuration problems worth a startup warning.
func (r *Resolver) Status(ctx context.Context, cfg *Config) []string {
	var issues []string
	_, persisted := r.lookup(ctx, KeyCatalogCookie)
	if cfg.CatalogCookie == "" && !persisted && !cfg.CatalogAutoRefresh {
		issues = append(issues, "no catalog credential configured and automatic acquisition is disabled")
	}
	if (cfg.CatalogCookie == "") != (cfg.CatalogHash == "") {
		issues = append(issues, "CATALOG_COOKIE and CATALOG_HASH must be set together")
	}
	if r.Bool(ctx, KeyTONAutopay, false) && r.Get(ctx, KeyTONMnemonic) == "" {
		issues = append(issues, "ton_autopay is enabled but ton_mnemonic is missing")
	}
	if r.Get(ctx, KeyGatewayToken) != "" && r.Get(ctx, KeyGatewayNotifyURL) == "" {
		issues = append(issues, "gateway_token is set but gateway_notify_url is missing")
	}
	if r.Get(ctx, KeyGatewayToken) != "" && cfg.GatewayBaseURL == "" {
		issues = append(issues, "gateway_token is set but GATEWAY_BASE_URL is missing")
	}
	if cfg.OAuthEnabled() && len(cfg.AdminUserIDs) == 0 {
		issues = append(issues, "operator login is enabled but ADMIN_USER_IDS is empty")
	}
	return issues
}

func parseTime(raw string) time.Time {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n)
		}
		return time.Unix(n, 0)
	}
	return time.Time{}
}
