package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/oauth2"

	"github.com/susu3304/premiumbot/internal/chain"
	"github.com/susu3304/premiumbot/internal/config"
	"github.com/susu3304/premiumbot/internal/db"
	"github.com/susu3304/premiumbot/internal/store"
)

const discordAPI = "https://discord.com/api"

type Catalog interface {
	Ready() bool
	Refresh(ctx context.Context) error
}

type PriceCache interface {
	Invalidate()
}

type Wallet interface {
	Info(ctx context.Context) (*chain.Info, error)
}

type OrderStore interface {
	Get(userID string) (*store.Order, bool)
}

type OrderArchive interface {
	ListOrders(ctx context.Context, userID string, limit int) ([]db.ArchivedOrder, error)
}

// Deps are the collaborators behind the HTTP surface. Wallet and Archive are
// optional.
type Deps struct {
	Webhook     http.Handler
	WebhookPath string
	Catalog     Catalog
	Prices      PriceCache
	Wallet      Wallet
	Orders      OrderStore
	Archive     OrderArchive
	// Warnings reports configuration problems for the health endpoint.
	Warnings func(ctx context.Context) []string
}

type API struct {
	router      *mux.Router
	config      *config.Config
	deps        Deps
	oauthConfig *oauth2.Config
	jwtSecret   []byte
	discordAPI  string
	server      *http.Server
}

func New(cfg *config.Config, d Deps) *API {
	api := &API{
		router:     mux.NewRouter(),
		config:     cfg,
		deps:       d,
		jwtSecret:  []byte(cfg.JWTSecret),
		discordAPI: discordAPI,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.DiscordRedirectURI,
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://discord.com/api/oauth2/authorize",
				TokenURL: "https://discord.com/api/oauth2/token",
			},
		},
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	if a.deps.Webhook != nil {
		path := a.deps.WebhookPath
		if path == "" {
			path = config.WebhookPath("")
		}
		a.router.Handle(path, a.deps.Webhook).Methods("POST")
	}

	a.router.HandleFunc("/healthz", a.handleHealth).Methods("GET")

	if len(a.jwtSecret) == 0 {
		log.Println("api: JWT_SECRET not set, operator endpoints disabled")
		return
	}

	// Auth endpoints
	a.router.HandleFunc("/api/auth/login", a.handleLogin).Methods("GET")
	a.router.HandleFunc("/api/auth/callback", a.handleCallback).Methods("GET")

	// Operator endpoints
	protected := a.router.PathPrefix("/api").Subrouter()
	protected.Use(a.authMiddleware)

	protected.HandleFunc("/prices/invalidate", a.handleInvalidatePrices).Methods("POST")
	protected.HandleFunc("/wallet", a.handleWallet).Methods("GET")
	protected.HandleFunc("/orders/{user_id}", a.handleOrders).Methods("GET")
	protected.HandleFunc("/catalog/refresh", a.handleCatalogRefresh).Methods("POST")
}

// Handler is the routed API wrapped with CORS.
func (a *API) Handler() http.Handler {
	// Bearer tokens, not cookies, authenticate operators, so a wildcard
	// origin stays without credentials.
	corsOptions := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}
	return cors.New(corsOptions).Handler(a.router)
}

// Start serves until Shutdown is called.
func (a *API) Start() error {
	a.server = &http.Server{
		Addr:              a.config.WebBind,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("api: listening on http://%s", a.config.WebBind)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *API) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
