package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/susu3304/premiumbot/internal/db"
	"github.com/susu3304/premiumbot/internal/store"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":        "ok",
		"catalog_ready": a.deps.Catalog != nil && a.deps.Catalog.Ready(),
	}
	if a.deps.Warnings != nil {
		if warnings := a.deps.Warnings(r.Context()); len(warnings) > 0 {
			resp["warnings"] = warnings
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Protected handlers
func (a *API) handleInvalidatePrices(w http.ResponseWriter, r *http.Request) {
	a.deps.Prices.Invalidate()
	log.Printf("api: price cache invalidated by %s", claimsFrom(r.Context()).UserID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "price cache invalidated"})
}

func (a *API) handleWallet(w http.ResponseWriter, r *http.Request) {
	if a.deps.Wallet == nil {
		http.Error(w, "no operator wallet configured", http.StatusNotFound)
		return
	}
	info, err := a.deps.Wallet.Info(r.Context())
	if err != nil {
		log.Printf("api: wallet info: %v", err)
		http.Error(w, "failed to read wallet state", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type ordersResponse struct {
	Active  *store.Order       `json:"active"`
	History []db.ArchivedOrder `json:"history"`
}

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	resp := ordersResponse{History: []db.ArchivedOrder{}}
	if o, ok := a.deps.Orders.Get(userID); ok {
		resp.Active = o
	}
	if a.deps.Archive != nil {
		history, err := a.deps.Archive.ListOrders(r.Context(), userID, limit)
		if err != nil {
			log.Printf("api: list orders for %s: %v", userID, err)
			http.Error(w, "failed to list orders", http.StatusInternalServerError)
			return
		}
		if history != nil {
			resp.History = history
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCatalogRefresh(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Catalog.Refresh(r.Context()); err != nil {
		log.Printf("api: catalog refresh: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{"ready": a.deps.Catalog.Ready(), "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": a.deps.Catalog.Ready()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
