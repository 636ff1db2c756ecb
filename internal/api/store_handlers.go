package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rcourtman/shopbot/internal/chat"
	"github.com/rcourtman/shopbot/internal/store"
)

type createStoreRequest struct {
	StoreName       string          `json:"store_name" validate:"required,max=255"`
	StoreDomain     string          `json:"store_domain" validate:"max=255"`
	ShopifyStoreURL string          `json:"shopify_store_url" validate:"omitempty,url,max=2048"`
	ShopifyShopID   string          `json:"shopify_shop_id" validate:"max=64"`
	BusinessInfo    json.RawMessage `json:"business_info"`
	WidgetSettings  json.RawMessage `json:"widget_settings"`
}

type storeResponse struct {
	ID              string          `json:"id"`
	StoreName       string          `json:"store_name"`
	StoreDomain     string          `json:"store_domain"`
	ShopifyStoreURL string          `json:"shopify_store_url"`
	ShopifyShopID   string          `json:"shopify_shop_id"`
	BusinessInfo    json.RawMessage `json:"business_info"`
	WidgetSettings  json.RawMessage `json:"widget_settings"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
}

func newStoreResponse(s *store.MerchantStore) storeResponse {
	return storeResponse{
		ID:              s.ID,
		StoreName:       s.StoreName,
		StoreDomain:     s.StoreDomain,
		ShopifyStoreURL: s.ShopifyStoreURL,
		ShopifyShopID:   s.ShopifyShopID,
		BusinessInfo:    json.RawMessage(normalizeJSONObject(s.BusinessInfo)),
		WidgetSettings:  json.RawMessage(normalizeJSONObject(s.WidgetSettings)),
		IsActive:        s.IsActive,
		CreatedAt:       s.CreatedAt,
	}
}

func handleCreateStore(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(deps, w, r)
		if !ok {
			return
		}
		var req createStoreRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		for name, raw := range map[string]json.RawMessage{"business_info": req.BusinessInfo, "widget_settings": req.WidgetSettings} {
			trimmed := strings.TrimSpace(string(raw))
			if trimmed != "" && trimmed != "null" && !strings.HasPrefix(trimmed, "{") {
				writeError(w, http.StatusBadRequest, name+" must be a JSON object")
				return
			}
		}

		m := &store.MerchantStore{
			UserID:          user.ID,
			StoreName:       strings.TrimSpace(req.StoreName),
			StoreDomain:     strings.TrimSpace(req.StoreDomain),
			ShopifyStoreURL: strings.TrimSpace(req.ShopifyStoreURL),
			ShopifyShopID:   strings.TrimSpace(req.ShopifyShopID),
			BusinessInfo:    normalizeJSONObject(string(req.BusinessInfo)),
			WidgetSettings:  normalizeJSONObject(string(req.WidgetSettings)),
			IsActive:        true,
		}
		if _, err := chat.StoreContextFromStore(m); err != nil {
			writeError(w, http.StatusBadRequest, "business_info has an invalid shape")
			return
		}
		if err := deps.Store.CreateStore(r.Context(), m); err != nil {
			writeInternalError(w, r, err, deps.Config.Debug)
			return
		}
		writeJSON(w, http.StatusCreated, newStoreResponse(m))
	}
}

func handleListStores(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(deps, w, r)
		if !ok {
			return
		}
		stores, err := deps.Store.ListStoresByUser(r.Context(), user.ID)
		if err != nil {
			writeInternalError(w, r, err, deps.Config.Debug)
			return
		}
		out := make([]storeResponse, 0, len(stores))
		for _, s := range stores {
			out = append(out, newStoreResponse(s))
		}
		writeJSON(w, http.StatusOK, map[string]any{"stores": out, "count": len(out)})
	}
}
