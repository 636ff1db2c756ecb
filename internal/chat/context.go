package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rcourtman/shopbot/internal/store"
)

// Product is a catalogue entry the assistant may talk about.
type Product struct {
	Name  string   `json:"name"`
	Price float64  `json:"price"`
	Sizes []string `json:"sizes,omitempty"`
}

// StoreContext is the merchant information injected into the system prompt.
type StoreContext struct {
	StoreName    string    `json:"store_name"`
	ReturnPolicy string    `json:"return_policy"`
	ShippingInfo string    `json:"shipping_info"`
	Products     []Product `json:"products,omitempty"`
}

// DefaultStoreContext is the demo T-shirt shop used when no merchant context
// is available.
func DefaultStoreContext() StoreContext {
	return StoreContext{
		StoreName:    "Demo T-Shirt Store",
		ReturnPolicy: "30-day returns, free shipping on returns over $50",
		ShippingInfo: "Standard shipping 5-7 days ($5.99), Express 2-3 days ($12.99), Next day ($24.99). Free shipping over $50.",
		Products: []Product{
			{Name: "Classic White Tee", Price: 29.99, Sizes: []string{"S", "M", "L", "XL"}},
			{Name: "Vintage Band Shirt", Price: 34.99, Sizes: []string{"S", "M", "L", "XL", "XXL"}},
			{Name: "Premium Cotton Polo", Price: 44.99, Sizes: []string{"S", "M", "L", "XL"}},
		},
	}
}

// businessInfo is the subset of a store's business_info document we read.
type businessInfo struct {
	ReturnPolicy string    `json:"return_policy"`
	ShippingInfo string    `json:"shipping_info"`
	Products     []Product `json:"products"`
}

// StoreContextFromStore builds the prompt context for a merchant store.
func StoreContextFromStore(s *store.MerchantStore) (StoreContext, error) {
	if s == nil {
		return StoreContext{}, fmt.Errorf("store is nil")
	}

	sc := StoreContext{StoreName: strings.TrimSpace(s.StoreName)}
	if sc.StoreName == "" {
		sc.StoreName = strings.TrimSpace(s.StoreDomain)
	}

	raw := strings.TrimSpace(s.BusinessInfo)
	if raw != "" {
		var info businessInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			return StoreContext{}, fmt.Errorf("parse business info for store %s: %w", s.ID, err)
		}
		sc.ReturnPolicy = info.ReturnPolicy
		sc.ShippingInfo = info.ShippingInfo
		sc.Products = info.Products
	}
	return sc, nil
}
