package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const merchantStoreColumns = `id, user_id, shopify_store_url, shopify_shop_id, store_name, store_domain,
	business_info, widget_settings, is_active, created_at, updated_at`

// CreateStore registers a merchant store for a user.
func (s *DB) CreateStore(ctx context.Context, m *MerchantStore) error {
	if m == nil {
		return fmt.Errorf("store is nil")
	}
	if m.UserID == "" {
		return fmt.Errorf("store user_id is required")
	}
	if m.ID == "" {
		m.ID = newID()
	}
	if m.BusinessInfo == "" {
		m.BusinessInfo = "{}"
	}
	if m.WidgetSettings == "" {
		m.WidgetSettings = "{}"
	}
	now := s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stores (`+merchantStoreColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.ShopifyStoreURL, m.ShopifyShopID, m.StoreName, m.StoreDomain,
		m.BusinessInfo, m.WidgetSettings, boolToInt(m.IsActive), m.CreatedAt.Unix(), m.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	return nil
}

// GetStore retrieves a merchant store by ID.
func (s *DB) GetStore(ctx context.Context, id string) (*MerchantStore, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+merchantStoreColumns+` FROM stores WHERE id = ?`, id)
	return scanMerchantStore(row)
}

// ListStoresByUser returns the user's stores, oldest first.
func (s *DB) ListStoresByUser(ctx context.Context, userID string) ([]*MerchantStore, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+merchantStoreColumns+` FROM stores WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer rows.Close()

	var stores []*MerchantStore
	for rows.Next() {
		m, err := scanMerchantStore(rows)
		if err != nil {
			return nil, err
		}
		stores = append(stores, m)
	}
	return stores, rows.Err()
}

func scanMerchantStore(sc scanner) (*MerchantStore, error) {
	var m MerchantStore
	var active int
	var createdAt, updatedAt int64
	err := sc.Scan(&m.ID, &m.UserID, &m.ShopifyStoreURL, &m.ShopifyShopID, &m.StoreName, &m.StoreDomain,
		&m.BusinessInfo, &m.WidgetSettings, &active, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan store: %w", err)
	}
	m.IsActive = active != 0
	m.CreatedAt = time.Unix(createdAt, 0).UTC()
	m.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &m, nil
}
