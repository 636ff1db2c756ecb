package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const promoColumns = `id, code, discount_type, discount_value, max_uses, times_used, is_active,
	valid_from, valid_until, first_month_only, duration_months, description, created_at`

// CreatePromoCode inserts a promo code. The code is stored upper-case and a
// taken code yields ErrDuplicate.
func (s *DB) CreatePromoCode(ctx context.Context, p *PromoCode) error {
	if p == nil {
		return fmt.Errorf("promo code is nil")
	}
	if p.ID == "" {
		p.ID = newID()
	}
	p.Code = normalizeCode(p.Code)
	if p.DiscountType == "" {
		p.DiscountType = DiscountPercent
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.ValidFrom.IsZero() {
		p.ValidFrom = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO promo_codes (`+promoColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Code, p.DiscountType, p.DiscountValue, nullableInt(p.MaxUses), p.TimesUsed, boolToInt(p.IsActive),
		p.ValidFrom.Unix(), nullableTimeUnix(p.ValidUntil), boolToInt(p.FirstMonthOnly), nullableInt(p.DurationMonths),
		p.Description, p.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create promo code: %w", err)
	}
	return nil
}

// GetPromoCodeByCode looks a code up after upper-casing it.
func (s *DB) GetPromoCodeByCode(ctx context.Context, code string) (*PromoCode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+promoColumns+` FROM promo_codes WHERE code = ?`, normalizeCode(code))
	return scanPromo(row)
}

// GetPromoCodeByID retrieves a promo code by ID.
func (s *DB) GetPromoCodeByID(ctx context.Context, id string) (*PromoCode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+promoColumns+` FROM promo_codes WHERE id = ?`, id)
	return scanPromo(row)
}

// ListPromoCodes returns every promo code, newest first.
func (s *DB) ListPromoCodes(ctx context.Context) ([]*PromoCode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+promoColumns+` FROM promo_codes ORDER BY created_at DESC, code`)
	if err != nil {
		return nil, fmt.Errorf("list promo codes: %w", err)
	}
	defer rows.Close()

	var promos []*PromoCode
	for rows.Next() {
		p, err := scanPromo(rows)
		if err != nil {
			return nil, err
		}
		promos = append(promos, p)
	}
	return promos, rows.Err()
}

// RedeemPromoCode increments times_used in one statement guarded by
// max_uses, so concurrent redemptions cannot overshoot the limit.
func (s *DB) RedeemPromoCode(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE promo_codes SET times_used = times_used + 1
		WHERE id = ? AND (max_uses IS NULL OR times_used < max_uses)`, id)
	if err != nil {
		return fmt.Errorf("redeem promo code: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 1 {
		return nil
	}
	p, err := s.GetPromoCodeByID(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrNotFound
	}
	return ErrLimitReached
}

// ReleasePromoCode gives back one use taken by RedeemPromoCode.
func (s *DB) ReleasePromoCode(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE promo_codes SET times_used = times_used - 1
		WHERE id = ? AND times_used > 0`, id)
	if err != nil {
		return fmt.Errorf("release promo code: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPromo(sc scanner) (*PromoCode, error) {
	var p PromoCode
	var maxUses, durationMonths, validUntil sql.NullInt64
	var active, firstMonth int
	var validFrom, createdAt int64

	err := sc.Scan(&p.ID, &p.Code, &p.DiscountType, &p.DiscountValue, &maxUses, &p.TimesUsed, &active,
		&validFrom, &validUntil, &firstMonth, &durationMonths, &p.Description, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan promo code: %w", err)
	}
	p.MaxUses = intFromNull(maxUses)
	p.DurationMonths = intFromNull(durationMonths)
	p.IsActive = active != 0
	p.FirstMonthOnly = firstMonth != 0
	p.ValidFrom = time.Unix(validFrom, 0).UTC()
	p.ValidUntil = timeFromNull(validUntil)
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &p, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
