package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// WriteCSV writes the report as one CSV stream with a section column so it
// loads into a single spreadsheet.
func WriteCSV(w io.Writer, data *Data) error {
	cw := csv.NewWriter(w)

	rows := [][]string{
		{"# ShopBot Billing Report"},
		{"# Generated:", data.GeneratedAt.Format(time.RFC3339)},
		{"section", "key", "detail_1", "detail_2", "detail_3", "detail_4"},
	}
	for _, p := range data.Promos {
		rows = append(rows, []string{"promo", p.Code, p.Discount, p.Usage(), strconv.FormatBool(p.Active), formatDate(p.ValidUntil)})
	}
	for _, u := range data.Users {
		rows = append(rows, []string{"user", u.Email, u.FullName, u.Company, u.StoreURL, u.CreatedAt.UTC().Format(time.RFC3339)})
	}
	for _, s := range data.Subscriptions {
		rows = append(rows, []string{
			"subscription",
			s.Email,
			s.Status,
			fmt.Sprintf("%s $%.2f", s.PlanName, s.MonthlyPrice),
			fmt.Sprintf("%g%%", s.DiscountPercent),
			fmt.Sprintf("%d/%d", s.MessagesUsed, s.MessageLimit),
		})
	}

	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write CSV row %q: %w", row[0], err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("CSV write error: %w", err)
	}
	return nil
}
