package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

const rule = "============================================================"

// WriteText prints the report as three plain-text sections.
func WriteText(w io.Writer, data *Data) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	section(tw, "PROMO CODES")
	if len(data.Promos) == 0 {
		fmt.Fprintln(tw, "(none)")
	}
	for _, p := range data.Promos {
		fmt.Fprintf(tw, "Code:\t%s\n", p.Code)
		fmt.Fprintf(tw, "  Discount:\t%s\n", p.Discount)
		fmt.Fprintf(tw, "  Used:\t%s\n", p.Usage())
		fmt.Fprintf(tw, "  Active:\t%t\n", p.Active)
		fmt.Fprintf(tw, "  Valid until:\t%s\n", formatDate(p.ValidUntil))
		fmt.Fprintf(tw, "  Description:\t%s\n", orDash(p.Description))
		fmt.Fprintln(tw)
	}

	section(tw, "USERS")
	if len(data.Users) == 0 {
		fmt.Fprintln(tw, "(none)")
	}
	for _, u := range data.Users {
		fmt.Fprintf(tw, "Email:\t%s\n", u.Email)
		fmt.Fprintf(tw, "  Name:\t%s\n", orDash(u.FullName))
		fmt.Fprintf(tw, "  Company:\t%s\n", orDash(u.Company))
		fmt.Fprintf(tw, "  Store:\t%s\n", orDash(u.StoreURL))
		fmt.Fprintf(tw, "  Created:\t%s\n", u.CreatedAt.UTC().Format(time.RFC3339))
		fmt.Fprintln(tw)
	}

	section(tw, "SUBSCRIPTIONS")
	if len(data.Subscriptions) == 0 {
		fmt.Fprintln(tw, "(none)")
	}
	for _, s := range data.Subscriptions {
		fmt.Fprintf(tw, "User:\t%s\n", s.Email)
		fmt.Fprintf(tw, "  Status:\t%s\n", s.Status)
		fmt.Fprintf(tw, "  Plan:\t%s - $%.2f/month\n", s.PlanName, s.MonthlyPrice)
		fmt.Fprintf(tw, "  Discount:\t%g%%\n", s.DiscountPercent)
		fmt.Fprintf(tw, "  Messages:\t%d/%d\n", s.MessagesUsed, s.MessageLimit)
		fmt.Fprintln(tw)
	}

	counts := data.StatusCounts()
	if len(counts) > 0 {
		statuses := make([]string, 0, len(counts))
		for status := range counts {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)
		parts := make([]string, 0, len(statuses))
		for _, status := range statuses {
			parts = append(parts, fmt.Sprintf("%s=%d", status, counts[status]))
		}
		fmt.Fprintf(tw, "Totals:\t%s\n", strings.Join(parts, " "))
	}

	return tw.Flush()
}

func section(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n%s\n", title, rule)
}
