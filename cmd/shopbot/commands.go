package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rcourtman/shopbot/internal/auth"
	"github.com/rcourtman/shopbot/internal/promo"
	"github.com/rcourtman/shopbot/internal/report"
	"github.com/rcourtman/shopbot/internal/store"
)

type storeOpener func() (*store.DB, error)

func newPromoCmd(open storeOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promo",
		Short: "Manage promo codes",
	}
	cmd.AddCommand(newPromoCreateCmd(open), newPromoListCmd(open))
	return cmd
}

func newPromoCreateCmd(open storeOpener) *cobra.Command {
	var (
		params         promo.CreateParams
		maxUses        int
		durationMonths int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a promo code",
		Example: `  shopbot promo create --code LAUNCH20 --discount-value 20 --max-uses 100
  shopbot promo create --code FLAT15 --discount-type fixed --discount-value 15 --duration-months 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("max-uses") {
				params.MaxUses = &maxUses
			}
			if cmd.Flags().Changed("duration-months") {
				params.DurationMonths = &durationMonths
			}

			db, err := open()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer db.Close()

			p, err := promo.NewService(db).Create(cmd.Context(), params)
			if err != nil {
				return err
			}

			limit := "unlimited"
			if p.MaxUses != nil {
				limit = fmt.Sprint(*p.MaxUses)
			}
			validUntil := "never"
			if p.ValidUntil != nil {
				validUntil = p.ValidUntil.Format("2006-01-02")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created promo code %s (%s, max uses: %s, valid until: %s)\n",
				p.Code, promo.DiscountLabel(p), limit, validUntil)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&params.Code, "code", "", "promo code (stored upper-case)")
	f.StringVar(&params.DiscountType, "discount-type", store.DiscountPercent, "percent or fixed")
	f.Float64Var(&params.DiscountValue, "discount-value", 0, "percent off, or dollars off for fixed codes")
	f.StringVar(&params.Description, "description", "", "free-text description")
	f.IntVar(&maxUses, "max-uses", 0, "redemption limit (default unlimited)")
	f.IntVar(&durationMonths, "duration-months", 0, "months the discount repeats")
	f.BoolVar(&params.FirstMonthOnly, "first-month-only", false, "apply the discount to the first invoice only")
	f.IntVar(&params.ValidDays, "valid-days", promo.DefaultValidDays, "days until the code expires")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("discount-value")
	return cmd
}

func newPromoListCmd(open storeOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List promo codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer db.Close()

			promos, err := promo.NewService(db).List(cmd.Context())
			if err != nil {
				return err
			}
			if len(promos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No promo codes")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tDISCOUNT\tUSED\tACTIVE\tVALID UNTIL")
			for _, p := range promos {
				limit := "unlimited"
				if p.MaxUses != nil {
					limit = fmt.Sprint(*p.MaxUses)
				}
				validUntil := "never"
				if p.ValidUntil != nil {
					validUntil = p.ValidUntil.Format("2006-01-02")
				}
				fmt.Fprintf(tw, "%s\t%s\t%d/%s\t%t\t%s\n", p.Code, promo.DiscountLabel(p), p.TimesUsed, limit, p.IsActive, validUntil)
			}
			return tw.Flush()
		},
	}
}

func newReportCmd(open storeOpener) *cobra.Command {
	var (
		pdfPath string
		asCSV   bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print promo codes, users and subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pdfPath != "" && asCSV {
				return errors.New("--pdf and --csv are mutually exclusive")
			}

			db, err := open()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer db.Close()

			data, err := report.Collect(cmd.Context(), db)
			if err != nil {
				return err
			}

			switch {
			case pdfPath != "":
				out, err := report.RenderPDF(data)
				if err != nil {
					return err
				}
				if err := os.WriteFile(pdfPath, out, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", pdfPath, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", pdfPath, len(out))
				return nil
			case asCSV:
				return report.WriteCSV(cmd.OutOrStdout(), data)
			default:
				return report.WriteText(cmd.OutOrStdout(), data)
			}
		},
	}
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "write a PDF report to this file")
	cmd.Flags().BoolVar(&asCSV, "csv", false, "print CSV instead of text")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hashpw <password>",
		Short: "Print the bcrypt hash of a password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.ValidatePassword(args[0]); err != nil {
				return err
			}
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
