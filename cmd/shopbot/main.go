package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcourtman/shopbot/internal/config"
	"github.com/rcourtman/shopbot/internal/logging"
	"github.com/rcourtman/shopbot/internal/server"
	"github.com/rcourtman/shopbot/internal/store"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func newRootCmd() *cobra.Command {
	var dataDir string

	root := &cobra.Command{
		Use:     "shopbot",
		Short:   "ShopBot - AI customer support for e-commerce stores",
		Long:    `ShopBot answers storefront customer questions with an LLM and bills merchants through Stripe subscriptions.`,
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.InitWithWriter(logging.Config{Level: "warn", Component: "shopbot-cli"}, cmd.ErrOrStderr())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return server.Run(cmd.Context(), cfg, Version)
		},
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "database directory for offline commands (default $DATA_DIR or ./data)")

	open := func() (*store.DB, error) {
		dir := dataDir
		if dir == "" {
			dir = config.DataDirFromEnv()
		}
		return store.Open(dir)
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newPromoCmd(open))
	root.AddCommand(newReportCmd(open))
	root.AddCommand(newHashPasswordCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ShopBot %s\n", Version)
			if BuildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", BuildTime)
			}
			if GitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", GitCommit)
			}
		},
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
