package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iconforge/server/internal/app"
	"github.com/iconforge/server/internal/model"
	"github.com/iconforge/server/internal/shared/config"
	"github.com/iconforge/server/internal/shared/logger"
)

// cli holds the command line state shared by all subcommands.
type cli struct {
	configPath string
	verbose    bool
	newApp     func(cfg *config.Config, log *zap.Logger) (*app.App, error)
}

func defaultCLI() *cli {
	return &cli{newApp: app.NewWithLogger}
}

func newRootCmd(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Operate the credit ledger",
		Long: `ledgerctl runs the ledger's periodic batches on demand and applies manual
tier changes once the reconciliation retry budget is exhausted.

Examples:
  ledgerctl reset                       # Reset every account whose cycle ended
  ledgerctl reconcile                   # Retry failed tier changes
  ledgerctl apply-tier user_123 pro     # Force a tier onto an account
  ledgerctl balance user_123            # Show an account balance`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file (default: $ICONFORGE_CONFIG, then ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log at debug level")

	rootCmd.AddCommand(
		c.resetCmd(),
		c.reconcileCmd(),
		c.applyTierCmd(),
		c.balanceCmd(),
	)
	return rootCmd
}

func (c *cli) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Run one daily reset batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.Runner().RunReset(ctx)
			})
		},
	}
}

func (c *cli) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one failed tier-change reconciliation batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.Runner().RunReconcile(ctx)
			})
		},
	}
}

func (c *cli) applyTierCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply-tier <user-id> <tier>",
		Short: "Move an account to a tier and reset its usage",
		Long: `Apply a tier change directly on the ledger. Use this after reconciliation
has given up on an account. Tier is one of free, pro, enterprise.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, ok := model.ParseTier(args[1])
			if !ok {
				return fmt.Errorf("unknown tier %q", args[1])
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.CreditDomain().ApplyTierChange(ctx, args[0], tier)
			})
		},
	}
}

func (c *cli) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show an account balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.CreditDomain().GetBalance(ctx, args[0])
			})
		},
	}
}

// withApp assembles the application, runs fn and prints its result as JSON.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) (any, error)) error {
	cfg, err := app.LoadConfig(c.configPath)
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if c.verbose {
		level = "debug"
	}
	log := logger.New(&logger.Config{
		Level:  level,
		Format: "console",
		Output: cmd.ErrOrStderr(),
	})

	a, err := c.newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := fn(ctx, a)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
