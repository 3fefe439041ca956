package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/veltoai/founder-launch/internal/config"
	"github.com/veltoai/founder-launch/internal/credits"
	"github.com/veltoai/founder-launch/internal/docstore"
	"github.com/veltoai/founder-launch/internal/kvcache"
	"github.com/veltoai/founder-launch/internal/logging"
	"github.com/veltoai/founder-launch/pkg/licensing"
)

// services are the persistence pieces shared by serve and the credits commands.
type services struct {
	store    *docstore.SQLiteStore
	registry *credits.Registry
}

func openServices(cfg *config.Config) (*services, error) {
	store, err := docstore.OpenSQLite(cfg.Credits.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	cache, err := kvcache.NewFileCache(cfg.Credits.CacheDir)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open credit cache: %w", err)
	}
	registry, err := credits.NewRegistry(credits.RegistryOptions{
		Store:          store,
		Cache:          cache,
		NotifyDebounce: cfg.Credits.NotifyDebounce,
		IdleTimeout:    cfg.Credits.SessionIdleTimeout,
		Outbox: credits.OutboxOptions{
			RetryInterval: cfg.Credits.OutboxRetryInterval,
			MaxAttempts:   cfg.Credits.OutboxMaxAttempts,
		},
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create credit registry: %w", err)
	}
	return &services{store: store, registry: registry}, nil
}

func (s *services) close() {
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close document store")
	}
}

// ledgerAction runs one change against an identity's ledger and returns the
// resulting state.
type ledgerAction func(ctx context.Context, l *credits.Ledger) (credits.CreditState, error)

func newCreditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and adjust an account's credits",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <identity>",
		Short: "Print the credit state for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerCommand(cmd, args[0], func(_ context.Context, l *credits.Ledger) (credits.CreditState, error) {
				return l.CheckMonthlyReset()
			})
		},
	})

	var payment bool
	setTier := &cobra.Command{
		Use:   "set-tier <identity> <tier>",
		Short: "Change an account's tier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, ok := licensing.ParseTier(args[1])
			if !ok {
				return fmt.Errorf("%w: %q", credits.ErrUnknownTier, args[1])
			}
			return runLedgerCommand(cmd, args[0], func(ctx context.Context, l *credits.Ledger) (credits.CreditState, error) {
				return l.SetTier(ctx, tier, payment)
			})
		},
	}
	setTier.Flags().BoolVar(&payment, "payment", false, "record the change as a successful payment")
	cmd.AddCommand(setTier)

	cmd.AddCommand(&cobra.Command{
		Use:   "add <identity> <tokens>",
		Short: "Grant extra tokens for the current period",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("%w: %q", credits.ErrInvalidAmount, args[1])
			}
			return runLedgerCommand(cmd, args[0], func(ctx context.Context, l *credits.Ledger) (credits.CreditState, error) {
				return l.Add(ctx, amount)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <identity>",
		Short: "Apply the monthly reset if a new period has started",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerCommand(cmd, args[0], func(ctx context.Context, l *credits.Ledger) (credits.CreditState, error) {
				return l.ResetMonthly(ctx)
			})
		},
	})

	return cmd
}

// runLedgerCommand opens the identity's ledger, applies action, flushes the
// remote write and prints the resulting view as JSON.
func runLedgerCommand(cmd *cobra.Command, identity string, action ledgerAction) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "velto-cli"})

	svc, err := openServices(cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	l, err := svc.registry.Open(ctx, identity)
	if err != nil {
		return err
	}
	state, err := action(ctx, l)
	if err != nil {
		return err
	}
	if err := svc.registry.Shutdown(ctx); err != nil {
		return fmt.Errorf("save credit record: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(credits.NewView(l.Identity(), state))
}
