package cli

import (
	"context"
	"fmt"
	"time"

	"storefront-ledger/internal/core/ports"
	"storefront-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Overlap lock TTLs. A crashed run frees its lock once the TTL passes.
const (
	processLockTTL = 15 * time.Minute
	settleLockTTL  = 30 * time.Minute
)

func (a *App) loyaltyEvaluate(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := a.newFlagSet("loyalty:evaluate")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return usagef("expected at most one user id")
	}

	var userID *uuid.UUID
	if fs.NArg() == 1 {
		id, err := parseID(fs.Arg(0), "user id")
		if err != nil {
			return err
		}
		userID = &id
	}

	results, err := a.svc.Loyalty.Evaluate(ctx, userID)
	if err != nil {
		return err
	}

	changed := 0
	for _, r := range results {
		if !r.Changed {
			continue
		}
		changed++
		fmt.Fprintf(a.out, "%s: %s -> %s (net spend %s)\n",
			r.UserID, tierLabel(r.Previous), r.Current, money.Format(r.Spend, a.currency))
	}
	log.Info().Int("evaluated", len(results)).Int("changed", changed).Msg("loyalty evaluated")
	fmt.Fprintf(a.out, "evaluated %d users, %d changed tier\n", len(results), changed)
	return nil
}

func tierLabel(tier string) string {
	if tier == "" {
		return "none"
	}
	return tier
}

func (a *App) fulfillmentProcess(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := a.newFlagSet("fulfillment:process")
	limit := fs.Int("limit", a.batchSize, "maximum fulfillments to process")
	onlyPending := fs.Bool("only-pending", false, "skip failed fulfillments awaiting retry")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return usagef("unexpected argument %q", fs.Arg(0))
	}
	if *limit <= 0 {
		return usagef("--limit must be positive")
	}

	return a.withLock(ctx, log, "fulfillment:process", processLockTTL, func() error {
		summary, err := a.svc.Fulfillment.ProcessQueue(ctx, ports.ProcessOptions{
			Limit:       *limit,
			OnlyPending: *onlyPending,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "processed %d fulfillments: %d completed, %d failed, %d skipped\n",
			summary.Processed, summary.Completed, summary.Failed, summary.Skipped)
		return nil
	})
}

func (a *App) profitSettle(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := a.newFlagSet("profit:settle")
	dryRun := fs.Bool("dry-run", false, "list what would be settled without writing")
	untilStr := fs.String("until", "", "settle fulfillments completed up to this date (YYYY-MM-DD, inclusive)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return usagef("unexpected argument %q", fs.Arg(0))
	}

	until, err := parseUntil(*untilStr, a.now())
	if err != nil {
		return err
	}

	return a.withLock(ctx, log, "profit:settle", settleLockTTL, func() error {
		result, err := a.svc.Settlement.Settle(ctx, ports.SettleParams{Until: until, DryRun: *dryRun})
		if err != nil {
			return err
		}

		if len(result.Candidates) == 0 {
			fmt.Fprintf(a.out, "nothing to settle until %s\n", until.Format(time.DateOnly))
			return nil
		}

		if result.DryRun {
			for _, c := range result.Candidates {
				fmt.Fprintf(a.out, "%s  order %s  qty %d  profit %s\n",
					c.FulfillmentID, c.OrderID, c.Quantity, money.Format(c.Profit(), a.currency))
			}
			fmt.Fprintf(a.out, "dry run: would settle %d fulfillments for %s\n",
				len(result.Candidates), money.Format(result.TotalProfit, a.currency))
			return nil
		}

		s := result.Settlement
		log.Info().
			Str("settlement_id", s.ID.String()).
			Int("fulfillments", s.FulfillmentCount).
			Int64("total_profit", s.TotalProfit).
			Msg("profit settled")
		fmt.Fprintf(a.out, "settled %d fulfillments for %s (settlement %s)\n",
			s.FulfillmentCount, money.Format(s.TotalProfit, s.Currency), s.ID)
		return nil
	})
}

// parseUntil turns a YYYY-MM-DD date into the last instant of that day in UTC.
// An empty value means the end of today.
func parseUntil(value string, now time.Time) (time.Time, error) {
	day := now.UTC().Truncate(24 * time.Hour)
	if value != "" {
		d, err := time.ParseInLocation(time.DateOnly, value, time.UTC)
		if err != nil {
			return time.Time{}, usagef("--until must be YYYY-MM-DD, got %q", value)
		}
		day = d
	}
	// Postgres timestamps keep microseconds.
	return day.AddDate(0, 0, 1).Add(-time.Microsecond), nil
}

func (a *App) walletReconcile(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := a.newFlagSet("wallet:reconcile")
	userStr := fs.String("user", "", "only reconcile this user's wallets")
	dryRun := fs.Bool("dry-run", false, "report drift without fixing it")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return usagef("unexpected argument %q", fs.Arg(0))
	}

	params := ports.ReconcileParams{DryRun: *dryRun}
	if *userStr != "" {
		id, err := parseID(*userStr, "--user")
		if err != nil {
			return err
		}
		params.UserID = &id
	}

	report, err := a.svc.Reconcile.Reconcile(ctx, params)
	if err != nil {
		return err
	}

	for _, line := range report.Lines {
		if line.Drift == 0 {
			continue
		}
		state := "drift"
		if line.Fixed {
			state = "fixed"
		}
		fmt.Fprintf(a.out, "%s  %s  cached %s  ledger %s  drift %s\n",
			line.WalletID, state,
			money.String(line.Cached), money.String(line.Computed), money.String(line.Drift))
	}
	log.Info().
		Int("wallets", len(report.Lines)).
		Int("drifted", report.Drifted).
		Int("fixed", report.Fixed).
		Bool("dry_run", report.DryRun).
		Msg("wallets reconciled")

	if report.DryRun {
		fmt.Fprintf(a.out, "dry run: checked %d wallets, %d drifted\n", len(report.Lines), report.Drifted)
		return nil
	}
	fmt.Fprintf(a.out, "checked %d wallets, %d drifted, %d fixed\n", len(report.Lines), report.Drifted, report.Fixed)
	return nil
}

func parseID(value, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, usagef("%s must be a UUID, got %q", what, value)
	}
	return id, nil
}
