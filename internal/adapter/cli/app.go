// Package cli implements the storefront console commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"storefront-ledger/config"
	"storefront-ledger/internal/core/ports"
	"storefront-ledger/pkg/apperror"
	"storefront-ledger/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

// Process exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// Services bundles the business services the commands drive.
type Services struct {
	Ledger      ports.LedgerService
	Checkout    ports.CheckoutService
	Fulfillment ports.FulfillmentService
	Settlement  ports.SettlementService
	Reconcile   ports.ReconcileService
	Loyalty     ports.LoyaltyService
}

// Options configures an App.
type Options struct {
	Services  Services
	Lock      ports.CommandLock
	Currency  string
	BatchSize int
	Scheduler config.SchedulerConfig
	// HealthCheckers back the /readyz probe served by schedule:work.
	HealthCheckers []ports.HealthChecker
	Out            io.Writer
	Logger         zerolog.Logger
}

// App dispatches console commands.
type App struct {
	svc       Services
	lock      ports.CommandLock
	currency  string
	batchSize int
	scheduler config.SchedulerConfig
	health    []ports.HealthChecker
	out       io.Writer
	log       zerolog.Logger
	now       func() time.Time
	commands  map[string]command
}

type command struct {
	usage string
	run   func(ctx context.Context, log zerolog.Logger, args []string) error
}

// usageError marks bad invocations (unknown command, bad flags or arguments).
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// New creates an App with every command registered.
func New(opts Options) *App {
	a := &App{
		svc:       opts.Services,
		lock:      opts.Lock,
		currency:  opts.Currency,
		batchSize: opts.BatchSize,
		scheduler: opts.Scheduler,
		health:    opts.HealthCheckers,
		out:       opts.Out,
		log:       opts.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	a.commands = map[string]command{
		"loyalty:evaluate":     {"loyalty:evaluate [user_id]", a.loyaltyEvaluate},
		"fulfillment:process":  {"fulfillment:process [--limit=N] [--only-pending]", a.fulfillmentProcess},
		"fulfillment:start":    {"fulfillment:start <fulfillment_id>", a.fulfillmentStart},
		"fulfillment:complete": {"fulfillment:complete <fulfillment_id> --payload=TEXT", a.fulfillmentComplete},
		"fulfillment:fail":     {"fulfillment:fail <fulfillment_id> --reason=TEXT", a.fulfillmentFail},
		"fulfillment:retry":    {"fulfillment:retry <fulfillment_id>", a.fulfillmentRetry},
		"fulfillment:show":     {"fulfillment:show <fulfillment_id>", a.fulfillmentShow},
		"profit:settle":        {"profit:settle [--dry-run] [--until=YYYY-MM-DD]", a.profitSettle},
		"wallet:reconcile":     {"wallet:reconcile [--user=ID] [--dry-run]", a.walletReconcile},
		"wallet:adjust":        {"wallet:adjust <wallet_id> --amount=DECIMAL --reason=TEXT --key=KEY", a.walletAdjust},
		"topup:create":         {"topup:create --user=ID --amount=DECIMAL --method=NAME", a.topupCreate},
		"topup:approve":        {"topup:approve <topup_id> [--reviewer=NAME]", a.topupApprove},
		"topup:reject":         {"topup:reject <topup_id> [--reviewer=NAME] [--note=TEXT]", a.topupReject},
		"refund:request":       {"refund:request <fulfillment_id> --reason=TEXT", a.refundRequest},
		"refund:approve":       {"refund:approve <entry_id> [--reviewer=NAME]", a.refundApprove},
		"refund:reject":        {"refund:reject <entry_id> [--reviewer=NAME]", a.refundReject},
		"order:checkout":       {"order:checkout --user=ID --item=PRODUCT_ID[:QTY]... [--require key=value,...]", a.orderCheckout},
		"schedule:work":        {"schedule:work", a.scheduleWork},
	}
	return a
}

// Run executes the command named by args[0] and returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		a.printUsage()
		if len(args) == 0 {
			return ExitUsage
		}
		return ExitOK
	}

	name := args[0]
	cmd, ok := a.commands[name]
	if !ok {
		fmt.Fprintf(a.out, "unknown command %q\n\n", name)
		a.printUsage()
		return ExitUsage
	}

	log := logger.ForCommand(a.log, name)
	start := time.Now()
	err := cmd.run(ctx, log, args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintf(a.out, "usage: %s\n", cmd.usage)
		return ExitOK
	}

	code := exitCode(err)
	switch {
	case err == nil:
		log.Info().Dur("duration", time.Since(start)).Msg("command finished")
	case code == ExitUsage:
		log.Warn().Err(err).Msg("invalid invocation")
		fmt.Fprintf(a.out, "error: %v\nusage: %s\n", err, cmd.usage)
	default:
		if apperror.IsKind(err, apperror.KindInternal) {
			log.Error().Err(err).Msg("command failed")
		} else {
			log.Warn().Err(err).Msg("command rejected")
		}
		fmt.Fprintf(a.out, "error: %v\n", err)
	}
	return code
}

// exitCode maps an error to a process exit code. Bad invocations and
// VAL_001 input errors exit 2; every other failure exits 1.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var uErr *usageError
	if errors.As(err, &uErr) {
		return ExitUsage
	}
	if apperror.HasCode(err, "VAL_001") {
		return ExitUsage
	}
	return ExitError
}

func (a *App) printUsage() {
	names := make([]string, 0, len(a.commands))
	for name := range a.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("usage: storefront <command> [flags]\n\ncommands:\n")
	for _, name := range names {
		b.WriteString("  " + a.commands[name].usage + "\n")
	}
	fmt.Fprint(a.out, b.String())
}

// newFlagSet returns a flag set whose errors surface as usage errors.
func (a *App) newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false
	return fs
}

func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return usagef("%v", err)
	}
	return nil
}

// withLock runs fn while holding the named overlap lock. A lock held by
// another run is not an error: the command is skipped.
func (a *App) withLock(ctx context.Context, log zerolog.Logger, name string, ttl time.Duration, fn func() error) error {
	release, err := a.lock.Acquire(ctx, name, ttl)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("acquire lock: %w", err))
	}
	if release == nil {
		log.Warn().Str("lock", name).Msg("another run holds the lock, skipping")
		fmt.Fprintf(a.out, "skipped: another %s run is in progress\n", name)
		return nil
	}
	defer func() {
		// The run's context may already be cancelled; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			log.Error().Err(err).Str("lock", name).Msg("failed to release lock")
		}
	}()
	return fn()
}
