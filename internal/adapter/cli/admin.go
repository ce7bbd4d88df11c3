package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"storefront-ledger/internal/core/domain"
	"storefront-ledger/internal/core/ports"
	"storefront-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const defaultReviewer = "console"

// idArg parses flags and the single positional UUID most admin commands take.
func (a *App) idArg(fs *pflag.FlagSet, args []string, what string) (uuid.UUID, error) {
	if err := parseFlags(fs, args); err != nil {
		return uuid.Nil, err
	}
	if fs.NArg() != 1 {
		return uuid.Nil, usagef("expected exactly one %s", what)
	}
	return parseID(fs.Arg(0), what)
}

func (a *App) printPosting(verb string, res *ports.PostingResult) {
	if res.AlreadyPosted {
		fmt.Fprintf(a.out, "already posted: entry %s\n", res.Entry.ID)
		return
	}
	fmt.Fprintf(a.out, "%s: %s %s (entry %s)\n",
		verb, res.Entry.Direction, money.Format(res.Entry.Amount, a.currency), res.Entry.ID)
}

func (a *App) topupCreate(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := a.newFlagSet("topup:create")
	userStr := fs.String("user", "", "customer user id")
	amountStr := fs.String("amount", "", "amount in major units (12.50)")
	method := fs.String("method", "", "payment method (bank_transfer, e_wallet, ...)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	userID, err := parseID(*userStr, "--user")
	if err != nil {
		return err
	}
	amount, err := money.Parse(*amountStr)
	if err != nil {
		return usagef("--amount: %v", err)
	}

	req, err := a.svc.Ledger.CreateTopupRequest(ctx, ports.TopupInput{
		UserID:   userID,
		Amount:   amount,
		Currency: a.currency,
		Method:   *method,
	})
	if err != nil {
		return err
	}
	log.Info().Str("topup_id", req.ID.String()).Msg("topup requested")
	fmt.Fprintf(a.out, "topup %s pending review: %s via %s\n", req.ID, money.Format(req.Amount, a.currency), req.Method)
	return nil
}

func (a *App) topupApprove(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := a.newFlagSet("topup:approve")
	reviewer := fs.String("reviewer", defaultReviewer, "name recorded as reviewer")
	id, err := a.idArg(fs, args, "topup id")
	if err != nil {
		return err
	}

	res, err := a.svc.Ledger.ApproveTopup(ctx, id, *reviewer)
	if err != nil {
		return err
	}
	log.Info().Str("topup_id", id.String()).Bool("already_posted", res.AlreadyPosted).Msg("topup approved")
	a.printPosting("topup approved", res)
	return nil
}

func (a *App) topupReject(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := a.newFlagSet("topup:reject")
	reviewer := fs.String("reviewer", defaultReviewer, "name recorded as reviewer")
	note := fs.String("note", "", "reason shown to the customer")
	id, err := a.idArg(fs, args, "topup id")
	if err != nil {
		return err
	}

	req, err := a.svc.Ledger.RejectTopup(ctx, id, *reviewer, *note)
	if err != nil {
		return err
	}
	log.Info().Str("topup_id", id.String()).Msg("topup rejected")
	fmt.Fprintf(a.out, "topup %s %s\n", req.ID, req.Status)
	return nil
}

func (a *App) refundRequest(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := a.newFlagSet("refund:request")
	reason := fs.String("reason", "", "why the item is refunded")
	id, err := a.idArg(fs, args, "fulfillment id")
	if err != nil {
		return err
	}

	entry, err := a.svc.Ledger.RequestRefund(ctx, id, *reason)
	if err != nil {
		return err
	}
	log.Info().Str("entry_id", entry.ID.String()).Str("fulfillment_id", id.String()).Msg("refund requested")
	fmt.Fprintf(a.out, "refund %s pending review: %s\n", entry.ID, money.Format(entry.Amount, a.currency))
	return nil
}

func (a *App) refundApprove(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := a.newFlagSet("refund:approve")
	reviewer := fs.String("reviewer", defaultReviewer, "name recorded as reviewer")
	id, err := a.idArg(fs, args, "entry id")
	if err != nil {
		return err
	}

	res, err := a.svc.Ledger.ApproveRefund(ctx, id, *reviewer)
	if err != nil {
		return err
	}
	log.Info().Str("entry_id", id.String()).Bool("already_posted", res.AlreadyPosted).Msg("refund approved")
	a.printPosting("refund approved", res)
	return nil
}

func (a *App) refundReject(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := a.newFlagSet("refund:reject")
	reviewer := fs.String("reviewer", defaultReviewer, "name recorded as reviewer")
	id, err := a.idArg(fs, args, "entry id")
	if err != nil {
		return err
	}

	entry, err := a.svc.Ledger.RejectRefund(ctx, id, *reviewer)
	if err != nil {
		return err
	}
	log.Info().Str("entry_id", id.String()).Msg("refund rejected")
	fmt.Fprintf(a.out, "refund %s %s\n", entry.ID, entry.Status)
	return nil
}

func (a *App) walletAdjust(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := a.newFlagSet("wallet:adjust")
	amountStr := fs.String("amount", "", "signed amount in major units; negative debits")
	reason := fs.String("reason", "", "why the balance is corrected")
	key := fs.String("key", "", "idempotency key for this correction")
	id, err := a.idArg(fs, args, "wallet id")
	if err != nil {
		return err
	}
	amount, err := money.Parse(*amountStr)
	if err != nil {
		return usagef("--amount: %v", err)
	}

	res, err := a.svc.Ledger.Adjust(ctx, ports.AdjustmentInput{
		WalletID:       id,
		Amount:         amount,
		Reason:         *reason,
		IdempotencyKey: *key,
	})
	if err != nil {
		return err
	}
	log.Info().Str("wallet_id", id.String()).Int64("amount", amount).Bool("already_posted", res.AlreadyPosted).Msg("wallet adjusted")
	a.printPosting("adjusted", res)
	return nil
}

func (a *App) orderCheckout(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := a.newFlagSet("order:checkout")
	userStr := fs.String("user", "", "customer user id")
	items := fs.StringArray("item", nil, "PRODUCT_ID[:QTY], repeatable")
	requirements := fs.StringToString("require", nil, "purchase requirements applied to every item")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	userID, err := parseID(*userStr, "--user")
	if err != nil {
		return err
	}
	if len(*items) == 0 {
		return usagef("at least one --item is required")
	}

	req := ports.CheckoutRequest{UserID: userID, Currency: a.currency}
	for _, raw := range *items {
		item, err := parseCartItem(raw)
		if err != nil {
			return err
		}
		item.Requirements = *requirements
		req.Items = append(req.Items, item)
	}

	order, err := a.svc.Checkout.Checkout(ctx, req)
	if err != nil {
		return err
	}
	log.Info().Str("order_id", order.ID.String()).Int64("total", order.Total).Msg("order placed")
	fmt.Fprintf(a.out, "order %s %s: %d items, %s\n",
		order.ID, order.Status, len(order.Items), money.Format(order.Total, order.Currency))
	return nil
}

func parseCartItem(raw string) (ports.CartItem, error) {
	idPart, qtyPart, hasQty := strings.Cut(raw, ":")
	id, err := parseID(idPart, "--item product id")
	if err != nil {
		return ports.CartItem{}, err
	}
	qty := 1
	if hasQty {
		qty, err = strconv.Atoi(qtyPart)
		if err != nil || qty <= 0 {
			return ports.CartItem{}, usagef("--item quantity must be a positive integer, got %q", qtyPart)
		}
	}
	return ports.CartItem{ProductID: id, Quantity: qty}, nil
}

func (a *App) fulfillmentStart(ctx context.Context, log zerolog.Logger, args []string) error {
	id, err := a.idArg(a.newFlagSet("fulfillment:start"), args, "fulfillment id")
	if err != nil {
		return err
	}
	f, err := a.svc.Fulfillment.Start(ctx, id)
	if err != nil {
		return err
	}
	a.printFulfillment(log, f)
	return nil
}

func (a *App) fulfillmentComplete(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := a.newFlagSet("fulfillment:complete")
	payload := fs.String("payload", "", "delivered codes or credentials")
	id, err := a.idArg(fs, args, "fulfillment id")
	if err != nil {
		return err
	}
	f, err := a.svc.Fulfillment.Complete(ctx, id, *payload)
	if err != nil {
		return err
	}
	a.printFulfillment(log, f)
	return nil
}

func (a *App) fulfillmentFail(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := a.newFlagSet("fulfillment:fail")
	reason := fs.String("reason", "", "why delivery failed")
	id, err := a.idArg(fs, args, "fulfillment id")
	if err != nil {
		return err
	}
	if strings.TrimSpace(*reason) == "" {
		return usagef("--reason is required")
	}
	f, err := a.svc.Fulfillment.Fail(ctx, id, *reason)
	if err != nil {
		return err
	}
	a.printFulfillment(log, f)
	return nil
}

func (a *App) fulfillmentRetry(ctx context.Context, log zerolog.Logger, args []string) error {
	id, err := a.idArg(a.newFlagSet("fulfillment:retry"), args, "fulfillment id")
	if err != nil {
		return err
	}
	f, err := a.svc.Fulfillment.Retry(ctx, id)
	if err != nil {
		return err
	}
	a.printFulfillment(log, f)
	return nil
}

func (a *App) fulfillmentShow(ctx context.Context, _ zerolog.Logger, args []string) error {
	id, err := a.idArg(a.newFlagSet("fulfillment:show"), args, "fulfillment id")
	if err != nil {
		return err
	}
	f, payload, err := a.svc.Fulfillment.Show(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "fulfillment %s %s (attempt %d)\n", f.ID, f.Status, f.Attempts)
	if f.LastError != nil {
		fmt.Fprintf(a.out, "last error: %s\n", *f.LastError)
	}
	if payload != "" {
		fmt.Fprintf(a.out, "payload: %s\n", payload)
	}
	return nil
}

func (a *App) printFulfillment(log zerolog.Logger, f *domain.Fulfillment) {
	log.Info().Str("fulfillment_id", f.ID.String()).Str("status", string(f.Status)).Int("attempts", f.Attempts).Msg("fulfillment updated")
	fmt.Fprintf(a.out, "fulfillment %s %s (attempt %d)\n", f.ID, f.Status, f.Attempts)
}
