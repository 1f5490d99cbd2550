package bond

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	"rideledger/internal/domain"
)

// Ensure StripeFunder implements Funder.
var _ Funder = (*StripeFunder)(nil)

// StripeConfig configures the Stripe-backed funder.
type StripeConfig struct {
	APIKey        string
	Currency      string
	PaymentMethod string
}

// StripeFunder holds the bond as an uncaptured PaymentIntent and cancels the
// intent to release it. Bonds are never captured.
type StripeFunder struct {
	currency      string
	paymentMethod string
}

// NewStripeFunder initializes the stripe client with the configured key.
func NewStripeFunder(cfg StripeConfig) *StripeFunder {
	stripe.Key = cfg.APIKey
	return &StripeFunder{currency: cfg.Currency, paymentMethod: cfg.PaymentMethod}
}

// Lock creates and confirms a PaymentIntent with capture_method=manual.
func (s *StripeFunder) Lock(ctx context.Context, owner domain.Identity, key domain.Key, amount uint64) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(int64(amount)),
		Currency:      stripe.String(s.currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Description:   stripe.String("Ride record storage bond"),
	}
	if s.paymentMethod != "" {
		params.PaymentMethod = stripe.String(s.paymentMethod)
		params.Confirm = stripe.Bool(true)
	}
	params.AddMetadata("owner", owner.String())
	params.AddMetadata("ride_key", key.String())
	params.AddMetadata("bond", strconv.FormatUint(amount, 10))

	pi, err := paymentintent.New(params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Code == stripe.ErrorCodeCardDeclined {
			return "", ErrInsufficientFunds
		}
		return "", fmt.Errorf("hold bond: %w", err)
	}
	return pi.ID, nil
}

// Release cancels the hold after checking it belongs to owner.
func (s *StripeFunder) Release(ctx context.Context, owner domain.Identity, ref string) (uint64, error) {
	pi, err := paymentintent.Get(ref, nil)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == 404 {
			return 0, ErrHoldNotFound
		}
		return 0, fmt.Errorf("fetch bond hold: %w", err)
	}
	if pi.Metadata["owner"] != owner.String() {
		return 0, ErrNotOwner
	}
	if pi.Status == stripe.PaymentIntentStatusCanceled {
		return 0, ErrHoldNotFound
	}

	if _, err := paymentintent.Cancel(ref, nil); err != nil {
		return 0, fmt.Errorf("cancel bond hold: %w", err)
	}
	return uint64(pi.Amount), nil
}
