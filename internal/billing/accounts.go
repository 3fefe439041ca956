package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/veltoai/founder-launch/internal/credits"
	"github.com/veltoai/founder-launch/internal/docstore"
)

// customerField is the user document field holding the Stripe customer ID.
const customerField = "stripeCustomerId"

// ErrUnknownCustomer is returned when no account is linked to a Stripe customer.
var ErrUnknownCustomer = errors.New("no account linked to stripe customer")

// Sessions is the part of *credits.Registry billing needs.
type Sessions interface {
	Get(identity string) (*credits.Ledger, bool)
	Open(ctx context.Context, identity string) (*credits.Ledger, error)
	Close(ctx context.Context, identity string)
	Store() docstore.Store
}

// LinkCustomer records the Stripe customer on the identity's user document.
func LinkCustomer(ctx context.Context, store docstore.Store, identity, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil
	}
	err := store.Set(ctx, credits.UsersCollection, identity, docstore.Document{customerField: customerID}, true)
	if err != nil {
		return fmt.Errorf("link stripe customer: %w", err)
	}
	return nil
}

// IdentityForCustomer finds the identity linked to a Stripe customer.
func IdentityForCustomer(ctx context.Context, store docstore.Store, customerID string) (string, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", ErrUnknownCustomer
	}
	records, err := store.QueryByField(ctx, credits.UsersCollection, customerField, customerID)
	if err != nil {
		return "", fmt.Errorf("lookup stripe customer: %w", err)
	}
	if len(records) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownCustomer, customerID)
	}
	return records[0].ID, nil
}

// withLedger runs fn against the identity's ledger. A ledger opened only for
// this call is closed afterwards; its remote write stays queued in the
// shared outbox.
func withLedger(ctx context.Context, sessions Sessions, identity string, fn func(*credits.Ledger) error) error {
	if l, ok := sessions.Get(identity); ok {
		return fn(l)
	}
	l, err := sessions.Open(ctx, identity)
	if err != nil {
		return err
	}
	defer sessions.Close(ctx, identity)
	return fn(l)
}
