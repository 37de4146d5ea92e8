// Package commerce defines the narrow surface of the commerce platform API
// that the connector depends on. Implementations are provided by the
// deployment; tests use in-memory fakes.
package commerce

import (
	"context"
	"errors"

	"github.com/briq-connect/api/internal/domain"
)

// Sentinel errors implementations must return for the conditions the
// connector branches on. Wrap with %w so errors.Is keeps working.
var (
	ErrCartNotFound    = errors.New("commerce: cart not found")
	ErrPaymentNotFound = errors.New("commerce: payment not found")
	ErrTypeNotFound    = errors.New("commerce: type not found")
	// ErrConcurrentModification signals a stale version on an optimistic
	// update. It is surfaced to the caller, never retried transparently.
	ErrConcurrentModification = errors.New("commerce: concurrent modification")
)

// CartClient reads carts and persists connector state on their custom fields.
type CartClient interface {
	GetCart(ctx context.Context, id string) (domain.Cart, error)
	// SetCustomField writes one custom field on the cart, setting the custom
	// type when the cart has none yet. Submits the given version for
	// optimistic concurrency.
	SetCustomField(ctx context.Context, cartID string, version int64, typeID, name string, value any) (domain.Cart, error)
}

// PaymentClient mutates payment records and their transaction lists.
type PaymentClient interface {
	GetPayment(ctx context.Context, id string) (domain.Payment, error)
	// GetPaymentByInterfaceID looks a payment up by the provider-side session
	// id stored as its interface id. Returns ErrPaymentNotFound when no
	// payment carries the id.
	GetPaymentByInterfaceID(ctx context.Context, interfaceID string) (domain.Payment, error)
	CreatePayment(ctx context.Context, draft domain.PaymentDraft) (domain.Payment, error)
	AddTransaction(ctx context.Context, paymentID string, version int64, draft domain.TransactionDraft) (domain.Payment, error)
	ChangeTransactionState(ctx context.Context, paymentID string, version int64, transactionID string, state domain.TransactionState) (domain.Payment, error)
	// SetInterfaceText updates the human-readable status text on the payment.
	SetInterfaceText(ctx context.Context, paymentID string, version int64, text string) (domain.Payment, error)
}

// TypeClient resolves custom types by key.
type TypeClient interface {
	GetTypeByKey(ctx context.Context, key string) (domain.TypeReference, error)
}

// DiscountClient resolves display names for cart discounts.
type DiscountClient interface {
	// DiscountNames returns locale-resolved display names for the given
	// discount ids in one batched call. Ids with no known name are absent
	// from the result rather than an error.
	DiscountNames(ctx context.Context, ids []string, locale string) (map[string]string, error)
}

// TaxClient resolves tax-category rates for line items without an embedded
// rate.
type TaxClient interface {
	TaxCategoryRates(ctx context.Context, taxCategoryID string) ([]domain.TaxRate, error)
}
