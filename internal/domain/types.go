package domain

import (
	"strings"
)

// Money is an amount in the smallest currency unit (cents) with its ISO currency code.
type Money struct {
	CurrencyCode string
	CentAmount   int64
}

// IsZero reports whether the money value carries neither currency nor amount.
func (m Money) IsZero() bool {
	return m.CentAmount == 0 && strings.TrimSpace(m.CurrencyCode) == ""
}

// Equal compares currency and amount.
func (m Money) Equal(other Money) bool {
	return m.CentAmount == other.CentAmount && strings.EqualFold(m.CurrencyCode, other.CurrencyCode)
}

// TaxedPrice breaks a gross amount into its net and tax portions.
type TaxedPrice struct {
	TotalNet   Money
	TotalGross Money
	TotalTax   Money
}

// TaxRate describes a platform tax rate scoped to a country and optional state.
// Amount is a fraction, e.g. 0.19 for 19%. IncludedInPrice distinguishes
// tax-inclusive (VAT) prices from net prices with tax added on top (sales tax).
type TaxRate struct {
	Name            string
	Amount          float64
	Country         string
	State           string
	IncludedInPrice bool
}

// IncludedDiscount references a cart discount and the amount it removed from a line.
type IncludedDiscount struct {
	DiscountID       string
	DiscountedAmount Money
}

// DiscountedLinePrice is the effective per-unit price after cart discounts applied.
type DiscountedLinePrice struct {
	Value             Money
	IncludedDiscounts []IncludedDiscount
}

// DiscountedPricePerQuantity records how many units of a line item received a discounted price.
type DiscountedPricePerQuantity struct {
	Quantity        int64
	DiscountedPrice DiscountedLinePrice
}

// LineItem is a single cart position, read-only to the connector.
type LineItem struct {
	ID          string
	ProductID   string
	ProductKey  string
	ProductType string
	// Name holds locale-keyed display names, e.g. {"en": "Mug", "de": "Tasse"}.
	Name          map[string]string
	IsDigital     bool
	TaxCategoryID string
	Quantity      int64
	// Price is the original (pre-discount) gross unit price.
	Price Money
	// DiscountedPrice is set in gift-card / discounted-price mode; the line totals
	// below already reflect it.
	DiscountedPrice            *DiscountedLinePrice
	DiscountedPricePerQuantity []DiscountedPricePerQuantity
	// TotalPrice is the actual gross total after discounts.
	TotalPrice Money
	TaxedPrice *TaxedPrice
	TaxRate    *TaxRate
	ImageURL   string
}

// OriginalGrossTotal is the gross total at the original unit price, before any
// per-quantity discount applied.
func (li LineItem) OriginalGrossTotal() int64 {
	return li.Price.CentAmount * li.Quantity
}

// DisplayName resolves the locale-keyed name with fallbacks handled by the mapper.
func (li LineItem) DisplayName(locale string) (string, bool) {
	if len(li.Name) == 0 {
		return "", false
	}
	name, ok := li.Name[locale]
	return name, ok && strings.TrimSpace(name) != ""
}

// DiscountOnTotalPrice captures a cart-level discount applied to the order total.
type DiscountOnTotalPrice struct {
	DiscountedAmount Money
	DiscountedNet    Money
	DiscountedGross  Money
}

// ShippingInfo describes the shipping method attached to a cart.
type ShippingInfo struct {
	MethodName      string
	Price           Money
	DiscountedPrice *Money
	TaxRate         *TaxRate
	TaxedPrice      *TaxedPrice
}

// Address carries the subset of address fields the provider needs.
type Address struct {
	FirstName  string
	LastName   string
	Company    string
	StreetName string
	PostalCode string
	City       string
	State      string
	Country    string
	Email      string
	Phone      string
}

// TypeReference identifies a platform custom type resource.
type TypeReference struct {
	ID  string
	Key string
}

// CustomFields is the extensible field bag attached to carts and orders.
type CustomFields struct {
	Type   TypeReference
	Fields map[string]any
}

// StringField returns a string-valued custom field, empty when absent.
func (cf *CustomFields) StringField(name string) string {
	if cf == nil || len(cf.Fields) == 0 {
		return ""
	}
	value, _ := cf.Fields[name].(string)
	return strings.TrimSpace(value)
}

// Cart mirrors the platform cart, read-only to the connector except for its
// custom-field bag. Version drives the platform's optimistic concurrency.
type Cart struct {
	ID                   string
	Version              int64
	Locale               string
	CustomerEmail        string
	LineItems            []LineItem
	TotalPrice           Money
	TaxedPrice           *TaxedPrice
	DiscountOnTotalPrice *DiscountOnTotalPrice
	ShippingInfo         *ShippingInfo
	BillingAddress       *Address
	ShippingAddress      *Address
	Custom               *CustomFields
}

// GrossTotal is the authoritative gross amount of the cart: the taxed total when
// present, otherwise the plain total price.
func (c Cart) GrossTotal() Money {
	if c.TaxedPrice != nil && c.TaxedPrice.TotalGross.CentAmount != 0 {
		return c.TaxedPrice.TotalGross
	}
	return c.TotalPrice
}

// TransactionType enumerates local payment transaction categories.
type TransactionType string

const (
	// TransactionAuthorization records reserved funds pending capture.
	TransactionAuthorization TransactionType = "Authorization"
	// TransactionCharge records funds actually collected.
	TransactionCharge TransactionType = "Charge"
	// TransactionRefund records collected funds returned to the customer.
	TransactionRefund TransactionType = "Refund"
	// TransactionCancelAuthorization records a released authorization.
	TransactionCancelAuthorization TransactionType = "CancelAuthorization"
)

// TransactionState enumerates the internal lifecycle states of a transaction.
type TransactionState string

const (
	// TransactionPending indicates the provider has not reached a terminal outcome.
	TransactionPending TransactionState = "Pending"
	// TransactionSuccess indicates the provider confirmed the transaction.
	TransactionSuccess TransactionState = "Success"
	// TransactionFailure indicates the provider rejected the transaction.
	TransactionFailure TransactionState = "Failure"
)

// Transaction is a single mutation on a payment, cross-referenced to the provider
// by its interaction id (session id, capture id, or refund id).
type Transaction struct {
	ID            string
	Type          TransactionType
	State         TransactionState
	Amount        Money
	InteractionID string
}

// TransactionDraft describes a transaction to append to a payment.
type TransactionDraft struct {
	Type          TransactionType
	State         TransactionState
	Amount        Money
	InteractionID string
}

// Payment mirrors the platform payment resource owned by the commerce platform.
type Payment struct {
	ID            string
	Version       int64
	AmountPlanned Money
	PaymentMethod string
	InterfaceID   string
	InterfaceText string
	Transactions  []Transaction
	Custom        *CustomFields
}

// PaymentDraft describes a payment to create when a notification arrives before
// the local checkout flow produced one.
type PaymentDraft struct {
	AmountPlanned Money
	PaymentMethod string
	InterfaceID   string
	Transactions  []TransactionDraft
}

// FindTransaction returns the first transaction matching type and interaction id.
func (p Payment) FindTransaction(txType TransactionType, interactionID string) (Transaction, bool) {
	for _, tx := range p.Transactions {
		if tx.Type == txType && tx.InteractionID == interactionID {
			return tx, true
		}
	}
	return Transaction{}, false
}

// FindTransactionByType returns the first transaction of the given type in any state.
func (p Payment) FindTransactionByType(txType TransactionType) (Transaction, bool) {
	for _, tx := range p.Transactions {
		if tx.Type == txType {
			return tx, true
		}
	}
	return Transaction{}, false
}

// FindTransactionInState returns the first transaction matching type and state.
func (p Payment) FindTransactionInState(txType TransactionType, state TransactionState) (Transaction, bool) {
	for _, tx := range p.Transactions {
		if tx.Type == txType && tx.State == state {
			return tx, true
		}
	}
	return Transaction{}, false
}

// HasTransactionExcludingState reports whether any transaction of the given type
// exists in a state other than the excluded one.
func (p Payment) HasTransactionExcludingState(txType TransactionType, excluded TransactionState) bool {
	for _, tx := range p.Transactions {
		if tx.Type == txType && tx.State != excluded {
			return true
		}
	}
	return false
}
