package briq

import "strings"

// ProductType tags a session cart line with the provider's line classification.
type ProductType string

const (
	// ProductTypePhysical marks goods requiring shipment.
	ProductTypePhysical ProductType = "physical"
	// ProductTypeDigital marks goods delivered electronically.
	ProductTypeDigital ProductType = "digital"
	// ProductTypeShippingFee marks the shipping cost line.
	ProductTypeShippingFee ProductType = "shipping_fee"
	// ProductTypeDiscount marks a negative-valued discount line.
	ProductTypeDiscount ProductType = "discount"
	// ProductTypeSalesTax marks a tax-only line carrying no unit price.
	ProductTypeSalesTax ProductType = "sales_tax"
)

// CartItem is one line of the provider session order. Regular lines carry unit
// prices and permyriad tax rates; sales_tax lines carry only a total tax amount.
// Discount lines carry negative unit and total amounts.
type CartItem struct {
	ProductType        ProductType `json:"productType"`
	Reference          string      `json:"reference"`
	Name               string      `json:"name"`
	Quantity           int64       `json:"quantity,omitempty"`
	UnitPrice          int64       `json:"unitPrice,omitempty"`
	UnitPriceIncVAT    int64       `json:"unitPriceIncVat,omitempty"`
	TaxRate            int64       `json:"taxRate,omitempty"`
	DiscountPercentage int64       `json:"discountPercentage,omitempty"`
	TotalAmount        int64       `json:"totalAmount,omitempty"`
	TotalTaxAmount     int64       `json:"totalTaxAmount,omitempty"`
	ImageURL           string      `json:"imageUrl,omitempty"`
}

// IsSalesTax reports whether the line is the tax-only variant of the union.
func (ci CartItem) IsSalesTax() bool {
	return ci.ProductType == ProductTypeSalesTax
}

// SessionOrder is the provider-side mirror of the cart.
type SessionOrder struct {
	Currency     string     `json:"currency"`
	AmountIncVAT int64      `json:"amountIncVat"`
	AmountExVAT  *int64     `json:"amountExVat,omitempty"`
	CartItems    []CartItem `json:"cart"`
}

// ModuleStatus reflects the provider's view of the session's payment progress.
type ModuleStatus struct {
	Status string `json:"status"`
}

// Capture is a provider-side capture record attached to a session.
type Capture struct {
	CaptureID string `json:"captureId"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
}

// Refund is a provider-side refund record attached to a session.
type Refund struct {
	RefundID string `json:"refundId"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
}

// Session is the provider payment context created per checkout attempt.
type Session struct {
	SessionID    string        `json:"sessionId"`
	HTMLSnippet  string        `json:"htmlSnippet"`
	Order        SessionOrder  `json:"order"`
	ModuleStatus *ModuleStatus `json:"moduleStatus,omitempty"`
	Captures     []Capture     `json:"captures,omitempty"`
	Refunds      []Refund      `json:"refunds,omitempty"`
}

// SessionRequest is the payload for creating or updating a session.
type SessionRequest struct {
	Country     string       `json:"country,omitempty"`
	Locale      string       `json:"locale,omitempty"`
	HolderEmail string       `json:"holderEmail,omitempty"`
	Order       SessionOrder `json:"order"`
	References  References   `json:"references"`
	URLs        SessionURLs  `json:"urls"`
}

// References cross-links a session to the originating cart.
type References struct {
	CartID string `json:"cartId,omitempty"`
}

// SessionURLs carries the redirect and policy URLs shown inside the widget.
type SessionURLs struct {
	Terms        string `json:"terms,omitempty"`
	Confirmation string `json:"redirecturl,omitempty"`
}

// OrderOperationRequest is the payload for capture, refund, and cancel calls.
type OrderOperationRequest struct {
	Amount int64 `json:"amount,omitempty"`
}

// OrderOperationResponse carries the provider outcome of an order operation.
type OrderOperationResponse struct {
	CaptureID string `json:"captureId,omitempty"`
	RefundID  string `json:"refundId,omitempty"`
	Status    string `json:"status"`
}

// DecisionRequest relays the merchant widget's allow/reject verdict.
type DecisionRequest struct {
	Decision      bool     `json:"decision"`
	RejectionType string   `json:"rejectionType,omitempty"`
	HardError     string   `json:"hardError,omitempty"`
	SoftErrors    []string `json:"softErrors,omitempty"`
}

// WireStatus values reported by provider webhooks and operation responses.
const (
	WireStatusOrderPending  = "order_pending"
	WireStatusOrderApproved = "order_approved_not_captured"
	WireStatusPending       = "pending"
	WireStatusApproved      = "approved"
	WireStatusRejected      = "rejected"
)

// Event names carried by provider webhooks.
const (
	EventOrderStatus   = "order_status"
	EventCaptureStatus = "capture_status"
	EventRefundStatus  = "refund_status"
)

// NormalizeWireStatus lower-cases and trims a provider status token.
func NormalizeWireStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}
