// Package services holds the connector's domain logic: cart mapping, session
// reconciliation, notification processing, and payment operations.
package services

import (
	"context"

	"github.com/briq-connect/api/internal/briq"
	"github.com/briq-connect/api/internal/domain"
)

// CheckoutConfig is the widget bootstrap returned to the storefront.
type CheckoutConfig struct {
	SessionID   string `json:"sessionId"`
	HTMLSnippet string `json:"htmlSnippet"`
}

// SessionStatus is the provider's current view of a session.
type SessionStatus struct {
	SessionID string         `json:"sessionId"`
	Status    string         `json:"status"`
	Captures  []briq.Capture `json:"captures,omitempty"`
	Refunds   []briq.Refund  `json:"refunds,omitempty"`
}

// DecisionCommand relays the merchant widget's allow/reject verdict.
type DecisionCommand struct {
	SessionID     string
	Allow         bool
	RejectionType string
	HardError     string
	SoftErrors    []string
}

// Connector is the full capability set of the payment connector, implemented
// by Engine and consumed by the transport layer.
type Connector interface {
	// Config builds or reconciles the provider session for a cart.
	Config(ctx context.Context, cartID string) (CheckoutConfig, error)
	// Status reports the provider-side session state.
	Status(ctx context.Context, sessionID string) (SessionStatus, error)
	// CreatePayment ensures a local payment record exists for the session.
	CreatePayment(ctx context.Context, sessionID string) (domain.Payment, error)
	CapturePayment(ctx context.Context, cmd OperationCommand) (domain.Payment, error)
	CancelPayment(ctx context.Context, cmd OperationCommand) (domain.Payment, error)
	RefundPayment(ctx context.Context, cmd OperationCommand) (domain.Payment, error)
	ReversePayment(ctx context.Context, cmd OperationCommand) (domain.Payment, error)
	ProcessNotification(ctx context.Context, cmd NotificationCommand) error
	MakeDecision(ctx context.Context, cmd DecisionCommand) error
}
