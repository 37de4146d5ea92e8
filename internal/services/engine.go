package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/briq-connect/api/internal/briq"
	"github.com/briq-connect/api/internal/commerce"
	"github.com/briq-connect/api/internal/domain"
)

// briqDecisionAPI abstracts the provider calls the engine uses directly.
type briqDecisionAPI interface {
	briqSessionReader
	MakeDecision(ctx context.Context, sessionID string, req briq.DecisionRequest) error
}

// EngineDeps wires the dependencies required by the engine.
type EngineDeps struct {
	Sessions      *SessionService
	Notifications *NotificationService
	Operations    *OperationService
	Briq          briqDecisionAPI
	Payments      commerce.PaymentClient
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

// Engine composes the connector services into the Connector capability set.
type Engine struct {
	sessions      *SessionService
	notifications *NotificationService
	operations    *OperationService
	briq          briqDecisionAPI
	payments      commerce.PaymentClient
	logger        func(ctx context.Context, event string, fields map[string]any)
}

var _ Connector = (*Engine)(nil)

// NewEngine constructs an Engine validating required dependencies.
func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Sessions == nil {
		return nil, errors.New("engine: session service is required")
	}
	if deps.Notifications == nil {
		return nil, errors.New("engine: notification service is required")
	}
	if deps.Operations == nil {
		return nil, errors.New("engine: operation service is required")
	}
	if deps.Briq == nil {
		return nil, errors.New("engine: briq api is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("engine: payment client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Engine{
		sessions:      deps.Sessions,
		notifications: deps.Notifications,
		operations:    deps.Operations,
		briq:          deps.Briq,
		payments:      deps.Payments,
		logger:        logger,
	}, nil
}

// Config builds or reconciles the provider session for a cart and returns the
// widget bootstrap.
func (e *Engine) Config(ctx context.Context, cartID string) (CheckoutConfig, error) {
	session, err := e.sessions.EnsureSession(ctx, cartID)
	if err != nil {
		return CheckoutConfig{}, err
	}
	return CheckoutConfig{SessionID: session.SessionID, HTMLSnippet: session.HTMLSnippet}, nil
}

// Status reports the provider-side session state.
func (e *Engine) Status(ctx context.Context, sessionID string) (SessionStatus, error) {
	if strings.TrimSpace(sessionID) == "" {
		return SessionStatus{}, fmt.Errorf("%w: session id is required", ErrSessionInvalidInput)
	}
	session, err := e.briq.GetSession(ctx, sessionID)
	if err != nil {
		return SessionStatus{}, fmt.Errorf("fetch session %s: %w", sessionID, err)
	}
	status := SessionStatus{
		SessionID: session.SessionID,
		Captures:  session.Captures,
		Refunds:   session.Refunds,
	}
	if session.ModuleStatus != nil {
		status.Status = briq.NormalizeWireStatus(session.ModuleStatus.Status)
	}
	return status, nil
}

// CreatePayment ensures a local payment record with a pending authorization
// exists for the session. Calling it again returns the existing payment.
func (e *Engine) CreatePayment(ctx context.Context, sessionID string) (domain.Payment, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.Payment{}, fmt.Errorf("%w: session id is required", ErrSessionInvalidInput)
	}
	session, err := e.briq.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("fetch session %s: %w", sessionID, err)
	}

	payment, err := e.payments.GetPaymentByInterfaceID(ctx, sessionID)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, commerce.ErrPaymentNotFound) {
		return domain.Payment{}, fmt.Errorf("load payment for session %s: %w", sessionID, err)
	}

	payment, err = e.payments.CreatePayment(ctx, domain.PaymentDraft{
		AmountPlanned: sessionAmount(session),
		PaymentMethod: PaymentMethodBriq,
		InterfaceID:   sessionID,
		Transactions: []domain.TransactionDraft{{
			Type:          domain.TransactionAuthorization,
			State:         domain.TransactionPending,
			Amount:        sessionAmount(session),
			InteractionID: sessionID,
		}},
	})
	if err != nil {
		return domain.Payment{}, fmt.Errorf("create payment for session %s: %w", sessionID, err)
	}
	e.logger(ctx, "engine.payment_created", map[string]any{
		"session_id": sessionID,
		"payment_id": payment.ID,
	})
	return payment, nil
}

func (e *Engine) CapturePayment(ctx context.Context, cmd OperationCommand) (domain.Payment, error) {
	return e.operations.Capture(ctx, cmd)
}

func (e *Engine) CancelPayment(ctx context.Context, cmd OperationCommand) (domain.Payment, error) {
	return e.operations.Cancel(ctx, cmd)
}

func (e *Engine) RefundPayment(ctx context.Context, cmd OperationCommand) (domain.Payment, error) {
	return e.operations.Refund(ctx, cmd)
}

func (e *Engine) ReversePayment(ctx context.Context, cmd OperationCommand) (domain.Payment, error) {
	return e.operations.Reverse(ctx, cmd)
}

func (e *Engine) ProcessNotification(ctx context.Context, cmd NotificationCommand) error {
	return e.notifications.Process(ctx, cmd)
}

// MakeDecision relays the merchant verdict to the provider.
func (e *Engine) MakeDecision(ctx context.Context, cmd DecisionCommand) error {
	if strings.TrimSpace(cmd.SessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrSessionInvalidInput)
	}
	req := briq.DecisionRequest{Decision: cmd.Allow}
	if !cmd.Allow {
		req.RejectionType = cmd.RejectionType
		req.HardError = cmd.HardError
		req.SoftErrors = cmd.SoftErrors
	}
	if err := e.briq.MakeDecision(ctx, cmd.SessionID, req); err != nil {
		return fmt.Errorf("relay decision for session %s: %w", cmd.SessionID, err)
	}
	return nil
}
