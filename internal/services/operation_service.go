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

var (
	// ErrOperationInvalidInput indicates the caller supplied invalid input parameters.
	ErrOperationInvalidInput = errors.New("operation service: invalid input")
	// ErrNoAuthorization indicates the payment carries no usable authorization.
	ErrNoAuthorization = errors.New("operation service: no authorization transaction")
	// ErrNoCharge indicates no successful charge exists to refund.
	ErrNoCharge = errors.New("operation service: no successful charge")
	// ErrAlreadyCaptured indicates a charge already exists or succeeded.
	ErrAlreadyCaptured = errors.New("operation service: already captured")
	// ErrAlreadyRefunded indicates a refund already exists.
	ErrAlreadyRefunded = errors.New("operation service: already refunded")
	// ErrAmountMismatch indicates a partial amount was requested; partial
	// captures and refunds are not supported.
	ErrAmountMismatch = errors.New("operation service: amount mismatch")
	// ErrNothingToReverse indicates neither a refund nor a cancel applies.
	ErrNothingToReverse = errors.New("operation service: nothing to reverse")
)

// briqOrderAPI abstracts the provider order operations for easier testing.
type briqOrderAPI interface {
	CaptureOrder(ctx context.Context, sessionID string, req briq.OrderOperationRequest) (briq.OrderOperationResponse, error)
	RefundOrder(ctx context.Context, sessionID string, req briq.OrderOperationRequest) (briq.OrderOperationResponse, error)
	CancelOrder(ctx context.Context, sessionID string, req briq.OrderOperationRequest) (briq.OrderOperationResponse, error)
}

// OperationCommand addresses one operator-triggered payment operation.
type OperationCommand struct {
	PaymentID string
	// Amount is optional; when set it must equal the payment's planned amount.
	Amount *domain.Money
}

// OperationServiceDeps wires the dependencies required by the operation service.
type OperationServiceDeps struct {
	Briq     briqOrderAPI
	Payments commerce.PaymentClient
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// OperationService executes operator-triggered capture, cancel, refund, and
// reverse calls. Each operation checks its preconditions against the local
// transaction history before touching the provider.
type OperationService struct {
	briq     briqOrderAPI
	payments commerce.PaymentClient
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewOperationService constructs an OperationService validating required dependencies.
func NewOperationService(deps OperationServiceDeps) (*OperationService, error) {
	if deps.Briq == nil {
		return nil, errors.New("operation service: briq api is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("operation service: payment client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &OperationService{briq: deps.Briq, payments: deps.Payments, logger: logger}, nil
}

// Capture collects the authorized amount. Partial captures are rejected.
func (s *OperationService) Capture(ctx context.Context, cmd OperationCommand) (domain.Payment, error) {
	payment, auth, err := s.loadAuthorized(ctx, cmd.PaymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	if payment.HasTransactionExcludingState(domain.TransactionCharge, domain.TransactionFailure) {
		return domain.Payment{}, fmt.Errorf("%w: payment %s", ErrAlreadyCaptured, payment.ID)
	}
	if err := checkAmount(cmd.Amount, payment.AmountPlanned); err != nil {
		return domain.Payment{}, err
	}

	resp, err := s.briq.CaptureOrder(ctx, auth.InteractionID, briq.OrderOperationRequest{
		Amount: payment.AmountPlanned.CentAmount,
	})
	if err != nil {
		return domain.Payment{}, fmt.Errorf("capture session %s: %w", auth.InteractionID, err)
	}

	payment, err = s.promotePendingAuthorization(ctx, payment, auth)
	if err != nil {
		return domain.Payment{}, err
	}

	interactionID := resp.CaptureID
	if interactionID == "" {
		interactionID = auth.InteractionID
	}
	return s.record(ctx, payment, domain.TransactionDraft{
		Type:          domain.TransactionCharge,
		State:         StateFromWireStatus(resp.Status),
		Amount:        payment.AmountPlanned,
		InteractionID: interactionID,
	}, resp.Status)
}

// Cancel releases the authorization. Captured payments cannot be canceled.
func (s *OperationService) Cancel(ctx context.Context, cmd OperationCommand) (domain.Payment, error) {
	payment, auth, err := s.loadAuthorized(ctx, cmd.PaymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	if _, captured := payment.FindTransactionInState(domain.TransactionCharge, domain.TransactionSuccess); captured {
		return domain.Payment{}, fmt.Errorf("%w: payment %s is captured", ErrAlreadyCaptured, payment.ID)
	}

	resp, err := s.briq.CancelOrder(ctx, auth.InteractionID, briq.OrderOperationRequest{})
	if err != nil {
		return domain.Payment{}, fmt.Errorf("cancel session %s: %w", auth.InteractionID, err)
	}

	return s.record(ctx, payment, domain.TransactionDraft{
		Type:          domain.TransactionCancelAuthorization,
		State:         StateFromWireStatus(resp.Status),
		Amount:        payment.AmountPlanned,
		InteractionID: auth.InteractionID,
	}, resp.Status)
}

// Refund returns the captured amount. Partial refunds are rejected.
func (s *OperationService) Refund(ctx context.Context, cmd OperationCommand) (domain.Payment, error) {
	payment, err := s.loadPayment(ctx, cmd.PaymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	charge, ok := payment.FindTransactionInState(domain.TransactionCharge, domain.TransactionSuccess)
	if !ok {
		return domain.Payment{}, fmt.Errorf("%w: payment %s", ErrNoCharge, payment.ID)
	}
	if payment.HasTransactionExcludingState(domain.TransactionRefund, domain.TransactionFailure) {
		return domain.Payment{}, fmt.Errorf("%w: payment %s", ErrAlreadyRefunded, payment.ID)
	}
	if err := checkAmount(cmd.Amount, charge.Amount); err != nil {
		return domain.Payment{}, err
	}

	sessionID := payment.InterfaceID
	resp, err := s.briq.RefundOrder(ctx, sessionID, briq.OrderOperationRequest{
		Amount: charge.Amount.CentAmount,
	})
	if err != nil {
		return domain.Payment{}, fmt.Errorf("refund session %s: %w", sessionID, err)
	}

	if auth, ok := payment.FindTransactionInState(domain.TransactionAuthorization, domain.TransactionPending); ok {
		payment, err = s.promotePendingAuthorization(ctx, payment, auth)
		if err != nil {
			return domain.Payment{}, err
		}
	}

	interactionID := resp.RefundID
	if interactionID == "" {
		interactionID = sessionID
	}
	return s.record(ctx, payment, domain.TransactionDraft{
		Type:          domain.TransactionRefund,
		State:         StateFromWireStatus(resp.Status),
		Amount:        charge.Amount,
		InteractionID: interactionID,
	}, resp.Status)
}

// Reverse undoes whatever the payment reached: refund when captured, cancel
// when only authorized.
func (s *OperationService) Reverse(ctx context.Context, cmd OperationCommand) (domain.Payment, error) {
	payment, err := s.loadPayment(ctx, cmd.PaymentID)
	if err != nil {
		return domain.Payment{}, err
	}

	reverted := payment.HasTransactionExcludingState(domain.TransactionRefund, domain.TransactionFailure) ||
		payment.HasTransactionExcludingState(domain.TransactionCancelAuthorization, domain.TransactionFailure)
	if reverted {
		return domain.Payment{}, fmt.Errorf("%w: payment %s already reverted", ErrNothingToReverse, payment.ID)
	}

	if _, captured := payment.FindTransactionInState(domain.TransactionCharge, domain.TransactionSuccess); captured {
		return s.Refund(ctx, cmd)
	}
	if _, authorized := payment.FindTransactionInState(domain.TransactionAuthorization, domain.TransactionSuccess); authorized {
		return s.Cancel(ctx, cmd)
	}
	return domain.Payment{}, fmt.Errorf("%w: payment %s", ErrNothingToReverse, payment.ID)
}

func (s *OperationService) loadPayment(ctx context.Context, paymentID string) (domain.Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return domain.Payment{}, fmt.Errorf("%w: payment id is required", ErrOperationInvalidInput)
	}
	payment, err := s.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("load payment %s: %w", paymentID, err)
	}
	return payment, nil
}

// loadAuthorized returns the payment and its non-failed authorization.
func (s *OperationService) loadAuthorized(ctx context.Context, paymentID string) (domain.Payment, domain.Transaction, error) {
	payment, err := s.loadPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, domain.Transaction{}, err
	}
	for _, tx := range payment.Transactions {
		if tx.Type == domain.TransactionAuthorization && tx.State != domain.TransactionFailure && tx.InteractionID != "" {
			return payment, tx, nil
		}
	}
	return domain.Payment{}, domain.Transaction{}, fmt.Errorf("%w: payment %s", ErrNoAuthorization, payment.ID)
}

// promotePendingAuthorization flips a still-pending authorization to Success
// after the provider accepted a money movement against it.
func (s *OperationService) promotePendingAuthorization(ctx context.Context, payment domain.Payment, auth domain.Transaction) (domain.Payment, error) {
	if auth.State != domain.TransactionPending {
		return payment, nil
	}
	updated, err := s.payments.ChangeTransactionState(ctx, payment.ID, payment.Version, auth.ID, domain.TransactionSuccess)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("promote authorization on payment %s: %w", payment.ID, err)
	}
	return updated, nil
}

// record appends the transaction and updates the payment's status text. The
// text update is informational and never fails the operation.
func (s *OperationService) record(ctx context.Context, payment domain.Payment, draft domain.TransactionDraft, wireStatus string) (domain.Payment, error) {
	updated, err := s.payments.AddTransaction(ctx, payment.ID, payment.Version, draft)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("record %s on payment %s: %w", strings.ToLower(string(draft.Type)), payment.ID, err)
	}

	text := fmt.Sprintf("%s %s", draft.Type, briq.NormalizeWireStatus(wireStatus))
	withText, err := s.payments.SetInterfaceText(ctx, updated.ID, updated.Version, text)
	if err != nil {
		s.logger(ctx, "operation.interface_text_failed", map[string]any{
			"payment_id": updated.ID,
			"error":      err.Error(),
		})
		return updated, nil
	}
	return withText, nil
}

// checkAmount rejects partial amounts against the authoritative total.
func checkAmount(requested *domain.Money, authoritative domain.Money) error {
	if requested == nil || requested.IsZero() {
		return nil
	}
	if !requested.Equal(authoritative) {
		return fmt.Errorf("%w: requested %d %s, authorized %d %s", ErrAmountMismatch,
			requested.CentAmount, requested.CurrencyCode,
			authoritative.CentAmount, authoritative.CurrencyCode)
	}
	return nil
}
