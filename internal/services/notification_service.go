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

// PaymentMethodBriq is the payment-method descriptor stored on synthesized payments.
const PaymentMethodBriq = "briq"

var (
	// ErrNotificationInvalidInput indicates the notification is missing required fields.
	ErrNotificationInvalidInput = errors.New("notification service: invalid input")
	// ErrNotificationSessionMismatch indicates the provider session does not
	// carry the id the notification claims.
	ErrNotificationSessionMismatch = errors.New("notification service: session id mismatch")
)

// NotificationCommand is a verified, parsed provider webhook.
type NotificationCommand struct {
	SessionID string
	Event     string
	Status    string
	CaptureID string
	RefundID  string
}

// ProcessedNotification is published after a notification mutated local state.
type ProcessedNotification struct {
	SessionID string `json:"sessionId"`
	Event     string `json:"event"`
	Status    string `json:"status"`
	CaptureID string `json:"captureId,omitempty"`
	RefundID  string `json:"refundId,omitempty"`
}

// NotificationPublisher forwards processed notifications to downstream
// consumers. Publishing is best-effort.
type NotificationPublisher interface {
	PublishProcessed(ctx context.Context, event ProcessedNotification) error
}

type briqSessionReader interface {
	GetSession(ctx context.Context, sessionID string) (briq.Session, error)
}

// NotificationServiceDeps wires the dependencies required by the notification service.
type NotificationServiceDeps struct {
	Briq     briqSessionReader
	Payments commerce.PaymentClient
	// Publisher is optional; nil disables downstream events.
	Publisher NotificationPublisher
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// NotificationService maps (event, status) webhook pairs onto idempotent
// transaction mutations. Duplicate and out-of-order delivery is expected;
// every mutation first scans for an existing transaction in an acceptable
// state and no-ops when one is found.
type NotificationService struct {
	briq      briqSessionReader
	payments  commerce.PaymentClient
	publisher NotificationPublisher
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewNotificationService constructs a NotificationService validating required dependencies.
func NewNotificationService(deps NotificationServiceDeps) (*NotificationService, error) {
	if deps.Briq == nil {
		return nil, errors.New("notification service: briq api is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("notification service: payment client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &NotificationService{
		briq:      deps.Briq,
		payments:  deps.Payments,
		publisher: deps.Publisher,
		logger:    logger,
	}, nil
}

// Process applies one provider notification. A nil return means the
// notification is consumed and must not be redelivered; errors signal the
// transport layer to let the provider retry.
func (s *NotificationService) Process(ctx context.Context, cmd NotificationCommand) error {
	if strings.TrimSpace(cmd.SessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrNotificationInvalidInput)
	}
	event := briq.NormalizeWireStatus(cmd.Event)
	status := briq.NormalizeWireStatus(cmd.Status)

	// The unauthenticated webhook body is never trusted over the provider:
	// re-fetch the session and let it drive amounts and statuses.
	session, err := s.briq.GetSession(ctx, cmd.SessionID)
	if err != nil {
		return fmt.Errorf("fetch session %s: %w", cmd.SessionID, err)
	}
	if session.SessionID != cmd.SessionID {
		return fmt.Errorf("%w: claimed %s, provider returned %s", ErrNotificationSessionMismatch, cmd.SessionID, session.SessionID)
	}

	err = s.dispatch(ctx, cmd, event, status, session)
	if errors.Is(err, commerce.ErrPaymentNotFound) {
		// Accept rather than retry: the payment never materialized or was
		// purged, and redelivery cannot change that.
		s.logger(ctx, "notification.payment_missing", map[string]any{
			"session_id": cmd.SessionID,
			"event":      event,
			"status":     status,
		})
		return nil
	}
	if err != nil {
		return err
	}

	s.publishProcessed(ctx, ProcessedNotification{
		SessionID: cmd.SessionID,
		Event:     event,
		Status:    status,
		CaptureID: cmd.CaptureID,
		RefundID:  cmd.RefundID,
	})
	return nil
}

func (s *NotificationService) dispatch(ctx context.Context, cmd NotificationCommand, event, status string, session briq.Session) error {
	switch event {
	case briq.EventOrderStatus:
		switch status {
		case briq.WireStatusOrderPending:
			return s.ensureAuthorization(ctx, session, domain.TransactionPending)
		case briq.WireStatusOrderApproved:
			return s.ensureAuthorization(ctx, session, domain.TransactionSuccess)
		}
	case briq.EventCaptureStatus:
		if strings.TrimSpace(cmd.CaptureID) == "" {
			return fmt.Errorf("%w: capture id is required for %s", ErrNotificationInvalidInput, event)
		}
		return s.applyFollowUp(ctx, session, domain.TransactionCharge, cmd.CaptureID, status)
	case briq.EventRefundStatus:
		if strings.TrimSpace(cmd.RefundID) == "" {
			return fmt.Errorf("%w: refund id is required for %s", ErrNotificationInvalidInput, event)
		}
		return s.applyFollowUp(ctx, session, domain.TransactionRefund, cmd.RefundID, status)
	}

	s.logger(ctx, "notification.unhandled", map[string]any{
		"session_id": session.SessionID,
		"event":      event,
		"status":     status,
	})
	return nil
}

// ensureAuthorization guarantees an Authorization transaction for the session
// exists in at least the target state. At most one Authorization per session
// id ever reaches Success.
func (s *NotificationService) ensureAuthorization(ctx context.Context, session briq.Session, target domain.TransactionState) error {
	amount := sessionAmount(session)
	payment, err := s.payments.GetPaymentByInterfaceID(ctx, session.SessionID)
	if errors.Is(err, commerce.ErrPaymentNotFound) {
		// Webhook outran the local checkout flow: synthesize the payment.
		return s.synthesizePayment(ctx, session, []domain.TransactionDraft{{
			Type:          domain.TransactionAuthorization,
			State:         target,
			Amount:        amount,
			InteractionID: session.SessionID,
		}})
	}
	if err != nil {
		return fmt.Errorf("load payment for session %s: %w", session.SessionID, err)
	}

	existing, found := payment.FindTransaction(domain.TransactionAuthorization, session.SessionID)
	if !found {
		if _, err := s.payments.AddTransaction(ctx, payment.ID, payment.Version, domain.TransactionDraft{
			Type:          domain.TransactionAuthorization,
			State:         target,
			Amount:        amount,
			InteractionID: session.SessionID,
		}); err != nil {
			return fmt.Errorf("add authorization for session %s: %w", session.SessionID, err)
		}
		return nil
	}

	if target != domain.TransactionSuccess || existing.State == domain.TransactionSuccess {
		s.logger(ctx, "notification.authorization_unchanged", map[string]any{
			"session_id": session.SessionID,
			"state":      string(existing.State),
		})
		return nil
	}
	if _, ok := payment.FindTransactionInState(domain.TransactionAuthorization, domain.TransactionSuccess); ok {
		s.logger(ctx, "notification.authorization_already_succeeded", map[string]any{
			"session_id": session.SessionID,
		})
		return nil
	}
	if _, err := s.payments.ChangeTransactionState(ctx, payment.ID, payment.Version, existing.ID, domain.TransactionSuccess); err != nil {
		return fmt.Errorf("promote authorization for session %s: %w", session.SessionID, err)
	}
	return nil
}

// applyFollowUp handles capture_status and refund_status notifications.
func (s *NotificationService) applyFollowUp(ctx context.Context, session briq.Session, txType domain.TransactionType, interactionID, status string) error {
	state := StateFromWireStatus(status)
	amount := followUpAmount(session, txType, interactionID)

	payment, err := s.payments.GetPaymentByInterfaceID(ctx, session.SessionID)
	if errors.Is(err, commerce.ErrPaymentNotFound) {
		// A capture or refund implies the authorization succeeded.
		return s.synthesizePayment(ctx, session, []domain.TransactionDraft{
			{
				Type:          domain.TransactionAuthorization,
				State:         domain.TransactionSuccess,
				Amount:        sessionAmount(session),
				InteractionID: session.SessionID,
			},
			{
				Type:          txType,
				State:         state,
				Amount:        amount,
				InteractionID: interactionID,
			},
		})
	}
	if err != nil {
		return fmt.Errorf("load payment for session %s: %w", session.SessionID, err)
	}

	payment, err = s.ensureTransaction(ctx, payment, domain.TransactionDraft{
		Type:          txType,
		State:         state,
		Amount:        amount,
		InteractionID: interactionID,
	})
	if err != nil {
		return err
	}

	if state != domain.TransactionFailure {
		if err := s.promotePendingAuthorization(ctx, payment, session.SessionID); err != nil {
			return err
		}
	}
	return nil
}

// ensureTransaction applies the ensure-before-mutate rule for one draft and
// returns the payment reflecting the mutation, if any.
func (s *NotificationService) ensureTransaction(ctx context.Context, payment domain.Payment, draft domain.TransactionDraft) (domain.Payment, error) {
	existing, found := payment.FindTransaction(draft.Type, draft.InteractionID)
	if !found {
		updated, err := s.payments.AddTransaction(ctx, payment.ID, payment.Version, draft)
		if err != nil {
			return domain.Payment{}, fmt.Errorf("add %s %s: %w", strings.ToLower(string(draft.Type)), draft.InteractionID, err)
		}
		return updated, nil
	}

	if transactionStateAcceptable(existing.State, draft.State) {
		s.logger(ctx, "notification.transaction_unchanged", map[string]any{
			"payment_id":     payment.ID,
			"type":           string(draft.Type),
			"interaction_id": draft.InteractionID,
			"state":          string(existing.State),
		})
		return payment, nil
	}

	updated, err := s.payments.ChangeTransactionState(ctx, payment.ID, payment.Version, existing.ID, draft.State)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("change %s %s state: %w", strings.ToLower(string(draft.Type)), draft.InteractionID, err)
	}
	return updated, nil
}

// transactionStateAcceptable reports whether an existing state already covers
// the target. A Pending target never downgrades anything; Success and Failure
// targets always apply, so a late rejection can still mark a previously
// approved transaction as failed.
func transactionStateAcceptable(existing, target domain.TransactionState) bool {
	return existing == target || target == domain.TransactionPending
}

func (s *NotificationService) promotePendingAuthorization(ctx context.Context, payment domain.Payment, sessionID string) error {
	auth, ok := payment.FindTransactionInState(domain.TransactionAuthorization, domain.TransactionPending)
	if !ok {
		return nil
	}
	if _, hasSuccess := payment.FindTransactionInState(domain.TransactionAuthorization, domain.TransactionSuccess); hasSuccess {
		return nil
	}
	if _, err := s.payments.ChangeTransactionState(ctx, payment.ID, payment.Version, auth.ID, domain.TransactionSuccess); err != nil {
		return fmt.Errorf("promote authorization for session %s: %w", sessionID, err)
	}
	return nil
}

func (s *NotificationService) synthesizePayment(ctx context.Context, session briq.Session, transactions []domain.TransactionDraft) error {
	payment, err := s.payments.CreatePayment(ctx, domain.PaymentDraft{
		AmountPlanned: sessionAmount(session),
		PaymentMethod: PaymentMethodBriq,
		InterfaceID:   session.SessionID,
		Transactions:  transactions,
	})
	if err != nil {
		return fmt.Errorf("synthesize payment for session %s: %w", session.SessionID, err)
	}
	s.logger(ctx, "notification.payment_synthesized", map[string]any{
		"session_id": session.SessionID,
		"payment_id": payment.ID,
	})
	return nil
}

func (s *NotificationService) publishProcessed(ctx context.Context, event ProcessedNotification) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishProcessed(ctx, event); err != nil {
		s.logger(ctx, "notification.publish_failed", map[string]any{
			"session_id": event.SessionID,
			"error":      err.Error(),
		})
	}
}

// StateFromWireStatus maps a provider status token onto a transaction state.
// Unrecognized codes map to Pending, never silently to Failure.
func StateFromWireStatus(status string) domain.TransactionState {
	switch briq.NormalizeWireStatus(status) {
	case briq.WireStatusApproved:
		return domain.TransactionSuccess
	case briq.WireStatusRejected:
		return domain.TransactionFailure
	case briq.WireStatusPending:
		return domain.TransactionPending
	default:
		return domain.TransactionPending
	}
}

func sessionAmount(session briq.Session) domain.Money {
	return domain.Money{
		CurrencyCode: session.Order.Currency,
		CentAmount:   session.Order.AmountIncVAT,
	}
}

// followUpAmount prefers the provider-side capture/refund record amount and
// falls back to the order total.
func followUpAmount(session briq.Session, txType domain.TransactionType, interactionID string) domain.Money {
	amount := session.Order.AmountIncVAT
	switch txType {
	case domain.TransactionCharge:
		for _, c := range session.Captures {
			if c.CaptureID == interactionID && c.Amount != 0 {
				amount = c.Amount
				break
			}
		}
	case domain.TransactionRefund:
		for _, r := range session.Refunds {
			if r.RefundID == interactionID && r.Amount != 0 {
				amount = r.Amount
				break
			}
		}
	}
	return domain.Money{CurrencyCode: session.Order.Currency, CentAmount: amount}
}
