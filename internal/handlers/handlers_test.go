package handlers

import (
	"context"
	"errors"

	"github.com/briq-connect/api/internal/domain"
	"github.com/briq-connect/api/internal/services"
)

// stubConnector implements services.Connector with overridable behaviour.
type stubConnector struct {
	config       func(ctx context.Context, cartID string) (services.CheckoutConfig, error)
	status       func(ctx context.Context, sessionID string) (services.SessionStatus, error)
	create       func(ctx context.Context, sessionID string) (domain.Payment, error)
	capture      func(ctx context.Context, cmd services.OperationCommand) (domain.Payment, error)
	cancel       func(ctx context.Context, cmd services.OperationCommand) (domain.Payment, error)
	refund       func(ctx context.Context, cmd services.OperationCommand) (domain.Payment, error)
	reverse      func(ctx context.Context, cmd services.OperationCommand) (domain.Payment, error)
	notification func(ctx context.Context, cmd services.NotificationCommand) error
	decision     func(ctx context.Context, cmd services.DecisionCommand) error
}

var errStubNotConfigured = errors.New("stub: not configured")

func (s *stubConnector) Config(ctx context.Context, cartID string) (services.CheckoutConfig, error) {
	if s.config != nil {
		return s.config(ctx, cartID)
	}
	return services.CheckoutConfig{}, errStubNotConfigured
}

func (s *stubConnector) Status(ctx context.Context, sessionID string) (services.SessionStatus, error) {
	if s.status != nil {
		return s.status(ctx, sessionID)
	}
	return services.SessionStatus{}, errStubNotConfigured
}

func (s *stubConnector) CreatePayment(ctx context.Context, sessionID string) (domain.Payment, error) {
	if s.create != nil {
		return s.create(ctx, sessionID)
	}
	return domain.Payment{}, errStubNotConfigured
}

func (s *stubConnector) CapturePayment(ctx context.Context, cmd services.OperationCommand) (domain.Payment, error) {
	if s.capture != nil {
		return s.capture(ctx, cmd)
	}
	return domain.Payment{}, errStubNotConfigured
}

func (s *stubConnector) CancelPayment(ctx context.Context, cmd services.OperationCommand) (domain.Payment, error) {
	if s.cancel != nil {
		return s.cancel(ctx, cmd)
	}
	return domain.Payment{}, errStubNotConfigured
}

func (s *stubConnector) RefundPayment(ctx context.Context, cmd services.OperationCommand) (domain.Payment, error) {
	if s.refund != nil {
		return s.refund(ctx, cmd)
	}
	return domain.Payment{}, errStubNotConfigured
}

func (s *stubConnector) ReversePayment(ctx context.Context, cmd services.OperationCommand) (domain.Payment, error) {
	if s.reverse != nil {
		return s.reverse(ctx, cmd)
	}
	return domain.Payment{}, errStubNotConfigured
}

func (s *stubConnector) ProcessNotification(ctx context.Context, cmd services.NotificationCommand) error {
	if s.notification != nil {
		return s.notification(ctx, cmd)
	}
	return errStubNotConfigured
}

func (s *stubConnector) MakeDecision(ctx context.Context, cmd services.DecisionCommand) error {
	if s.decision != nil {
		return s.decision(ctx, cmd)
	}
	return errStubNotConfigured
}

var _ services.Connector = (*stubConnector)(nil)
