package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/briq-connect/api/internal/briq"
	"github.com/briq-connect/api/internal/commerce"
	"github.com/briq-connect/api/internal/domain"
)

// fakePaymentClient is an in-memory commerce.PaymentClient tracking mutations.
type fakePaymentClient struct {
	payments map[string]*domain.Payment

	createCalls int
	addCalls    int
	changeCalls int

	// errOverride, when set, is returned by every mutating call.
	errOverride error
}

func newFakePaymentClient(seed ...domain.Payment) *fakePaymentClient {
	f := &fakePaymentClient{payments: make(map[string]*domain.Payment)}
	for i := range seed {
		p := seed[i]
		f.payments[p.ID] = &p
	}
	return f
}

func (f *fakePaymentClient) GetPayment(_ context.Context, id string) (domain.Payment, error) {
	if p, ok := f.payments[id]; ok {
		return *p, nil
	}
	return domain.Payment{}, commerce.ErrPaymentNotFound
}

func (f *fakePaymentClient) GetPaymentByInterfaceID(_ context.Context, interfaceID string) (domain.Payment, error) {
	for _, p := range f.payments {
		if p.InterfaceID == interfaceID {
			return *p, nil
		}
	}
	return domain.Payment{}, commerce.ErrPaymentNotFound
}

func (f *fakePaymentClient) CreatePayment(_ context.Context, draft domain.PaymentDraft) (domain.Payment, error) {
	f.createCalls++
	if f.errOverride != nil {
		return domain.Payment{}, f.errOverride
	}
	p := domain.Payment{
		ID:            fmt.Sprintf("pay-%d", len(f.payments)+1),
		Version:       1,
		AmountPlanned: draft.AmountPlanned,
		PaymentMethod: draft.PaymentMethod,
		InterfaceID:   draft.InterfaceID,
	}
	for i, tx := range draft.Transactions {
		p.Transactions = append(p.Transactions, domain.Transaction{
			ID:            fmt.Sprintf("%s-tx-%d", p.ID, i+1),
			Type:          tx.Type,
			State:         tx.State,
			Amount:        tx.Amount,
			InteractionID: tx.InteractionID,
		})
	}
	f.payments[p.ID] = &p
	return p, nil
}

func (f *fakePaymentClient) AddTransaction(_ context.Context, paymentID string, version int64, draft domain.TransactionDraft) (domain.Payment, error) {
	f.addCalls++
	if f.errOverride != nil {
		return domain.Payment{}, f.errOverride
	}
	p, ok := f.payments[paymentID]
	if !ok {
		return domain.Payment{}, commerce.ErrPaymentNotFound
	}
	if p.Version != version {
		return domain.Payment{}, commerce.ErrConcurrentModification
	}
	p.Version++
	p.Transactions = append(p.Transactions, domain.Transaction{
		ID:            fmt.Sprintf("%s-tx-%d", p.ID, len(p.Transactions)+1),
		Type:          draft.Type,
		State:         draft.State,
		Amount:        draft.Amount,
		InteractionID: draft.InteractionID,
	})
	return *p, nil
}

func (f *fakePaymentClient) ChangeTransactionState(_ context.Context, paymentID string, version int64, transactionID string, state domain.TransactionState) (domain.Payment, error) {
	f.changeCalls++
	if f.errOverride != nil {
		return domain.Payment{}, f.errOverride
	}
	p, ok := f.payments[paymentID]
	if !ok {
		return domain.Payment{}, commerce.ErrPaymentNotFound
	}
	if p.Version != version {
		return domain.Payment{}, commerce.ErrConcurrentModification
	}
	for i := range p.Transactions {
		if p.Transactions[i].ID == transactionID {
			p.Version++
			p.Transactions[i].State = state
			return *p, nil
		}
	}
	return domain.Payment{}, fmt.Errorf("transaction %s not found", transactionID)
}

func (f *fakePaymentClient) SetInterfaceText(_ context.Context, paymentID string, version int64, text string) (domain.Payment, error) {
	p, ok := f.payments[paymentID]
	if !ok {
		return domain.Payment{}, commerce.ErrPaymentNotFound
	}
	if p.Version != version {
		return domain.Payment{}, commerce.ErrConcurrentModification
	}
	p.Version++
	p.InterfaceText = text
	return *p, nil
}

func (f *fakePaymentClient) mutations() int {
	return f.createCalls + f.addCalls + f.changeCalls
}

func (f *fakePaymentClient) byInterface(t *testing.T, interfaceID string) domain.Payment {
	t.Helper()
	p, err := f.GetPaymentByInterfaceID(context.Background(), interfaceID)
	if err != nil {
		t.Fatalf("payment for %s not found", interfaceID)
	}
	return p
}

type recordingPublisher struct {
	events []ProcessedNotification
	err    error
}

func (r *recordingPublisher) PublishProcessed(_ context.Context, event ProcessedNotification) error {
	r.events = append(r.events, event)
	return r.err
}

func sessionReaderFor(sessions ...briq.Session) *stubBriqAPI {
	index := make(map[string]briq.Session, len(sessions))
	for _, s := range sessions {
		index[s.SessionID] = s
	}
	return &stubBriqAPI{
		getSession: func(_ context.Context, id string) (briq.Session, error) {
			if s, ok := index[id]; ok {
				return s, nil
			}
			return briq.Session{}, briq.ErrSessionNotFound
		},
	}
}

func testSession(id string) briq.Session {
	return briq.Session{
		SessionID: id,
		Order:     briq.SessionOrder{Currency: "EUR", AmountIncVAT: 2380},
	}
}

func newTestNotificationService(t *testing.T, api *stubBriqAPI, payments *fakePaymentClient, publisher NotificationPublisher) *NotificationService {
	t.Helper()
	svc, err := NewNotificationService(NotificationServiceDeps{
		Briq:      api,
		Payments:  payments,
		Publisher: publisher,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return svc
}

func authorizedPayment(sessionID string, state domain.TransactionState) domain.Payment {
	return domain.Payment{
		ID:            "pay-1",
		Version:       2,
		AmountPlanned: domain.Money{CurrencyCode: "EUR", CentAmount: 2380},
		PaymentMethod: PaymentMethodBriq,
		InterfaceID:   sessionID,
		Transactions: []domain.Transaction{{
			ID:            "pay-1-tx-1",
			Type:          domain.TransactionAuthorization,
			State:         state,
			Amount:        domain.Money{CurrencyCode: "EUR", CentAmount: 2380},
			InteractionID: sessionID,
		}},
	}
}

func TestProcessOrderPendingSynthesizesPayment(t *testing.T) {
	payments := newFakePaymentClient()
	svc := newTestNotificationService(t, sessionReaderFor(testSession("sess-1")), payments, nil)

	err := svc.Process(context.Background(), NotificationCommand{
		SessionID: "sess-1",
		Event:     briq.EventOrderStatus,
		Status:    briq.WireStatusOrderPending,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := payments.byInterface(t, "sess-1")
	if p.PaymentMethod != PaymentMethodBriq || p.AmountPlanned.CentAmount != 2380 {
		t.Fatalf("unexpected synthesized payment: %+v", p)
	}
	tx, ok := p.FindTransaction(domain.TransactionAuthorization, "sess-1")
	if !ok || tx.State != domain.TransactionPending {
		t.Fatalf("expected pending authorization, got %+v", p.Transactions)
	}
}

func TestProcessOrderApprovedPromotesPendingAuthorization(t *testing.T) {
	payments := newFakePaymentClient(authorizedPayment("sess-1", domain.TransactionPending))
	svc := newTestNotificationService(t, sessionReaderFor(testSession("sess-1")), payments, nil)

	err := svc.Process(context.Background(), NotificationCommand{
		SessionID: "sess-1",
		Event:     briq.EventOrderStatus,
		Status:    briq.WireStatusOrderApproved,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := payments.byInterface(t, "sess-1")
	tx, _ := p.FindTransaction(domain.TransactionAuthorization, "sess-1")
	if tx.State != domain.TransactionSuccess {
		t.Fatalf("expected promoted authorization, got %+v", tx)
	}
	if payments.changeCalls != 1 || payments.addCalls != 0 || payments.createCalls != 0 {
		t.Fatalf("expected exactly one state change: %+v", payments)
	}
}

func TestProcessDuplicateDeliveryIsIdempotent(t *testing.T) {
	payments := newFakePaymentClient(authorizedPayment("sess-1", domain.TransactionPending))
	svc := newTestNotificationService(t, sessionReaderFor(testSession("sess-1")), payments, nil)

	cmd := NotificationCommand{
		SessionID: "sess-1",
		Event:     briq.EventOrderStatus,
		Status:    briq.WireStatusOrderApproved,
	}
	if err := svc.Process(context.Background(), cmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Process(context.Background(), cmd); err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}

	if payments.mutations() != 1 {
		t.Fatalf("replaying the webhook must produce one mutation, got %d", payments.mutations())
	}
}

func TestProcessOrderPendingAfterSuccessIsNoOp(t *testing.T) {
	payments := newFakePaymentClient(authorizedPayment("sess-1", domain.TransactionSuccess))
	svc := newTestNotificationService(t, sessionReaderFor(testSession("sess-1")), payments, nil)

	// Out-of-order delivery: the pending notification arrives after approval.
	err := svc.Process(context.Background(), NotificationCommand{
		SessionID: "sess-1",
		Event:     briq.EventOrderStatus,
		Status:    briq.WireStatusOrderPending,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payments.mutations() != 0 {
		t.Fatalf("expected no mutation, got %d", payments.mutations())
	}
}

func TestProcessCaptureApprovedRecordsChargeAndPromotesAuthorization(t *testing.T) {
	payments := newFakePaymentClient(authorizedPayment("sess-1", domain.TransactionPending))
	session := testSession("sess-1")
	session.Captures = []briq.Capture{{CaptureID: "cap-1", Status: briq.WireStatusApproved, Amount: 2380}}
	svc := newTestNotificationService(t, sessionReaderFor(session), payments, nil)

	err := svc.Process(context.Background(), NotificationCommand{
		SessionID: "sess-1",
		Event:     briq.EventCaptureStatus,
		Status:    briq.WireStatusApproved,
		CaptureID: "cap-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := payments.byInterface(t, "sess-1")
	charge, ok := p.FindTransaction(domain.TransactionCharge, "cap-1")
	if !ok || charge.State != domain.TransactionSuccess {
		t.Fatalf("expected success charge, got %+v", p.Transactions)
	}
	if charge.Amount.CentAmount != 2380 {
		t.Fatalf("expected capture amount from session record, got %+v", charge.Amount)
	}
	auth, _ := p.FindTransaction(domain.TransactionAuthorization, "sess-1")
	if auth.State != domain.TransactionSuccess {
		t.Fatalf("successful capture must promote the pending authorization, got %+v", auth)
	}
}

func TestProcessCaptureRejectedSetsChargeFailure(t *testing.T) {
	seed := authorizedPayment("sess-1", domain.TransactionSuccess)
	seed.Transactions = append(seed.Transactions, domain.Transaction{
		ID:            "pay-1-tx-2",
		Type:          domain.TransactionCharge,
		State:         domain.TransactionPending,
		Amount:        domain.Money{CurrencyCode: "EUR", CentAmount: 2380},
		InteractionID: "cap-1",
	})
	payments := newFakePaymentClient(seed)
	svc := newTestNotificationService(t, sessionReaderFor(testSession("sess-1")), payments, nil)

	err := svc.Process(context.Background(), NotificationCommand{
		SessionID: "sess-1",
		Event:     briq.EventCaptureStatus,
		Status:    briq.WireStatusRejected,
		CaptureID: "cap-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := payments.byInterface(t, "sess-1")
	charge, _ := p.FindTransaction(domain.TransactionCharge, "cap-1")
	if charge.State != domain.TransactionFailure {
		t.Fatalf("expected failed charge, got %+v", charge)
	}
	auth, _ := p.FindTransaction(domain.TransactionAuthorization, "sess-1")
	if auth.State != domain.TransactionSuccess {
		t.Fatalf("authorization must stay untouched, got %+v", auth)
	}
}

func TestProcessCaptureRejectedAfterApprovalMarksChargeFailed(t *testing.T) {
	seed := authorizedPayment("sess-1", domain.TransactionSuccess)
	seed.Transactions = append(seed.Transactions, domain.Transaction{
		ID:            "pay-1-tx-2",
		Type:          domain.TransactionCharge,
		State:         domain.TransactionSuccess,
		Amount:        domain.Money{CurrencyCode: "EUR", CentAmount: 2380},
		InteractionID: "cap-1",
	})
	payments := newFakePaymentClient(seed)
	svc := newTestNotificationService(t, sessionReaderFor(testSession("sess-1")), payments, nil)

	// A rejection arriving after an approval still applies: the provider's
	// latest verdict wins.
	err := svc.Process(context.Background(), NotificationCommand{
		SessionID: "sess-1",
		Event:     briq.EventCaptureStatus,
		Status:    briq.WireStatusRejected,
		CaptureID: "cap-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := payments.byInterface(t, "sess-1")
	charge, _ := p.FindTransaction(domain.TransactionCharge, "cap-1")
	if charge.State != domain.TransactionFailure {
		t.Fatalf("late rejection must mark the charge failed, got %+v", charge)
	}
}

func TestProcessRefundApprovedUsesRefundRecordAmount(t *testing.T) {
	seed := authorizedPayment("sess-1", domain.TransactionSuccess)
	payments := newFakePaymentClient(seed)
	session := testSession("sess-1")
	session.Refunds = []briq.Refund{{RefundID: "ref-1", Status: briq.WireStatusApproved, Amount: 500}}
	svc := newTestNotificationService(t, sessionReaderFor(session), payments, nil)

	err := svc.Process(context.Background(), NotificationCommand{
		SessionID: "sess-1",
		Event:     briq.EventRefundStatus,
		Status:    briq.WireStatusApproved,
		RefundID:  "ref-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := payments.byInterface(t, "sess-1")
	refund, ok := p.FindTransaction(domain.TransactionRefund, "ref-1")
	if !ok || refund.State != domain.TransactionSuccess {
		t.Fatalf("expected success refund, got %+v", p.Transactions)
	}
	if refund.Amount.CentAmount != 500 {
		t.Fatalf("expected partial refund amount 500, got %d", refund.Amount.CentAmount)
	}
}

func TestProcessCaptureBeforePaymentSynthesizesWithSuccessAuthorization(t *testing.T) {
	payments := newFakePaymentClient()
	session := testSession("sess-1")
	session.Captures = []briq.Capture{{CaptureID: "cap-1", Status: briq.WireStatusApproved, Amount: 2380}}
	svc := newTestNotificationService(t, sessionReaderFor(session), payments, nil)

	err := svc.Process(context.Background(), NotificationCommand{
		SessionID: "sess-1",
		Event:     briq.EventCaptureStatus,
		Status:    briq.WireStatusApproved,
		CaptureID: "cap-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := payments.byInterface(t, "sess-1")
	auth, ok := p.FindTransaction(domain.TransactionAuthorization, "sess-1")
	if !ok || auth.State != domain.TransactionSuccess {
		t.Fatalf("capture implies a successful authorization, got %+v", p.Transactions)
	}
	if _, ok := p.FindTransaction(domain.TransactionCharge, "cap-1"); !ok {
		t.Fatalf("expected charge recorded, got %+v", p.Transactions)
	}
}

func TestProcessSessionMismatchIsFatal(t *testing.T) {
	api := &stubBriqAPI{
		getSession: func(context.Context, string) (briq.Session, error) {
			return testSession("sess-other"), nil
		},
	}
	svc := newTestNotificationService(t, api, newFakePaymentClient(), nil)

	err := svc.Process(context.Background(), NotificationCommand{
		SessionID: "sess-1",
		Event:     briq.EventOrderStatus,
		Status:    briq.WireStatusOrderPending,
	})
	if !errors.Is(err, ErrNotificationSessionMismatch) {
		t.Fatalf("expected ErrNotificationSessionMismatch, got %v", err)
	}
}

func TestProcessSwallowsPaymentNotFoundOnMutation(t *testing.T) {
	payments := newFakePaymentClient(authorizedPayment("sess-1", domain.TransactionPending))
	payments.errOverride = fmt.Errorf("platform: %w", commerce.ErrPaymentNotFound)
	svc := newTestNotificationService(t, sessionReaderFor(testSession("sess-1")), payments, nil)

	err := svc.Process(context.Background(), NotificationCommand{
		SessionID: "sess-1",
		Event:     briq.EventOrderStatus,
		Status:    briq.WireStatusOrderApproved,
	})
	if err != nil {
		t.Fatalf("payment-not-found must be accepted, got %v", err)
	}
}

func TestProcessSurfacesOtherPlatformErrors(t *testing.T) {
	payments := newFakePaymentClient(authorizedPayment("sess-1", domain.TransactionPending))
	payments.errOverride = commerce.ErrConcurrentModification
	svc := newTestNotificationService(t, sessionReaderFor(testSession("sess-1")), payments, nil)

	err := svc.Process(context.Background(), NotificationCommand{
		SessionID: "sess-1",
		Event:     briq.EventOrderStatus,
		Status:    briq.WireStatusOrderApproved,
	})
	if !errors.Is(err, commerce.ErrConcurrentModification) {
		t.Fatalf("expected concurrent modification surfaced for retry, got %v", err)
	}
}

func TestProcessUnhandledPairIsAccepted(t *testing.T) {
	payments := newFakePaymentClient()
	svc := newTestNotificationService(t, sessionReaderFor(testSession("sess-1")), payments, nil)

	err := svc.Process(context.Background(), NotificationCommand{
		SessionID: "sess-1",
		Event:     "order_status",
		Status:    "something_new",
	})
	if err != nil {
		t.Fatalf("unknown status must be accepted, got %v", err)
	}
	if payments.mutations() != 0 {
		t.Fatalf("unknown status must not mutate, got %d", payments.mutations())
	}
}

func TestProcessRequiresCaptureID(t *testing.T) {
	svc := newTestNotificationService(t, sessionReaderFor(testSession("sess-1")), newFakePaymentClient(), nil)

	err := svc.Process(context.Background(), NotificationCommand{
		SessionID: "sess-1",
		Event:     briq.EventCaptureStatus,
		Status:    briq.WireStatusApproved,
	})
	if !errors.Is(err, ErrNotificationInvalidInput) {
		t.Fatalf("expected ErrNotificationInvalidInput, got %v", err)
	}
}

func TestProcessPublishesProcessedNotifications(t *testing.T) {
	publisher := &recordingPublisher{}
	payments := newFakePaymentClient()
	svc := newTestNotificationService(t, sessionReaderFor(testSession("sess-1")), payments, publisher)

	err := svc.Process(context.Background(), NotificationCommand{
		SessionID: "sess-1",
		Event:     briq.EventOrderStatus,
		Status:    briq.WireStatusOrderPending,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(publisher.events) != 1 || publisher.events[0].SessionID != "sess-1" {
		t.Fatalf("unexpected published events: %+v", publisher.events)
	}
}

func TestProcessPublishFailureDoesNotFailProcessing(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("topic unavailable")}
	payments := newFakePaymentClient()
	svc := newTestNotificationService(t, sessionReaderFor(testSession("sess-1")), payments, publisher)

	err := svc.Process(context.Background(), NotificationCommand{
		SessionID: "sess-1",
		Event:     briq.EventOrderStatus,
		Status:    briq.WireStatusOrderPending,
	})
	if err != nil {
		t.Fatalf("publishing is best-effort, got %v", err)
	}
}

func TestStateFromWireStatus(t *testing.T) {
	cases := []struct {
		status string
		want   domain.TransactionState
	}{
		{"approved", domain.TransactionSuccess},
		{"APPROVED", domain.TransactionSuccess},
		{"pending", domain.TransactionPending},
		{"rejected", domain.TransactionFailure},
		{"half_approved", domain.TransactionPending},
		{"", domain.TransactionPending},
	}
	for _, tc := range cases {
		if got := StateFromWireStatus(tc.status); got != tc.want {
			t.Fatalf("StateFromWireStatus(%q) = %s, want %s", tc.status, got, tc.want)
		}
	}
}
