package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/briq-connect/api/internal/briq"
	"github.com/briq-connect/api/internal/commerce"
	"github.com/briq-connect/api/internal/domain"
	"github.com/briq-connect/api/internal/platform/httpx"
	"github.com/briq-connect/api/internal/services"
)

const maxOperationRequestBody = 4 * 1024

// PaymentHandlers exposes the operator-triggered payment operations.
type PaymentHandlers struct {
	connector services.Connector
}

// NewPaymentHandlers constructs the operator payment operation handlers.
func NewPaymentHandlers(connector services.Connector) *PaymentHandlers {
	return &PaymentHandlers{connector: connector}
}

// Routes registers the operation endpoints under the provided router.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.create)
	r.Post("/payments/{paymentID}:capture", h.operation((services.Connector).CapturePayment))
	r.Post("/payments/{paymentID}:cancel", h.operation((services.Connector).CancelPayment))
	r.Post("/payments/{paymentID}:refund", h.operation((services.Connector).RefundPayment))
	r.Post("/payments/{paymentID}:reverse", h.operation((services.Connector).ReversePayment))
}

type createPaymentRequest struct {
	SessionID string `json:"sessionId"`
}

type operationRequest struct {
	Amount *moneyPayload `json:"amount,omitempty"`
}

type moneyPayload struct {
	CentAmount   int64  `json:"centAmount"`
	CurrencyCode string `json:"currencyCode"`
}

type transactionPayload struct {
	ID            string       `json:"id"`
	Type          string       `json:"type"`
	State         string       `json:"state"`
	Amount        moneyPayload `json:"amount"`
	InteractionID string       `json:"interactionId,omitempty"`
}

type paymentPayload struct {
	ID           string               `json:"id"`
	Version      int64                `json:"version"`
	InterfaceID  string               `json:"interfaceId"`
	Amount       moneyPayload         `json:"amountPlanned"`
	Transactions []transactionPayload `json:"transactions"`
}

func (h *PaymentHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.connector == nil {
		httpx.WriteError(ctx, w, httpx.NewError("operations_unavailable", "payment operations unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOperationRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req createPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sessionId is required", http.StatusBadRequest))
		return
	}

	payment, err := h.connector.CreatePayment(ctx, sessionID)
	if err != nil {
		writeOperationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, toPaymentPayload(payment))
}

func (h *PaymentHandlers) operation(run func(services.Connector, context.Context, services.OperationCommand) (domain.Payment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.connector == nil {
			httpx.WriteError(ctx, w, httpx.NewError("operations_unavailable", "payment operations unavailable", http.StatusServiceUnavailable))
			return
		}

		paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))
		if paymentID == "" {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment id is required", http.StatusBadRequest))
			return
		}

		cmd := services.OperationCommand{PaymentID: paymentID}

		body, err := readLimitedBody(r, maxOperationRequestBody)
		if err != nil && !errors.Is(err, errEmptyBody) {
			status := http.StatusBadRequest
			if errors.Is(err, errBodyTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
			return
		}
		if len(body) > 0 {
			var req operationRequest
			if err := json.Unmarshal(body, &req); err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
				return
			}
			if req.Amount != nil {
				cmd.Amount = &domain.Money{
					CentAmount:   req.Amount.CentAmount,
					CurrencyCode: req.Amount.CurrencyCode,
				}
			}
		}

		payment, err := run(h.connector, ctx, cmd)
		if err != nil {
			writeOperationError(ctx, w, err)
			return
		}

		writeJSONResponse(w, http.StatusOK, toPaymentPayload(payment))
	}
}

func toPaymentPayload(payment domain.Payment) paymentPayload {
	out := paymentPayload{
		ID:          payment.ID,
		Version:     payment.Version,
		InterfaceID: payment.InterfaceID,
		Amount: moneyPayload{
			CentAmount:   payment.AmountPlanned.CentAmount,
			CurrencyCode: payment.AmountPlanned.CurrencyCode,
		},
		Transactions: make([]transactionPayload, 0, len(payment.Transactions)),
	}
	for _, tx := range payment.Transactions {
		out.Transactions = append(out.Transactions, transactionPayload{
			ID:    tx.ID,
			Type:  string(tx.Type),
			State: string(tx.State),
			Amount: moneyPayload{
				CentAmount:   tx.Amount.CentAmount,
				CurrencyCode: tx.Amount.CurrencyCode,
			},
			InteractionID: tx.InteractionID,
		})
	}
	return out
}

func writeOperationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, commerce.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "payment not found", http.StatusNotFound))
	case errors.Is(err, briq.ErrSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOperationInvalidInput), errors.Is(err, services.ErrSessionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("amount_mismatch", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrNoAuthorization),
		errors.Is(err, services.ErrNoCharge),
		errors.Is(err, services.ErrAlreadyCaptured),
		errors.Is(err, services.ErrAlreadyRefunded),
		errors.Is(err, services.ErrNothingToReverse):
		httpx.WriteError(ctx, w, httpx.NewError("operation_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, commerce.ErrConcurrentModification):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "payment was modified concurrently", http.StatusConflict))
	default:
		var apiErr *briq.APIError
		if errors.As(err, &apiErr) {
			httpx.WriteError(ctx, w, httpx.NewError("provider_error", "payment provider request failed", http.StatusBadGateway))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}
