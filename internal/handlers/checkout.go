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
	"github.com/briq-connect/api/internal/platform/httpx"
	"github.com/briq-connect/api/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes the storefront-facing session endpoints.
type CheckoutHandlers struct {
	connector      services.Connector
	allowedOrigins []string
}

// NewCheckoutHandlers constructs checkout handlers guarded by an optional origin allow-list.
func NewCheckoutHandlers(connector services.Connector, allowedOrigins []string) *CheckoutHandlers {
	return &CheckoutHandlers{
		connector:      connector,
		allowedOrigins: allowedOrigins,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/config", h.config)
	r.Post("/decision", h.decision)
	r.Get("/sessions/{sessionID}/status", h.status)
}

type checkoutConfigRequest struct {
	CartID string `json:"cartId"`
}

type checkoutDecisionRequest struct {
	SessionID     string   `json:"sessionId"`
	Decision      string   `json:"decision"`
	RejectionType string   `json:"rejectionType,omitempty"`
	HardError     string   `json:"hardError,omitempty"`
	SoftErrors    []string `json:"softErrors,omitempty"`
}

func (h *CheckoutHandlers) config(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.guard(ctx, w, r) {
		return
	}

	var req checkoutConfigRequest
	if !h.decode(ctx, w, r, &req) {
		return
	}

	cartID := strings.TrimSpace(req.CartID)
	if cartID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cartId is required", http.StatusBadRequest))
		return
	}

	cfg, err := h.connector.Config(ctx, cartID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cfg)
}

func (h *CheckoutHandlers) decision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.guard(ctx, w, r) {
		return
	}

	var req checkoutDecisionRequest
	if !h.decode(ctx, w, r, &req) {
		return
	}

	decision := strings.ToLower(strings.TrimSpace(req.Decision))
	if decision != "allow" && decision != "reject" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "decision must be allow or reject", http.StatusBadRequest))
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sessionId is required", http.StatusBadRequest))
		return
	}
	if len(req.SoftErrors) > 10 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "too many soft errors", http.StatusBadRequest))
		return
	}

	cmd := services.DecisionCommand{
		SessionID:     sessionID,
		Allow:         decision == "allow",
		RejectionType: strings.TrimSpace(req.RejectionType),
		HardError:     strings.TrimSpace(req.HardError),
		SoftErrors:    req.SoftErrors,
	}
	if err := h.connector.MakeDecision(ctx, cmd); err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandlers) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.guard(ctx, w, r) {
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sessionId is required", http.StatusBadRequest))
		return
	}

	status, err := h.connector.Status(ctx, sessionID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, status)
}

func (h *CheckoutHandlers) guard(ctx context.Context, w http.ResponseWriter, r *http.Request) bool {
	if h.connector == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout unavailable", http.StatusServiceUnavailable))
		return false
	}
	if !originAllowed(r, h.allowedOrigins) {
		httpx.WriteError(ctx, w, httpx.NewError("origin_not_allowed", "origin is not allowed", http.StatusForbidden))
		return false
	}
	return true
}

func (h *CheckoutHandlers) decode(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, commerce.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, briq.ErrSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrMapperInvalidCart), errors.Is(err, services.ErrTaxRateUnresolved):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_mappable", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrSessionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		var apiErr *briq.APIError
		if errors.As(err, &apiErr) {
			httpx.WriteError(ctx, w, httpx.NewError("provider_error", "payment provider request failed", http.StatusBadGateway))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}
