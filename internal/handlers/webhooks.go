package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/briq-connect/api/internal/platform/httpx"
	"github.com/briq-connect/api/internal/platform/observability"
	"github.com/briq-connect/api/internal/services"
	"github.com/briq-connect/api/internal/webhook"
	"go.uber.org/zap"
)

const (
	maxWebhookBody  = 256 * 1024
	signatureHeader = "X-Briq-Signature"
)

// WebhookHandlers receives inbound provider notifications. Signature
// verification is skipped when no signing secret is configured.
type WebhookHandlers struct {
	connector     services.Connector
	verifier      *webhook.Verifier
	signingSecret string
}

// NewWebhookHandlers constructs the webhook endpoint handlers.
func NewWebhookHandlers(connector services.Connector, verifier *webhook.Verifier, signingSecret string) *WebhookHandlers {
	return &WebhookHandlers{
		connector:     connector,
		verifier:      verifier,
		signingSecret: signingSecret,
	}
}

// Routes registers the provider webhook endpoint.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/briq", h.receive)
}

func (h *WebhookHandlers) receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	if h.connector == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}
	if len(body) > maxWebhookBody {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body exceeds the allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	if h.signingSecret != "" && h.verifier != nil {
		if err := h.verifier.Verify(body, r.Header.Get(signatureHeader), h.signingSecret); err != nil {
			logger.Warn("webhook signature rejected", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", err.Error(), http.StatusUnauthorized))
			return
		}
	}

	notification, err := webhook.ParseNotification(body)
	if err != nil {
		logger.Warn("webhook payload rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.NotificationCommand{
		SessionID: notification.SessionID,
		Event:     notification.Event,
		Status:    notification.Status,
		CaptureID: notification.CaptureID,
		RefundID:  notification.RefundID,
	}
	if err := h.connector.ProcessNotification(ctx, cmd); err != nil {
		if errors.Is(err, services.ErrNotificationInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", err.Error(), http.StatusBadRequest))
			return
		}
		// Non-2xx makes the provider redeliver; processing is idempotent.
		logger.Error("webhook processing failed", zap.String("session_id", notification.SessionID), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("processing_failed", "notification could not be processed", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
}
