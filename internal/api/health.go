package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/drugsng/whatsapp-bot/internal/store"
)

// HealthHandler handles the health check and status endpoints.
type HealthHandler struct {
	repo    store.Repository
	started time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo, started: time.Now()}
}

// Health returns the health status of the bot and its database.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// Status describes the service and its endpoints at the root path.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"name":    "Drugs.ng WhatsApp Bot",
		"version": "1.0.0",
		"status":  "running",
		"endpoints": map[string]interface{}{
			"webhook":          "/webhook",
			"health":           "/health",
			"payment_callback": "/payment/callback",
			"payment_webhooks": map[string]string{
				"flutterwave": "/webhook/flutterwave",
				"paystack":    "/webhook/paystack",
			},
		},
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

// PaymentCallback is the page providers redirect to after hosted checkout.
// Confirmation itself comes through the payment webhooks; this just tells
// the customer to go back to WhatsApp.
func (h *HealthHandler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<html><body><h2>Thank you!</h2>" +
		"<p>Your payment is being processed. Return to WhatsApp for confirmation.</p></body></html>"))
}

// RegisterRoutes registers the health, status and callback routes.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/", h.Status)
	r.Get("/payment/callback", h.PaymentCallback)
}
