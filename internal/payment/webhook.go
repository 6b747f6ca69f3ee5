package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/drugsng/whatsapp-bot/internal/config"
	"github.com/drugsng/whatsapp-bot/internal/notify"
	"github.com/drugsng/whatsapp-bot/internal/store"
	"github.com/go-chi/chi/v5"
)

// WebhookHandler receives provider payment notifications, verifies their
// signatures and applies the idempotent order transition.
type WebhookHandler struct {
	cfg      config.PaymentConfig
	repo     store.Repository
	notifier notify.Notifier
}

// NewWebhookHandler builds the payment webhook handler.
func NewWebhookHandler(cfg config.PaymentConfig, repo store.Repository, notifier notify.Notifier) *WebhookHandler {
	return &WebhookHandler{cfg: cfg, repo: repo, notifier: notifier}
}

// RegisterRoutes mounts the provider webhook endpoints.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook/flutterwave", h.handleFlutterwave)
	r.Post("/webhook/paystack", h.handlePaystack)
}

type flutterwaveEvent struct {
	Status        string `json:"status"`
	TxRef         string `json:"tx_ref"`
	ID            int64  `json:"id"`
	TransactionID string `json:"transaction_id"`
	Meta          struct {
		OrderID int64 `json:"order_id"`
	} `json:"meta"`
}

func (h *WebhookHandler) handleFlutterwave(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get("verif-hash")
	if h.cfg.FlutterwaveSecretHash == "" || signature == "" ||
		subtle.ConstantTimeCompare([]byte(signature), []byte(h.cfg.FlutterwaveSecretHash)) != 1 {
		slog.Warn("invalid flutterwave webhook signature")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	var event flutterwaveEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		slog.Warn("invalid flutterwave webhook payload", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	if event.Status == "successful" {
		orderID := OrderIDFromRef(event.TxRef)
		if orderID == 0 {
			orderID = event.Meta.OrderID
		}
		reference := event.TransactionID
		if reference == "" && event.ID != 0 {
			reference = event.TxRef
		}
		h.confirmOrder(r, orderID, reference)
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "webhook processed"})
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Metadata  struct {
			OrderID int64 `json:"order_id"`
		} `json:"metadata"`
	} `json:"data"`
}

func (h *WebhookHandler) handlePaystack(w http.ResponseWriter, r *http.Request) {
	if h.cfg.PaystackSecretKey == "" {
		slog.Warn("paystack webhook secret not configured")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "paystack not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	mac := hmac.New(sha512.New, []byte(h.cfg.PaystackSecretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	signature := r.Header.Get("x-paystack-signature")
	if signature == "" || !hmac.Equal([]byte(expected), []byte(signature)) {
		slog.Warn("invalid paystack webhook signature")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	var event paystackEvent
	if err := json.Unmarshal(body, &event); err != nil || event.Event == "" {
		slog.Warn("invalid paystack webhook payload", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	if event.Event == "charge.success" {
		orderID := event.Data.Metadata.OrderID
		if orderID == 0 {
			orderID = OrderIDFromRef(event.Data.Reference)
		}
		h.confirmOrder(r, orderID, event.Data.Reference)
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "webhook processed"})
}

// confirmOrder applies the paid transition and notifies the customer once.
// A replayed webhook finds the order already paid and does nothing.
func (h *WebhookHandler) confirmOrder(r *http.Request, orderID int64, reference string) {
	if orderID == 0 {
		slog.Warn("could not extract order id from payment webhook")
		return
	}

	ctx := r.Context()
	changed, err := h.repo.MarkOrderPaid(ctx, orderID, reference)
	if err != nil {
		slog.Error("failed to mark order paid", "order_id", orderID, "error", err)
		return
	}
	if !changed {
		slog.Info("payment webhook replay ignored", "order_id", orderID)
		return
	}

	_, phone, err := h.repo.GetOrder(ctx, orderID)
	if err != nil || phone == "" {
		slog.Warn("paid order has no reachable customer", "order_id", orderID, "error", err)
		return
	}

	msg := fmt.Sprintf("✅ Payment confirmed! Your order #%d has been received and is being processed. You'll receive updates on delivery.", orderID)
	if err := h.notifier.Send(phone, msg); err != nil {
		slog.Warn("failed to notify customer of payment", "order_id", orderID, "error", err)
	}
	slog.Info("order payment confirmed", "order_id", orderID, "reference", reference)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode webhook response", "error", err)
	}
}
