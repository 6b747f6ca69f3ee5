package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/drugsng/whatsapp-bot/internal/bot"
	"github.com/drugsng/whatsapp-bot/internal/notify"
	"github.com/drugsng/whatsapp-bot/internal/support"
)

// handleTimeout bounds the work done for one inbound message after the
// webhook has been acked.
const handleTimeout = 60 * time.Second

// WebhookHandler receives WhatsApp Cloud API callbacks and routes each
// message to either the support relay (roster numbers) or the dispatcher
// (customers).
type WebhookHandler struct {
	verifyToken string
	dispatcher  *bot.Dispatcher
	relay       *support.Relay
	reader      notify.ReadMarker
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(verifyToken string, dispatcher *bot.Dispatcher, relay *support.Relay, reader notify.ReadMarker) *WebhookHandler {
	return &WebhookHandler{
		verifyToken: verifyToken,
		dispatcher:  dispatcher,
		relay:       relay,
		reader:      reader,
	}
}

// RegisterRoutes mounts the webhook endpoints on the router.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Get("/webhook", h.Verify)
	r.Post("/webhook", h.Receive)
}

// Verify answers the Cloud API subscription handshake: echo hub.challenge
// when the verify token matches, 403 otherwise.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken {
		slog.Info("webhook verified")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}
	w.WriteHeader(http.StatusForbidden)
}

// Cloud API webhook envelope, trimmed to the fields the bot reads.
type webhookEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *mediaRef `json:"image"`
	Document *mediaRef `json:"document"`
}

type mediaRef struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

// Receive acks the delivery immediately and processes each message in the
// background. The Cloud API retries undelivered webhooks, so anything but a
// fast 200 causes duplicate processing.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var envelope webhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		slog.Warn("malformed webhook payload", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	if envelope.Object != "whatsapp_business_account" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, msg := range change.Value.Messages {
				go h.processMessage(msg)
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) processMessage(msg inboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	if err := h.reader.MarkRead(msg.ID); err != nil {
		slog.Warn("mark message read", "message_id", msg.ID, "error", err)
	}

	inbound := bot.Inbound{SenderID: msg.From}
	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return
		}
		inbound.Text = msg.Text.Body
	case "image":
		if msg.Image == nil {
			return
		}
		inbound.MediaRef = msg.Image.ID
		inbound.Text = msg.Image.Caption
	case "document":
		if msg.Document == nil {
			return
		}
		inbound.MediaRef = msg.Document.ID
		inbound.Text = msg.Document.Caption
	default:
		slog.Info("ignoring unsupported message type", "type", msg.Type, "from", msg.From)
		return
	}

	agent, err := h.relay.AgentByPhone(ctx, msg.From)
	if err != nil {
		slog.Error("roster lookup", "from", msg.From, "error", err)
		return
	}
	if agent != nil {
		slog.Info("agent message received", "agent", agent.Name)
		if err := h.relay.HandleAgentMessage(ctx, agent, inbound.Text); err != nil {
			slog.Error("handle agent message", "agent", agent.Name, "error", err)
		}
		return
	}

	slog.Info("customer message received", "from", msg.From)
	h.dispatcher.HandleCustomerMessage(ctx, inbound)
}
