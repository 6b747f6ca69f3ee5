// Package bot holds the conversational core: the per-sender dispatcher that
// turns inbound messages into state transitions and replies.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/drugsng/whatsapp-bot/internal/config"
	"github.com/drugsng/whatsapp-bot/internal/domain"
	"github.com/drugsng/whatsapp-bot/internal/drugsng"
	"github.com/drugsng/whatsapp-bot/internal/mailer"
	"github.com/drugsng/whatsapp-bot/internal/nlp"
	"github.com/drugsng/whatsapp-bot/internal/notify"
	"github.com/drugsng/whatsapp-bot/internal/otp"
	"github.com/drugsng/whatsapp-bot/internal/payment"
	"github.com/drugsng/whatsapp-bot/internal/prescription"
	"github.com/drugsng/whatsapp-bot/internal/shared"
	"github.com/drugsng/whatsapp-bot/internal/store"
	"github.com/drugsng/whatsapp-bot/internal/support"
)

// Inbound is one customer message as seen by the dispatcher. MediaRef is the
// provider file reference when the message carried an attachment.
type Inbound struct {
	SenderID string
	Text     string
	MediaRef string
}

var (
	quickAttachRe = regexp.MustCompile(`(?i)^(?:rx|attach|link)\s+(\d+)$`)
	otpCodeRe     = regexp.MustCompile(`^\d{4}$`)
)

// Dispatcher routes each inbound message through the override checks, the
// intent resolver and the matching handler, holding a per-sender lock so a
// sender's messages are processed strictly in order.
type Dispatcher struct {
	repo          store.Repository
	resolver      nlp.Resolver
	relay         *support.Relay
	backend       drugsng.Client
	otps          *otp.Service
	mail          mailer.Sender
	payments      payment.LinkGenerator
	prescriptions prescription.Attacher
	notifier      notify.Notifier

	locks   *shared.KeyedMutex
	limiter *senderLimiter
}

// Deps bundles the dispatcher's collaborators. Locks is the per-sender lock
// set shared with the support relay; both sides must hold a customer's key
// before touching their session.
type Deps struct {
	Repo          store.Repository
	Resolver      nlp.Resolver
	Relay         *support.Relay
	Backend       drugsng.Client
	OTPs          *otp.Service
	Mail          mailer.Sender
	Payments      payment.LinkGenerator
	Prescriptions prescription.Attacher
	Notifier      notify.Notifier
	Locks         *shared.KeyedMutex
}

// NewDispatcher builds a dispatcher with per-sender rate limiting per cfg.
func NewDispatcher(deps Deps, cfg config.RateLimitConfig) *Dispatcher {
	locks := deps.Locks
	if locks == nil {
		locks = &shared.KeyedMutex{}
	}
	return &Dispatcher{
		repo:          deps.Repo,
		resolver:      deps.Resolver,
		relay:         deps.Relay,
		backend:       deps.Backend,
		otps:          deps.OTPs,
		mail:          deps.Mail,
		payments:      deps.Payments,
		prescriptions: deps.Prescriptions,
		notifier:      deps.Notifier,
		locks:         locks,
		limiter:       newSenderLimiter(cfg.PerMinute, cfg.Burst),
	}
}

// HandleCustomerMessage processes one inbound message end to end and sends
// the reply through the notifier. It never returns an error to the transport;
// failures turn into an apology reply so the webhook can always ack.
func (d *Dispatcher) HandleCustomerMessage(ctx context.Context, msg Inbound) {
	unlock := d.locks.Lock(msg.SenderID)
	defer unlock()

	if !d.limiter.allow(msg.SenderID) {
		slog.Warn("sender rate limited", "sender", msg.SenderID)
		d.reply(msg.SenderID, rateLimitMessage)
		return
	}

	session, err := d.loadSession(ctx, msg.SenderID)
	if err != nil {
		slog.Error("load session", "sender", msg.SenderID, "error", err)
		d.reply(msg.SenderID, genericApology)
		return
	}

	text := strings.TrimSpace(msg.Text)

	if handled := d.applyOverrides(ctx, session, text, msg.MediaRef); handled {
		return
	}

	result := d.resolver.Resolve(ctx, text)
	slog.Info("intent resolved",
		"sender", msg.SenderID,
		"intent", result.Intent,
		"source", result.Source,
		"confidence", result.Confidence,
	)

	if d.authGateBlocks(session, result.Intent) {
		d.reply(session.SenderID, withOptions(authRequiredMessage, false))
		return
	}

	replyText := d.dispatchIsolated(ctx, session, result, text)
	if replyText == "" {
		replyText = genericApology
	}

	if err := d.repo.SaveSession(ctx, session); err != nil {
		slog.Error("save session", "sender", msg.SenderID, "error", err)
	}

	d.reply(session.SenderID, withOptions(replyText, session.IsLoggedIn()))
}

// loadSession fetches the sender's session, creating a fresh NEW one on first
// contact.
func (d *Dispatcher) loadSession(ctx context.Context, senderID string) (*domain.Session, error) {
	session, err := d.repo.GetSession(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		now := time.Now()
		session = &domain.Session{
			SenderID:     senderID,
			State:        domain.StateNew,
			LastActivity: now,
			CreatedAt:    now,
		}
	}
	return session, nil
}

// applyOverrides short-circuits resolution for messages whose meaning is
// fixed by session state: active support chats, prescription quick-attach
// and pending OTP codes. Returns true when the message was fully handled.
func (d *Dispatcher) applyOverrides(ctx context.Context, session *domain.Session, text, mediaRef string) bool {
	if session.State == domain.StateSupportChat {
		if strings.EqualFold(text, "end chat") {
			if err := d.relay.EndChat(ctx, session.SenderID); err != nil {
				slog.Error("end chat", "sender", session.SenderID, "error", err)
				d.reply(session.SenderID, genericApology)
			}
			return true
		}
		if mediaRef != "" {
			session.Data.PendingAttachmentRef = mediaRef
			if err := d.repo.SaveSession(ctx, session); err != nil {
				slog.Error("save session", "sender", session.SenderID, "error", err)
			}
			note := "[sent an attachment]"
			if text != "" {
				note = text + " [sent an attachment]"
			}
			if err := d.relay.RelayFromCustomer(ctx, session, note); err != nil {
				slog.Error("relay customer attachment", "sender", session.SenderID, "error", err)
				d.reply(session.SenderID, genericApology)
			}
			return true
		}
		if err := d.relay.RelayFromCustomer(ctx, session, text); err != nil {
			slog.Error("relay customer message", "sender", session.SenderID, "error", err)
			d.reply(session.SenderID, genericApology)
		}
		return true
	}

	if m := quickAttachRe.FindStringSubmatch(text); m != nil {
		d.handleQuickAttach(ctx, session, m[1])
		return true
	}

	if session.State == domain.StateRegistering && session.Data.OTPPending && otpCodeRe.MatchString(text) {
		reply := d.completeRegistration(ctx, session, text)
		if err := d.repo.SaveSession(ctx, session); err != nil {
			slog.Error("save session", "sender", session.SenderID, "error", err)
		}
		d.reply(session.SenderID, withOptions(reply, session.IsLoggedIn()))
		return true
	}

	if mediaRef != "" {
		session.Data.PendingAttachmentRef = mediaRef
		if err := d.repo.SaveSession(ctx, session); err != nil {
			slog.Error("save session", "sender", session.SenderID, "error", err)
		}
		d.reply(session.SenderID, withOptions(
			"📎 Got your document. Link it to an order with 'rx <order id>'.\nExample: rx 12345",
			session.IsLoggedIn()))
		return true
	}

	return false
}

func (d *Dispatcher) handleQuickAttach(ctx context.Context, session *domain.Session, orderIDText string) {
	if session.Data.PendingAttachmentRef == "" {
		d.reply(session.SenderID, withOptions(nothingPendingMessage, session.IsLoggedIn()))
		return
	}

	orderID, err := strconv.ParseInt(orderIDText, 10, 64)
	if err != nil {
		d.reply(session.SenderID, withOptions("That order ID doesn't look right. Example: rx 12345", session.IsLoggedIn()))
		return
	}

	err = d.prescriptions.Attach(ctx, orderID, session.Data.PendingAttachmentRef)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		d.reply(session.SenderID, withOptions("I couldn't find that order. Double check the ID and try again.", session.IsLoggedIn()))
		return
	case err != nil:
		slog.Error("attach prescription", "sender", session.SenderID, "order_id", orderID, "error", err)
		d.reply(session.SenderID, withOptions(genericApology, session.IsLoggedIn()))
		return
	}

	session.Data.PendingAttachmentRef = ""
	if err := d.repo.SaveSession(ctx, session); err != nil {
		slog.Error("save session", "sender", session.SenderID, "error", err)
	}
	d.relay.NotifyRole(ctx, domain.RoleMedical, session.SenderID, "Prescription uploaded",
		"Order #"+orderIDText+" has a new prescription awaiting verification.")
	d.reply(session.SenderID, withOptions(
		"✅ Prescription attached to order #"+orderIDText+". Our pharmacists will verify it shortly.",
		session.IsLoggedIn()))
}

// gatedIntents require an authenticated session.
var gatedIntents = map[domain.Intent]bool{
	domain.IntentAddToCart:          true,
	domain.IntentPlaceOrder:         true,
	domain.IntentTrackOrder:         true,
	domain.IntentBookAppointment:    true,
	domain.IntentPayment:            true,
	domain.IntentDiagnosticTests:    true,
	domain.IntentHealthcareProducts: true,
}

func (d *Dispatcher) authGateBlocks(session *domain.Session, intent domain.Intent) bool {
	if gatedIntents[intent] {
		return !session.IsLoggedIn()
	}
	if intent == domain.IntentSearchProducts {
		return session.State != domain.StateNew && session.State != domain.StateLoggedIn
	}
	return false
}

// dispatchIsolated runs the intent handler with panic isolation so one bad
// handler can't take down message processing.
func (d *Dispatcher) dispatchIsolated(ctx context.Context, session *domain.Session, result domain.IntentResult, text string) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panicked", "sender", session.SenderID, "intent", result.Intent, "panic", r)
			reply = genericApology
		}
	}()
	return d.handle(ctx, session, result, text)
}

func (d *Dispatcher) reply(recipient, text string) {
	if err := d.notifier.Send(recipient, text); err != nil {
		slog.Error("send reply", "recipient", recipient, "error", err)
	}
}

// prompt returns the resolver's fulfillment text or the canned default for
// the intent.
func prompt(result domain.IntentResult) string {
	if result.FulfillmentText != "" {
		return result.FulfillmentText
	}
	if p, ok := defaultPrompts[result.Intent]; ok {
		return p
	}
	return defaultPrompts[domain.IntentUnknown]
}
