// Package support implements the live support roster and the bidirectional
// chat relay between customers and agents.
package support

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/drugsng/whatsapp-bot/internal/domain"
	"github.com/drugsng/whatsapp-bot/internal/notify"
	"github.com/drugsng/whatsapp-bot/internal/shared"
	"github.com/drugsng/whatsapp-bot/internal/store"
)

const agentUsageHint = "Unknown command. Available commands: /chats, /end"

// Relay connects customers in SUPPORT_CHAT with roster agents, persisting
// one ChatMessage per relayed hop.
//
// Customer-side entry points (StartChat, RelayFromCustomer, EndChat called
// from the dispatcher) run under the dispatcher's per-sender lock. The
// agent side acquires the same lock before ending a customer's chat, so an
// agent /end and a customer turn never race on the session row.
type Relay struct {
	repo     store.Repository
	notifier notify.Notifier
	locks    *shared.KeyedMutex
}

// NewRelay builds the support relay. locks must be the same lock set the
// dispatcher serializes customer turns with.
func NewRelay(repo store.Repository, notifier notify.Notifier, locks *shared.KeyedMutex) *Relay {
	if locks == nil {
		locks = &shared.KeyedMutex{}
	}
	return &Relay{repo: repo, notifier: notifier, locks: locks}
}

// AgentByPhone reports whether a sender is on the roster. Returns (nil, nil)
// for customers.
func (r *Relay) AgentByPhone(ctx context.Context, phoneNumber string) (*domain.SupportAgent, error) {
	return r.repo.GetAgentByPhone(ctx, phoneNumber)
}

// StartChat hands the customer's session over to a live agent. The
// requested role falls back to general, then to any active agent; only an
// empty roster fails.
func (r *Relay) StartChat(ctx context.Context, session *domain.Session, role domain.AgentRole) (*domain.SupportAgent, error) {
	agent, err := r.resolveAgent(ctx, role)
	if err != nil {
		return nil, err
	}

	session.State = domain.StateSupportChat
	session.Data.AssignedAgentID = agent.ID
	if err := r.repo.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	r.send(session.SenderID, fmt.Sprintf(
		"You're now connected with %s. Please describe your issue and our support team will assist you shortly.", agent.Name))
	r.send(agent.PhoneNumber, fmt.Sprintf(
		"🆘 New support request from %s. Please respond to assist.", session.SenderID))

	slog.Info("support chat started", "customer", session.SenderID, "agent_id", agent.ID, "role", agent.Role)
	return agent, nil
}

func (r *Relay) resolveAgent(ctx context.Context, role domain.AgentRole) (*domain.SupportAgent, error) {
	if role == "" {
		role = domain.RoleGeneral
	}
	agent, err := r.repo.GetActiveAgentByRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("lookup agent for role %s: %w", role, err)
	}
	if agent == nil && role != domain.RoleGeneral {
		agent, err = r.repo.GetActiveAgentByRole(ctx, domain.RoleGeneral)
		if err != nil {
			return nil, fmt.Errorf("lookup general agent: %w", err)
		}
	}
	if agent == nil {
		agents, err := r.repo.ListActiveAgents(ctx)
		if err != nil {
			return nil, fmt.Errorf("list active agents: %w", err)
		}
		if len(agents) > 0 {
			agent = agents[0]
		}
	}
	if agent == nil {
		return nil, domain.ErrNoAgentAvailable
	}
	return agent, nil
}

// RelayFromCustomer forwards a customer message verbatim to the assigned
// agent, persisting it on the way.
func (r *Relay) RelayFromCustomer(ctx context.Context, session *domain.Session, text string) error {
	if session.State != domain.StateSupportChat || session.Data.AssignedAgentID == 0 {
		return domain.ErrNoActiveChat
	}

	agent, err := r.repo.GetAgentByID(ctx, session.Data.AssignedAgentID)
	if err != nil {
		return fmt.Errorf("lookup assigned agent: %w", err)
	}
	if agent == nil {
		return domain.ErrNoActiveChat
	}

	msg := &domain.ChatMessage{
		CustomerID:   session.SenderID,
		AgentID:      agent.ID,
		Text:         text,
		FromCustomer: true,
	}
	if err := r.repo.InsertChatMessage(ctx, msg); err != nil {
		return fmt.Errorf("persist chat message: %w", err)
	}

	r.send(agent.PhoneNumber, fmt.Sprintf("👤 %s: %s", session.SenderID, text))
	return nil
}

// HandleAgentMessage processes one inbound message from a roster agent:
// either a slash command or a reply relayed to the agent's most recent
// unread customer thread.
func (r *Relay) HandleAgentMessage(ctx context.Context, agent *domain.SupportAgent, text string) error {
	if strings.HasPrefix(text, "/") {
		return r.handleCommand(ctx, agent, text)
	}

	customerID, err := r.repo.LatestCustomerThread(ctx, agent.ID, true)
	if err != nil {
		return fmt.Errorf("resolve customer thread: %w", err)
	}
	if customerID == "" {
		r.send(agent.PhoneNumber, "No active chat found. Please wait for a customer to initiate a chat.")
		return domain.ErrNoActiveChat
	}

	msg := &domain.ChatMessage{
		CustomerID:   customerID,
		AgentID:      agent.ID,
		Text:         text,
		FromCustomer: false,
	}
	if err := r.repo.InsertChatMessage(ctx, msg); err != nil {
		return fmt.Errorf("persist chat message: %w", err)
	}

	r.send(customerID, "👨‍💼 Support: "+text)
	return nil
}

func (r *Relay) handleCommand(ctx context.Context, agent *domain.SupportAgent, text string) error {
	command := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(text, "/")))

	switch command {
	case "chats":
		return r.listUnread(ctx, agent)
	case "end":
		customerID, err := r.repo.LatestCustomerThread(ctx, agent.ID, false)
		if err != nil {
			return fmt.Errorf("resolve customer thread: %w", err)
		}
		if customerID == "" {
			r.send(agent.PhoneNumber, "No active chat found.")
			return domain.ErrNoActiveChat
		}

		unlock := r.locks.Lock(customerID)
		err = r.EndChat(ctx, customerID)
		unlock()
		if errors.Is(err, domain.ErrNoActiveChat) {
			// Thread rows outlive the chat; the session may have reverted
			// already (customer typed "end chat" or the sweep ran).
			r.send(agent.PhoneNumber, "No active chat found.")
		}
		return err
	default:
		r.send(agent.PhoneNumber, agentUsageHint)
		return nil
	}
}

func (r *Relay) listUnread(ctx context.Context, agent *domain.SupportAgent) error {
	msgs, err := r.repo.UnreadCustomerMessages(ctx, agent.ID)
	if err != nil {
		return fmt.Errorf("load unread messages: %w", err)
	}
	if len(msgs) == 0 {
		r.send(agent.PhoneNumber, "No unread messages.")
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %d unread messages:\n\n", len(msgs))
	for _, msg := range msgs {
		fmt.Fprintf(&b, "👤 %s: %s\n\n", msg.CustomerID, msg.Text)
	}
	r.send(agent.PhoneNumber, b.String())

	err = shared.RetryOnBusy(ctx, 3, 100*time.Millisecond, func() error {
		_, markErr := r.repo.MarkCustomerMessagesRead(ctx, agent.ID)
		return markErr
	})
	if err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	return nil
}

// EndChat closes a customer's support thread, reverting the session to
// LOGGED_IN (or NEW if the customer never authenticated) and notifying both
// sides. Calling it with no active chat fails without side effects. The
// caller must hold the customer's key in the shared lock set.
func (r *Relay) EndChat(ctx context.Context, customerID string) error {
	session, err := r.repo.GetSession(ctx, customerID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session == nil || session.State != domain.StateSupportChat || session.Data.AssignedAgentID == 0 {
		return domain.ErrNoActiveChat
	}

	agent, err := r.repo.GetAgentByID(ctx, session.Data.AssignedAgentID)
	if err != nil {
		return fmt.Errorf("lookup assigned agent: %w", err)
	}

	if session.Data.UserID != 0 {
		session.State = domain.StateLoggedIn
	} else {
		session.State = domain.StateNew
	}
	session.Data.AssignedAgentID = 0
	if err := r.repo.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	r.send(customerID,
		"Your support chat has ended. Thank you for contacting Drugs.ng support. Is there anything else I can help you with?")
	if agent != nil {
		r.send(agent.PhoneNumber, fmt.Sprintf("✅ Support chat with %s has ended.", customerID))
	}

	slog.Info("support chat ended", "customer", customerID)
	return nil
}

// NotifyRole fans a short activity note out to an active agent of the given
// role. Best effort: failures are logged, never surfaced to the customer.
func (r *Relay) NotifyRole(ctx context.Context, role domain.AgentRole, customerID, activity, details string) {
	agent, err := r.repo.GetActiveAgentByRole(ctx, role)
	if err != nil || agent == nil {
		slog.Warn("no agent to notify", "role", role, "error", err)
		return
	}

	msg := fmt.Sprintf("🔔 New Customer Activity:\n\nCustomer: %s\nActivity: %s\n", customerID, activity)
	if details != "" {
		msg += "Details: " + details + "\n"
	}
	msg += "\nReply to this message to chat with the customer."
	r.send(agent.PhoneNumber, msg)
}

// send is fire and forget; delivery failures never re-enter the relay.
func (r *Relay) send(recipient, text string) {
	if err := r.notifier.Send(recipient, text); err != nil {
		slog.Warn("support notification failed", "recipient", recipient, "error", err)
	}
}
