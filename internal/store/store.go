// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/drugsng/whatsapp-bot/internal/domain"
)

// Repository defines the interface for persisting conversational state,
// the support roster, chat transcripts, verification codes and orders.
type Repository interface {
	// GetSession retrieves a session by sender ID. Returns (nil, nil) when
	// no session exists for the sender.
	GetSession(ctx context.Context, senderID string) (*domain.Session, error)

	// SaveSession persists a session and refreshes its last-activity and
	// updated-at timestamps.
	SaveSession(ctx context.Context, session *domain.Session) error

	// ResetIdleSessions reverts sessions idle longer than ttl to NEW with
	// cleared scratch data. Sessions in SUPPORT_CHAT are left alone.
	ResetIdleSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// GetAgentByPhone retrieves a support agent by phone number. Returns
	// (nil, nil) when the number is not on the roster.
	GetAgentByPhone(ctx context.Context, phoneNumber string) (*domain.SupportAgent, error)

	// GetAgentByID retrieves a support agent by ID. Returns (nil, nil)
	// when absent.
	GetAgentByID(ctx context.Context, id int64) (*domain.SupportAgent, error)

	// GetActiveAgentByRole retrieves an active agent for the role. Returns
	// (nil, nil) when none is active for that role.
	GetActiveAgentByRole(ctx context.Context, role domain.AgentRole) (*domain.SupportAgent, error)

	// ListActiveAgents retrieves every active agent on the roster.
	ListActiveAgents(ctx context.Context) ([]*domain.SupportAgent, error)

	// UpsertAgent creates or updates a roster entry keyed by phone number.
	UpsertAgent(ctx context.Context, agent *domain.SupportAgent) error

	// InsertChatMessage appends one relayed message to the transcript.
	InsertChatMessage(ctx context.Context, msg *domain.ChatMessage) error

	// UnreadCustomerMessages lists unread customer-authored messages for an
	// agent, oldest first.
	UnreadCustomerMessages(ctx context.Context, agentID int64) ([]*domain.ChatMessage, error)

	// MarkCustomerMessagesRead flags all unread customer-authored messages
	// for an agent as read.
	MarkCustomerMessagesRead(ctx context.Context, agentID int64) (int64, error)

	// LatestCustomerThread returns the customer ID of the most recently
	// timestamped customer-authored message for an agent, optionally
	// restricted to unread messages. Returns "" when no thread exists.
	LatestCustomerThread(ctx context.Context, agentID int64, unreadOnly bool) (string, error)

	// InsertOTP stores a new verification code.
	InsertOTP(ctx context.Context, otp *domain.OTP) error

	// LatestOTP retrieves the most recent unused code for an email and
	// purpose. Returns (nil, nil) when none exists.
	LatestOTP(ctx context.Context, email string, purpose domain.OTPPurpose) (*domain.OTP, error)

	// MarkOTPUsed flags a code as consumed.
	MarkOTPUsed(ctx context.Context, id int64) error

	// InsertOrder records a placed order for payment tracking.
	InsertOrder(ctx context.Context, order *domain.Order, customerPhone, customerEmail string) error

	// GetOrder retrieves a tracked order with its customer contact details.
	// Returns (nil, "", nil) when the order is unknown.
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, string, error)

	// MarkOrderPaid transitions an order to paid/shipped. Returns false
	// without side effects when the order was already paid.
	MarkOrderPaid(ctx context.Context, orderID int64, reference string) (bool, error)

	// InsertPrescription binds an uploaded prescription document to an order.
	InsertPrescription(ctx context.Context, p *domain.Prescription) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
