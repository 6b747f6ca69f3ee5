// Package domain contains core domain types for the WhatsApp bot.
package domain

import (
	"time"
)

// SessionState is the conversational state of a sender.
type SessionState string

const (
	StateNew         SessionState = "NEW"
	StateRegistering SessionState = "REGISTERING"
	StateLoggingIn   SessionState = "LOGGING_IN"
	StateLoggedIn    SessionState = "LOGGED_IN"
	StateSupportChat SessionState = "SUPPORT_CHAT"
)

// RegistrationDraft holds registration details collected while the sender's
// email is still unverified.
type RegistrationDraft struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionData is the per-sender scratch state. Every field is optional; the
// zero value means "nothing pending".
type SessionData struct {
	UserID               int64              `json:"user_id,omitempty"`
	Token                string             `json:"token,omitempty"`
	Email                string             `json:"email,omitempty"`
	SearchResults        []Product          `json:"search_results,omitempty"`
	DoctorSearchResults  []Doctor           `json:"doctor_search_results,omitempty"`
	RegistrationDraft    *RegistrationDraft `json:"registration_draft,omitempty"`
	OTPPending           bool               `json:"otp_pending,omitempty"`
	PendingAttachmentRef string             `json:"pending_attachment_ref,omitempty"`
	AssignedAgentID      int64              `json:"assigned_agent_id,omitempty"`
}

// Session is the per-sender conversational state record. Exactly one exists
// per sender ID; all transitions go through the dispatcher.
type Session struct {
	SenderID     string
	State        SessionState
	Data         SessionData
	LastActivity time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsLoggedIn reports whether the sender has an authenticated backend user.
func (s *Session) IsLoggedIn() bool {
	return s.State == StateLoggedIn
}

// ClearAuth drops authentication and all scratch data, as on logout.
func (s *Session) ClearAuth() {
	s.State = StateNew
	s.Data = SessionData{}
}

// IdleFor reports whether the session has seen no activity for at least d.
func (s *Session) IdleFor(d time.Duration) bool {
	return time.Since(s.LastActivity) >= d
}
