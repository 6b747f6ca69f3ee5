package domain

import (
	"time"
)

// AgentRole classifies which kind of requests a support agent handles.
type AgentRole string

const (
	RoleGeneral   AgentRole = "general"
	RoleOrders    AgentRole = "orders"
	RoleMedical   AgentRole = "medical"
	RoleTechnical AgentRole = "technical"
)

// SupportAgent is a member of the live support roster, keyed by phone number.
type SupportAgent struct {
	ID          int64
	Name        string
	PhoneNumber string
	Role        AgentRole
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChatMessage is one relayed message in a support thread. Immutable except
// for the Read flag.
type ChatMessage struct {
	ID           int64
	CustomerID   string
	AgentID      int64
	Text         string
	FromCustomer bool
	Timestamp    time.Time
	Read         bool
}
