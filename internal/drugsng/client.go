// Package drugsng is the client for the Drugs.ng marketplace backend. The
// bot consumes catalog, order and account capabilities through this narrow
// interface; all persistence and business logic live upstream.
package drugsng

import (
	"context"
	"time"

	"github.com/drugsng/whatsapp-bot/internal/domain"
)

// UserData is the registration payload.
type UserData struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phone_number"`
}

// Credentials is the login payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult identifies an authenticated backend user.
type AuthResult struct {
	UserID int64  `json:"user_id"`
	Token  string `json:"token"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// OrderData is the order placement payload.
type OrderData struct {
	Address       string `json:"address"`
	PaymentMethod string `json:"payment_method"`
}

// OrderResult identifies a freshly placed order.
type OrderResult struct {
	OrderID     int64   `json:"order_id"`
	TotalAmount float64 `json:"total_amount"`
}

// AppointmentResult identifies a booked appointment.
type AppointmentResult struct {
	AppointmentID int64 `json:"appointment_id"`
}

// DiagnosticTest is a bookable lab test.
type DiagnosticTest struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Client is the capability surface the dispatcher delegates to. Every call
// may fail with a typed error (domain.ErrNotFound, domain.ErrUpstreamFailure,
// *domain.ValidationError) which the dispatcher maps to a user-facing reply.
type Client interface {
	RegisterUser(ctx context.Context, data UserData) (*AuthResult, error)
	LoginUser(ctx context.Context, creds Credentials) (*AuthResult, error)
	SearchProducts(ctx context.Context, query string) ([]domain.Product, error)
	AddToCart(ctx context.Context, userID, productID int64, quantity int) error
	PlaceOrder(ctx context.Context, userID int64, data OrderData) (*OrderResult, error)
	TrackOrder(ctx context.Context, orderID int64) (*domain.Order, error)
	SearchDoctors(ctx context.Context, specialty, location string) ([]domain.Doctor, error)
	BookAppointment(ctx context.Context, userID, doctorID int64, when time.Time) (*AppointmentResult, error)
	SearchDiagnosticTests(ctx context.Context, testType string) ([]DiagnosticTest, error)
	SearchHealthcareProducts(ctx context.Context, category string) ([]domain.Product, error)
	RequestPasswordReset(ctx context.Context, email, code, newPassword string) error
}
