package domain

import (
	"time"
)

// Product is a catalog entry returned by a product search.
type Product struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
}

// Doctor is a practitioner returned by a doctor search.
type Doctor struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Specialty string  `json:"specialty"`
	Location  string  `json:"location"`
	Rating    float64 `json:"rating"`
}

// Order payment states. Transitions are idempotent: confirming an already
// paid order is a no-op.
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

// Order statuses as reported by the marketplace backend.
const (
	OrderProcessing = "Processing"
	OrderShipped    = "Shipped"
	OrderDelivered  = "Delivered"
	OrderCancelled  = "Cancelled"
)

// OrderItem is one line of an order.
type OrderItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Order is the tracked view of a placed order.
type Order struct {
	ID               int64       `json:"id"`
	UserID           int64       `json:"user_id"`
	Status           string      `json:"status"`
	PaymentStatus    string      `json:"payment_status"`
	PaymentReference string      `json:"payment_reference,omitempty"`
	TotalAmount      float64     `json:"total_amount"`
	ShippingAddress  string      `json:"shipping_address"`
	Items            []OrderItem `json:"items"`
	OrderDate        time.Time   `json:"order_date"`
}

// Prescription binds an uploaded prescription document to an order.
type Prescription struct {
	ID                 int64
	OrderID            int64
	FileRef            string
	VerificationStatus string
	CreatedAt          time.Time
}

// OTPPurpose tags what an emailed verification code is for.
type OTPPurpose string

const (
	OTPRegistration  OTPPurpose = "registration"
	OTPPasswordReset OTPPurpose = "password_reset"
)

// OTP is a single-use emailed verification code.
type OTP struct {
	ID        int64
	Email     string
	Code      string
	Purpose   OTPPurpose
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// Expired reports whether the code is past its expiry at the given time.
func (o *OTP) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}
