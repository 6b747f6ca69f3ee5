package drugsng

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/drugsng/whatsapp-bot/internal/config"
	"github.com/drugsng/whatsapp-bot/internal/domain"
)

// HTTPClient implements Client against the marketplace REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a marketplace client from configuration.
func NewHTTPClient(cfg config.MarketplaceConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// RegisterUser creates a backend account.
func (c *HTTPClient) RegisterUser(ctx context.Context, data UserData) (*AuthResult, error) {
	var out AuthResult
	if err := c.do(ctx, http.MethodPost, "/auth/register", data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoginUser authenticates a backend account.
func (c *HTTPClient) LoginUser(ctx context.Context, creds Credentials) (*AuthResult, error) {
	var out AuthResult
	if err := c.do(ctx, http.MethodPost, "/auth/login", creds, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchProducts queries the catalog.
func (c *HTTPClient) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	var out []domain.Product
	path := "/products?q=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddToCart puts a quantity of a product in the user's cart.
func (c *HTTPClient) AddToCart(ctx context.Context, userID, productID int64, quantity int) error {
	payload := map[string]any{"user_id": userID, "product_id": productID, "quantity": quantity}
	return c.do(ctx, http.MethodPost, "/cart/items", payload, nil)
}

// PlaceOrder turns the user's cart into an order.
func (c *HTTPClient) PlaceOrder(ctx context.Context, userID int64, data OrderData) (*OrderResult, error) {
	payload := map[string]any{"user_id": userID, "address": data.Address, "payment_method": data.PaymentMethod}
	var out OrderResult
	if err := c.do(ctx, http.MethodPost, "/orders", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TrackOrder fetches the current status of an order.
func (c *HTTPClient) TrackOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	var out domain.Order
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/orders/%d", orderID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchDoctors queries practitioners by specialty and location.
func (c *HTTPClient) SearchDoctors(ctx context.Context, specialty, location string) ([]domain.Doctor, error) {
	var out []domain.Doctor
	path := "/doctors?specialty=" + url.QueryEscape(specialty) + "&location=" + url.QueryEscape(location)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BookAppointment schedules a consultation.
func (c *HTTPClient) BookAppointment(ctx context.Context, userID, doctorID int64, when time.Time) (*AppointmentResult, error) {
	payload := map[string]any{"user_id": userID, "doctor_id": doctorID, "datetime": when.Format(time.RFC3339)}
	var out AppointmentResult
	if err := c.do(ctx, http.MethodPost, "/appointments", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchDiagnosticTests queries bookable lab tests.
func (c *HTTPClient) SearchDiagnosticTests(ctx context.Context, testType string) ([]DiagnosticTest, error) {
	var out []DiagnosticTest
	path := "/diagnostics?type=" + url.QueryEscape(testType)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchHealthcareProducts queries the healthcare product catalog.
func (c *HTTPClient) SearchHealthcareProducts(ctx context.Context, category string) ([]domain.Product, error) {
	var out []domain.Product
	path := "/healthcare-products?category=" + url.QueryEscape(category)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RequestPasswordReset applies a verified password reset.
func (c *HTTPClient) RequestPasswordReset(ctx context.Context, email, code, newPassword string) error {
	payload := map[string]string{"email": email, "code": code, "password": newPassword}
	return c.do(ctx, http.MethodPost, "/auth/password-reset", payload, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: marketplace timeout: %v", domain.ErrUpstreamFailure, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrUpstreamFailure, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close marketplace response body", "error", closeErr)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return domain.ErrAuthRequired
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return domain.NewValidationError("request", string(detail))
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: marketplace status %d", domain.ErrUpstreamFailure, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrUpstreamFailure, err)
	}
	return nil
}
