// Package mailer sends transactional email through the Brevo HTTP API.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/drugsng/whatsapp-bot/internal/config"
)

// Sender delivers verification codes by email.
type Sender interface {
	SendOTP(ctx context.Context, email, name, code string) error
	SendPasswordReset(ctx context.Context, email, name, code string) error
}

// BrevoClient implements Sender against the Brevo transactional API.
type BrevoClient struct {
	apiURL      string
	apiKey      string
	senderName  string
	senderEmail string
	client      *http.Client
}

// NewBrevoClient builds a mail client from configuration.
func NewBrevoClient(cfg config.MailerConfig) *BrevoClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BrevoClient{
		apiURL:      cfg.APIURL,
		apiKey:      cfg.APIKey,
		senderName:  cfg.SenderName,
		senderEmail: cfg.SenderEmail,
		client:      &http.Client{Timeout: timeout},
	}
}

type party struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type sendRequest struct {
	Sender      party   `json:"sender"`
	To          []party `json:"to"`
	Subject     string  `json:"subject"`
	TextContent string  `json:"textContent"`
}

// SendOTP emails a registration verification code.
func (c *BrevoClient) SendOTP(ctx context.Context, email, name, code string) error {
	body := fmt.Sprintf(
		"Hello %s,\n\nYour Drugs.ng verification code is: %s\n\nIt expires in 10 minutes. If you did not request this, ignore this email.",
		name, code)
	return c.send(ctx, email, name, "Verify your Drugs.ng account", body)
}

// SendPasswordReset emails a password reset code.
func (c *BrevoClient) SendPasswordReset(ctx context.Context, email, name, code string) error {
	body := fmt.Sprintf(
		"Hello %s,\n\nYour Drugs.ng password reset code is: %s\n\nIt expires in 10 minutes. If you did not request this, ignore this email.",
		name, code)
	return c.send(ctx, email, name, "Reset your Drugs.ng password", body)
}

func (c *BrevoClient) send(ctx context.Context, email, name, subject, text string) error {
	payload := sendRequest{
		Sender:      party{Name: c.senderName, Email: c.senderEmail},
		To:          []party{{Name: name, Email: email}},
		Subject:     subject,
		TextContent: text,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/smtp/email", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mail api request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close mail response body", "error", closeErr)
		}
	}()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail api status %d: %s", resp.StatusCode, detail)
	}
	return nil
}
