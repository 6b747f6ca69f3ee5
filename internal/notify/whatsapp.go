package notify

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

// WhatsAppClient sends messages through the WhatsApp Cloud API.
type WhatsAppClient struct {
	apiURL        string
	phoneNumberID string
	accessToken   string
	client        *http.Client
}

// NewWhatsAppClient builds a Cloud API client from configuration.
func NewWhatsAppClient(cfg config.WhatsAppConfig) *WhatsAppClient {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WhatsAppClient{
		apiURL:        cfg.APIURL,
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		client:        &http.Client{Timeout: timeout},
	}
}

type textPayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// Send delivers one text message to a phone number.
func (c *WhatsAppClient) Send(recipientID, text string) error {
	payload := textPayload{
		MessagingProduct: "whatsapp",
		To:               recipientID,
		Type:             "text",
	}
	payload.Text.Body = text

	return c.post(fmt.Sprintf("%s/%s/messages", c.apiURL, c.phoneNumberID), payload)
}

// MarkRead acknowledges an inbound message so the sender sees read receipts.
func (c *WhatsAppClient) MarkRead(messageID string) error {
	payload := map[string]string{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	return c.post(fmt.Sprintf("%s/%s/messages", c.apiURL, c.phoneNumberID), payload)
}

func (c *WhatsAppClient) post(url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp api request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close whatsapp response body", "error", closeErr)
		}
	}()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp api status %d: %s", resp.StatusCode, detail)
	}
	return nil
}
