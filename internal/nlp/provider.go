package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/drugsng/whatsapp-bot/internal/domain"
)

// HTTPProvider is the optional primary intent provider: a remote NLU service
// reached over HTTP JSON. Any failure is reported as an unknown result so
// the resilient wrapper falls through to the deterministic matcher.
type HTTPProvider struct {
	url    string
	client *http.Client
}

// NewHTTPProvider builds a provider client for the given endpoint.
func NewHTTPProvider(url string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPProvider{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type providerRequest struct {
	Text string `json:"text"`
}

type providerResponse struct {
	Intent          string            `json:"intent"`
	Parameters      map[string]string `json:"parameters"`
	FulfillmentText string            `json:"fulfillment_text"`
	Confidence      float64           `json:"confidence"`
}

// Resolve asks the remote service to classify text. Errors degrade to an
// unknown result; they never propagate.
func (p *HTTPProvider) Resolve(ctx context.Context, text string) domain.IntentResult {
	body, err := json.Marshal(providerRequest{Text: text})
	if err != nil {
		return providerFailure(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return providerFailure(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return providerFailure(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close provider response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return providerFailure(fmt.Errorf("provider returned status %d", resp.StatusCode))
	}

	var out providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return providerFailure(err)
	}
	if out.Intent == "" {
		return providerFailure(fmt.Errorf("provider returned empty intent"))
	}

	params := out.Parameters
	if params == nil {
		params = map[string]string{}
	}
	return domain.IntentResult{
		Intent:          domain.Intent(out.Intent),
		Parameters:      params,
		FulfillmentText: out.FulfillmentText,
		Confidence:      out.Confidence,
		Source:          domain.SourceProvider,
	}
}

func providerFailure(err error) domain.IntentResult {
	slog.Warn("primary intent provider unavailable", "error", err)
	return domain.IntentResult{
		Intent:     domain.IntentUnknown,
		Parameters: map[string]string{},
		Source:     domain.SourceError,
	}
}
