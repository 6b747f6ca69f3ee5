// Package nlp classifies free-text messages into intents. Resolution is a
// two-stage strategy: an optional primary provider consulted under a bounded
// timeout, backed by a deterministic keyword matcher that is the behavioral
// source of truth. Resolve never fails; every error path degrades to an
// unknown-intent result with a help hint.
package nlp

import (
	"context"
	"log/slog"
	"time"

	"github.com/drugsng/whatsapp-bot/internal/domain"
)

// Resolver turns one inbound message into an IntentResult.
type Resolver interface {
	Resolve(ctx context.Context, text string) domain.IntentResult
}

// ResilientResolver composes an optional primary provider with the
// deterministic matcher. Any provider error, timeout or low-confidence
// answer falls through to the matcher.
type ResilientResolver struct {
	primary  Resolver
	fallback *Matcher
	timeout  time.Duration
}

// NewResolver builds the production resolver. primary may be nil, in which
// case the matcher serves every request directly.
func NewResolver(primary Resolver, timeout time.Duration) *ResilientResolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &ResilientResolver{
		primary:  primary,
		fallback: NewMatcher(),
		timeout:  timeout,
	}
}

// Resolve classifies text. It never returns an error and never panics out;
// the worst outcome is an unknown-intent result.
func (r *ResilientResolver) Resolve(ctx context.Context, text string) (result domain.IntentResult) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("intent resolution panicked", "panic", rec)
			result = errorResult()
		}
	}()

	if r.primary != nil {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		if res, ok := r.tryPrimary(ctx, text); ok {
			return res
		}
	}

	return r.fallback.Resolve(ctx, text)
}

func (r *ResilientResolver) tryPrimary(ctx context.Context, text string) (res domain.IntentResult, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("primary provider panicked, falling back", "panic", rec)
			ok = false
		}
	}()

	res = r.primary.Resolve(ctx, text)
	if res.Intent == "" || res.Intent == domain.IntentUnknown || res.Source == domain.SourceError {
		return res, false
	}
	return res, true
}

func errorResult() domain.IntentResult {
	return domain.IntentResult{
		Intent:          domain.IntentUnknown,
		Parameters:      map[string]string{},
		FulfillmentText: "I encountered an error processing your message. Type 'help' to see what I can do.",
		Confidence:      0,
		Source:          domain.SourceError,
	}
}
