// Package otp issues and verifies single-use emailed verification codes.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/drugsng/whatsapp-bot/internal/domain"
	"github.com/drugsng/whatsapp-bot/internal/store"
)

// Codes are four digits and live for ten minutes.
const (
	codeDigits = 4
	codeTTL    = 10 * time.Minute
)

// VerifyOutcome is the result of checking a submitted code.
type VerifyOutcome int

const (
	// VerifyOK: code matched and was consumed.
	VerifyOK VerifyOutcome = iota
	// VerifyMismatch: wrong code; the stored code stays usable.
	VerifyMismatch
	// VerifyExpired: the code is past its expiry and cannot be used.
	VerifyExpired
	// VerifyNone: no code is pending for that email and purpose.
	VerifyNone
)

// Service issues and verifies codes against the repository.
type Service struct {
	repo store.Repository
	now  func() time.Time
}

// NewService builds the OTP service.
func NewService(repo store.Repository) *Service {
	return NewServiceWithClock(repo, time.Now)
}

// NewServiceWithClock builds an OTP service reading time from now, so expiry
// behavior can be driven from a controlled clock.
func NewServiceWithClock(repo store.Repository, now func() time.Time) *Service {
	return &Service{repo: repo, now: now}
}

// Issue generates, stores and returns a fresh code for the email.
func (s *Service) Issue(ctx context.Context, email string, purpose domain.OTPPurpose) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}

	record := &domain.OTP{
		Email:     email,
		Code:      code,
		Purpose:   purpose,
		ExpiresAt: s.now().Add(codeTTL),
	}
	if err := s.repo.InsertOTP(ctx, record); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}
	return code, nil
}

// Verify checks a submitted code against the latest pending one. A matching
// code is consumed; a mismatch leaves it usable for another attempt.
func (s *Service) Verify(ctx context.Context, email, code string, purpose domain.OTPPurpose) (VerifyOutcome, error) {
	record, err := s.repo.LatestOTP(ctx, email, purpose)
	if err != nil {
		return VerifyNone, fmt.Errorf("load otp: %w", err)
	}
	if record == nil {
		return VerifyNone, nil
	}
	if record.Expired(s.now()) {
		return VerifyExpired, nil
	}
	if record.Code != code {
		return VerifyMismatch, nil
	}
	if err := s.repo.MarkOTPUsed(ctx, record.ID); err != nil {
		return VerifyNone, fmt.Errorf("consume otp: %w", err)
	}
	return VerifyOK, nil
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
