// Package otp issues and verifies short-lived numeric codes, decoupled from
// the delivery transport.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"
)

// Reason classifies a verification outcome.
type Reason string

const (
	ReasonOK                Reason = "ok"
	ReasonNotFound          Reason = "not_found"
	ReasonExpired           Reason = "expired"
	ReasonAttemptsExhausted Reason = "attempts_exhausted"
	ReasonInvalid           Reason = "invalid"
)

// Result is the outcome of a verification attempt.
type Result struct {
	OK                bool
	Reason            Reason
	AttemptsRemaining int
}

// Authenticator issues and verifies one-time passwords. Verification is
// serialized so two concurrent attempts on the same destination cannot both
// consume the same code.
type Authenticator struct {
	store  Store
	logger *slog.Logger
	mu     sync.Mutex
}

// NewAuthenticator creates an authenticator on top of the given store.
func NewAuthenticator(store Store, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		store:  store,
		logger: logger,
	}
}

// Generate returns a uniformly random numeric code of the given length.
func Generate(length int) (string, error) {
	if length <= 0 {
		length = 6
	}

	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate otp digit: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}

	return string(digits), nil
}

// Issue stores a live challenge for destination, replacing any prior
// unconsumed code for that destination.
func (a *Authenticator) Issue(ctx context.Context, destination, code string, validity time.Duration, maxAttempts int) error {
	record := &Record{
		Destination: destination,
		Code:        code,
		ExpiresAt:   time.Now().Add(validity),
		Attempts:    0,
		MaxAttempts: maxAttempts,
	}

	if err := a.store.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to issue otp: %w", err)
	}

	a.logger.Debug("OTP issued", "destination", destination, "expires_at", record.ExpiresAt)
	return nil
}

// Verify checks the submitted code against the live challenge for destination.
// The record is consumed on success, expiry, or attempt exhaustion.
func (a *Authenticator) Verify(ctx context.Context, destination, submitted string) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, err := a.store.Get(ctx, destination)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load otp record: %w", err)
	}
	if record == nil {
		return Result{Reason: ReasonNotFound}, nil
	}

	if time.Now().After(record.ExpiresAt) {
		if err := a.store.Delete(ctx, destination); err != nil {
			a.logger.Warn("Failed to delete expired otp record", "destination", destination, "error", err)
		}
		return Result{Reason: ReasonExpired}, nil
	}

	if record.Attempts >= record.MaxAttempts {
		if err := a.store.Delete(ctx, destination); err != nil {
			a.logger.Warn("Failed to delete exhausted otp record", "destination", destination, "error", err)
		}
		return Result{Reason: ReasonAttemptsExhausted}, nil
	}

	if record.Code != submitted {
		attempts, err := a.store.IncrementAttempts(ctx, destination)
		if err != nil {
			return Result{}, fmt.Errorf("failed to record otp attempt: %w", err)
		}

		remaining := record.MaxAttempts - attempts
		if remaining <= 0 {
			if err := a.store.Delete(ctx, destination); err != nil {
				a.logger.Warn("Failed to delete exhausted otp record", "destination", destination, "error", err)
			}
			return Result{Reason: ReasonAttemptsExhausted}, nil
		}

		a.logger.Debug("OTP mismatch", "destination", destination, "attempts_remaining", remaining)
		return Result{Reason: ReasonInvalid, AttemptsRemaining: remaining}, nil
	}

	if err := a.store.Delete(ctx, destination); err != nil {
		return Result{}, fmt.Errorf("failed to consume otp record: %w", err)
	}

	a.logger.Info("OTP verified", "destination", destination)
	return Result{OK: true, Reason: ReasonOK}, nil
}

// SweepExpired evicts expired records from the store. Exposed for the
// scheduler; verification does not depend on it.
func (a *Authenticator) SweepExpired(ctx context.Context) (int, error) {
	return a.store.DeleteExpired(ctx)
}
