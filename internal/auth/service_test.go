package auth_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fireshakti/noc-engine/internal/apperr"
	"github.com/fireshakti/noc-engine/internal/auth"
	"github.com/fireshakti/noc-engine/internal/config"
	"github.com/fireshakti/noc-engine/internal/notification"
	"github.com/fireshakti/noc-engine/internal/otp"
)

func newTestService(t *testing.T) (*auth.Service, *otp.Authenticator) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	authenticator := otp.NewAuthenticator(otp.NewMemoryStore(), logger)
	notifier := notification.NewManager(config.NotificationsConfig{
		SMS: config.SMSConfig{FallbackToConsole: true},
	}, logger, nil)

	service := auth.NewService(
		config.SecurityConfig{
			JWTSecret:     "test-secret",
			TokenValidity: time.Hour,
			TokenIssuer:   "noc-engine",
		},
		config.OTPConfig{
			Length:          6,
			Validity:        5 * time.Minute,
			MaxAttempts:     3,
			MessageTemplate: "Your Fire NOC System OTP is: %s. Valid for %d minutes. Do not share this OTP.",
		},
		authenticator,
		notifier,
		logger,
	)
	return service, authenticator
}

func TestRequestOTPDeliversToConsole(t *testing.T) {
	service, _ := newTestService(t)

	err := service.RequestOTP(context.Background(), "priya@example.com", []string{"+911234567890"})
	require.NoError(t, err)
}

func TestRequestOTPValidation(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	err := service.RequestOTP(ctx, "", []string{"+911234567890"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	err = service.RequestOTP(ctx, "priya@example.com", nil)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestVerifyOTPIssuesToken(t *testing.T) {
	service, authenticator := newTestService(t)
	ctx := context.Background()

	require.NoError(t, authenticator.Issue(ctx, "priya@example.com", "482913", 5*time.Minute, 3))

	token, err := service.VerifyOTP(ctx, "priya@example.com", "482913", auth.RoleApplicant)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := service.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "priya@example.com", claims.Subject)
	assert.Equal(t, auth.RoleApplicant, claims.Role)
	assert.Equal(t, "noc-engine", claims.Issuer)
}

func TestVerifyOTPRejectsWrongCode(t *testing.T) {
	service, authenticator := newTestService(t)
	ctx := context.Background()

	require.NoError(t, authenticator.Issue(ctx, "priya@example.com", "482913", 5*time.Minute, 3))

	_, err := service.VerifyOTP(ctx, "priya@example.com", "000000", auth.RoleApplicant)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestVerifyOTPRejectsUnknownRole(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.VerifyOTP(context.Background(), "priya@example.com", "482913", "superuser")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

type stubMetrics struct {
	issued        int
	verifications map[string]int
}

func (s *stubMetrics) RecordOTPIssued() { s.issued++ }

func (s *stubMetrics) RecordOTPVerification(result string) {
	if s.verifications == nil {
		s.verifications = map[string]int{}
	}
	s.verifications[result]++
}

func TestOTPOutcomesReachMetrics(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	recorder := &stubMetrics{}
	service.SetMetrics(recorder)

	require.NoError(t, service.RequestOTP(ctx, "priya@example.com", []string{"+911234567890"}))
	assert.Equal(t, 1, recorder.issued)

	_, err := service.VerifyOTP(ctx, "priya@example.com", "000000", auth.RoleApplicant)
	require.Error(t, err)
	assert.Equal(t, 1, recorder.verifications["invalid"])

	_, err = service.VerifyOTP(ctx, "nobody@example.com", "000000", auth.RoleApplicant)
	require.Error(t, err)
	assert.Equal(t, 1, recorder.verifications["not_found"])
}

func TestParseTokenRejectsTampering(t *testing.T) {
	service, authenticator := newTestService(t)
	ctx := context.Background()

	require.NoError(t, authenticator.Issue(ctx, "priya@example.com", "482913", 5*time.Minute, 3))
	token, err := service.VerifyOTP(ctx, "priya@example.com", "482913", auth.RoleManager)
	require.NoError(t, err)

	_, err = service.ParseToken(token + "x")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = service.ParseToken("not-a-token")
	require.Error(t, err)
}
