package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fireshakti/noc-engine/internal/apperr"
	"github.com/fireshakti/noc-engine/internal/config"
	"github.com/fireshakti/noc-engine/internal/otp"
	"github.com/fireshakti/noc-engine/internal/workflow"
)

// Roles recognized by the workflow
const (
	RoleApplicant = "applicant"
	RoleManager   = "manager"
	RoleInspector = "inspector"
	RoleAdmin     = "admin"
)

// Claims are the JWT claims issued after a successful OTP verification
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// MetricsRecorder observes OTP issuance and verification outcomes.
type MetricsRecorder interface {
	RecordOTPIssued()
	RecordOTPVerification(result string)
}

// Service handles OTP-based login: a code is generated once, fanned out to
// the user's phone and email, and exchanged for a signed token on
// verification.
type Service struct {
	securityConfig config.SecurityConfig
	otpConfig      config.OTPConfig
	authenticator  *otp.Authenticator
	notifier       workflow.Notifier
	metrics        MetricsRecorder
	logger         *slog.Logger
}

// NewService creates a new auth service
func NewService(securityConfig config.SecurityConfig, otpConfig config.OTPConfig, authenticator *otp.Authenticator, notifier workflow.Notifier, logger *slog.Logger) *Service {
	return &Service{
		securityConfig: securityConfig,
		otpConfig:      otpConfig,
		authenticator:  authenticator,
		notifier:       notifier,
		logger:         logger,
	}
}

// SetMetrics wires a metrics recorder after construction. May stay unset.
func (s *Service) SetMetrics(metrics MetricsRecorder) {
	s.metrics = metrics
}

// RequestOTP generates a single code for the subject and delivers it to every
// provided destination. The code is stored under the subject, so a code
// received by SMS verifies interchangeably with one received by email.
func (s *Service) RequestOTP(ctx context.Context, subject string, destinations []string) error {
	if subject == "" {
		return apperr.New(apperr.KindValidation, "subject is required")
	}
	if len(destinations) == 0 {
		return apperr.New(apperr.KindValidation, "at least one destination is required")
	}

	code, err := otp.Generate(s.otpConfig.Length)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "failed to generate otp", err)
	}

	if err := s.authenticator.Issue(ctx, subject, code, s.otpConfig.Validity, s.otpConfig.MaxAttempts); err != nil {
		return apperr.Wrap(apperr.KindTransient, "failed to store otp", err)
	}
	if s.metrics != nil {
		s.metrics.RecordOTPIssued()
	}

	message := fmt.Sprintf(s.otpConfig.MessageTemplate, code, int(s.otpConfig.Validity.Minutes()))

	delivered := 0
	for _, destination := range destinations {
		err := s.notifier.Send(ctx, "otp", destination, map[string]interface{}{
			"message": message,
		})
		if err != nil {
			s.logger.Warn("OTP delivery failed for destination",
				"subject", subject, "destination", destination, "error", err)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return apperr.New(apperr.KindTransient, "otp could not be delivered to any destination")
	}

	s.logger.Info("OTP issued", "subject", subject, "destinations", len(destinations), "delivered", delivered)
	return nil
}

// VerifyOTP checks the submitted code and returns a signed JWT on success
func (s *Service) VerifyOTP(ctx context.Context, subject, code, role string) (string, error) {
	if !validRole(role) {
		return "", apperr.Newf(apperr.KindValidation, "unknown role: %s", role)
	}

	result, err := s.authenticator.Verify(ctx, subject, code)
	if err != nil {
		s.recordVerification("error")
		return "", apperr.Wrap(apperr.KindTransient, "otp verification failed", err)
	}
	s.recordVerification(string(result.Reason))
	if !result.OK {
		return "", apperr.Newf(apperr.KindValidation, "otp rejected: %s", result.Reason)
	}

	token, err := s.issueToken(subject, role)
	if err != nil {
		return "", apperr.Wrap(apperr.KindTransient, "failed to sign token", err)
	}

	s.logger.Info("OTP verified, token issued", "subject", subject, "role", role)
	return token, nil
}

// ParseToken validates a JWT and returns its claims
func (s *Service) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.securityConfig.JWTSecret), nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid token", err)
	}
	if !token.Valid {
		return nil, apperr.New(apperr.KindValidation, "invalid token")
	}
	return claims, nil
}

func (s *Service) issueToken(subject, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.securityConfig.TokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.securityConfig.TokenValidity)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.securityConfig.JWTSecret))
}

func (s *Service) recordVerification(result string) {
	if s.metrics != nil {
		s.metrics.RecordOTPVerification(result)
	}
}

func validRole(role string) bool {
	switch role {
	case RoleApplicant, RoleManager, RoleInspector, RoleAdmin:
		return true
	}
	return false
}
