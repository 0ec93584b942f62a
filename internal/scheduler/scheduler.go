package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fireshakti/noc-engine/internal/certificate"
	"github.com/fireshakti/noc-engine/internal/config"
	"github.com/fireshakti/noc-engine/internal/ledger"
	"github.com/fireshakti/noc-engine/internal/notification"
	"github.com/fireshakti/noc-engine/internal/otp"
)

const (
	redeliveryMaxRetries = 3
	redeliveryBatchSize  = 50
)

// Scheduler runs the periodic maintenance tasks: OTP expiry sweeps, ledger
// audits, certificate expiry marking and notification redelivery.
type Scheduler struct {
	config        config.SchedulerConfig
	logger        *slog.Logger
	cron          *cron.Cron
	authenticator *otp.Authenticator
	chain         *ledger.Engine
	issuer        *certificate.Issuer
	notifier      *notification.Manager
}

// New creates a new scheduler. Any nil dependency disables its task.
func New(
	cfg config.SchedulerConfig,
	logger *slog.Logger,
	authenticator *otp.Authenticator,
	chain *ledger.Engine,
	issuer *certificate.Issuer,
	notifier *notification.Manager,
) *Scheduler {
	return &Scheduler{
		config:        cfg,
		logger:        logger,
		cron:          cron.New(),
		authenticator: authenticator,
		chain:         chain,
		issuer:        issuer,
		notifier:      notifier,
	}
}

// Start registers and starts the periodic tasks
func (s *Scheduler) Start() error {
	if !s.config.Enabled {
		s.logger.Info("Scheduler disabled")
		return nil
	}

	if s.authenticator != nil {
		if err := s.addTask("otp-sweep", s.config.OTPSweepInterval, s.sweepOTPs); err != nil {
			return err
		}
	}
	if s.chain != nil {
		if err := s.addTask("chain-audit", s.config.ChainAuditInterval, s.auditChain); err != nil {
			return err
		}
	}
	if s.issuer != nil {
		if err := s.addTask("certificate-expiry", s.config.ExpiryCheckInterval, s.markExpiredCertificates); err != nil {
			return err
		}
	}
	if s.notifier != nil {
		if err := s.addTask("notification-redelivery", s.config.PendingNotificationInterval, s.redeliverNotifications); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("Scheduler started", "entries", len(s.cron.Entries()))
	return nil
}

// Stop stops the scheduler and waits for running tasks to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) addTask(name string, interval time.Duration, task func()) error {
	if interval <= 0 {
		s.logger.Warn("Task disabled, non-positive interval", "task", name)
		return nil
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), task); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) sweepOTPs() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := s.authenticator.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("OTP sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("OTP sweep completed", "removed", removed)
	}
}

func (s *Scheduler) auditChain() {
	if s.chain.Validate() {
		s.logger.Debug("Ledger audit passed", "length", s.chain.Length())
		return
	}
	s.logger.Error("Ledger audit failed, chain integrity violated", "length", s.chain.Length())
}

func (s *Scheduler) markExpiredCertificates() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	marked, err := s.issuer.MarkExpired(ctx, time.Now())
	if err != nil {
		s.logger.Error("Certificate expiry check failed", "error", err)
		return
	}
	if marked > 0 {
		s.logger.Info("Certificates marked expired", "count", marked)
	}
}

func (s *Scheduler) redeliverNotifications() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	redelivered, err := s.notifier.RedeliverFailed(ctx, redeliveryMaxRetries, redeliveryBatchSize)
	if err != nil {
		s.logger.Error("Notification redelivery failed", "error", err)
		return
	}
	if redelivered > 0 {
		s.logger.Info("Notifications redelivered", "count", redelivered)
	}
}
