// Package certificate issues NOC certificates for approved applications and
// verifies them against the anchoring ledger.
package certificate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/fireshakti/noc-engine/internal/apperr"
	"github.com/fireshakti/noc-engine/internal/config"
	"github.com/fireshakti/noc-engine/internal/ledger"
	"github.com/fireshakti/noc-engine/internal/workflow"
)

// AnchorRecord is the certificate metadata written into a ledger block.
type AnchorRecord struct {
	CertificateHash   string `json:"certificate_hash"`
	CertificateNumber string `json:"certificate_number"`
	ApplicationID     string `json:"application_id"`
	BusinessName      string `json:"business_name"`
	IssueDate         string `json:"issue_date"`
}

// anchorEnvelope is the full ledger block payload for an issuance event.
type anchorEnvelope struct {
	TransactionID   string       `json:"transaction_id"`
	CertificateData AnchorRecord `json:"certificate_data"`
	Timestamp       string       `json:"timestamp"`
}

// VerificationResult reports whether a certificate hash is anchored in the
// ledger. Anyone holding the hash can check membership; no certificate record
// is required.
type VerificationResult struct {
	Verified      bool          `json:"verified"`
	BlockIndex    int           `json:"block_index,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Timestamp     string        `json:"timestamp,omitempty"`
	Record        *AnchorRecord `json:"certificate_data,omitempty"`
}

// MetricsRecorder observes issuance and verification outcomes.
type MetricsRecorder interface {
	RecordCertificateIssued()
	RecordCertificateVerification(result string)
}

// Issuer creates certificates on approval and anchors them in the ledger.
type Issuer struct {
	config       config.CertificatesConfig
	applications workflow.ApplicationStore
	certificates workflow.CertificateStore
	chain        *ledger.Engine
	notifier     workflow.Notifier
	events       workflow.EventPublisher
	metrics      MetricsRecorder
	verifyCache  *gocache.Cache
	logger       *slog.Logger
}

// NewIssuer creates a certificate issuer. notifier and events may be nil.
func NewIssuer(
	cfg config.CertificatesConfig,
	applications workflow.ApplicationStore,
	certificates workflow.CertificateStore,
	chain *ledger.Engine,
	notifier workflow.Notifier,
	events workflow.EventPublisher,
	logger *slog.Logger,
) *Issuer {
	ttl := cfg.VerifyCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Issuer{
		config:       cfg,
		applications: applications,
		certificates: certificates,
		chain:        chain,
		notifier:     notifier,
		events:       events,
		verifyCache:  gocache.New(ttl, 2*ttl),
		logger:       logger,
	}
}

// SetMetrics wires a metrics recorder after construction. May stay unset.
func (i *Issuer) SetMetrics(metrics MetricsRecorder) {
	i.metrics = metrics
}

// Issue creates the certificate for an approved application. Issuance is
// idempotent: an existing certificate is returned as-is unless forceNew is
// set, in which case the call fails with a conflict. The ledger append and
// the certificate write form a single logical unit; if anchoring fails no
// certificate record is created.
func (i *Issuer) Issue(ctx context.Context, applicationID, issuedBy string, forceNew bool) (*workflow.Certificate, error) {
	app, err := i.applications.Get(ctx, applicationID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to load application", err)
	}
	if app == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "application %s not found", applicationID)
	}

	existing, err := i.certificates.GetByApplication(ctx, applicationID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to look up existing certificate", err)
	}
	if existing != nil {
		if forceNew {
			return nil, apperr.Newf(apperr.KindConflict, "certificate %s already issued for application %s", existing.Number, applicationID)
		}
		return existing, nil
	}

	if app.Status != workflow.StatusApproved {
		return nil, apperr.Newf(apperr.KindConflict, "application %s is %s, issuance requires %s",
			applicationID, app.Status, workflow.StatusApproved)
	}

	now := time.Now()
	issueDate := now.Format("2006-01-02")
	number := generateNumber(now)
	contentHash := generateContentHash(applicationID, app.Business.Name, issueDate)

	transactionID := uuid.NewString()
	envelope := anchorEnvelope{
		TransactionID: transactionID,
		CertificateData: AnchorRecord{
			CertificateHash:   contentHash,
			CertificateNumber: number,
			ApplicationID:     applicationID,
			BusinessName:      app.Business.Name,
			IssueDate:         issueDate,
		},
		Timestamp: now.UTC().Format(time.RFC3339),
	}

	block, err := i.chain.Append(envelope)
	if err != nil && !errors.Is(err, ledger.ErrPersistFailed) {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to anchor certificate in ledger", err)
	}
	if errors.Is(err, ledger.ErrPersistFailed) {
		i.logger.Warn("Ledger persistence degraded during issuance; block held in memory",
			"application_id", applicationID,
			"block_index", block.Index)
	}

	validityDays := i.config.ValidityDays
	if validityDays <= 0 {
		validityDays = 365
	}

	certificate := &workflow.Certificate{
		ID:            uuid.NewString(),
		Number:        number,
		ApplicationID: applicationID,
		Business:      app.Business,
		IssueDate:     now,
		ValidUntil:    now.AddDate(0, 0, validityDays),
		IssuedBy:      i.issuingAuthority(issuedBy),
		ContentHash:   contentHash,
		LedgerTxID:    transactionID,
		Status:        workflow.CertificateActive,
		CreatedAt:     now,
	}

	if err := i.certificates.Create(ctx, certificate); err != nil {
		// The anchoring block exists but no certificate references it; the
		// whole issuance is retried as a unit, producing a fresh anchor.
		return nil, apperr.Wrap(apperr.KindTransient, "failed to store certificate", err)
	}

	updated, err := i.applications.TransitionStatus(ctx, applicationID, workflow.StatusApproved, workflow.StatusCertificateIssued)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to finalize application state", err)
	}
	if !updated {
		return nil, apperr.Newf(apperr.KindConflict, "application %s left %s during issuance", applicationID, workflow.StatusApproved)
	}

	app.Status = workflow.StatusCertificateIssued
	app.CertificateID = &certificate.ID
	app.UpdatedAt = now
	if err := i.applications.Update(ctx, app); err != nil {
		i.logger.Warn("Failed to link certificate to application", "application_id", applicationID, "error", err)
	}

	if i.metrics != nil {
		i.metrics.RecordCertificateIssued()
	}
	i.logger.Info("Certificate issued",
		"application_id", applicationID,
		"certificate_number", number,
		"content_hash", contentHash,
		"block_index", block.Index,
		"valid_until", certificate.ValidUntil)

	if i.notifier != nil {
		if err := i.notifier.Send(ctx, "certificate_issued", app.Owner, map[string]interface{}{
			"application_id":     applicationID,
			"certificate_number": number,
			"content_hash":       contentHash,
			"valid_until":        certificate.ValidUntil,
		}); err != nil {
			i.logger.Warn("Certificate notification failed", "application_id", applicationID, "error", err)
		}
	}
	if i.events != nil {
		if err := i.events.Publish(ctx, "certificate_issued", applicationID, certificate); err != nil {
			i.logger.Warn("Certificate event publish failed", "application_id", applicationID, "error", err)
		}
	}

	return certificate, nil
}

// Verify checks whether a certificate content hash is anchored in the ledger.
func (i *Issuer) Verify(ctx context.Context, certificateHash string) (*VerificationResult, error) {
	if certificateHash == "" {
		return nil, apperr.New(apperr.KindValidation, "certificate hash is required")
	}

	if cached, ok := i.verifyCache.Get(certificateHash); ok {
		result := cached.(*VerificationResult)
		i.recordVerification(result.Verified)
		return result, nil
	}

	var matched anchorEnvelope
	block := i.chain.Find(func(b *ledger.Block) bool {
		var envelope anchorEnvelope
		if err := json.Unmarshal(b.Data, &envelope); err != nil {
			return false
		}
		if envelope.CertificateData.CertificateHash == certificateHash {
			matched = envelope
			return true
		}
		return false
	})

	result := &VerificationResult{}
	if block != nil {
		record := matched.CertificateData
		result.Verified = true
		result.BlockIndex = block.Index
		result.TransactionID = matched.TransactionID
		result.Timestamp = block.Timestamp
		result.Record = &record
	}

	i.verifyCache.Set(certificateHash, result, gocache.DefaultExpiration)
	i.recordVerification(result.Verified)
	return result, nil
}

func (i *Issuer) recordVerification(verified bool) {
	if i.metrics == nil {
		return
	}
	result := "not_found"
	if verified {
		result = "verified"
	}
	i.metrics.RecordCertificateVerification(result)
}

// Revoke flips the certificate status flag. The record itself is never
// deleted and the ledger anchor remains.
func (i *Issuer) Revoke(ctx context.Context, certificateNumber, revokedBy, reason string) (*workflow.Certificate, error) {
	certificate, err := i.certificates.GetByNumber(ctx, certificateNumber)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to load certificate", err)
	}
	if certificate == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "certificate %s not found", certificateNumber)
	}
	if certificate.Status == workflow.CertificateRevoked {
		return nil, apperr.Newf(apperr.KindConflict, "certificate %s is already revoked", certificateNumber)
	}

	certificate.Status = workflow.CertificateRevoked
	certificate.RevokedBy = &revokedBy
	certificate.RevokedReason = &reason
	if err := i.certificates.Update(ctx, certificate); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to revoke certificate", err)
	}

	i.logger.Info("Certificate revoked",
		"certificate_number", certificateNumber,
		"revoked_by", revokedBy,
		"reason", reason)
	return certificate, nil
}

// MarkExpired flips the status flag on active certificates past their
// validity. Called by the scheduler.
func (i *Issuer) MarkExpired(ctx context.Context, asOf time.Time) (int, error) {
	expired, err := i.certificates.ListExpiredActive(ctx, asOf)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired certificates: %w", err)
	}

	marked := 0
	for _, certificate := range expired {
		certificate.Status = workflow.CertificateExpired
		if err := i.certificates.Update(ctx, certificate); err != nil {
			i.logger.Error("Failed to mark certificate expired",
				"certificate_number", certificate.Number,
				"error", err)
			continue
		}
		marked++
	}

	return marked, nil
}

func (i *Issuer) issuingAuthority(issuedBy string) string {
	if issuedBy != "" {
		return issuedBy
	}
	if i.config.IssuingAuthority != "" {
		return i.config.IssuingAuthority
	}
	return "Fire Safety Department"
}

// generateNumber builds a human-readable certificate number:
// NOC-<YYYYMMDD>-<6 uppercase chars from a fresh unique id>.
func generateNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("NOC-%s-%s", now.Format("20060102"), suffix[len(suffix)-6:])
}

// generateContentHash digests the issuance facts plus a fresh random salt so
// every issuance yields a distinct anchor.
func generateContentHash(applicationID, businessName, issueDate string) string {
	salt := uuid.NewString()
	digest := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%s", applicationID, businessName, issueDate, salt)))
	return hex.EncodeToString(digest[:])
}
