package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fireshakti/noc-engine/internal/workflow"
)

type certificateRow struct {
	ID              string         `db:"id"`
	Number          string         `db:"number"`
	ApplicationID   string         `db:"application_id"`
	BusinessName    string         `db:"business_name"`
	BusinessType    string         `db:"business_type"`
	BusinessAddress string         `db:"business_address"`
	ContactName     string         `db:"contact_name"`
	ContactPhone    string         `db:"contact_phone"`
	ContactEmail    string         `db:"contact_email"`
	IssueDate       time.Time      `db:"issue_date"`
	ValidUntil      time.Time      `db:"valid_until"`
	IssuedBy        string         `db:"issued_by"`
	ContentHash     string         `db:"content_hash"`
	LedgerTxID      string         `db:"ledger_tx_id"`
	Status          string         `db:"status"`
	RevokedBy       sql.NullString `db:"revoked_by"`
	RevokedReason   sql.NullString `db:"revoked_reason"`
	CreatedAt       time.Time      `db:"created_at"`
}

func (r *certificateRow) toEntity() *workflow.Certificate {
	certificate := &workflow.Certificate{
		ID:            r.ID,
		Number:        r.Number,
		ApplicationID: r.ApplicationID,
		Business: workflow.BusinessProfile{
			Name:         r.BusinessName,
			Type:         r.BusinessType,
			Address:      r.BusinessAddress,
			ContactName:  r.ContactName,
			ContactPhone: r.ContactPhone,
			ContactEmail: r.ContactEmail,
		},
		IssueDate:   r.IssueDate,
		ValidUntil:  r.ValidUntil,
		IssuedBy:    r.IssuedBy,
		ContentHash: r.ContentHash,
		LedgerTxID:  r.LedgerTxID,
		Status:      workflow.CertificateStatus(r.Status),
		CreatedAt:   r.CreatedAt,
	}
	if r.RevokedBy.Valid {
		certificate.RevokedBy = &r.RevokedBy.String
	}
	if r.RevokedReason.Valid {
		certificate.RevokedReason = &r.RevokedReason.String
	}
	return certificate
}

func fromCertificate(certificate *workflow.Certificate) *certificateRow {
	row := &certificateRow{
		ID:              certificate.ID,
		Number:          certificate.Number,
		ApplicationID:   certificate.ApplicationID,
		BusinessName:    certificate.Business.Name,
		BusinessType:    certificate.Business.Type,
		BusinessAddress: certificate.Business.Address,
		ContactName:     certificate.Business.ContactName,
		ContactPhone:    certificate.Business.ContactPhone,
		ContactEmail:    certificate.Business.ContactEmail,
		IssueDate:       certificate.IssueDate,
		ValidUntil:      certificate.ValidUntil,
		IssuedBy:        certificate.IssuedBy,
		ContentHash:     certificate.ContentHash,
		LedgerTxID:      certificate.LedgerTxID,
		Status:          string(certificate.Status),
		CreatedAt:       certificate.CreatedAt,
	}
	if certificate.RevokedBy != nil {
		row.RevokedBy = sql.NullString{String: *certificate.RevokedBy, Valid: true}
	}
	if certificate.RevokedReason != nil {
		row.RevokedReason = sql.NullString{String: *certificate.RevokedReason, Valid: true}
	}
	return row
}

// CertificateRepository handles certificate data operations
type CertificateRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewCertificateRepository creates a new certificate repository
func NewCertificateRepository(db *sqlx.DB, logger *slog.Logger) *CertificateRepository {
	return &CertificateRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create inserts a new certificate. The unique constraint on application_id
// backs the one-certificate-per-application invariant.
func (r *CertificateRepository) Create(ctx context.Context, certificate *workflow.Certificate) error {
	query := `
		INSERT INTO certificates (
			id, number, application_id, business_name, business_type,
			business_address, contact_name, contact_phone, contact_email,
			issue_date, valid_until, issued_by, content_hash, ledger_tx_id,
			status, revoked_by, revoked_reason, created_at
		) VALUES (
			:id, :number, :application_id, :business_name, :business_type,
			:business_address, :contact_name, :contact_phone, :contact_email,
			:issue_date, :valid_until, :issued_by, :content_hash, :ledger_tx_id,
			:status, :revoked_by, :revoked_reason, :created_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, fromCertificate(certificate)); err != nil {
		r.logger.Error("Failed to create certificate",
			"certificate_number", certificate.Number,
			"application_id", certificate.ApplicationID,
			"error", err)
		return fmt.Errorf("failed to create certificate: %w", err)
	}

	return nil
}

// GetByApplication retrieves the certificate for an application; nil when absent.
func (r *CertificateRepository) GetByApplication(ctx context.Context, applicationID string) (*workflow.Certificate, error) {
	var row certificateRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM certificates WHERE application_id = $1`, applicationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get certificate by application: %w", err)
	}
	return row.toEntity(), nil
}

// GetByNumber retrieves a certificate by its public number; nil when absent.
func (r *CertificateRepository) GetByNumber(ctx context.Context, number string) (*workflow.Certificate, error) {
	var row certificateRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM certificates WHERE number = $1`, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get certificate by number: %w", err)
	}
	return row.toEntity(), nil
}

// Update rewrites the certificate status fields. Issuance fields are
// immutable and excluded on purpose.
func (r *CertificateRepository) Update(ctx context.Context, certificate *workflow.Certificate) error {
	query := `
		UPDATE certificates SET
			status = :status,
			revoked_by = :revoked_by,
			revoked_reason = :revoked_reason
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, fromCertificate(certificate))
	if err != nil {
		return fmt.Errorf("failed to update certificate: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("certificate not found: %s", certificate.ID)
	}

	return nil
}

// ListExpiredActive retrieves active certificates whose validity has lapsed
func (r *CertificateRepository) ListExpiredActive(ctx context.Context, asOf time.Time) ([]*workflow.Certificate, error) {
	var rows []certificateRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM certificates WHERE status = $1 AND valid_until < $2`,
		string(workflow.CertificateActive), asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired certificates: %w", err)
	}

	certificates := make([]*workflow.Certificate, 0, len(rows))
	for i := range rows {
		certificates = append(certificates, rows[i].toEntity())
	}
	return certificates, nil
}
