package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fireshakti/noc-engine/internal/workflow"
)

// applicationRow is the flat SQL shape of a workflow.Application. Nested
// documents and safety declarations live in JSONB columns.
type applicationRow struct {
	ID                  string          `db:"id"`
	Owner               string          `db:"owner"`
	BusinessName        string          `db:"business_name"`
	BusinessType        string          `db:"business_type"`
	BusinessAddress     string          `db:"business_address"`
	ContactName         string          `db:"contact_name"`
	ContactPhone        string          `db:"contact_phone"`
	ContactEmail        string          `db:"contact_email"`
	Documents           []byte          `db:"documents"`
	Safety              []byte          `db:"safety"`
	Status              string          `db:"status"`
	RejectionReason     sql.NullString  `db:"rejection_reason"`
	CurrentInspectionID sql.NullString  `db:"current_inspection_id"`
	CertificateID       sql.NullString  `db:"certificate_id"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

func (r *applicationRow) toEntity() (*workflow.Application, error) {
	app := &workflow.Application{
		ID:    r.ID,
		Owner: r.Owner,
		Business: workflow.BusinessProfile{
			Name:         r.BusinessName,
			Type:         r.BusinessType,
			Address:      r.BusinessAddress,
			ContactName:  r.ContactName,
			ContactPhone: r.ContactPhone,
			ContactEmail: r.ContactEmail,
		},
		Status:    workflow.ApplicationStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if len(r.Documents) > 0 {
		if err := json.Unmarshal(r.Documents, &app.Documents); err != nil {
			return nil, fmt.Errorf("failed to decode documents for application %s: %w", r.ID, err)
		}
	}
	if len(r.Safety) > 0 {
		if err := json.Unmarshal(r.Safety, &app.Safety); err != nil {
			return nil, fmt.Errorf("failed to decode safety declarations for application %s: %w", r.ID, err)
		}
	}
	if r.RejectionReason.Valid {
		app.RejectionReason = &r.RejectionReason.String
	}
	if r.CurrentInspectionID.Valid {
		app.CurrentInspectionID = &r.CurrentInspectionID.String
	}
	if r.CertificateID.Valid {
		app.CertificateID = &r.CertificateID.String
	}

	return app, nil
}

func fromApplication(app *workflow.Application) (*applicationRow, error) {
	documents, err := json.Marshal(app.Documents)
	if err != nil {
		return nil, fmt.Errorf("failed to encode documents: %w", err)
	}
	safety, err := json.Marshal(app.Safety)
	if err != nil {
		return nil, fmt.Errorf("failed to encode safety declarations: %w", err)
	}

	row := &applicationRow{
		ID:              app.ID,
		Owner:           app.Owner,
		BusinessName:    app.Business.Name,
		BusinessType:    app.Business.Type,
		BusinessAddress: app.Business.Address,
		ContactName:     app.Business.ContactName,
		ContactPhone:    app.Business.ContactPhone,
		ContactEmail:    app.Business.ContactEmail,
		Documents:       documents,
		Safety:          safety,
		Status:          string(app.Status),
		CreatedAt:       app.CreatedAt,
		UpdatedAt:       app.UpdatedAt,
	}
	if app.RejectionReason != nil {
		row.RejectionReason = sql.NullString{String: *app.RejectionReason, Valid: true}
	}
	if app.CurrentInspectionID != nil {
		row.CurrentInspectionID = sql.NullString{String: *app.CurrentInspectionID, Valid: true}
	}
	if app.CertificateID != nil {
		row.CertificateID = sql.NullString{String: *app.CertificateID, Valid: true}
	}

	return row, nil
}

// ApplicationRepository handles application data operations
type ApplicationRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewApplicationRepository creates a new application repository
func NewApplicationRepository(db *sqlx.DB, logger *slog.Logger) *ApplicationRepository {
	return &ApplicationRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create inserts a new application
func (r *ApplicationRepository) Create(ctx context.Context, app *workflow.Application) error {
	row, err := fromApplication(app)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO applications (
			id, owner, business_name, business_type, business_address,
			contact_name, contact_phone, contact_email, documents, safety,
			status, rejection_reason, current_inspection_id, certificate_id,
			created_at, updated_at
		) VALUES (
			:id, :owner, :business_name, :business_type, :business_address,
			:contact_name, :contact_phone, :contact_email, :documents, :safety,
			:status, :rejection_reason, :current_inspection_id, :certificate_id,
			:created_at, :updated_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		r.logger.Error("Failed to create application", "application_id", app.ID, "error", err)
		return fmt.Errorf("failed to create application: %w", err)
	}

	return nil
}

// Get retrieves an application by ID; nil when absent.
func (r *ApplicationRepository) Get(ctx context.Context, id string) (*workflow.Application, error) {
	var row applicationRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM applications WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get application", "application_id", id, "error", err)
		return nil, fmt.Errorf("failed to get application: %w", err)
	}

	return row.toEntity()
}

// ListByOwner retrieves all applications for an owner
func (r *ApplicationRepository) ListByOwner(ctx context.Context, owner string) ([]*workflow.Application, error) {
	var rows []applicationRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM applications WHERE owner = $1 ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications by owner: %w", err)
	}
	return rowsToApplications(rows)
}

// ListByStatus retrieves all applications in a given state
func (r *ApplicationRepository) ListByStatus(ctx context.Context, status workflow.ApplicationStatus) ([]*workflow.Application, error) {
	var rows []applicationRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM applications WHERE status = $1 ORDER BY created_at DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list applications by status: %w", err)
	}
	return rowsToApplications(rows)
}

// Update rewrites the application's mutable fields. The status column is
// deliberately excluded; state changes go through TransitionStatus.
func (r *ApplicationRepository) Update(ctx context.Context, app *workflow.Application) error {
	row, err := fromApplication(app)
	if err != nil {
		return err
	}

	query := `
		UPDATE applications SET
			documents = :documents,
			safety = :safety,
			rejection_reason = :rejection_reason,
			current_inspection_id = :current_inspection_id,
			certificate_id = :certificate_id,
			updated_at = :updated_at
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		r.logger.Error("Failed to update application", "application_id", app.ID, "error", err)
		return fmt.Errorf("failed to update application: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("application not found: %s", app.ID)
	}

	return nil
}

// TransitionStatus performs the conditional state update that serializes
// concurrent transitions: the row only changes when the stored status still
// matches from.
func (r *ApplicationRepository) TransitionStatus(ctx context.Context, id string, from, to workflow.ApplicationStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE applications SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), time.Now(), id, string(from))
	if err != nil {
		r.logger.Error("Failed to transition application status",
			"application_id", id, "from", from, "to", to, "error", err)
		return false, fmt.Errorf("failed to transition application status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected == 1, nil
}

func rowsToApplications(rows []applicationRow) ([]*workflow.Application, error) {
	apps := make([]*workflow.Application, 0, len(rows))
	for i := range rows {
		app, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, nil
}
