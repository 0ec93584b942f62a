package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/fireshakti/noc-engine/internal/workflow"
)

type inspectionRow struct {
	ID              string         `db:"id"`
	ApplicationID   string         `db:"application_id"`
	InspectorID     string         `db:"inspector_id"`
	ScheduledDate   time.Time      `db:"scheduled_date"`
	StartedAt       *time.Time     `db:"started_at"`
	CompletedAt     *time.Time     `db:"completed_at"`
	Findings        pq.StringArray `db:"findings"`
	ComplianceScore sql.NullInt64  `db:"compliance_score"`
	Recommendation  sql.NullString `db:"recommendation"`
	Status          string         `db:"status"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r *inspectionRow) toEntity() *workflow.Inspection {
	inspection := &workflow.Inspection{
		ID:            r.ID,
		ApplicationID: r.ApplicationID,
		InspectorID:   r.InspectorID,
		ScheduledDate: r.ScheduledDate,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
		Findings:      []string(r.Findings),
		Status:        workflow.InspectionStatus(r.Status),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.ComplianceScore.Valid {
		score := int(r.ComplianceScore.Int64)
		inspection.ComplianceScore = &score
	}
	if r.Recommendation.Valid {
		inspection.Recommendation = workflow.Recommendation(r.Recommendation.String)
	}
	return inspection
}

func fromInspection(inspection *workflow.Inspection) *inspectionRow {
	row := &inspectionRow{
		ID:            inspection.ID,
		ApplicationID: inspection.ApplicationID,
		InspectorID:   inspection.InspectorID,
		ScheduledDate: inspection.ScheduledDate,
		StartedAt:     inspection.StartedAt,
		CompletedAt:   inspection.CompletedAt,
		Findings:      pq.StringArray(inspection.Findings),
		Status:        string(inspection.Status),
		CreatedAt:     inspection.CreatedAt,
		UpdatedAt:     inspection.UpdatedAt,
	}
	if inspection.ComplianceScore != nil {
		row.ComplianceScore = sql.NullInt64{Int64: int64(*inspection.ComplianceScore), Valid: true}
	}
	if inspection.Recommendation != "" {
		row.Recommendation = sql.NullString{String: string(inspection.Recommendation), Valid: true}
	}
	return row
}

// InspectionRepository handles inspection data operations
type InspectionRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewInspectionRepository creates a new inspection repository
func NewInspectionRepository(db *sqlx.DB, logger *slog.Logger) *InspectionRepository {
	return &InspectionRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create inserts a new inspection
func (r *InspectionRepository) Create(ctx context.Context, inspection *workflow.Inspection) error {
	query := `
		INSERT INTO inspections (
			id, application_id, inspector_id, scheduled_date, started_at,
			completed_at, findings, compliance_score, recommendation, status,
			created_at, updated_at
		) VALUES (
			:id, :application_id, :inspector_id, :scheduled_date, :started_at,
			:completed_at, :findings, :compliance_score, :recommendation, :status,
			:created_at, :updated_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, fromInspection(inspection)); err != nil {
		r.logger.Error("Failed to create inspection", "inspection_id", inspection.ID, "error", err)
		return fmt.Errorf("failed to create inspection: %w", err)
	}

	return nil
}

// Get retrieves an inspection by ID; nil when absent.
func (r *InspectionRepository) Get(ctx context.Context, id string) (*workflow.Inspection, error) {
	var row inspectionRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM inspections WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inspection: %w", err)
	}
	return row.toEntity(), nil
}

// ListByApplication retrieves all inspections for an application, newest first
func (r *InspectionRepository) ListByApplication(ctx context.Context, applicationID string) ([]*workflow.Inspection, error) {
	var rows []inspectionRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM inspections WHERE application_id = $1 ORDER BY created_at DESC`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list inspections: %w", err)
	}

	inspections := make([]*workflow.Inspection, 0, len(rows))
	for i := range rows {
		inspections = append(inspections, rows[i].toEntity())
	}
	return inspections, nil
}

// Update rewrites an inspection
func (r *InspectionRepository) Update(ctx context.Context, inspection *workflow.Inspection) error {
	query := `
		UPDATE inspections SET
			started_at = :started_at,
			completed_at = :completed_at,
			findings = :findings,
			compliance_score = :compliance_score,
			recommendation = :recommendation,
			status = :status,
			updated_at = :updated_at
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, fromInspection(inspection))
	if err != nil {
		r.logger.Error("Failed to update inspection", "inspection_id", inspection.ID, "error", err)
		return fmt.Errorf("failed to update inspection: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("inspection not found: %s", inspection.ID)
	}

	return nil
}
