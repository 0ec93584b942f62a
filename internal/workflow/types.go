// Package workflow owns the application, inspection, and certificate entity
// graph and the lifecycle state machine that governs it.
package workflow

import (
	"context"
	"time"
)

// ApplicationStatus is the lifecycle state of a NOC application.
type ApplicationStatus string

const (
	StatusSubmitted            ApplicationStatus = "submitted"
	StatusUnderReview          ApplicationStatus = "under_review"
	StatusInspectorAssigned    ApplicationStatus = "inspector_assigned"
	StatusInspectionInProgress ApplicationStatus = "inspection_in_progress"
	StatusInspectionCompleted  ApplicationStatus = "inspection_completed"
	StatusApproved             ApplicationStatus = "approved"
	StatusRejected             ApplicationStatus = "rejected"
	StatusCertificateIssued    ApplicationStatus = "certificate_issued"
)

// InspectionStatus is the lifecycle state of a site inspection.
type InspectionStatus string

const (
	InspectionScheduled  InspectionStatus = "scheduled"
	InspectionStarted    InspectionStatus = "started"
	InspectionCompleted  InspectionStatus = "completed"
	InspectionSuperseded InspectionStatus = "superseded"
)

// Recommendation is the inspector's verdict on a completed inspection.
type Recommendation string

const (
	RecommendApproved    Recommendation = "approved"
	RecommendRejected    Recommendation = "rejected"
	RecommendNeedsReview Recommendation = "needs_review"
)

// CertificateStatus flags the standing of an issued certificate.
type CertificateStatus string

const (
	CertificateActive  CertificateStatus = "issued"
	CertificateRevoked CertificateStatus = "revoked"
	CertificateExpired CertificateStatus = "expired"
)

// BusinessProfile describes the business applying for a NOC. A copy is
// snapshotted onto the certificate at issuance time.
type BusinessProfile struct {
	Name         string `json:"name" db:"business_name" validate:"required"`
	Type         string `json:"type" db:"business_type" validate:"required"`
	Address      string `json:"address" db:"business_address" validate:"required"`
	ContactName  string `json:"contact_name" db:"contact_name" validate:"required"`
	ContactPhone string `json:"contact_phone" db:"contact_phone" validate:"required"`
	ContactEmail string `json:"contact_email" db:"contact_email" validate:"omitempty,email"`
}

// Document is an uploaded supporting file reference.
type Document struct {
	Type        string `json:"type"`
	StoragePath string `json:"storage_path"`
	Verified    bool   `json:"verified"`
}

// SafetyDeclarations are the applicant's self-declared safety features.
type SafetyDeclarations struct {
	ExtinguisherCount int  `json:"extinguisher_count" validate:"min=0"`
	EmergencyExits    int  `json:"emergency_exits" validate:"min=0"`
	FireAlarm         bool `json:"fire_alarm"`
	SprinklerSystem   bool `json:"sprinkler_system"`
	SmokeDetectors    bool `json:"smoke_detectors"`
	EvacuationPlan    bool `json:"evacuation_plan"`
}

// Application is a citizen's NOC request. Never hard-deleted; rejected
// applications remain for audit.
type Application struct {
	ID                  string             `json:"id"`
	Owner               string             `json:"owner"`
	Business            BusinessProfile    `json:"business"`
	Documents           []Document         `json:"documents"`
	Safety              SafetyDeclarations `json:"safety"`
	Status              ApplicationStatus  `json:"status"`
	RejectionReason     *string            `json:"rejection_reason,omitempty"`
	CurrentInspectionID *string            `json:"current_inspection_id,omitempty"`
	CertificateID       *string            `json:"certificate_id,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// Inspection is one inspector's site visit record, exclusively owned by its
// application. Prior inspections are retained as history on reassignment and
// resubmission.
type Inspection struct {
	ID              string           `json:"id"`
	ApplicationID   string           `json:"application_id"`
	InspectorID     string           `json:"inspector_id"`
	ScheduledDate   time.Time        `json:"scheduled_date"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	Findings        []string         `json:"findings"`
	ComplianceScore *int             `json:"compliance_score,omitempty"`
	Recommendation  Recommendation   `json:"recommendation,omitempty"`
	Status          InspectionStatus `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Certificate is the issued credential. Fields are immutable after issuance;
// revocation is a status flag, never a deletion.
type Certificate struct {
	ID            string            `json:"id"`
	Number        string            `json:"number"`
	ApplicationID string            `json:"application_id"`
	Business      BusinessProfile   `json:"business"`
	IssueDate     time.Time         `json:"issue_date"`
	ValidUntil    time.Time         `json:"valid_until"`
	IssuedBy      string            `json:"issued_by"`
	ContentHash   string            `json:"content_hash"`
	LedgerTxID    string            `json:"ledger_tx_id"`
	Status        CertificateStatus `json:"status"`
	RevokedBy     *string           `json:"revoked_by,omitempty"`
	RevokedReason *string           `json:"revoked_reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// ApplicationStore persists applications. TransitionStatus is the
// compare-and-swap primitive that serializes concurrent transitions on the
// same application.
type ApplicationStore interface {
	Create(ctx context.Context, app *Application) error
	Get(ctx context.Context, id string) (*Application, error)
	ListByOwner(ctx context.Context, owner string) ([]*Application, error)
	ListByStatus(ctx context.Context, status ApplicationStatus) ([]*Application, error)
	Update(ctx context.Context, app *Application) error
	// TransitionStatus atomically moves the application from the expected
	// source status to the target. Returns false without error when the
	// stored status no longer matches from.
	TransitionStatus(ctx context.Context, id string, from, to ApplicationStatus) (bool, error)
}

// InspectionStore persists inspections.
type InspectionStore interface {
	Create(ctx context.Context, inspection *Inspection) error
	Get(ctx context.Context, id string) (*Inspection, error)
	ListByApplication(ctx context.Context, applicationID string) ([]*Inspection, error)
	Update(ctx context.Context, inspection *Inspection) error
}

// CertificateStore persists certificates.
type CertificateStore interface {
	Create(ctx context.Context, certificate *Certificate) error
	GetByApplication(ctx context.Context, applicationID string) (*Certificate, error)
	GetByNumber(ctx context.Context, number string) (*Certificate, error)
	Update(ctx context.Context, certificate *Certificate) error
	ListExpiredActive(ctx context.Context, asOf time.Time) ([]*Certificate, error)
}

// Notifier delivers a notification to one recipient. Delivery is best-effort:
// failures never roll back the transition that triggered them.
type Notifier interface {
	Send(ctx context.Context, eventType, recipient string, data map[string]interface{}) error
}

// EventPublisher emits workflow events to the event stream. Best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, key string, payload interface{}) error
}

// CertificateIssuer creates the certificate for an approved application and
// moves it to certificate_issued.
type CertificateIssuer interface {
	Issue(ctx context.Context, applicationID, issuedBy string, forceNew bool) (*Certificate, error)
}

// TransitionRecorder receives a data point per attempted transition.
type TransitionRecorder interface {
	RecordTransition(from, to ApplicationStatus, ok bool)
}
