package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fireshakti/noc-engine/internal/apperr"
)

// managerChannel is the notification alias for the manager group; individual
// manager identities are not tracked on the application.
const managerChannel = "fire-safety-managers"

// Engine is the authoritative workflow controller. It is the only component
// permitted to change application and inspection state; certificate state is
// delegated to the issuer.
type Engine struct {
	applications ApplicationStore
	inspections  InspectionStore
	issuer       CertificateIssuer
	notifier     Notifier
	events       EventPublisher
	recorder     TransitionRecorder
	validate     *validator.Validate
	logger       *slog.Logger
}

// NewEngine creates a workflow engine. notifier, events, issuer and recorder
// may be nil; the corresponding side effects are skipped.
func NewEngine(
	applications ApplicationStore,
	inspections InspectionStore,
	issuer CertificateIssuer,
	notifier Notifier,
	events EventPublisher,
	recorder TransitionRecorder,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		applications: applications,
		inspections:  inspections,
		issuer:       issuer,
		notifier:     notifier,
		events:       events,
		recorder:     recorder,
		validate:     validator.New(),
		logger:       logger,
	}
}

// SetIssuer wires the certificate issuer after construction. The issuer and
// the engine reference each other's stores, so the composition root builds
// the issuer second.
func (e *Engine) SetIssuer(issuer CertificateIssuer) {
	e.issuer = issuer
}

// SubmitInput is the payload for a new application.
type SubmitInput struct {
	Owner     string             `validate:"required"`
	Business  BusinessProfile    `validate:"required"`
	Documents []Document         `validate:"dive"`
	Safety    SafetyDeclarations `validate:"required"`
}

// Submit creates a new application in state submitted, owned by the
// authenticated applicant.
func (e *Engine) Submit(ctx context.Context, input SubmitInput) (*Application, error) {
	if err := e.validate.Struct(input); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid application submission", err)
	}

	now := time.Now()
	app := &Application{
		ID:        uuid.NewString(),
		Owner:     input.Owner,
		Business:  input.Business,
		Documents: input.Documents,
		Safety:    input.Safety,
		Status:    StatusSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.applications.Create(ctx, app); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to store application", err)
	}

	e.logger.Info("Application submitted", "application_id", app.ID, "owner", app.Owner, "business", app.Business.Name)
	e.dispatch(ctx, "application_submitted", app.Owner, map[string]interface{}{
		"application_id": app.ID,
		"business_name":  app.Business.Name,
	})
	e.publish(ctx, "application_submitted", app.ID, app)

	return app, nil
}

// OpenReview moves a submitted application under manager review.
func (e *Engine) OpenReview(ctx context.Context, applicationID, managerID string) (*Application, error) {
	app, err := e.transition(ctx, applicationID, StatusSubmitted, StatusUnderReview)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Application review opened", "application_id", applicationID, "manager_id", managerID)
	e.dispatch(ctx, "application_under_review", app.Owner, map[string]interface{}{
		"application_id": app.ID,
		"business_name":  app.Business.Name,
	})
	e.publish(ctx, "application_status_changed", app.ID, app)

	return app, nil
}

// AssignInspector assigns an inspector to an application under review and
// creates the inspection record in state scheduled.
func (e *Engine) AssignInspector(ctx context.Context, applicationID, inspectorID string, scheduledDate time.Time) (*Inspection, error) {
	if inspectorID == "" {
		return nil, apperr.New(apperr.KindValidation, "inspector id is required")
	}

	app, err := e.transition(ctx, applicationID, StatusUnderReview, StatusInspectorAssigned)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	inspection := &Inspection{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		InspectorID:   inspectorID,
		ScheduledDate: scheduledDate,
		Status:        InspectionScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := e.inspections.Create(ctx, inspection); err != nil {
		// Undo the state change so the application is not stranded without
		// an inspection record.
		e.revert(ctx, applicationID, StatusInspectorAssigned, StatusUnderReview)
		return nil, apperr.Wrap(apperr.KindTransient, "failed to store inspection", err)
	}

	app.CurrentInspectionID = &inspection.ID
	app.UpdatedAt = now
	if err := e.applications.Update(ctx, app); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to link inspection to application", err)
	}

	e.logger.Info("Inspector assigned",
		"application_id", applicationID,
		"inspector_id", inspectorID,
		"inspection_id", inspection.ID,
		"scheduled_date", scheduledDate)
	e.dispatch(ctx, "inspector_assigned", inspectorID, map[string]interface{}{
		"application_id": app.ID,
		"inspection_id":  inspection.ID,
		"business_name":  app.Business.Name,
		"scheduled_date": scheduledDate,
	})
	e.publish(ctx, "application_status_changed", app.ID, app)

	return inspection, nil
}

// ReassignInspector closes the current inspection as superseded and creates a
// fresh one for the new inspector. The prior record is retained for audit.
func (e *Engine) ReassignInspector(ctx context.Context, applicationID, inspectorID string, scheduledDate time.Time) (*Inspection, error) {
	if inspectorID == "" {
		return nil, apperr.New(apperr.KindValidation, "inspector id is required")
	}

	app, err := e.getApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status != StatusInspectorAssigned {
		return nil, apperr.Newf(apperr.KindConflict, "application %s is %s, reassignment requires %s",
			applicationID, app.Status, StatusInspectorAssigned)
	}
	if app.CurrentInspectionID == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "application %s has no active inspection", applicationID)
	}

	prior, err := e.inspections.Get(ctx, *app.CurrentInspectionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to load current inspection", err)
	}
	if prior == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "inspection %s not found", *app.CurrentInspectionID)
	}

	prior.Status = InspectionSuperseded
	prior.UpdatedAt = time.Now()
	if err := e.inspections.Update(ctx, prior); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to close prior inspection", err)
	}

	now := time.Now()
	inspection := &Inspection{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		InspectorID:   inspectorID,
		ScheduledDate: scheduledDate,
		Status:        InspectionScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.inspections.Create(ctx, inspection); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to store inspection", err)
	}

	app.CurrentInspectionID = &inspection.ID
	app.UpdatedAt = now
	if err := e.applications.Update(ctx, app); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to link inspection to application", err)
	}

	e.logger.Info("Inspector reassigned",
		"application_id", applicationID,
		"inspector_id", inspectorID,
		"superseded_inspection_id", prior.ID,
		"inspection_id", inspection.ID)
	e.dispatch(ctx, "inspector_assigned", inspectorID, map[string]interface{}{
		"application_id": app.ID,
		"inspection_id":  inspection.ID,
		"business_name":  app.Business.Name,
		"scheduled_date": scheduledDate,
	})
	e.publish(ctx, "application_status_changed", app.ID, app)

	return inspection, nil
}

// StartInspection marks the inspection as started. Only the assigned
// inspector may start it.
func (e *Engine) StartInspection(ctx context.Context, applicationID, inspectorID string) (*Application, error) {
	app, inspection, err := e.getActiveInspection(ctx, applicationID, inspectorID)
	if err != nil {
		return nil, err
	}

	updated, err := e.applications.TransitionStatus(ctx, applicationID, StatusInspectorAssigned, StatusInspectionInProgress)
	e.record(StatusInspectorAssigned, StatusInspectionInProgress, updated && err == nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to update application state", err)
	}
	if !updated {
		return nil, apperr.Newf(apperr.KindConflict, "application %s is no longer %s", applicationID, StatusInspectorAssigned)
	}

	now := time.Now()
	inspection.Status = InspectionStarted
	inspection.StartedAt = &now
	inspection.UpdatedAt = now
	if err := e.inspections.Update(ctx, inspection); err != nil {
		e.revert(ctx, applicationID, StatusInspectionInProgress, StatusInspectorAssigned)
		return nil, apperr.Wrap(apperr.KindTransient, "failed to update inspection", err)
	}

	app.Status = StatusInspectionInProgress
	e.logger.Info("Inspection started", "application_id", applicationID, "inspection_id", inspection.ID)
	e.dispatch(ctx, "inspection_started", app.Owner, map[string]interface{}{
		"application_id": app.ID,
		"inspection_id":  inspection.ID,
	})
	e.publish(ctx, "application_status_changed", app.ID, app)

	return app, nil
}

// CompleteInspectionInput carries the inspector's findings.
type CompleteInspectionInput struct {
	InspectorID     string         `validate:"required"`
	Findings        []string       `validate:"required,min=1"`
	ComplianceScore int            `validate:"min=0,max=100"`
	Recommendation  Recommendation `validate:"required,oneof=approved rejected needs_review"`
}

// CompleteInspection records the findings and compliance score and moves the
// application to inspection_completed. The score is supplied by the
// inspector; the engine only validates its range.
func (e *Engine) CompleteInspection(ctx context.Context, applicationID string, input CompleteInspectionInput) (*Inspection, error) {
	if err := e.validate.Struct(input); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid inspection report", err)
	}

	app, inspection, err := e.getActiveInspection(ctx, applicationID, input.InspectorID)
	if err != nil {
		return nil, err
	}

	updated, err := e.applications.TransitionStatus(ctx, applicationID, StatusInspectionInProgress, StatusInspectionCompleted)
	e.record(StatusInspectionInProgress, StatusInspectionCompleted, updated && err == nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to update application state", err)
	}
	if !updated {
		return nil, apperr.Newf(apperr.KindConflict, "application %s is no longer %s", applicationID, StatusInspectionInProgress)
	}

	now := time.Now()
	score := input.ComplianceScore
	inspection.Status = InspectionCompleted
	inspection.CompletedAt = &now
	inspection.Findings = input.Findings
	inspection.ComplianceScore = &score
	inspection.Recommendation = input.Recommendation
	inspection.UpdatedAt = now
	if err := e.inspections.Update(ctx, inspection); err != nil {
		e.revert(ctx, applicationID, StatusInspectionCompleted, StatusInspectionInProgress)
		return nil, apperr.Wrap(apperr.KindTransient, "failed to store inspection report", err)
	}

	e.logger.Info("Inspection completed",
		"application_id", applicationID,
		"inspection_id", inspection.ID,
		"compliance_score", score,
		"recommendation", input.Recommendation)
	e.dispatch(ctx, "inspection_completed", managerChannel, map[string]interface{}{
		"application_id":   app.ID,
		"inspection_id":    inspection.ID,
		"business_name":    app.Business.Name,
		"compliance_score": score,
		"recommendation":   input.Recommendation,
	})
	e.publish(ctx, "application_status_changed", app.ID, app)

	return inspection, nil
}

// Approve moves a fully inspected application to approved and triggers
// certificate issuance. The approval itself is durable even when issuance
// fails; the returned error then carries the issuance failure and the
// certificate can be issued later through the issuer directly.
func (e *Engine) Approve(ctx context.Context, applicationID, managerID string) (*Application, *Certificate, error) {
	app, err := e.getApplication(ctx, applicationID)
	if err != nil {
		return nil, nil, err
	}
	if err := e.requireCompletedInspection(ctx, app); err != nil {
		return nil, nil, err
	}

	updated, err := e.applications.TransitionStatus(ctx, applicationID, StatusInspectionCompleted, StatusApproved)
	e.record(StatusInspectionCompleted, StatusApproved, updated && err == nil)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindTransient, "failed to update application state", err)
	}
	if !updated {
		return nil, nil, apperr.Newf(apperr.KindConflict, "application %s is no longer %s", applicationID, StatusInspectionCompleted)
	}

	app.Status = StatusApproved
	e.logger.Info("Application approved", "application_id", applicationID, "manager_id", managerID)
	e.dispatch(ctx, "application_approved", app.Owner, map[string]interface{}{
		"application_id": app.ID,
		"business_name":  app.Business.Name,
	})
	e.publish(ctx, "application_status_changed", app.ID, app)

	if e.issuer == nil {
		return app, nil, nil
	}

	certificate, err := e.issuer.Issue(ctx, applicationID, managerID, false)
	if err != nil {
		e.logger.Error("Certificate issuance failed after approval; approval stands",
			"application_id", applicationID,
			"error", err)
		return app, nil, apperr.Wrap(apperr.KindTransient, "approval recorded but certificate issuance failed", err)
	}

	app.Status = StatusCertificateIssued
	app.CertificateID = &certificate.ID
	return app, certificate, nil
}

// Reject moves a fully inspected application to rejected with a reason.
func (e *Engine) Reject(ctx context.Context, applicationID, managerID, reason string) (*Application, error) {
	app, err := e.getApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if err := e.requireCompletedInspection(ctx, app); err != nil {
		return nil, err
	}

	updated, err := e.applications.TransitionStatus(ctx, applicationID, StatusInspectionCompleted, StatusRejected)
	e.record(StatusInspectionCompleted, StatusRejected, updated && err == nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to update application state", err)
	}
	if !updated {
		return nil, apperr.Newf(apperr.KindConflict, "application %s is no longer %s", applicationID, StatusInspectionCompleted)
	}

	app.Status = StatusRejected
	app.RejectionReason = &reason
	app.UpdatedAt = time.Now()
	if err := e.applications.Update(ctx, app); err != nil {
		e.logger.Warn("Failed to store rejection reason", "application_id", applicationID, "error", err)
	}

	e.logger.Info("Application rejected", "application_id", applicationID, "manager_id", managerID, "reason", reason)
	e.dispatch(ctx, "application_rejected", app.Owner, map[string]interface{}{
		"application_id": app.ID,
		"business_name":  app.Business.Name,
		"reason":         reason,
	})
	e.publish(ctx, "application_status_changed", app.ID, app)

	return app, nil
}

// Resubmit returns a rejected application to submitted. Only the owner may
// resubmit; the prior inspection is retained as history.
func (e *Engine) Resubmit(ctx context.Context, applicationID, applicantID string) (*Application, error) {
	app, err := e.getApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Owner != applicantID {
		return nil, apperr.Newf(apperr.KindConflict, "application %s is not owned by %s", applicationID, applicantID)
	}

	updated, err := e.applications.TransitionStatus(ctx, applicationID, StatusRejected, StatusSubmitted)
	e.record(StatusRejected, StatusSubmitted, updated && err == nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to update application state", err)
	}
	if !updated {
		return nil, apperr.Newf(apperr.KindConflict, "application %s is not %s", applicationID, StatusRejected)
	}

	app.Status = StatusSubmitted
	app.RejectionReason = nil
	app.CurrentInspectionID = nil
	app.UpdatedAt = time.Now()
	if err := e.applications.Update(ctx, app); err != nil {
		e.logger.Warn("Failed to clear rejection fields on resubmission", "application_id", applicationID, "error", err)
	}

	e.logger.Info("Application resubmitted", "application_id", applicationID, "owner", applicantID)
	e.dispatch(ctx, "application_resubmitted", managerChannel, map[string]interface{}{
		"application_id": app.ID,
		"business_name":  app.Business.Name,
	})
	e.publish(ctx, "application_status_changed", app.ID, app)

	return app, nil
}

// GetApplication returns an application by id.
func (e *Engine) GetApplication(ctx context.Context, applicationID string) (*Application, error) {
	return e.getApplication(ctx, applicationID)
}

// ListApplicationsByOwner returns an applicant's applications, newest first.
func (e *Engine) ListApplicationsByOwner(ctx context.Context, owner string) ([]*Application, error) {
	apps, err := e.applications.ListByOwner(ctx, owner)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to list applications", err)
	}
	return apps, nil
}

// ListApplicationsByStatus returns applications in a given state, newest first.
func (e *Engine) ListApplicationsByStatus(ctx context.Context, status ApplicationStatus) ([]*Application, error) {
	apps, err := e.applications.ListByStatus(ctx, status)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to list applications", err)
	}
	return apps, nil
}

// ListInspections returns all inspections for an application, including
// superseded history.
func (e *Engine) ListInspections(ctx context.Context, applicationID string) ([]*Inspection, error) {
	inspections, err := e.inspections.ListByApplication(ctx, applicationID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to list inspections", err)
	}
	return inspections, nil
}

func (e *Engine) transition(ctx context.Context, applicationID string, from, to ApplicationStatus) (*Application, error) {
	app, err := e.getApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	updated, err := e.applications.TransitionStatus(ctx, applicationID, from, to)
	e.record(from, to, updated && err == nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to update application state", err)
	}
	if !updated {
		return nil, apperr.Newf(apperr.KindConflict, "application %s is %s, transition requires %s", applicationID, app.Status, from)
	}

	app.Status = to
	return app, nil
}

func (e *Engine) getApplication(ctx context.Context, applicationID string) (*Application, error) {
	app, err := e.applications.Get(ctx, applicationID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to load application", err)
	}
	if app == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "application %s not found", applicationID)
	}
	return app, nil
}

func (e *Engine) getActiveInspection(ctx context.Context, applicationID, inspectorID string) (*Application, *Inspection, error) {
	app, err := e.getApplication(ctx, applicationID)
	if err != nil {
		return nil, nil, err
	}
	if app.CurrentInspectionID == nil {
		return nil, nil, apperr.Newf(apperr.KindNotFound, "application %s has no active inspection", applicationID)
	}

	inspection, err := e.inspections.Get(ctx, *app.CurrentInspectionID)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindTransient, "failed to load inspection", err)
	}
	if inspection == nil {
		return nil, nil, apperr.Newf(apperr.KindNotFound, "inspection %s not found", *app.CurrentInspectionID)
	}
	if inspection.InspectorID != inspectorID {
		return nil, nil, apperr.Newf(apperr.KindConflict, "inspection %s is assigned to another inspector", inspection.ID)
	}

	return app, inspection, nil
}

func (e *Engine) requireCompletedInspection(ctx context.Context, app *Application) error {
	if app.CurrentInspectionID == nil {
		return apperr.Newf(apperr.KindConflict, "application %s has no inspection on record", app.ID)
	}
	inspection, err := e.inspections.Get(ctx, *app.CurrentInspectionID)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "failed to load inspection", err)
	}
	if inspection == nil || inspection.Status != InspectionCompleted {
		return apperr.Newf(apperr.KindConflict, "application %s does not have a completed inspection", app.ID)
	}
	return nil
}

// revert rolls a compare-and-swap back after a follow-up write failed.
// Best-effort: a failed revert leaves the conflict for the next caller.
func (e *Engine) revert(ctx context.Context, applicationID string, from, to ApplicationStatus) {
	if _, err := e.applications.TransitionStatus(ctx, applicationID, from, to); err != nil {
		e.logger.Error("Failed to revert application state",
			"application_id", applicationID,
			"from", from,
			"to", to,
			"error", err)
	}
}

func (e *Engine) dispatch(ctx context.Context, eventType, recipient string, data map[string]interface{}) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, eventType, recipient, data); err != nil {
		e.logger.Warn("Notification dispatch failed",
			"event_type", eventType,
			"recipient", recipient,
			"error", err)
	}
}

func (e *Engine) publish(ctx context.Context, eventType, key string, payload interface{}) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, eventType, key, payload); err != nil {
		e.logger.Warn("Event publish failed", "event_type", eventType, "key", key, "error", err)
	}
}

func (e *Engine) record(from, to ApplicationStatus, ok bool) {
	if e.recorder != nil {
		e.recorder.RecordTransition(from, to, ok)
	}
}
