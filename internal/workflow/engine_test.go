package workflow_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fireshakti/noc-engine/internal/apperr"
	"github.com/fireshakti/noc-engine/internal/database"
	"github.com/fireshakti/noc-engine/internal/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEngine() (*workflow.Engine, *database.MemoryApplicationStore, *database.MemoryInspectionStore) {
	apps := database.NewMemoryApplicationStore()
	inspections := database.NewMemoryInspectionStore()
	engine := workflow.NewEngine(apps, inspections, nil, nil, nil, nil, testLogger())
	return engine, apps, inspections
}

func submitInput() workflow.SubmitInput {
	return workflow.SubmitInput{
		Owner: "priya@example.com",
		Business: workflow.BusinessProfile{
			Name:         "Krishna Restaurant",
			Type:         "restaurant",
			Address:      "12 MG Road, Pune",
			ContactName:  "Priya Sharma",
			ContactPhone: "+911234567890",
			ContactEmail: "priya@example.com",
		},
		Documents: []workflow.Document{
			{Type: "building_plan", StoragePath: "uploads/building_plan.pdf"},
		},
		Safety: workflow.SafetyDeclarations{
			ExtinguisherCount: 4,
			EmergencyExits:    2,
			FireAlarm:         true,
			SmokeDetectors:    true,
			EvacuationPlan:    true,
		},
	}
}

// advance walks an application through submission, review, assignment and
// inspection up to inspection_completed.
func advanceToCompleted(t *testing.T, engine *workflow.Engine) *workflow.Application {
	t.Helper()
	ctx := context.Background()

	app, err := engine.Submit(ctx, submitInput())
	require.NoError(t, err)

	_, err = engine.OpenReview(ctx, app.ID, "manager-1")
	require.NoError(t, err)

	_, err = engine.AssignInspector(ctx, app.ID, "inspector-7", time.Now().Add(48*time.Hour))
	require.NoError(t, err)

	_, err = engine.StartInspection(ctx, app.ID, "inspector-7")
	require.NoError(t, err)

	_, err = engine.CompleteInspection(ctx, app.ID, workflow.CompleteInspectionInput{
		InspectorID:     "inspector-7",
		Findings:        []string{"extinguishers serviced", "exits clearly marked"},
		ComplianceScore: 88,
		Recommendation:  workflow.RecommendApproved,
	})
	require.NoError(t, err)

	app, err = engine.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	return app
}

func TestSubmitCreatesApplication(t *testing.T) {
	engine, _, _ := newTestEngine()

	app, err := engine.Submit(context.Background(), submitInput())
	require.NoError(t, err)

	assert.NotEmpty(t, app.ID)
	assert.Equal(t, workflow.StatusSubmitted, app.Status)
	assert.Equal(t, "Krishna Restaurant", app.Business.Name)
	assert.Equal(t, "priya@example.com", app.Owner)
}

func TestSubmitValidation(t *testing.T) {
	engine, _, _ := newTestEngine()

	input := submitInput()
	input.Business.Name = ""
	_, err := engine.Submit(context.Background(), input)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	input = submitInput()
	input.Owner = ""
	_, err = engine.Submit(context.Background(), input)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestFullLifecycleToApproval(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()

	app := advanceToCompleted(t, engine)
	assert.Equal(t, workflow.StatusInspectionCompleted, app.Status)

	approved, cert, err := engine.Approve(ctx, app.ID, "manager-1")
	require.NoError(t, err)
	assert.Nil(t, cert) // no issuer wired
	assert.Equal(t, workflow.StatusApproved, approved.Status)
}

func TestTransitionGuards(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()

	app, err := engine.Submit(ctx, submitInput())
	require.NoError(t, err)

	// Cannot assign an inspector before review.
	_, err = engine.AssignInspector(ctx, app.ID, "inspector-7", time.Now())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	// Cannot approve without a completed inspection.
	_, _, err = engine.Approve(ctx, app.ID, "manager-1")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	// Review twice: second attempt conflicts.
	_, err = engine.OpenReview(ctx, app.ID, "manager-1")
	require.NoError(t, err)
	_, err = engine.OpenReview(ctx, app.ID, "manager-2")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestStartInspectionRequiresAssignedInspector(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()

	app, err := engine.Submit(ctx, submitInput())
	require.NoError(t, err)
	_, err = engine.OpenReview(ctx, app.ID, "manager-1")
	require.NoError(t, err)
	_, err = engine.AssignInspector(ctx, app.ID, "inspector-7", time.Now())
	require.NoError(t, err)

	_, err = engine.StartInspection(ctx, app.ID, "inspector-9")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestCompleteInspectionValidation(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()

	app, err := engine.Submit(ctx, submitInput())
	require.NoError(t, err)
	_, err = engine.OpenReview(ctx, app.ID, "manager-1")
	require.NoError(t, err)
	_, err = engine.AssignInspector(ctx, app.ID, "inspector-7", time.Now())
	require.NoError(t, err)
	_, err = engine.StartInspection(ctx, app.ID, "inspector-7")
	require.NoError(t, err)

	// Score out of range.
	_, err = engine.CompleteInspection(ctx, app.ID, workflow.CompleteInspectionInput{
		InspectorID:     "inspector-7",
		Findings:        []string{"ok"},
		ComplianceScore: 101,
		Recommendation:  workflow.RecommendApproved,
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	// Missing findings.
	_, err = engine.CompleteInspection(ctx, app.ID, workflow.CompleteInspectionInput{
		InspectorID:     "inspector-7",
		ComplianceScore: 88,
		Recommendation:  workflow.RecommendApproved,
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestReassignInspectorSupersedesPrior(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()

	app, err := engine.Submit(ctx, submitInput())
	require.NoError(t, err)
	_, err = engine.OpenReview(ctx, app.ID, "manager-1")
	require.NoError(t, err)
	first, err := engine.AssignInspector(ctx, app.ID, "inspector-7", time.Now())
	require.NoError(t, err)

	second, err := engine.ReassignInspector(ctx, app.ID, "inspector-9", time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "inspector-9", second.InspectorID)

	inspections, err := engine.ListInspections(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, inspections, 2)

	byID := map[string]*workflow.Inspection{}
	for _, inspection := range inspections {
		byID[inspection.ID] = inspection
	}
	assert.Equal(t, workflow.InspectionSuperseded, byID[first.ID].Status)
	assert.Equal(t, workflow.InspectionScheduled, byID[second.ID].Status)

	// Only the new inspector can start.
	_, err = engine.StartInspection(ctx, app.ID, "inspector-7")
	require.Error(t, err)
	_, err = engine.StartInspection(ctx, app.ID, "inspector-9")
	require.NoError(t, err)
}

func TestRejectAndResubmit(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()

	app := advanceToCompleted(t, engine)

	rejected, err := engine.Reject(ctx, app.ID, "manager-1", "insufficient emergency exits")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "insufficient emergency exits", *rejected.RejectionReason)

	// Only the owner may resubmit.
	_, err = engine.Resubmit(ctx, app.ID, "someone-else@example.com")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	resubmitted, err := engine.Resubmit(ctx, app.ID, "priya@example.com")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSubmitted, resubmitted.Status)
	assert.Nil(t, resubmitted.RejectionReason)
	assert.Nil(t, resubmitted.CurrentInspectionID)

	// Inspection history survives resubmission.
	inspections, err := engine.ListInspections(ctx, app.ID)
	require.NoError(t, err)
	assert.Len(t, inspections, 1)
}

func TestConcurrentApproveExactlyOnce(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()

	app := advanceToCompleted(t, engine)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = engine.Approve(ctx, app.ID, "manager-1")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.True(t, apperr.IsKind(err, apperr.KindConflict))
		}
	}
	assert.Equal(t, 1, successes)
}

func TestListApplications(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()

	first, err := engine.Submit(ctx, submitInput())
	require.NoError(t, err)

	other := submitInput()
	other.Owner = "ravi@example.com"
	other.Business.Name = "Lakshmi Textiles"
	_, err = engine.Submit(ctx, other)
	require.NoError(t, err)

	byOwner, err := engine.ListApplicationsByOwner(ctx, "priya@example.com")
	require.NoError(t, err)
	require.Len(t, byOwner, 1)
	assert.Equal(t, first.ID, byOwner[0].ID)

	byStatus, err := engine.ListApplicationsByStatus(ctx, workflow.StatusSubmitted)
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)
}
