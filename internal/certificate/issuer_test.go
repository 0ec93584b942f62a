package certificate_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fireshakti/noc-engine/internal/apperr"
	"github.com/fireshakti/noc-engine/internal/certificate"
	"github.com/fireshakti/noc-engine/internal/config"
	"github.com/fireshakti/noc-engine/internal/database"
	"github.com/fireshakti/noc-engine/internal/ledger"
	"github.com/fireshakti/noc-engine/internal/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	issuer       *certificate.Issuer
	applications *database.MemoryApplicationStore
	certificates *database.MemoryCertificateStore
	chain        *ledger.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	chain := ledger.New(config.LedgerConfig{
		DataFile:            filepath.Join(t.TempDir(), "chain.json"),
		Difficulty:          1,
		MaxMiningIterations: 10000000,
	}, testLogger())
	require.NoError(t, chain.Initialize())

	applications := database.NewMemoryApplicationStore()
	certificates := database.NewMemoryCertificateStore()

	issuer := certificate.NewIssuer(config.CertificatesConfig{
		ValidityDays:     365,
		IssuingAuthority: "Fire Safety Department",
		VerifyCacheTTL:   time.Minute,
	}, applications, certificates, chain, nil, nil, testLogger())

	return &fixture{
		issuer:       issuer,
		applications: applications,
		certificates: certificates,
		chain:        chain,
	}
}

func (f *fixture) seedApprovedApplication(t *testing.T) *workflow.Application {
	t.Helper()
	now := time.Now()
	app := &workflow.Application{
		ID:    "app-1",
		Owner: "priya@example.com",
		Business: workflow.BusinessProfile{
			Name:         "Krishna Restaurant",
			Type:         "restaurant",
			Address:      "12 MG Road, Pune",
			ContactName:  "Priya Sharma",
			ContactPhone: "+911234567890",
			ContactEmail: "priya@example.com",
		},
		Status:    workflow.StatusApproved,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.applications.Create(context.Background(), app))
	return app
}

var numberPattern = regexp.MustCompile(`^NOC-\d{8}-[0-9A-F]{6}$`)

func TestIssueCreatesAnchoredCertificate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedApprovedApplication(t)

	lengthBefore := f.chain.Length()

	cert, err := f.issuer.Issue(ctx, "app-1", "manager-1", false)
	require.NoError(t, err)

	assert.Regexp(t, numberPattern, cert.Number)
	assert.Equal(t, workflow.CertificateActive, cert.Status)
	assert.Equal(t, "manager-1", cert.IssuedBy)
	assert.Len(t, cert.ContentHash, 64)
	assert.NotEmpty(t, cert.LedgerTxID)
	assert.WithinDuration(t, cert.IssueDate.AddDate(0, 0, 365), cert.ValidUntil, time.Second)

	// Exactly one new block was mined for the issuance.
	assert.Equal(t, lengthBefore+1, f.chain.Length())
	assert.True(t, f.chain.Validate())

	// The application moved to certificate_issued and links the certificate.
	app, err := f.applications.Get(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCertificateIssued, app.Status)
	require.NotNil(t, app.CertificateID)
	assert.Equal(t, cert.ID, *app.CertificateID)
}

func TestApprovalIssuesAnchoredCertificateEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inspections := database.NewMemoryInspectionStore()
	engine := workflow.NewEngine(f.applications, inspections, f.issuer, nil, nil, nil, testLogger())

	app, err := engine.Submit(ctx, workflow.SubmitInput{
		Owner: "priya@example.com",
		Business: workflow.BusinessProfile{
			Name:         "Krishna Restaurant",
			Type:         "restaurant",
			Address:      "12 MG Road, Pune",
			ContactName:  "Priya Sharma",
			ContactPhone: "+911234567890",
			ContactEmail: "priya@example.com",
		},
		Safety: workflow.SafetyDeclarations{
			ExtinguisherCount: 4,
			EmergencyExits:    2,
			FireAlarm:         true,
			SmokeDetectors:    true,
			EvacuationPlan:    true,
		},
	})
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

	lengthBefore := f.chain.Length()

	approved, cert, err := engine.Approve(ctx, app.ID, "manager-1")
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.Equal(t, workflow.StatusCertificateIssued, approved.Status)
	assert.Regexp(t, numberPattern, cert.Number)
	assert.Equal(t, lengthBefore+1, f.chain.Length())

	stored, err := f.applications.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCertificateIssued, stored.Status)
	require.NotNil(t, stored.CertificateID)
	assert.Equal(t, cert.ID, *stored.CertificateID)

	result, err := f.issuer.Verify(ctx, cert.ContentHash)
	require.NoError(t, err)
	assert.True(t, result.Verified)
	require.NotNil(t, result.Record)
	assert.Equal(t, app.ID, result.Record.ApplicationID)
	assert.Equal(t, "Krishna Restaurant", result.Record.BusinessName)
	assert.True(t, f.chain.Validate())
}

type stubMetrics struct {
	issued        int
	verifications map[string]int
}

func (s *stubMetrics) RecordCertificateIssued() { s.issued++ }

func (s *stubMetrics) RecordCertificateVerification(result string) {
	if s.verifications == nil {
		s.verifications = map[string]int{}
	}
	s.verifications[result]++
}

func TestIssuanceAndVerificationReachMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedApprovedApplication(t)

	recorder := &stubMetrics{}
	f.issuer.SetMetrics(recorder)

	cert, err := f.issuer.Issue(ctx, "app-1", "manager-1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, recorder.issued)

	// The idempotent repeat does not count as a new issuance.
	_, err = f.issuer.Issue(ctx, "app-1", "manager-1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, recorder.issued)

	_, err = f.issuer.Verify(ctx, cert.ContentHash)
	require.NoError(t, err)
	_, err = f.issuer.Verify(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, 1, recorder.verifications["verified"])
	assert.Equal(t, 1, recorder.verifications["not_found"])
}

func TestIssueIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedApprovedApplication(t)

	first, err := f.issuer.Issue(ctx, "app-1", "manager-1", false)
	require.NoError(t, err)

	second, err := f.issuer.Issue(ctx, "app-1", "manager-1", false)
	require.NoError(t, err)
	assert.Equal(t, first.Number, second.Number)
	assert.Equal(t, first.ID, second.ID)

	// No extra block for the repeat call.
	assert.Equal(t, 2, f.chain.Length())
}

func TestIssueForceNewConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedApprovedApplication(t)

	_, err := f.issuer.Issue(ctx, "app-1", "manager-1", false)
	require.NoError(t, err)

	_, err = f.issuer.Issue(ctx, "app-1", "manager-1", true)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestIssueRequiresApprovedApplication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := f.seedApprovedApplication(t)
	_, err := f.applications.TransitionStatus(ctx, app.ID, workflow.StatusApproved, workflow.StatusUnderReview)
	require.NoError(t, err)

	_, err = f.issuer.Issue(ctx, "app-1", "manager-1", false)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	_, err = f.issuer.Issue(ctx, "missing", "manager-1", false)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestVerifyRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedApprovedApplication(t)

	cert, err := f.issuer.Issue(ctx, "app-1", "manager-1", false)
	require.NoError(t, err)

	result, err := f.issuer.Verify(ctx, cert.ContentHash)
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Equal(t, 1, result.BlockIndex)
	assert.Equal(t, cert.LedgerTxID, result.TransactionID)
	require.NotNil(t, result.Record)
	assert.Equal(t, cert.Number, result.Record.CertificateNumber)
	assert.Equal(t, "Krishna Restaurant", result.Record.BusinessName)

	// Unknown hashes verify negative.
	miss, err := f.issuer.Verify(ctx, "deadbeef")
	require.NoError(t, err)
	assert.False(t, miss.Verified)

	_, err = f.issuer.Verify(ctx, "")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedApprovedApplication(t)

	cert, err := f.issuer.Issue(ctx, "app-1", "manager-1", false)
	require.NoError(t, err)

	revoked, err := f.issuer.Revoke(ctx, cert.Number, "manager-2", "fraudulent documents")
	require.NoError(t, err)
	assert.Equal(t, workflow.CertificateRevoked, revoked.Status)
	require.NotNil(t, revoked.RevokedReason)
	assert.Equal(t, "fraudulent documents", *revoked.RevokedReason)

	// Double revocation conflicts.
	_, err = f.issuer.Revoke(ctx, cert.Number, "manager-2", "again")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	// The ledger anchor survives revocation.
	result, err := f.issuer.Verify(ctx, cert.ContentHash)
	require.NoError(t, err)
	assert.True(t, result.Verified)

	_, err = f.issuer.Revoke(ctx, "NOC-20250101-ABCDEF", "manager-2", "missing")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestMarkExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedApprovedApplication(t)

	cert, err := f.issuer.Issue(ctx, "app-1", "manager-1", false)
	require.NoError(t, err)

	// Nothing expires before validity lapses.
	marked, err := f.issuer.MarkExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, marked)

	marked, err = f.issuer.MarkExpired(ctx, cert.ValidUntil.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	stored, err := f.certificates.GetByNumber(ctx, cert.Number)
	require.NoError(t, err)
	assert.Equal(t, workflow.CertificateExpired, stored.Status)
}
