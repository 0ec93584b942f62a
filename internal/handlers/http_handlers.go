package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/fireshakti/noc-engine/internal/apperr"
	"github.com/fireshakti/noc-engine/internal/auth"
	"github.com/fireshakti/noc-engine/internal/certificate"
	"github.com/fireshakti/noc-engine/internal/ledger"
	"github.com/fireshakti/noc-engine/internal/workflow"
)

// HTTPHandler handles HTTP requests for the NOC engine
type HTTPHandler struct {
	engine    *workflow.Engine
	issuer    *certificate.Issuer
	chain     *ledger.Engine
	authSvc   *auth.Service
	logger    *slog.Logger
	startTime time.Time
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	engine *workflow.Engine,
	issuer *certificate.Issuer,
	chain *ledger.Engine,
	authSvc *auth.Service,
	logger *slog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		engine:    engine,
		issuer:    issuer,
		chain:     chain,
		authSvc:   authSvc,
		logger:    logger,
		startTime: time.Now(),
	}
}

// RegisterRoutes registers all HTTP routes
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	// Health and status endpoints
	router.HandleFunc("/health", h.handleHealth).Methods("GET")
	router.HandleFunc("/status", h.handleStatus).Methods("GET")

	// Auth endpoints
	authRouter := router.PathPrefix("/api/v1/auth").Subrouter()
	authRouter.HandleFunc("/otp/request", h.handleRequestOTP).Methods("POST")
	authRouter.HandleFunc("/otp/verify", h.handleVerifyOTP).Methods("POST")

	// Application workflow endpoints
	appRouter := router.PathPrefix("/api/v1/applications").Subrouter()
	appRouter.HandleFunc("", h.handleSubmit).Methods("POST")
	appRouter.HandleFunc("", h.handleListApplications).Methods("GET")
	appRouter.HandleFunc("/{id}", h.handleGetApplication).Methods("GET")
	appRouter.HandleFunc("/{id}/review", h.handleOpenReview).Methods("POST")
	appRouter.HandleFunc("/{id}/assign", h.handleAssignInspector).Methods("POST")
	appRouter.HandleFunc("/{id}/reassign", h.handleReassignInspector).Methods("POST")
	appRouter.HandleFunc("/{id}/inspection/start", h.handleStartInspection).Methods("POST")
	appRouter.HandleFunc("/{id}/inspection/complete", h.handleCompleteInspection).Methods("POST")
	appRouter.HandleFunc("/{id}/approve", h.handleApprove).Methods("POST")
	appRouter.HandleFunc("/{id}/reject", h.handleReject).Methods("POST")
	appRouter.HandleFunc("/{id}/resubmit", h.handleResubmit).Methods("POST")
	appRouter.HandleFunc("/{id}/issue", h.handleIssueCertificate).Methods("POST")
	appRouter.HandleFunc("/{id}/inspections", h.handleListInspections).Methods("GET")

	// Certificate endpoints
	certRouter := router.PathPrefix("/api/v1/certificates").Subrouter()
	certRouter.HandleFunc("/verify/{hash}", h.handleVerifyCertificate).Methods("GET")
	certRouter.HandleFunc("/{number}/revoke", h.handleRevokeCertificate).Methods("POST")

	// Ledger endpoints
	ledgerRouter := router.PathPrefix("/api/v1/ledger").Subrouter()
	ledgerRouter.HandleFunc("/validate", h.handleValidateLedger).Methods("GET")
}

// Health and status handlers

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "noc-engine",
		"timestamp": time.Now().UTC(),
	})
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"service":   "noc-engine",
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	}
	if h.chain != nil {
		status["ledger_length"] = h.chain.Length()
	}
	h.writeJSON(w, http.StatusOK, status)
}

// Auth handlers

type requestOTPRequest struct {
	Subject string `json:"subject"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

func (h *HTTPHandler) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req requestOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var destinations []string
	if req.Phone != "" {
		destinations = append(destinations, req.Phone)
	}
	if req.Email != "" {
		destinations = append(destinations, req.Email)
	}

	if err := h.authSvc.RequestOTP(r.Context(), req.Subject, destinations); err != nil {
		h.writeAppError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "otp_sent"})
}

type verifyOTPRequest struct {
	Subject string `json:"subject"`
	Code    string `json:"code"`
	Role    string `json:"role"`
}

func (h *HTTPHandler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.authSvc.VerifyOTP(r.Context(), req.Subject, req.Code, req.Role)
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Application workflow handlers

type submitRequest struct {
	Owner     string                      `json:"owner"`
	Business  workflow.BusinessProfile    `json:"business"`
	Documents []workflow.Document         `json:"documents"`
	Safety    workflow.SafetyDeclarations `json:"safety"`
}

func (h *HTTPHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	app, err := h.engine.Submit(r.Context(), workflow.SubmitInput{
		Owner:     req.Owner,
		Business:  req.Business,
		Documents: req.Documents,
		Safety:    req.Safety,
	})
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, app)
}

func (h *HTTPHandler) handleListApplications(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	status := r.URL.Query().Get("status")

	var (
		apps []*workflow.Application
		err  error
	)
	switch {
	case owner != "":
		apps, err = h.engine.ListApplicationsByOwner(r.Context(), owner)
	case status != "":
		apps, err = h.engine.ListApplicationsByStatus(r.Context(), workflow.ApplicationStatus(status))
	default:
		h.writeError(w, http.StatusBadRequest, "Either owner or status query parameter is required")
		return
	}
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"applications": apps,
		"count":        len(apps),
	})
}

func (h *HTTPHandler) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.engine.GetApplication(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, app)
}

type actorRequest struct {
	ActorID string `json:"actor_id"`
}

func (h *HTTPHandler) handleOpenReview(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	app, err := h.engine.OpenReview(r.Context(), mux.Vars(r)["id"], req.ActorID)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, app)
}

type assignRequest struct {
	InspectorID   string    `json:"inspector_id"`
	ScheduledDate time.Time `json:"scheduled_date"`
}

func (h *HTTPHandler) handleAssignInspector(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	inspection, err := h.engine.AssignInspector(r.Context(), mux.Vars(r)["id"], req.InspectorID, req.ScheduledDate)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, inspection)
}

func (h *HTTPHandler) handleReassignInspector(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	inspection, err := h.engine.ReassignInspector(r.Context(), mux.Vars(r)["id"], req.InspectorID, req.ScheduledDate)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, inspection)
}

func (h *HTTPHandler) handleStartInspection(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	app, err := h.engine.StartInspection(r.Context(), mux.Vars(r)["id"], req.ActorID)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, app)
}

type completeInspectionRequest struct {
	InspectorID     string                  `json:"inspector_id"`
	Findings        []string                `json:"findings"`
	ComplianceScore int                     `json:"compliance_score"`
	Recommendation  workflow.Recommendation `json:"recommendation"`
}

func (h *HTTPHandler) handleCompleteInspection(w http.ResponseWriter, r *http.Request) {
	var req completeInspectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	inspection, err := h.engine.CompleteInspection(r.Context(), mux.Vars(r)["id"], workflow.CompleteInspectionInput{
		InspectorID:     req.InspectorID,
		Findings:        req.Findings,
		ComplianceScore: req.ComplianceScore,
		Recommendation:  req.Recommendation,
	})
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inspection)
}

func (h *HTTPHandler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	app, cert, err := h.engine.Approve(r.Context(), mux.Vars(r)["id"], req.ActorID)
	if err != nil {
		// The approval may have been recorded even though issuance failed;
		// return the application alongside the error detail so the caller
		// can retry issuance.
		if app != nil && apperr.IsKind(err, apperr.KindTransient) {
			h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
				"application": app,
				"error":       err.Error(),
			})
			return
		}
		h.writeAppError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"application": app,
		"certificate": cert,
	})
}

type rejectRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

func (h *HTTPHandler) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Reason == "" {
		h.writeError(w, http.StatusBadRequest, "Rejection reason is required")
		return
	}

	app, err := h.engine.Reject(r.Context(), mux.Vars(r)["id"], req.ActorID, req.Reason)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, app)
}

func (h *HTTPHandler) handleResubmit(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	app, err := h.engine.Resubmit(r.Context(), mux.Vars(r)["id"], req.ActorID)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, app)
}

type issueRequest struct {
	ActorID  string `json:"actor_id"`
	ForceNew bool   `json:"force_new"`
}

// handleIssueCertificate retries certificate issuance for an application
// whose approval succeeded but whose issuance failed.
func (h *HTTPHandler) handleIssueCertificate(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cert, err := h.issuer.Issue(r.Context(), mux.Vars(r)["id"], req.ActorID, req.ForceNew)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, cert)
}

func (h *HTTPHandler) handleListInspections(w http.ResponseWriter, r *http.Request) {
	inspections, err := h.engine.ListInspections(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"inspections": inspections,
		"count":       len(inspections),
	})
}

// Certificate handlers

func (h *HTTPHandler) handleVerifyCertificate(w http.ResponseWriter, r *http.Request) {
	result, err := h.issuer.Verify(r.Context(), mux.Vars(r)["hash"])
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type revokeRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

func (h *HTTPHandler) handleRevokeCertificate(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Reason == "" {
		h.writeError(w, http.StatusBadRequest, "Revocation reason is required")
		return
	}

	cert, err := h.issuer.Revoke(r.Context(), mux.Vars(r)["number"], req.ActorID, req.Reason)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cert)
}

// Ledger handlers

func (h *HTTPHandler) handleValidateLedger(w http.ResponseWriter, r *http.Request) {
	valid := h.chain.Validate()
	status := http.StatusOK
	if !valid {
		status = http.StatusConflict
	}
	h.writeJSON(w, status, map[string]interface{}{
		"valid":  valid,
		"length": h.chain.Length(),
	})
}

// Helper methods

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError maps the error taxonomy to HTTP status codes
func (h *HTTPHandler) writeAppError(w http.ResponseWriter, err error) {
	var status int
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindTransient:
		status = http.StatusServiceUnavailable
	case apperr.KindIntegrity:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}

	if status >= 500 {
		h.logger.Error("Request failed", "error", err)
	}
	h.writeError(w, status, err.Error())
}
