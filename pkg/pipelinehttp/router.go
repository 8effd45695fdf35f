// Package pipelinehttp is a transport demo binding the Control Surface
// (C9) to HTTP. It is intentionally thin: every handler decodes a request,
// calls one ControlSurface method, and maps the result (or *orchestrator.Error)
// to a response. No business logic lives here.
package pipelinehttp

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/invopop/jsonschema"

	"github.com/flowforge/orchestrator/pkg/orchestrator"
)

// WorkspaceHeader is the header callers use to scope every request to a
// workspace. There is no authentication at this boundary — the spec's
// auth/workspace guards are external collaborators this module does not
// implement.
const WorkspaceHeader = "X-Workspace-Id"

// Server wires a chi router to a ControlSurface.
type Server struct {
	cs     *orchestrator.ControlSurface
	router chi.Router
}

// NewServer builds a Server and registers every route named in SPEC_FULL.md
// §4.14.
func NewServer(cs *orchestrator.ControlSurface) *Server {
	s := &Server{cs: cs, router: chi.NewRouter()}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Logger)

	s.router.Post("/pipelines", s.handleStartPipeline)
	s.router.Get("/pipelines/{projectId}", s.handleGetState)
	s.router.Post("/pipelines/{projectId}/pause", s.handlePausePipeline)
	s.router.Post("/pipelines/{projectId}/resume", s.handleResumePipeline)
	s.router.Get("/pipelines/{projectId}/history", s.handleGetHistory)
	s.router.Post("/pipelines/{projectId}/phase-complete", s.handlePhaseComplete)
	s.router.Post("/failures", s.handleReportFailure)
	s.router.Post("/failures/{failureId}/override", s.handleManualOverride)
	s.router.Get("/pipelines/{projectId}/recovery", s.handleGetRecoveryStatus)
	s.router.Get("/schema/{dto}", s.handleGetDTOSchema)

	return s
}

// dtoSchemas maps a schema name (as it appears in the route) to the request
// DTO it describes. Kept separate from the route table itself so adding a
// new request body only requires one extra entry here.
var dtoSchemas = map[string]any{
	"start-pipeline":  startPipelineRequest{},
	"report-failure":  reportFailureRequest{},
	"manual-override": manualOverrideRequest{},
	"phase-complete":  phaseCompleteRequest{},
}

// handleGetDTOSchema reflects one of this server's request bodies into a
// JSON Schema document, the way the teacher's handleGetSchema does for its
// config struct: generated on demand so it can never drift from the Go
// types the handlers actually decode into.
func (s *Server) handleGetDTOSchema(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "dto")
	dto, ok := dtoSchemas[name]
	if !ok {
		writeError(w, orchestrator.ErrNotFound("no schema named %q", name))
		return
	}

	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(dto)
	schema.Title = name
	schema.Version = "http://json-schema.org/draft-07/schema#"

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(schema); err != nil {
		writeError(w, orchestrator.ErrInternal(err, "failed to encode schema"))
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func workspaceID(r *http.Request) string {
	return r.Header.Get(WorkspaceHeader)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps an orchestrator.Error's Kind to an HTTP status class, per
// SPEC_FULL.md §7 ("C9 maps ErrorKind to HTTP-style status classes at the
// pkg/pipelinehttp boundary only").
func writeError(w http.ResponseWriter, err error) {
	kind := orchestrator.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case orchestrator.KindNotFound:
		status = http.StatusNotFound
	case orchestrator.KindConflict, orchestrator.KindInvalidTransition:
		status = http.StatusConflict
	case orchestrator.KindBadRequest:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type startPipelineRequest struct {
	ProjectID   string `json:"projectId"`
	TriggeredBy string `json:"triggeredBy"`
	StoryID     string `json:"storyId"`
	MaxRetries  int    `json:"maxRetries"`
}

func (s *Server) handleStartPipeline(w http.ResponseWriter, r *http.Request) {
	var req startPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, orchestrator.ErrBadRequest("invalid request body: %v", err))
		return
	}

	result, err := s.cs.StartPipeline(r.Context(), workspaceID(r), req.ProjectID, orchestrator.StartOptions{
		TriggeredBy: req.TriggeredBy,
		StoryID:     req.StoryID,
		MaxRetries:  req.MaxRetries,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	pctx, err := s.cs.GetState(r.Context(), workspaceID(r), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if pctx == nil {
		writeError(w, orchestrator.ErrNotFound("no active pipeline for project %s", projectID))
		return
	}
	writeJSON(w, http.StatusOK, pctx)
}

type triggeredByRequest struct {
	TriggeredBy string `json:"triggeredBy"`
}

func (s *Server) handlePausePipeline(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	var req triggeredByRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	result, err := s.cs.PausePipeline(r.Context(), workspaceID(r), projectID, req.TriggeredBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleResumePipeline(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	var req triggeredByRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	result, err := s.cs.ResumePipeline(r.Context(), workspaceID(r), projectID, req.TriggeredBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")

	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	entries, err := s.cs.GetHistory(r.Context(), workspaceID(r), projectID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type phaseCompleteRequest struct {
	Phase  orchestrator.Phase `json:"phase"`
	Rework bool               `json:"rework"`
	Output map[string]any     `json:"output"`
}

func (s *Server) handlePhaseComplete(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	var req phaseCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, orchestrator.ErrBadRequest("invalid request body: %v", err))
		return
	}

	pctx, err := s.cs.OnPhaseComplete(r.Context(), workspaceID(r), projectID, req.Phase, orchestrator.PhaseCompleteResult{
		Rework: req.Rework,
		Output: req.Output,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pctx)
}

type reportFailureRequest struct {
	ProjectID   string                   `json:"projectId"`
	FailureType orchestrator.FailureType `json:"failureType"`
	Reason      string                   `json:"reason"`
	Details     map[string]any           `json:"details"`
}

func (s *Server) handleReportFailure(w http.ResponseWriter, r *http.Request) {
	var req reportFailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, orchestrator.ErrBadRequest("invalid request body: %v", err))
		return
	}

	result, err := s.cs.ReportFailure(r.Context(), workspaceID(r), orchestrator.ReportFailureInput{
		ProjectID:   req.ProjectID,
		FailureType: req.FailureType,
		Reason:      req.Reason,
		Details:     req.Details,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type manualOverrideRequest struct {
	ProjectID   string                      `json:"projectId"`
	Action      orchestrator.OverrideAction `json:"action"`
	AgentType   string                      `json:"agentType"`
	Guidance    string                      `json:"guidance"`
	TriggeredBy string                      `json:"triggeredBy"`
}

func (s *Server) handleManualOverride(w http.ResponseWriter, r *http.Request) {
	var req manualOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, orchestrator.ErrBadRequest("invalid request body: %v", err))
		return
	}

	result, err := s.cs.HandleManualOverride(r.Context(), workspaceID(r), orchestrator.OverrideInput{
		FailureID:   chi.URLParam(r, "failureId"),
		ProjectID:   req.ProjectID,
		Action:      req.Action,
		AgentType:   req.AgentType,
		Guidance:    req.Guidance,
		TriggeredBy: req.TriggeredBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetRecoveryStatus(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	status, err := s.cs.GetRecoveryStatus(r.Context(), workspaceID(r), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
