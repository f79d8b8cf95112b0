/*
handlers.go - HTTP API handlers for the tabulation engine

PURPOSE:
  Exposes the tabulation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Tally sheets:
    POST   /api/tally-sheets                      Create a tally sheet
    GET    /api/tally-sheets/{id}                 Sheet with derived status
    POST   /api/tally-sheets/{id}/versions        Create a version
    POST   /api/tally-sheets/{id}/versions/empty  Create an empty version
    GET    /api/tally-sheets/{id}/versions/{versionId}         Content rows
    GET    /api/tally-sheets/{id}/versions/{versionId}/html    Rendered form
    GET    /api/tally-sheets/{id}/versions/{versionId}/letter  Release letter

  Workflow:
    PUT    /api/tally-sheets/{id}/latest    Point at newest draft
    PUT    /api/tally-sheets/{id}/submit    Record data-entry submission
    PUT    /api/tally-sheets/{id}/lock      Verify (lock) a version
    PUT    /api/tally-sheets/{id}/unlock    Revert verification
    PUT    /api/tally-sheets/{id}/notify    Mark locked version notified
    PUT    /api/tally-sheets/{id}/release   Release to the public
    POST   /api/tally-sheets/{id}/proofs    Attach submission proof

  Tree:
    GET    /api/tally-sheets/{id}/children  Declared child sheets
    POST   /api/tally-sheets/{id}/children  Declare an aggregation edge

  Reports:
    GET    /api/tally-sheets/{id}/status-report

  Templates:
    GET    /api/templates/{code}            Template definition
    POST   /api/templates                   Register templates (catalog JSON)

ACTOR:
  Every mutating request carries the acting user in the X-Actor header.
  There is no ambient current user; a missing header is a 400.

ERROR HANDLING:
  Domain errors map to HTTP status by category:
  - 400: Validation errors, invalid input, version/sheet mismatch
  - 403: Authorization errors (capability, submitter-cannot-lock)
  - 404: Sheet, version, or template not found
  - 422: Workflow ordering violations
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openelect/results-tabulation/catalog"
	"github.com/openelect/results-tabulation/tabulation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *tabulation.Engine
	Renderers *tabulation.RendererRegistry
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *tabulation.Engine) *Handler {
	return &Handler{
		Engine:    engine,
		Renderers: tabulation.NewRendererRegistry(),
	}
}

// actor extracts the acting user from the X-Actor header.
func actor(r *http.Request) (tabulation.UserID, bool) {
	a := r.Header.Get("X-Actor")
	return tabulation.UserID(a), a != ""
}

// =============================================================================
// TALLY SHEET HANDLERS
// =============================================================================

// CreateTallySheet registers a new sheet.
// POST /api/tally-sheets
func (h *Handler) CreateTallySheet(w http.ResponseWriter, r *http.Request) {
	var req CreateTallySheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TemplateID == "" || req.ElectionID == "" || req.AreaID == "" {
		writeError(w, http.StatusBadRequest, "template_id, election_id, and area_id are required", nil)
		return
	}

	sheet, err := h.Engine.CreateTallySheet(r.Context(),
		tabulation.TemplateID(req.TemplateID),
		tabulation.ElectionID(req.ElectionID),
		tabulation.AreaID(req.AreaID),
		req.Metadata)
	if err != nil {
		writeDomainError(w, "Failed to create tally sheet", err)
		return
	}

	h.writeSheet(w, r, http.StatusCreated, sheet)
}

// GetTallySheet returns a sheet with its derived status.
// GET /api/tally-sheets/{id}
func (h *Handler) GetTallySheet(w http.ResponseWriter, r *http.Request) {
	id := tabulation.TallySheetID(chi.URLParam(r, "id"))

	sheet, err := h.Engine.TallySheet(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get tally sheet", err)
		return
	}

	h.writeSheet(w, r, http.StatusOK, sheet)
}

func (h *Handler) writeSheet(w http.ResponseWriter, r *http.Request, status int, sheet *tabulation.TallySheet) {
	tpl, err := h.Engine.Store.Template(r.Context(), sheet.TemplateID)
	if err != nil {
		writeDomainError(w, "Failed to load template", err)
		return
	}
	writeJSON(w, status, toTallySheetDTO(sheet, tabulation.ReportStatus(sheet, tpl)))
}

// =============================================================================
// VERSION HANDLERS
// =============================================================================

// CreateVersion creates an immutable version from caller content. Derived
// rows are computed from the children's locked versions.
// POST /api/tally-sheets/{id}/versions
func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	id := tabulation.TallySheetID(chi.URLParam(r, "id"))
	user, ok := actor(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "X-Actor header is required", nil)
		return
	}

	var req CreateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	content := make([]tabulation.ContentRow, 0, len(req.Rows))
	for _, dto := range req.Rows {
		row, err := toContentRow(dto)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid content row", err)
			return
		}
		content = append(content, row)
	}

	var version *tabulation.Version
	var err error
	if req.SetLatest {
		version, err = h.Engine.CreateLatestVersion(r.Context(), id, content, user)
	} else {
		version, err = h.Engine.CreateVersion(r.Context(), id, content, user)
	}
	if err != nil {
		writeDomainError(w, "Failed to create version", err)
		return
	}

	writeJSON(w, http.StatusCreated, toVersionDTO(version))
}

// CreateEmptyVersion creates a version with no caller content. Derived rows
// are still computed.
// POST /api/tally-sheets/{id}/versions/empty
func (h *Handler) CreateEmptyVersion(w http.ResponseWriter, r *http.Request) {
	id := tabulation.TallySheetID(chi.URLParam(r, "id"))
	user, ok := actor(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "X-Actor header is required", nil)
		return
	}

	version, err := h.Engine.CreateEmptyVersion(r.Context(), id, user)
	if err != nil {
		writeDomainError(w, "Failed to create version", err)
		return
	}

	writeJSON(w, http.StatusCreated, toVersionDTO(version))
}

// GetVersion returns a version's ordered rows.
// GET /api/tally-sheets/{id}/versions/{versionId}
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.loadVersion(r)
	if err != nil {
		writeDomainError(w, "Failed to get version", err)
		return
	}
	writeJSON(w, http.StatusOK, toVersionDTO(version))
}

// RenderVersion returns the version rendered as an HTML form.
// GET /api/tally-sheets/{id}/versions/{versionId}/html
func (h *Handler) RenderVersion(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, func(renderer tabulation.Renderer, sheet *tabulation.TallySheet, version *tabulation.Version) ([]byte, error) {
		return renderer.Render(sheet, version)
	})
}

// RenderVersionLetter returns the version rendered as a release letter.
// GET /api/tally-sheets/{id}/versions/{versionId}/letter
func (h *Handler) RenderVersionLetter(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, func(renderer tabulation.Renderer, sheet *tabulation.TallySheet, version *tabulation.Version) ([]byte, error) {
		return renderer.RenderLetter(sheet, version)
	})
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request,
	fn func(tabulation.Renderer, *tabulation.TallySheet, *tabulation.Version) ([]byte, error)) {

	id := tabulation.TallySheetID(chi.URLParam(r, "id"))
	sheet, err := h.Engine.TallySheet(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get tally sheet", err)
		return
	}
	version, err := h.loadVersion(r)
	if err != nil {
		writeDomainError(w, "Failed to get version", err)
		return
	}
	tpl, err := h.Engine.Store.Template(r.Context(), sheet.TemplateID)
	if err != nil {
		writeDomainError(w, "Failed to load template", err)
		return
	}

	body, err := fn(h.Renderers.For(tpl.Code), sheet, version)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render version", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// loadVersion fetches the version and verifies it belongs to the sheet in
// the path.
func (h *Handler) loadVersion(r *http.Request) (*tabulation.Version, error) {
	id := tabulation.TallySheetID(chi.URLParam(r, "id"))
	versionID := tabulation.VersionID(chi.URLParam(r, "versionId"))

	version, err := h.Engine.Store.Version(r.Context(), versionID)
	if err != nil {
		return nil, err
	}
	if version.TallySheetID != id {
		return nil, tabulation.ErrVersionMismatch
	}
	return version, nil
}

// =============================================================================
// WORKFLOW HANDLERS
// =============================================================================

// SetLatest points the sheet's latest pointer.
// PUT /api/tally-sheets/{id}/latest
func (h *Handler) SetLatest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "update", func(id tabulation.TallySheetID, versionID *tabulation.VersionID, user tabulation.UserID) error {
		return h.Engine.SetLatestVersion(r.Context(), id, versionID, user)
	})
}

// Submit records the data-entry submission.
// PUT /api/tally-sheets/{id}/submit
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "submit", func(id tabulation.TallySheetID, versionID *tabulation.VersionID, user tabulation.UserID) error {
		return h.Engine.SetSubmittedVersion(r.Context(), id, versionID, user)
	})
}

// Lock verifies a version. The locker must differ from the submitter.
// PUT /api/tally-sheets/{id}/lock
func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "lock", func(id tabulation.TallySheetID, versionID *tabulation.VersionID, user tabulation.UserID) error {
		if versionID == nil {
			return &tabulation.WorkflowError{TallySheetID: id, Transition: "lock", Reason: "version_id is required; use unlock to revert"}
		}
		return h.Engine.SetLockedVersion(r.Context(), id, versionID, user)
	})
}

// Unlock reverts verification. Requires the unlock capability.
// PUT /api/tally-sheets/{id}/unlock
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	id := tabulation.TallySheetID(chi.URLParam(r, "id"))
	user, ok := actor(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "X-Actor header is required", nil)
		return
	}
	if err := h.Engine.SetLockedVersion(r.Context(), id, nil, user); err != nil {
		writeDomainError(w, "Failed to unlock tally sheet", err)
		return
	}
	h.respondSheet(w, r, id)
}

// Notify marks the locked version as notified.
// PUT /api/tally-sheets/{id}/notify
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	h.pointerOnly(w, r, h.Engine.SetNotifiedVersion)
}

// Release releases the notified version to the public.
// PUT /api/tally-sheets/{id}/release
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	h.pointerOnly(w, r, h.Engine.SetReleasedVersion)
}

// AttachProof records an uploaded proof document id.
// POST /api/tally-sheets/{id}/proofs
func (h *Handler) AttachProof(w http.ResponseWriter, r *http.Request) {
	id := tabulation.TallySheetID(chi.URLParam(r, "id"))
	user, ok := actor(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "X-Actor header is required", nil)
		return
	}

	var req ProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "document_id is required", nil)
		return
	}

	if err := h.Engine.AttachSubmissionProof(r.Context(), id, req.DocumentID, user); err != nil {
		writeDomainError(w, "Failed to attach proof", err)
		return
	}
	h.respondSheet(w, r, id)
}

// transition handles the pointer transitions that take a version id in the
// request body.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, name string,
	fn func(tabulation.TallySheetID, *tabulation.VersionID, tabulation.UserID) error) {

	id := tabulation.TallySheetID(chi.URLParam(r, "id"))
	user, ok := actor(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "X-Actor header is required", nil)
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := fn(id, idValue[tabulation.VersionID](req.VersionID), user); err != nil {
		writeDomainError(w, "Failed to "+name+" tally sheet", err)
		return
	}
	h.respondSheet(w, r, id)
}

// pointerOnly handles notify/release, which target the already-locked or
// already-notified version and take no body.
func (h *Handler) pointerOnly(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id tabulation.TallySheetID, actor tabulation.UserID) error) {

	id := tabulation.TallySheetID(chi.URLParam(r, "id"))
	user, ok := actor(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "X-Actor header is required", nil)
		return
	}
	if err := fn(r.Context(), id, user); err != nil {
		writeDomainError(w, "Failed to update tally sheet", err)
		return
	}
	h.respondSheet(w, r, id)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain error categories to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case tabulation.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case tabulation.IsAuthorization(err):
		writeError(w, http.StatusForbidden, message, err)
	case tabulation.IsWorkflow(err):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case errors.Is(err, tabulation.ErrVersionMismatch):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

// respondSheet re-reads the sheet and writes it with its fresh status.
func (h *Handler) respondSheet(w http.ResponseWriter, r *http.Request, id tabulation.TallySheetID) {
	sheet, err := h.Engine.TallySheet(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get tally sheet", err)
		return
	}
	h.writeSheet(w, r, http.StatusOK, sheet)
}

// =============================================================================
// TREE HANDLERS
// =============================================================================

// ListChildren returns the declared child sheet ids.
// GET /api/tally-sheets/{id}/children
func (h *Handler) ListChildren(w http.ResponseWriter, r *http.Request) {
	id := tabulation.TallySheetID(chi.URLParam(r, "id"))

	children, err := h.Engine.Children(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list children", err)
		return
	}

	out := make([]string, len(children))
	for i, child := range children {
		out[i] = string(child)
	}
	writeJSON(w, http.StatusOK, out)
}

// AddChild declares an aggregation edge. Idempotent; rejects cycles.
// POST /api/tally-sheets/{id}/children
func (h *Handler) AddChild(w http.ResponseWriter, r *http.Request) {
	id := tabulation.TallySheetID(chi.URLParam(r, "id"))

	var req AddChildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ChildID == "" {
		writeError(w, http.StatusBadRequest, "child_id is required", nil)
		return
	}

	if err := h.Engine.AddChild(r.Context(), id, tabulation.TallySheetID(req.ChildID)); err != nil {
		writeDomainError(w, "Failed to add child", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// STATUS REPORT HANDLERS
// =============================================================================

// GetStatusReport returns the sheet's derived status report.
// GET /api/tally-sheets/{id}/status-report
func (h *Handler) GetStatusReport(w http.ResponseWriter, r *http.Request) {
	id := tabulation.TallySheetID(chi.URLParam(r, "id"))

	sheet, err := h.Engine.TallySheet(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get tally sheet", err)
		return
	}
	if sheet.StatusReportID == nil {
		writeError(w, http.StatusNotFound, "Tally sheet has no status report yet", nil)
		return
	}

	report, err := h.Engine.Store.StatusReport(r.Context(), *sheet.StatusReportID)
	if err != nil {
		writeDomainError(w, "Failed to get status report", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusReportDTO(report))
}

// =============================================================================
// TEMPLATE HANDLERS
// =============================================================================

// GetTemplate returns a template definition by code.
// GET /api/templates/{code}
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	tpl, err := h.Engine.Store.TemplateByCode(r.Context(), code)
	if err != nil {
		writeDomainError(w, "Failed to get template", err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// CreateTemplates registers templates from a catalog JSON document.
// POST /api/templates
func (h *Handler) CreateTemplates(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	templates, err := catalog.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid template catalog", err)
		return
	}

	for _, tpl := range templates {
		if err := h.Engine.Store.CreateTemplate(r.Context(), tpl); err != nil {
			writeDomainError(w, "Failed to register template", err)
			return
		}
	}
	w.WriteHeader(http.StatusCreated)
}
