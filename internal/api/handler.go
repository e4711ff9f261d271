package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-loyalty/kestrel/internal/authoring"
	"github.com/opensource-loyalty/kestrel/internal/domain"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *authoring.Service
	repo    domain.Repository
	cache   domain.Cache
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc *authoring.Service, repo domain.Repository, cache domain.Cache, version string) *Handler {
	return &Handler{
		svc:     svc,
		repo:    repo,
		cache:   cache,
		version: version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// CreateTenantRequest is the request body for POST /tenants.
type CreateTenantRequest struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CreateTenant registers a tenant.
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id must be a positive integer",
		})
		return
	}

	tenant := &domain.Tenant{ID: req.ID, Name: req.Name}
	if err := h.svc.CreateTenant(r.Context(), tenant); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("tenant created", "tenant_id", tenant.ID, "name", tenant.Name)
	writeJSON(w, http.StatusCreated, tenant)
}

// CreateProgramRequest is the request body for POST /programs.
type CreateProgramRequest struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	MaxActiveRules int    `json:"maxActiveRules,omitempty"`
}

// CreateProgram registers a loyalty program under the request tenant.
func (h *Handler) CreateProgram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateProgramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id must be a positive integer",
		})
		return
	}

	program := &domain.Program{
		ID:             req.ID,
		TenantID:       tenantID,
		Name:           req.Name,
		MaxActiveRules: req.MaxActiveRules,
	}
	if err := h.svc.CreateProgram(ctx, program); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("program created", "tenant_id", tenantID, "program_id", program.ID)
	writeJSON(w, http.StatusCreated, program)
}

// GetProgram retrieves a program by ID.
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	programID, ok := pathID(w, r, "programID")
	if !ok {
		return
	}

	program, err := h.svc.GetProgram(ctx, tenantID, programID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, program)
}

// CreateRule creates version 1 of a rule under a program.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	programID, ok := pathID(w, r, "programID")
	if !ok {
		return
	}

	var rule domain.RewardRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	rule.TenantID = tenantID
	rule.ProgramID = programID

	created, err := h.svc.CreateRule(ctx, &rule)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// ListRules returns the latest version of every rule in a program.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	programID, ok := pathID(w, r, "programID")
	if !ok {
		return
	}

	list, err := h.svc.ListRules(ctx, tenantID, programID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": list,
		"count": len(list),
	})
}

// GetRule retrieves a rule. With ?version=N a specific version is
// returned instead of the latest.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	ruleID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if v := r.URL.Query().Get("version"); v != "" {
		version, err := strconv.Atoi(v)
		if err != nil || version <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "version must be a positive integer",
			})
			return
		}
		rule, err := h.svc.GetRuleVersion(ctx, tenantID, ruleID, version)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
		return
	}

	rule, err := h.svc.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// UpdateRule applies a patch as a new version of the rule.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	ruleID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var patch domain.RulePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	updated, err := h.svc.UpdateRule(ctx, tenantID, ruleID, &patch)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// DeleteRule removes every version of a non-live rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	ruleID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteRule(ctx, tenantID, ruleID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListRuleVersions returns the full version history, newest first.
func (h *Handler) ListRuleVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	ruleID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	versions, err := h.svc.ListRuleVersions(ctx, tenantID, ruleID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"versions": versions,
		"count":    len(versions),
	})
}

// ActivateRule flips the latest version to active in place.
func (h *Handler) ActivateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	ruleID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	rule, err := h.svc.ActivateRule(ctx, tenantID, ruleID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// DeactivateRule flips the latest version to inactive.
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	ruleID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	rule, err := h.svc.DeactivateRule(ctx, tenantID, ruleID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// DryRun evaluates a candidate event against a program's live rules
// without persisting anything.
func (h *Handler) DryRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	programID, ok := pathID(w, r, "programID")
	if !ok {
		return
	}

	var ev domain.EventContext
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.svc.DryRun(ctx, tenantID, programID, &ev, traceID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// pathID parses a positive integer URL parameter. On failure it writes
// a 400 response and returns false.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": name + " must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		writeJSON(w, status, map[string]string{
			"error": "internal server error",
		})
		return
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
