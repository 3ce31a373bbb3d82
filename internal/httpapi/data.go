package httpapi

import (
	"net/http"
	"time"

	"github.com/opsboard/flowmirror/internal/store"
)

type workflowResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	UpdatedAt string `json:"updated_at"`
}

type executionResponse struct {
	ID         string  `json:"id"`
	WorkflowID string  `json:"workflow_id"`
	Status     string  `json:"status"`
	Finished   bool    `json:"finished"`
	StartedAt  *string `json:"started_at"`
	StoppedAt  *string `json:"stopped_at"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, claims sessionClaims) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Welcome " + claims.Email,
		"workflows": []any{},
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, claims sessionClaims) {
	// Prefer stored values; a deleted profile falls back to the session
	// claims so the frontend still renders something.
	profile, err := s.store.GetProfile(r.Context(), claims.UserID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"id":    claims.UserID,
			"email": claims.Email,
			"role":  claims.Role,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":    profile.ID,
		"email": profile.Email,
		"role":  profile.Role,
	})
}

func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request, claims sessionClaims) {
	ctx := r.Context()
	workflows, ok := func() ([]store.Workflow, bool) {
		if s.isSuperadmin(r, claims) {
			list, err := s.store.ListWorkflows(ctx)
			if err != nil {
				writeStoreError(w, err)
				return nil, false
			}
			return list, true
		}
		allowed, err := s.store.ListAccessibleWorkflowIDs(ctx, claims.UserID)
		if err != nil {
			writeStoreError(w, err)
			return nil, false
		}
		if len(allowed) == 0 {
			return nil, true
		}
		list, err := s.store.ListWorkflowsByIDs(ctx, allowed)
		if err != nil {
			writeStoreError(w, err)
			return nil, false
		}
		return list, true
	}()
	if !ok {
		return
	}
	response := make([]workflowResponse, 0, len(workflows))
	for _, wf := range workflows {
		response = append(response, workflowResponse{
			ID:        wf.ID,
			Name:      wf.Name,
			Active:    wf.Active,
			UpdatedAt: wf.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request, claims sessionClaims) {
	ctx := r.Context()
	executions, ok := func() ([]store.Execution, bool) {
		if s.isSuperadmin(r, claims) {
			list, err := s.store.ListExecutions(ctx)
			if err != nil {
				writeStoreError(w, err)
				return nil, false
			}
			return list, true
		}
		allowed, err := s.store.ListAccessibleWorkflowIDs(ctx, claims.UserID)
		if err != nil {
			writeStoreError(w, err)
			return nil, false
		}
		if len(allowed) == 0 {
			return nil, true
		}
		list, err := s.store.ListExecutionsByWorkflowIDs(ctx, allowed)
		if err != nil {
			writeStoreError(w, err)
			return nil, false
		}
		return list, true
	}()
	if !ok {
		return
	}
	response := make([]executionResponse, 0, len(executions))
	for _, ex := range executions {
		response = append(response, executionResponse{
			ID:         ex.ID,
			WorkflowID: ex.WorkflowID,
			Status:     ex.Status,
			Finished:   ex.Finished,
			StartedAt:  formatOptionalTime(ex.StartedAt),
			StoppedAt:  formatOptionalTime(ex.StoppedAt),
		})
	}
	writeJSON(w, http.StatusOK, response)
}

// handleSources exposes the resolved poll list (minus credentials) so the
// frontend can label records by source.
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request, _ sessionClaims) {
	sources := s.sources.ListActiveSources(r.Context())
	type sourceResponse struct {
		Prefix  string `json:"prefix"`
		Name    string `json:"name"`
		BaseURL string `json:"base_url"`
	}
	response := make([]sourceResponse, 0, len(sources))
	for _, src := range sources {
		response = append(response, sourceResponse{Prefix: src.Prefix, Name: src.Name, BaseURL: src.BaseURL})
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) isSuperadmin(r *http.Request, claims sessionClaims) bool {
	profile, err := s.store.GetProfile(r.Context(), claims.UserID)
	if err != nil {
		return false
	}
	return profile.Role == store.RoleSuperadmin
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}
