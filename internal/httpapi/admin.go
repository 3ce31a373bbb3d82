package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/opsboard/flowmirror/internal/store"
)

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request, claims sessionClaims) {
	body, ok := decodeValidated(w, r, userCreateSchema)
	if !ok {
		return
	}
	email := strings.ToLower(trimmedField(body, "email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "Email is required")
		return
	}
	if !s.domainAllowed(email) {
		writeError(w, http.StatusBadRequest, "bad_request", "Only @"+s.cfg.AllowedEmailDomain+" email addresses are allowed")
		return
	}
	ctx := r.Context()
	if _, err := s.store.GetProfileByEmail(ctx, email); err == nil {
		writeError(w, http.StatusBadRequest, "duplicate", "User with this email already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeStoreError(w, err)
		return
	}

	profile := store.Profile{
		ID:       uuid.NewString(),
		Email:    email,
		Role:     store.RoleUser,
		PassHash: uuid.NewString(),
	}
	if err := s.store.CreateProfile(ctx, &profile); err != nil {
		writeStoreError(w, err)
		return
	}
	s.appendActionLog(ctx, profile.ID, "User created by superadmin: "+email)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":    profile.ID,
		"email": profile.Email,
		"role":  profile.Role,
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, _ sessionClaims) {
	profiles, err := s.store.ListProfiles(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	response := make([]map[string]string, 0, len(profiles))
	for _, profile := range profiles {
		response = append(response, map[string]string{
			"id":    profile.ID,
			"email": profile.Email,
			"role":  profile.Role,
		})
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request, claims sessionClaims) {
	body, ok := decodeValidated(w, r, roleChangeSchema)
	if !ok {
		return
	}
	userID := trimmedField(body, "user_id")
	role := trimmedField(body, "role")
	if _, err := uuid.Parse(userID); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid user_id format")
		return
	}
	// A superadmin cannot lock themselves out by self-downgrading.
	if userID == claims.UserID && role == store.RoleUser {
		writeError(w, http.StatusBadRequest, "bad_request", "You cannot downgrade yourself from superadmin to user")
		return
	}
	if err := s.store.SetProfileRole(r.Context(), userID, role); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleActionLogs(w http.ResponseWriter, r *http.Request, _ sessionClaims) {
	logs, err := s.store.ListActionLogs(r.Context(), 500)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	response := make([]map[string]string, 0, len(logs))
	for _, entry := range logs {
		response = append(response, map[string]string{
			"id":        entry.ID,
			"user_id":   entry.UserID,
			"action":    entry.Action,
			"timestamp": entry.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleListAccess(w http.ResponseWriter, r *http.Request, _ sessionClaims) {
	grants, err := s.store.ListAccessGrants(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	response := make([]map[string]string, 0, len(grants))
	for _, grant := range grants {
		response = append(response, map[string]string{
			"user_id":     grant.UserID,
			"workflow_id": grant.WorkflowID,
		})
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleGrantAccess(w http.ResponseWriter, r *http.Request, _ sessionClaims) {
	body, ok := decodeValidated(w, r, accessChangeSchema)
	if !ok {
		return
	}
	userID, ok := s.parsedUserID(w, body)
	if !ok {
		return
	}
	if _, _, err := s.store.GrantAccess(r.Context(), userID, []string{trimmedField(body, "workflow_id")}); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGrantAccessBulk(w http.ResponseWriter, r *http.Request, _ sessionClaims) {
	body, ok := decodeValidated(w, r, accessBulkSchema)
	if !ok {
		return
	}
	userID, ok := s.parsedUserID(w, body)
	if !ok {
		return
	}
	workflowIDs := uniqueWorkflowIDs(body["workflow_ids"])
	if len(workflowIDs) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "workflow_ids is empty")
		return
	}
	granted, skipped, err := s.store.GrantAccess(r.Context(), userID, workflowIDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"granted":         granted,
		"skipped":         skipped,
		"total_requested": len(workflowIDs),
	})
}

func (s *Server) handleRevokeAccess(w http.ResponseWriter, r *http.Request, _ sessionClaims) {
	body, ok := decodeValidated(w, r, accessChangeSchema)
	if !ok {
		return
	}
	userID, ok := s.parsedUserID(w, body)
	if !ok {
		return
	}
	if _, err := s.store.RevokeAccess(r.Context(), userID, []string{trimmedField(body, "workflow_id")}); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRevokeAccessBulk(w http.ResponseWriter, r *http.Request, _ sessionClaims) {
	body, ok := decodeValidated(w, r, accessBulkSchema)
	if !ok {
		return
	}
	userID, ok := s.parsedUserID(w, body)
	if !ok {
		return
	}
	workflowIDs := uniqueWorkflowIDs(body["workflow_ids"])
	if len(workflowIDs) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "workflow_ids is empty")
		return
	}
	revoked, err := s.store.RevokeAccess(r.Context(), userID, workflowIDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"revoked":         revoked,
		"total_requested": len(workflowIDs),
	})
}

// --- instances ---

type instanceResponse struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	BaseURL    string `json:"base_url"`
	Active     bool   `json:"active"`
}

func instanceToResponse(inst store.Instance) instanceResponse {
	return instanceResponse{
		ID:         inst.ID,
		Identifier: inst.Identifier,
		Name:       inst.Name,
		BaseURL:    inst.BaseURL,
		Active:     inst.Active,
	}
}

func (s *Server) handleAdminListInstances(w http.ResponseWriter, r *http.Request, _ sessionClaims) {
	instances, err := s.store.ListInstances(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	response := make([]instanceResponse, 0, len(instances))
	for _, inst := range instances {
		response = append(response, instanceToResponse(inst))
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request, claims sessionClaims) {
	body, ok := decodeValidated(w, r, instanceCreateSchema)
	if !ok {
		return
	}
	inst := store.Instance{
		ID:         uuid.NewString(),
		Identifier: trimmedField(body, "identifier"),
		Name:       trimmedField(body, "name"),
		BaseURL:    trimmedField(body, "base_url"),
		APIKey:     trimmedField(body, "api_key"),
		Active:     true,
	}
	if active, present := body["active"].(bool); present {
		inst.Active = active
	}
	if err := s.store.CreateInstance(r.Context(), &inst); err != nil {
		writeStoreError(w, err)
		return
	}
	s.appendActionLog(r.Context(), claims.UserID, "Instance created: "+inst.Name)
	writeJSON(w, http.StatusOK, instanceToResponse(inst))
}

func (s *Server) handleUpdateInstance(w http.ResponseWriter, r *http.Request, claims sessionClaims) {
	body, ok := decodeValidated(w, r, instanceUpdateSchema)
	if !ok {
		return
	}
	ctx := r.Context()
	inst, err := s.store.GetInstance(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if _, present := body["identifier"]; present {
		inst.Identifier = trimmedField(body, "identifier")
	}
	if _, present := body["name"]; present {
		inst.Name = trimmedField(body, "name")
	}
	if _, present := body["base_url"]; present {
		inst.BaseURL = trimmedField(body, "base_url")
	}
	if _, present := body["api_key"]; present {
		inst.APIKey = trimmedField(body, "api_key")
	}
	if active, present := body["active"].(bool); present {
		inst.Active = active
	}
	if err := s.store.UpdateInstance(ctx, &inst); err != nil {
		writeStoreError(w, err)
		return
	}
	s.appendActionLog(ctx, claims.UserID, "Instance updated: "+inst.Name)
	writeJSON(w, http.StatusOK, instanceToResponse(inst))
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request, claims sessionClaims) {
	ctx := r.Context()
	if err := s.store.DeleteInstance(ctx, mux.Vars(r)["id"]); err != nil {
		writeStoreError(w, err)
		return
	}
	s.appendActionLog(ctx, claims.UserID, "Instance deleted: "+mux.Vars(r)["id"])
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) parsedUserID(w http.ResponseWriter, body map[string]any) (string, bool) {
	userID := trimmedField(body, "user_id")
	if _, err := uuid.Parse(userID); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid user_id format")
		return "", false
	}
	return userID, true
}

func uniqueWorkflowIDs(raw any) []string {
	items, _ := raw.([]any)
	seen := make(map[string]struct{}, len(items))
	var ids []string
	for _, item := range items {
		id, _ := item.(string)
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
