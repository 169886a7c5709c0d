package api

import (
	"net/http"

	"github.com/artifactkeeper/borgcore/internal/domain"
)

// handleSetRepoPriority sets a repository's default replication priority,
// the repo_default half of override ?? repo_default.
func (s *Server) handleSetRepoPriority(w http.ResponseWriter, r *http.Request) {
	repoID := r.PathValue("id")
	var req setPriorityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	priority := domain.Priority(req.Priority)
	if !priority.Valid() {
		writeError(w, badPriority())
		return
	}
	ctx := r.Context()
	if err := s.Repos.SetDefaultPriority(ctx, repoID, priority); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"repo_id": repoID, "priority": priority.String()})
}

// handleAssignRepo binds a repository to an edge under a sync policy,
// optionally overriding the repo's default priority.
func (s *Server) handleAssignRepo(w http.ResponseWriter, r *http.Request) {
	edgeID := r.PathValue("id")
	var req assignRepoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var override *domain.Priority
	if req.PriorityOverride != nil {
		p := domain.Priority(*req.PriorityOverride)
		if !p.Valid() {
			writeError(w, badPriority())
			return
		}
		override = &p
	}
	assignment := domain.RepoAssignment{
		EdgeID:           edgeID,
		RepoID:           req.RepoID,
		SyncEnabled:      req.SyncEnabled,
		PriorityOverride: override,
		Schedule:         req.Schedule,
	}
	ctx := r.Context()
	if err := s.Repos.PutAssignment(ctx, assignment); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignment)
}
