package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/intake-cli/internal/engine"
	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/resilience"
)

// turnRequest is the turn-advancement wire shape. Exactly one of text,
// option_id, artifact_reference, or checkpoint_response must be set.
type turnRequest struct {
	Text               string              `json:"text" validate:"omitempty,max=4000"`
	OptionID           string              `json:"option_id" validate:"omitempty,max=200"`
	ArtifactReference  string              `json:"artifact_reference" validate:"omitempty,max=2000"`
	ForceRefresh       bool                `json:"force_refresh"`
	CheckpointResponse *checkpointResponse `json:"checkpoint_response"`
}

// checkpointResponse resolves the pending verification checkpoint with
// an explicit action, carrying correction text for reject and partial.
type checkpointResponse struct {
	Action     string `json:"action" validate:"required,oneof=confirm reject partial skip"`
	Correction string `json:"correction" validate:"omitempty,max=4000"`
}

type commitRequest struct {
	Mode string `json:"mode" validate:"omitempty,oneof=fast strengthen"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	projectID, cycle, err := pathParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, resilience.Validation("BAD_BODY", "request body is not valid JSON"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, resilience.Validation("BAD_FIELDS", "request fields failed validation", err.Error()))
		return
	}
	set := 0
	for _, v := range []string{req.Text, req.OptionID, req.ArtifactReference} {
		if v != "" {
			set++
		}
	}
	if req.CheckpointResponse != nil {
		set++
	}
	if set != 1 {
		writeError(w, resilience.Validation("BAD_INPUT", "exactly one of text, option_id, artifact_reference, or checkpoint_response is required"))
		return
	}

	var cpResp *engine.CheckpointResponse
	if req.CheckpointResponse != nil {
		cpResp = &engine.CheckpointResponse{
			Action:     model.CheckpointAction(req.CheckpointResponse.Action),
			Correction: req.CheckpointResponse.Correction,
		}
	}

	resp, err := s.engine.Advance(r.Context(), engine.TurnRequest{
		ProjectID:         projectID,
		Cycle:             cycle,
		Text:              req.Text,
		OptionID:          req.OptionID,
		ArtifactReference: req.ArtifactReference,
		ForceRefresh:      req.ForceRefresh,
		Checkpoint:        cpResp,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	projectID, cycle, err := pathParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req commitRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, resilience.Validation("BAD_BODY", "request body is not valid JSON"))
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, resilience.Validation("BAD_FIELDS", "request fields failed validation", err.Error()))
			return
		}
	}

	result, err := s.engine.Commit(r.Context(), projectID, cycle, req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Reused {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func pathParams(r *http.Request) (string, int, error) {
	projectID := chi.URLParam(r, "projectID")
	if projectID == "" {
		return "", 0, resilience.Validation("BAD_PROJECT", "project id is required")
	}
	cycle, err := strconv.Atoi(chi.URLParam(r, "cycle"))
	if err != nil || cycle < 1 {
		return "", 0, resilience.Validation("BAD_CYCLE", "cycle must be a positive integer")
	}
	return projectID, cycle, nil
}
