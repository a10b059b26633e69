package api

import (
	"net/http"
	"time"

	"github.com/drawbridge-labs/drawbridge/internal/diff"
	"github.com/drawbridge-labs/drawbridge/internal/exec"
	"github.com/drawbridge-labs/drawbridge/internal/parse"
)

// Timeouts ride the wire as second counts, like request_timeout on the
// snmp endpoint.
type execRequest struct {
	exec.Request
	Assertions     []exec.Assertion `json:"assertions,omitempty"`
	CommandTimeout float64          `json:"command_timeout,omitempty"`
	ExecTimeout    float64          `json:"exec_timeout,omitempty"`
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CommandTimeout > 0 {
		req.Request.CommandTimeout = time.Duration(req.CommandTimeout * float64(time.Second))
	}
	if req.ExecTimeout > 0 {
		req.Request.ExecTimeout = time.Duration(req.ExecTimeout * float64(time.Second))
	}

	results, err := s.deps.Exec.Run(r.Context(), req.Request)
	if err != nil {
		s.writeServiceError(w, r, err, "exec")
		return
	}

	if len(req.Assertions) > 0 {
		outcome, err := exec.EvaluateAssertions(results, req.Assertions)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"results":    results,
			"assertions": outcome,
		})
		return
	}

	// A single-command, single-device run collapses to the bare result.
	if collapsed, ok := exec.Collapse(results); ok {
		writeJSON(w, http.StatusOK, collapsed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type execWaitRequest struct {
	exec.WaitRequest
	SecondsToWait    float64 `json:"seconds_to_wait,omitempty"`
	DelayBeforeCheck float64 `json:"delay_before_check,omitempty"`
	CommandTimeout   float64 `json:"command_timeout,omitempty"`
}

func (s *Server) handleExecAndWait(w http.ResponseWriter, r *http.Request) {
	var req execWaitRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SecondsToWait > 0 {
		req.WaitRequest.SecondsToWait = time.Duration(req.SecondsToWait * float64(time.Second))
	}
	if req.DelayBeforeCheck > 0 {
		req.WaitRequest.DelayBeforeCheck = time.Duration(req.DelayBeforeCheck * float64(time.Second))
	}
	if req.CommandTimeout > 0 {
		req.WaitRequest.CommandTimeout = time.Duration(req.CommandTimeout * float64(time.Second))
	}

	result, err := s.deps.Exec.ExecAndWait(r.Context(), req.WaitRequest)
	if err != nil {
		// Failed rollouts still report per-device outcomes.
		if result != nil {
			writeJSON(w, kindStatus(err), map[string]any{
				"error":   err.Error(),
				"results": result.Results,
				"summary": result.Summary,
			})
			return
		}
		s.writeServiceError(w, r, err, "exec and wait")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parse.Request
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.deps.Parse.ParsedCommand(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err, "parse")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	var req diff.Request
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.deps.Diff.Diff(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err, "diff")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
