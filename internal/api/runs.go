package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/tsupgrade/internal/tsupgrade"
)

// maxBodySize caps run request bodies.
const maxBodySize = 64 * 1024

type startRunRequest struct {
	Owner   string `json:"owner"`
	Repo    string `json:"repo"`
	Branch  string `json:"branch,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	Version string `json:"version,omitempty"`
}

// startRun executes a run and waits for it, up to the deadline.
// POST /api/runs
//
// 200 carries the pull request URL. 202 with an empty object means the
// deadline passed; the run's status can still be queried by run_id.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.runner.Run(r.Context(), tsupgrade.RunParams{
		Owner:   req.Owner,
		Repo:    req.Repo,
		Branch:  req.Branch,
		RunID:   req.RunID,
		Version: req.Version,
	})
	if err != nil {
		status := runErrorStatus(err)
		if status == http.StatusInternalServerError {
			slog.Error("run failed", "owner", req.Owner, "repo", req.Repo, "run_id", req.RunID, "err", err)
		}
		writeError(w, status, err.Error())
		return
	}
	if out.TimedOut || out.PullRequest == nil {
		writeJSON(w, http.StatusAccepted, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pull_request_url":    out.PullRequest.URL,
		"pull_request_number": out.PullRequest.Number,
	})
}

// getRun returns the recorded status of a run.
// GET /api/runs/{runID}?owner=acme
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	rec, err := s.status.Get(r.Context(), runID, r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, runErrorStatus(err), err.Error())
		return
	}
	if rec == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// getRunStats returns current concurrency counters.
// GET /api/stats
func (s *Server) getRunStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{}
	if s.limiter != nil {
		resp["concurrency"] = s.limiter.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, tsupgrade.ErrInvalidParams), errors.Is(err, tsupgrade.ErrUnknownVersion):
		return http.StatusBadRequest
	case errors.Is(err, tsupgrade.ErrRunRejected):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
