package api

import (
	"errors"
	"net/http"

	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Store.ListCommandRecords(r.Context(), r.URL.Query().Get("device"), parsePagination(r))
	if err != nil {
		s.logger.Error("list command records", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list command records")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Store.ListSnapshots(r.Context(), r.URL.Query().Get("device"), parsePagination(r))
	if err != nil {
		s.logger.Error("list snapshots", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.deps.Store.GetSnapshot(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "snapshot not found")
			return
		}
		s.logger.Error("get snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.deps.Store.GetSnapshot(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "snapshot not found")
			return
		}
		s.logger.Error("get snapshot for delete", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get snapshot")
		return
	}
	if err := s.deps.Store.DeleteSnapshot(r.Context(), id); err != nil {
		s.logger.Error("delete snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete snapshot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
