package api

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/drawbridge-labs/drawbridge/internal/httpcall"
	"github.com/drawbridge-labs/drawbridge/internal/snmp"
)

type transferRequest struct {
	DeviceName string `json:"device_name"`
	Protocol   string `json:"protocol,omitempty"`
	RemotePath string `json:"remote_path"`
	// Content is the base64-encoded file body for uploads.
	Content   string `json:"content,omitempty"`
	Direction string `json:"direction,omitempty"` // upload or download
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch req.Direction {
	case "", "upload":
		data, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			writeError(w, http.StatusBadRequest, "content must be base64 encoded")
			return
		}
		result, err := s.deps.Transfer.Upload(r.Context(), req.DeviceName, req.Protocol, req.RemotePath, data)
		if err != nil {
			s.writeServiceError(w, r, err, "file upload")
			return
		}
		writeJSON(w, http.StatusOK, result)

	case "download":
		data, err := s.deps.Transfer.Download(r.Context(), req.DeviceName, req.Protocol, req.RemotePath)
		if err != nil {
			s.writeServiceError(w, r, err, "file download")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"device_name": req.DeviceName,
			"remote_path": req.RemotePath,
			"bytes":       len(data),
			"content":     base64.StdEncoding.EncodeToString(data),
		})

	default:
		writeError(w, http.StatusBadRequest, "direction must be upload or download")
	}
}

type snmpRequest struct {
	snmp.Request
	TimeoutSeconds float64 `json:"request_timeout,omitempty"`
}

func (s *Server) handleSNMP(w http.ResponseWriter, r *http.Request) {
	var req snmpRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TimeoutSeconds > 0 {
		req.Request.Timeout = time.Duration(req.TimeoutSeconds * float64(time.Second))
	}

	rows, err := s.deps.SNMP.Query(r.Context(), req.Request)
	if err != nil {
		s.writeServiceError(w, r, err, "snmp query")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (s *Server) handleHTTPCall(w http.ResponseWriter, r *http.Request) {
	var req httpcall.Request
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.deps.HTTPCall.Call(r.Context(), req)
	if err != nil {
		// The reply still matters when only the status check failed.
		if resp != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":    err.Error(),
				"response": resp,
			})
			return
		}
		s.writeServiceError(w, r, err, "device http call")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := s.deps.HTTPCall.Operations(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err, "list api operations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

func (s *Server) handleCallOperation(w http.ResponseWriter, r *http.Request) {
	var req httpcall.SwaggerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.DeviceName = r.PathValue("name")

	resp, err := s.deps.HTTPCall.CallOperation(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err, "call api operation")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type forwardRequest struct {
	DeviceName string `json:"device_name"`
	LocalPort  int    `json:"local_port"`
	RemotePort int    `json:"remote_port"`
	DryRun     bool   `json:"dry_run,omitempty"`
}

func (s *Server) handleCreateForward(w http.ResponseWriter, r *http.Request) {
	var req forwardRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f, err := s.deps.Forwards.Start(r.Context(), req.DeviceName, req.LocalPort, req.RemotePort, req.DryRun)
	if err != nil {
		s.writeServiceError(w, r, err, "start forward")
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleListForwards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"forwards": s.deps.Forwards.List()})
}

func (s *Server) handleDeleteForward(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Forwards.Stop(r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err, "stop forward")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleProxyStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Proxy == nil {
		writeJSON(w, http.StatusOK, map[string]any{"running": false})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Proxy.Status())
}
