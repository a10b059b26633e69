package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

const (
	statePresent = "present"
	stateUpdated = "updated"
	stateAbsent  = "absent"
)

// deviceRequest is the write payload for device endpoints. Credentials
// get explicit fields because the model never serializes them back out.
// State is only honored by the apply endpoint.
type deviceRequest struct {
	storage.Device
	Password      string `json:"password,omitempty"`
	SNMPCommunity string `json:"snmp_community,omitempty"`
	State         string `json:"state,omitempty"`
}

func (req *deviceRequest) device() storage.Device {
	d := req.Device
	d.Password = req.Password
	d.SNMPCommunity = req.SNMPCommunity
	return d
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	f := storage.DeviceListFilter{
		DeviceType: r.URL.Query().Get("device_type"),
		Search:     r.URL.Query().Get("search"),
	}
	if v := r.URL.Query().Get("enabled"); v != "" {
		enabled := v == "true"
		f.Enabled = &enabled
	}

	result, err := s.deps.Store.ListDevices(r.Context(), f, parsePagination(r))
	if err != nil {
		s.logger.Error("list devices", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Store.GetDeviceByName(r.Context(), r.PathValue("name"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		s.logger.Error("get device", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d := req.device()
	applyDeviceDefaults(&d)
	if err := validateDevice(&d); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Store.CreateDevice(r.Context(), &d); err != nil {
		if errors.Is(err, storage.ErrDuplicateName) {
			writeError(w, http.StatusConflict, "device name already exists")
			return
		}
		s.logger.Error("create device", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create device")
		return
	}

	s.logger.Info("device created", "device", d.Name, "api_key", getAPIKeyName(r.Context()))
	writeJSON(w, http.StatusCreated, d)
}

// handleApplyDevice reconciles one device toward a desired state:
// present creates it when missing, updated replaces it, absent removes
// it. The path name wins over any name in the body.
func (s *Server) handleApplyDevice(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req deviceRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.State == "" {
		req.State = statePresent
	}

	existing, err := s.deps.Store.GetDeviceByName(r.Context(), name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("get device for apply", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get device")
		return
	}

	switch req.State {
	case stateAbsent:
		if existing == nil {
			writeJSON(w, http.StatusOK, map[string]any{"changed": false})
			return
		}
		if err := s.deps.Store.DeleteDeviceByName(r.Context(), name); err != nil {
			s.logger.Error("delete device", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to delete device")
			return
		}
		s.deps.Sessions.Evict(name)
		s.logger.Info("device removed", "device", name, "api_key", getAPIKeyName(r.Context()))
		writeJSON(w, http.StatusOK, map[string]any{"changed": true})

	case statePresent, stateUpdated:
		if existing != nil && req.State == statePresent {
			writeJSON(w, http.StatusOK, map[string]any{"changed": false, "device": existing})
			return
		}

		d := req.device()
		d.Name = name
		applyDeviceDefaults(&d)
		if err := validateDevice(&d); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if existing != nil {
			// Replace rather than patch so cleared fields truly clear.
			if err := s.deps.Store.DeleteDeviceByName(r.Context(), name); err != nil {
				s.logger.Error("replace device", "error", err)
				writeError(w, http.StatusInternalServerError, "failed to replace device")
				return
			}
			s.deps.Sessions.Evict(name)
		}
		if err := s.deps.Store.CreateDevice(r.Context(), &d); err != nil {
			s.logger.Error("apply device", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to apply device")
			return
		}
		s.logger.Info("device applied", "device", name, "state", req.State, "api_key", getAPIKeyName(r.Context()))
		writeJSON(w, http.StatusOK, map[string]any{"changed": true, "device": d})

	default:
		writeError(w, http.StatusBadRequest, "state must be present, updated or absent")
	}
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := s.deps.Store.GetDeviceByName(r.Context(), name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		s.logger.Error("get device for delete", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get device")
		return
	}

	if err := s.deps.Store.DeleteDeviceByName(r.Context(), name); err != nil {
		s.logger.Error("delete device", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete device")
		return
	}
	s.deps.Sessions.Evict(name)
	s.logger.Info("device deleted", "device", name, "api_key", getAPIKeyName(r.Context()))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func applyDeviceDefaults(d *storage.Device) {
	if d.Transport == "" {
		d.Transport = "ssh"
	}
	d.Transport = strings.ToLower(d.Transport)
	if d.HTTP && d.HTTPScheme == "" {
		d.HTTPScheme = "https"
	}
}

func validateDevice(d *storage.Device) error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(d.Name, ". /\\") {
		return fmt.Errorf("name must not contain dots, spaces or slashes")
	}
	if d.Host == "" {
		return fmt.Errorf("host is required")
	}
	if d.DeviceType == "" || !storage.ValidDeviceType(d.DeviceType) {
		return fmt.Errorf("device_type %q is not valid", d.DeviceType)
	}
	if d.Transport != "ssh" && d.Transport != "telnet" {
		return fmt.Errorf("transport must be ssh or telnet")
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535")
	}
	if d.HTTPScheme != "" && d.HTTPScheme != "http" && d.HTTPScheme != "https" {
		return fmt.Errorf("http_scheme must be http or https")
	}
	for _, p := range d.ForwardedTCPPorts {
		if p < 1 || p > 65535 {
			return fmt.Errorf("forwarded_tcp_ports entries must be between 1 and 65535")
		}
	}
	return nil
}
