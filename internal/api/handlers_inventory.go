package api

import (
	"net/http"
	"strings"

	"github.com/drawbridge-labs/drawbridge/internal/inventory"
)

// capabilities advertised through the service info endpoint.
var serviceCapabilities = []string{
	"exec", "exec_and_wait", "parse", "diff", "inventory",
	"http_proxy", "socks_proxy", "ssh_gateway", "port_forward",
	"file_transfer", "snmp", "http",
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handleServiceInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Inventory.Info(r.Context(), s.version, serviceCapabilities)
	if err != nil {
		s.writeServiceError(w, r, err, "service info")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleInventory renders the dynamic inventory document. Keyed groups
// come from repeated keyed_group=prefix:attr query parameters;
// filter_attr plus filter_pattern narrows the document to matching
// devices.
func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var keyed []inventory.KeyedGroup
	for _, kg := range q["keyed_group"] {
		prefix, key, ok := splitKeyedGroup(kg)
		if !ok {
			writeError(w, http.StatusBadRequest, "keyed_group must be prefix:attribute")
			return
		}
		keyed = append(keyed, inventory.KeyedGroup{Prefix: prefix, Key: key})
	}

	filterAttr := q.Get("filter_attr")
	filterPattern := q.Get("filter_pattern")
	if (filterAttr == "") != (filterPattern == "") {
		writeError(w, http.StatusBadRequest, "filter_attr and filter_pattern must be used together")
		return
	}

	var doc *inventory.Document
	if filterAttr != "" {
		devices, err := s.deps.Inventory.Filter(r.Context(), filterPattern, filterAttr)
		if err != nil {
			status := http.StatusBadRequest
			if strings.Contains(err.Error(), "no device matched") {
				status = http.StatusNotFound
			}
			writeError(w, status, err.Error())
			return
		}
		doc = s.deps.Inventory.DocumentFor(devices, keyed)
	} else {
		var err error
		doc, err = s.deps.Inventory.Document(r.Context(), keyed)
		if err != nil {
			s.writeServiceError(w, r, err, "inventory")
			return
		}
	}
	writeJSON(w, http.StatusOK, doc.MarshalMap())
}

func splitKeyedGroup(s string) (prefix, key string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			if i == 0 || i == len(s)-1 {
				return "", "", false
			}
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
