// Package parse turns raw CLI output into structured data using
// per-OS command parsers.
package parse

import (
	"fmt"
	"strings"
	"sync"
)

// Supported OS names. Device types map onto these.
const (
	OSIOS   = "ios"
	OSIOSXE = "iosxe"
	OSIOSXR = "iosxr"
	OSNXOS  = "nxos"
)

// Parser converts the raw output of one command into a document.
type Parser interface {
	// OS returns the operating system this parser understands.
	OS() string
	// Command returns the canonical command this parser handles.
	Command() string
	// Parse builds the structured document.
	Parse(output string) (map[string]any, error)
}

// Registry resolves parsers by OS and command.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

func key(os, command string) string {
	return os + "\x00" + normalizeCommand(command)
}

// normalizeCommand collapses whitespace so "show  version " resolves
// like "show version".
func normalizeCommand(command string) string {
	return strings.Join(strings.Fields(strings.ToLower(command)), " ")
}

func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[key(p.OS(), p.Command())] = p
}

// Get resolves the parser for an OS and command. IOS devices fall back
// to IOS XE parsers since the classic trains share output formats.
func (r *Registry) Get(os, command string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.parsers[key(os, command)]; ok {
		return p, nil
	}
	if os == OSIOS || os == OSIOSXR {
		if p, ok := r.parsers[key(OSIOSXE, command)]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no parser for os %q command %q", os, normalizeCommand(command))
}

// Supported lists every registered os/command pair.
func (r *Registry) Supported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.parsers))
	for k := range r.parsers {
		out = append(out, strings.ReplaceAll(k, "\x00", " "))
	}
	return out
}

// DefaultRegistry returns a registry with all built-in parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&iosxeShowVersion{})
	r.Register(&iosxeShowClock{})
	r.Register(&iosxeShowIPInterfaceBrief{})
	r.Register(&iosxeShowInventory{})
	r.Register(&nxosShowVersion{})
	return r
}

// Fingerprint guesses the parser OS from command output, most
// reliably from a "show version" banner. Empty means unrecognized.
func Fingerprint(output string) string {
	switch {
	case strings.Contains(output, "NX-OS"):
		return OSNXOS
	case strings.Contains(output, "IOS XR") || strings.Contains(output, "IOS-XR"):
		return OSIOSXR
	case strings.Contains(output, "IOS XE") || strings.Contains(output, "IOS-XE"):
		return OSIOSXE
	case strings.Contains(output, "Cisco IOS Software"):
		return OSIOS
	default:
		return ""
	}
}

// OSForDeviceType maps catalog device types to parser OS names. An
// empty string means output for that type cannot be parsed.
func OSForDeviceType(deviceType string) string {
	switch strings.ToUpper(deviceType) {
	case "IOS_XE":
		return OSIOSXE
	case "IOS_XR":
		return OSIOSXR
	case "NX_OS":
		return OSNXOS
	default:
		return ""
	}
}
