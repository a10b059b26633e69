package parse

import (
	"fmt"
	"regexp"
	"strings"
)

type nxosShowVersion struct{}

func (p *nxosShowVersion) OS() string      { return OSNXOS }
func (p *nxosShowVersion) Command() string { return "show version" }

var (
	nxVersionRE  = regexp.MustCompile(`(?m)^\s*NXOS: version (\S+)`)
	nxImageRE    = regexp.MustCompile(`(?m)^\s*NXOS image file is:\s+(\S+)`)
	nxChassisRE  = regexp.MustCompile(`(?m)^\s*cisco (Nexus\S*\s+\S+)\s+.*[Cc]hassis`)
	nxHostnameRE = regexp.MustCompile(`(?m)^\s*Device name:\s+(\S+)`)
	nxUptimeRE   = regexp.MustCompile(`(?m)^\s*Kernel uptime is\s+(.+)$`)
)

func (p *nxosShowVersion) Parse(output string) (map[string]any, error) {
	m := nxVersionRE.FindStringSubmatch(output)
	if m == nil {
		return nil, fmt.Errorf("unrecognized show version output")
	}
	version := map[string]any{
		"version": m[1],
		"os":      "NX-OS",
	}
	if m := nxImageRE.FindStringSubmatch(output); m != nil {
		version["system_image"] = m[1]
	}
	if m := nxChassisRE.FindStringSubmatch(output); m != nil {
		version["chassis"] = strings.TrimSpace(m[1])
	}
	if m := nxHostnameRE.FindStringSubmatch(output); m != nil {
		version["hostname"] = m[1]
	}
	if m := nxUptimeRE.FindStringSubmatch(output); m != nil {
		version["uptime"] = strings.TrimSpace(m[1])
	}
	return map[string]any{"version": version}, nil
}
