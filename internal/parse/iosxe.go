package parse

import (
	"fmt"
	"regexp"
	"strings"
)

// show version

type iosxeShowVersion struct{}

func (p *iosxeShowVersion) OS() string      { return OSIOSXE }
func (p *iosxeShowVersion) Command() string { return "show version" }

var (
	xeVersionRE  = regexp.MustCompile(`(?m)Cisco IOS(?: XE)? Software.*Version ([\w.()]+)`)
	xeUptimeRE   = regexp.MustCompile(`(?m)^\s*(\S+) uptime is (.+)$`)
	xeImageRE    = regexp.MustCompile(`(?m)^System image file is "([^"]+)"`)
	xePlatformRE = regexp.MustCompile(`(?m)^[Cc]isco (\S+).*processor.*with (\S+) bytes of memory`)
	xeSerialRE   = regexp.MustCompile(`(?m)^Processor board ID (\S+)`)
	xeReloadRE   = regexp.MustCompile(`(?m)^Last reload reason: (.+)$`)
)

func (p *iosxeShowVersion) Parse(output string) (map[string]any, error) {
	version := map[string]any{}

	m := xeVersionRE.FindStringSubmatch(output)
	if m == nil {
		return nil, fmt.Errorf("unrecognized show version output")
	}
	version["version"] = m[1]
	if strings.Contains(output, "IOS XE") {
		version["os"] = "IOS-XE"
	} else {
		version["os"] = "IOS"
	}
	if m := xeUptimeRE.FindStringSubmatch(output); m != nil {
		version["hostname"] = m[1]
		version["uptime"] = strings.TrimSpace(m[2])
	}
	if m := xeImageRE.FindStringSubmatch(output); m != nil {
		version["system_image"] = m[1]
	}
	if m := xePlatformRE.FindStringSubmatch(output); m != nil {
		version["chassis"] = m[1]
		version["main_mem"] = m[2]
	}
	if m := xeSerialRE.FindStringSubmatch(output); m != nil {
		version["chassis_sn"] = m[1]
	}
	if m := xeReloadRE.FindStringSubmatch(output); m != nil {
		version["last_reload_reason"] = strings.TrimSpace(m[1])
	}
	return map[string]any{"version": version}, nil
}

// show clock

type iosxeShowClock struct{}

func (p *iosxeShowClock) OS() string      { return OSIOSXE }
func (p *iosxeShowClock) Command() string { return "show clock" }

var xeClockRE = regexp.MustCompile(`(?m)^\*?(\d{2}:\d{2}:\d{2}\.\d+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\d+)\s+(\d{4})`)

func (p *iosxeShowClock) Parse(output string) (map[string]any, error) {
	m := xeClockRE.FindStringSubmatch(output)
	if m == nil {
		return nil, fmt.Errorf("unrecognized show clock output")
	}
	return map[string]any{
		"time":        m[1],
		"timezone":    m[2],
		"day_of_week": m[3],
		"month":       m[4],
		"day":         m[5],
		"year":        m[6],
	}, nil
}

// show ip interface brief

type iosxeShowIPInterfaceBrief struct{}

func (p *iosxeShowIPInterfaceBrief) OS() string      { return OSIOSXE }
func (p *iosxeShowIPInterfaceBrief) Command() string { return "show ip interface brief" }

var xeIntBriefRE = regexp.MustCompile(`^(\S+)\s+(\S+)\s+(YES|NO)\s+(\S+)\s+(up|down|administratively down)\s+(up|down)\s*$`)

func (p *iosxeShowIPInterfaceBrief) Parse(output string) (map[string]any, error) {
	interfaces := map[string]any{}
	for _, line := range strings.Split(output, "\n") {
		m := xeIntBriefRE.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		interfaces[m[1]] = map[string]any{
			"ip_address": m[2],
			"ok":         m[3],
			"method":     m[4],
			"status":     m[5],
			"protocol":   m[6],
		}
	}
	if len(interfaces) == 0 {
		return nil, fmt.Errorf("no interfaces found in output")
	}
	return map[string]any{"interface": interfaces}, nil
}

// show inventory

type iosxeShowInventory struct{}

func (p *iosxeShowInventory) OS() string      { return OSIOSXE }
func (p *iosxeShowInventory) Command() string { return "show inventory" }

var (
	invNameRE = regexp.MustCompile(`^NAME: "([^"]*)",\s*DESCR: "([^"]*)"`)
	invPidRE  = regexp.MustCompile(`^PID: (\S*)\s*,\s*VID: (\S*)\s*,\s*SN: (\S*)`)
)

func (p *iosxeShowInventory) Parse(output string) (map[string]any, error) {
	items := map[string]any{}
	var current map[string]any
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if m := invNameRE.FindStringSubmatch(line); m != nil {
			current = map[string]any{"descr": m[2]}
			items[m[1]] = current
			continue
		}
		if m := invPidRE.FindStringSubmatch(line); m != nil && current != nil {
			current["pid"] = m[1]
			current["vid"] = m[2]
			current["sn"] = m[3]
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no inventory items found in output")
	}
	return map[string]any{"item": items}, nil
}
