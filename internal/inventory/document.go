package inventory

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

// HostVars is everything published about one device in the inventory
// document.
type HostVars struct {
	AnsibleHost       string `json:"ansible_host"`
	DeviceType        string `json:"device_type"`
	ForwardedTCPPorts []int  `json:"forwarded_tcp_ports,omitempty"`
	ProxyDN           string `json:"proxy_dn"`
}

// Group is one inventory group with its member hosts.
type Group struct {
	Hosts []string `json:"hosts"`
}

// Document is a dynamic inventory in the executable-script JSON shape
// automation tools consume.
type Document struct {
	Meta   Meta             `json:"_meta"`
	All    AllGroup         `json:"all"`
	Groups map[string]Group `json:"-"`
}

type Meta struct {
	HostVars map[string]HostVars `json:"hostvars"`
}

type AllGroup struct {
	Children []string `json:"children"`
}

// KeyedGroup derives extra groups from a hostvar, named prefix_value.
type KeyedGroup struct {
	Prefix string
	Key    string
}

var groupNameSanitizer = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// sanitizeGroupName keeps the attribute value's case and replaces only
// characters that are not valid in a group name.
func sanitizeGroupName(s string) string {
	return groupNameSanitizer.ReplaceAllString(s, "_")
}

// Document renders the current device catalog. Disabled devices are
// left out. The base group "devices" always holds every host; keyed
// groups add one group per observed value.
func (s *Service) Document(ctx context.Context, keyed []KeyedGroup) (*Document, error) {
	devices, err := s.store.GetAllEnabledDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return s.DocumentFor(devices, keyed), nil
}

// DocumentFor renders an inventory document over an already selected
// device set, such as the result of Filter.
func (s *Service) DocumentFor(devices []*storage.Device, keyed []KeyedGroup) *Document {
	doc := &Document{
		Meta:   Meta{HostVars: make(map[string]HostVars, len(devices))},
		Groups: map[string]Group{"devices": {}},
	}

	for _, d := range devices {
		doc.Meta.HostVars[d.Name] = HostVars{
			AnsibleHost:       d.Host,
			DeviceType:        d.DeviceType,
			ForwardedTCPPorts: d.ForwardedTCPPorts,
			ProxyDN:           s.ProxyDN(d.Name),
		}

		base := doc.Groups["devices"]
		base.Hosts = append(base.Hosts, d.Name)
		doc.Groups["devices"] = base

		attrs := d.AttributeMap()
		for _, kg := range keyed {
			val, ok := attrs[kg.Key]
			if !ok || val == "" {
				continue
			}
			name := sanitizeGroupName(kg.Prefix + "_" + val)
			g := doc.Groups[name]
			g.Hosts = append(g.Hosts, d.Name)
			doc.Groups[name] = g
		}
	}

	for name, g := range doc.Groups {
		sort.Strings(g.Hosts)
		doc.Groups[name] = g
	}

	children := make([]string, 0, len(doc.Groups))
	for name := range doc.Groups {
		children = append(children, name)
	}
	sort.Strings(children)
	doc.All.Children = append([]string{"ungrouped"}, children...)

	return doc
}

// MarshalMap flattens the document into the single JSON object clients
// expect, groups at the top level next to _meta and all.
func (d *Document) MarshalMap() map[string]any {
	out := map[string]any{
		"_meta": d.Meta,
		"all":   d.All,
	}
	for name, g := range d.Groups {
		out[name] = g
	}
	return out
}
