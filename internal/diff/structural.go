package diff

import (
	"fmt"
	"sort"
	"strings"
)

// Op marks how a path changed between two documents.
type Op string

const (
	OpAdded   Op = "+"
	OpRemoved Op = "-"
	OpChanged Op = "~"
)

// Change is one structural difference at a dotted path.
type Change struct {
	Op     Op     `json:"op"`
	Path   string `json:"path"`
	Before any    `json:"before,omitempty"`
	After  any    `json:"after,omitempty"`
}

// Structural compares two parsed documents and returns every leaf-level
// difference, paths sorted for stable output.
func Structural(before, after map[string]any) []Change {
	var changes []Change
	walk("", before, after, &changes)
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Path != changes[j].Path {
			return changes[i].Path < changes[j].Path
		}
		return changes[i].Op < changes[j].Op
	})
	return changes
}

func walk(prefix string, before, after map[string]any, out *[]Change) {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	for k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		bv, inBefore := before[k]
		av, inAfter := after[k]

		switch {
		case !inBefore:
			*out = append(*out, Change{Op: OpAdded, Path: path, After: av})
		case !inAfter:
			*out = append(*out, Change{Op: OpRemoved, Path: path, Before: bv})
		default:
			bm, bok := asMap(bv)
			am, aok := asMap(av)
			if bok && aok {
				walk(path, bm, am, out)
				continue
			}
			if !equalValue(bv, av) {
				*out = append(*out, Change{Op: OpChanged, Path: path, Before: bv, After: av})
			}
		}
	}
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// equalValue compares leaves by their rendered form so that numbers
// decoded as int and float64 still compare equal.
func equalValue(a, b any) bool {
	return render(a) == render(b)
}

func render(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// RenderChanges formats structural changes one per line, the way the
// line differ renders text hunks.
func RenderChanges(changes []Change) string {
	var sb strings.Builder
	for _, c := range changes {
		switch c.Op {
		case OpAdded:
			fmt.Fprintf(&sb, "+ %s: %s\n", c.Path, render(c.After))
		case OpRemoved:
			fmt.Fprintf(&sb, "- %s: %s\n", c.Path, render(c.Before))
		case OpChanged:
			fmt.Fprintf(&sb, "~ %s: %s -> %s\n", c.Path, render(c.Before), render(c.After))
		}
	}
	return sb.String()
}

// RenderLines splits a rendered diff into lines for clients that want
// a list instead of one blob.
func RenderLines(rendered string) []string {
	rendered = strings.TrimRight(rendered, "\n")
	if rendered == "" {
		return nil
	}
	return strings.Split(rendered, "\n")
}
