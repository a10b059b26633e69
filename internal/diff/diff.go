// Package diff compares command output and parsed documents between
// two points in time.
package diff

import (
	"fmt"
	"strings"
)

// Lines returns a unified-style diff between two text captures using
// LCS.
func Lines(before, after string) string {
	a := splitLines(before)
	b := splitLines(after)
	return renderLines(a, b, lcsTable(a, b))
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

// lcsTable builds the LCS length table.
func lcsTable(a, b []string) [][]int {
	m := len(a)
	n := len(b)
	table := make([][]int, m+1)
	for i := range table {
		table[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				table[i][j] = table[i-1][j-1] + 1
			} else if table[i-1][j] >= table[i][j-1] {
				table[i][j] = table[i-1][j]
			} else {
				table[i][j] = table[i][j-1]
			}
		}
	}
	return table
}

type diffLine struct {
	op   byte
	text string
}

// renderLines walks the LCS table backwards and formats the hunks.
func renderLines(a, b []string, table [][]int) string {
	var changes []diffLine

	i := len(a)
	j := len(b)
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && a[i-1] == b[j-1]:
			changes = append(changes, diffLine{op: ' ', text: a[i-1]})
			i--
			j--
		case j > 0 && (i == 0 || table[i][j-1] >= table[i-1][j]):
			changes = append(changes, diffLine{op: '+', text: b[j-1]})
			j--
		default:
			changes = append(changes, diffLine{op: '-', text: a[i-1]})
			i--
		}
	}

	for left, right := 0, len(changes)-1; left < right; left, right = left+1, right-1 {
		changes[left], changes[right] = changes[right], changes[left]
	}

	var sb strings.Builder
	for _, c := range changes {
		if c.op == ' ' {
			fmt.Fprintf(&sb, " %s\n", c.text)
		} else {
			fmt.Fprintf(&sb, "%c%s\n", c.op, c.text)
		}
	}
	return sb.String()
}

// Changed reports whether a rendered diff contains any additions or
// removals.
func Changed(rendered string) bool {
	for _, line := range strings.Split(rendered, "\n") {
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			return true
		}
	}
	return false
}
