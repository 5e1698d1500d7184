// Package merge implements the per-field merge rules used by the merge
// resolution strategy. Every function takes the base value plus the two
// edited values and returns a single merged value; the usual 3-way shortcuts
// apply first (only one side changed, or both sides agree).
package merge

import (
	"fmt"
	"sort"
	"strings"
)

// MarkerFormat introduces the remote half of a concatenated text merge.
// The argument is the remote's name.
const MarkerFormat = "--- remote (%s) ---"

// Marker returns the authorship marker for the named remote.
func Marker(remote string) string {
	return fmt.Sprintf(MarkerFormat, remote)
}

// Text merges free text. When both sides changed, the local text comes
// first and the remote text follows under an authorship marker. If one
// side already contains the other (e.g. a previous merge result), the
// longer one is kept instead of nesting markers.
func Text(base, local, remote, remoteName string) string {
	base, local, remote = normalizeText(base), normalizeText(local), normalizeText(remote)

	if base == local && base != remote {
		return remote
	}
	if base == remote && base != local {
		return local
	}
	if local == remote {
		return local
	}
	if local == "" {
		return remote
	}
	if remote == "" {
		return local
	}
	if strings.Contains(local, remote) {
		return local
	}
	if strings.Contains(remote, local) {
		return remote
	}
	return local + "\n\n" + Marker(remoteName) + "\n" + remote
}

// Labels returns the union of every side's labels, sorted. Removals are not
// propagated: a label dropped on one side survives if another side has it.
func Labels(sets ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, l := range set {
			l = strings.TrimSpace(l)
			if l == "" || seen[l] {
				continue
			}
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out
}

// Max merges numeric progress by taking the highest value.
func Max(base int, values ...int) int {
	if len(values) == 0 {
		return base
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// normalizeText makes line endings and trailing whitespace insignificant.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// NormalizeText is exported for the change detector, which must agree with
// the merge rules on what counts as an edit.
func NormalizeText(s string) string {
	return normalizeText(s)
}
