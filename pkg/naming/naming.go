// Package naming derives CVM resource names from task coordinates.
//
// The Phala API constrains names to ^[a-z][a-z0-9-]*$ with length 5..63,
// so names are sanitized and, when the readable portion would overflow,
// truncated with a deterministic fingerprint of the full coordinate tuple
// appended so distinct tasks never collide.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	maxNameLen = 63
	minNameLen = 5
	// fingerprintLen hex chars of sha256, enough to keep truncated names unique per tuple.
	fingerprintLen = 8
)

// CVMName returns a deterministic resource name for one task attempt.
// The same (flow, step, run, attempt) tuple always maps to the same name;
// distinct run ids or attempt numbers map to distinct names. The result is
// valid for any input, including empty or very long identifiers.
func CVMName(flowName, stepName, runID string, attempt int) string {
	fp := fingerprint(flowName, stepName, runID, attempt)

	name := strings.Join([]string{
		"mf",
		sanitize(flowName),
		sanitize(stepName),
		sanitize(runID),
		fmt.Sprintf("%d", attempt),
	}, "-")
	name = collapseDashes(name)

	if len(name)+1+fingerprintLen > maxNameLen {
		name = strings.TrimRight(name[:maxNameLen-1-fingerprintLen], "-")
	}
	name = name + "-" + fp

	// "mf-" prefix already guarantees the leading letter; the fingerprint
	// suffix guarantees the minimum length.
	if len(name) < minNameLen || name[0] < 'a' || name[0] > 'z' {
		name = "mf-" + fp
	}
	return name
}

func fingerprint(flowName, stepName, runID string, attempt int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", flowName, stepName, runID, attempt)))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// sanitize lowercases s and drops every character outside [a-z0-9-].
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// collapseDashes squeezes runs of '-' left behind by sanitized-away segments.
func collapseDashes(s string) string {
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return strings.Trim(s, "-")
}
