package naming

import (
	"regexp"
	"strings"
	"testing"
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

func TestCVMName_Valid(t *testing.T) {
	name := CVMName("MyFlow", "start", "1", 0)

	if len(name) < 5 || len(name) > 63 {
		t.Errorf("name length out of range: %d (%q)", len(name), name)
	}
	if !namePattern.MatchString(name) {
		t.Errorf("name violates charset contract: %q", name)
	}
}

func TestCVMName_Deterministic(t *testing.T) {
	a := CVMName("MyFlow", "start", "1", 0)
	b := CVMName("MyFlow", "start", "1", 0)

	if a != b {
		t.Errorf("same tuple produced different names: %q vs %q", a, b)
	}
}

func TestCVMName_DistinctTuples(t *testing.T) {
	base := CVMName("MyFlow", "start", "1", 0)

	tests := []struct {
		name string
		got  string
	}{
		{"different run", CVMName("MyFlow", "start", "2", 0)},
		{"different attempt", CVMName("MyFlow", "start", "1", 1)},
		{"different step", CVMName("MyFlow", "end", "1", 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got == base {
				t.Errorf("expected distinct name, both were %q", base)
			}
		})
	}
}

func TestCVMName_LongInputs(t *testing.T) {
	name := CVMName(strings.Repeat("A", 100), strings.Repeat("B", 100), "99", 3)

	if len(name) > 63 {
		t.Errorf("name too long: %d (%q)", len(name), name)
	}
	if !namePattern.MatchString(name) {
		t.Errorf("name violates charset contract: %q", name)
	}
}

func TestCVMName_LongInputsStayDistinct(t *testing.T) {
	// Truncation removes the readable difference; the fingerprint must keep
	// the names apart.
	a := CVMName(strings.Repeat("a", 100), "step", "1", 0)
	b := CVMName(strings.Repeat("a", 100), "step", "2", 0)

	if a == b {
		t.Errorf("truncated names collided: %q", a)
	}
}

func TestCVMName_HostileInputs(t *testing.T) {
	tests := []struct {
		name    string
		flow    string
		step    string
		runID   string
		attempt int
	}{
		{"empty everything", "", "", "", 0},
		{"unicode", "Flöw™", "ステップ", "run", 0},
		{"symbols only", "!!!", "@@@", "###", 7},
		{"leading digits", "123flow", "456", "789", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CVMName(tt.flow, tt.step, tt.runID, tt.attempt)
			if len(got) < 5 || len(got) > 63 {
				t.Errorf("length out of range: %d (%q)", len(got), got)
			}
			if !namePattern.MatchString(got) {
				t.Errorf("charset violation: %q", got)
			}
		})
	}
}
