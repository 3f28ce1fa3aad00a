package script

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestStepScript_Structure(t *testing.T) {
	got := StepScript([]string{"pip install metaflow"}, "python flow.py step start")

	for _, want := range []string{
		"#!/bin/bash",
		"MFLOG_STDOUT=/dev/stdout",
		"MFLOG_STDERR=/dev/stderr",
		"trap",
		"set -e",
		"set +e",
		"pip install metaflow",
		"python flow.py step start",
		"STEP_EXIT=$?",
		"exit $STEP_EXIT",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("script missing %q:\n%s", want, got)
		}
	}
}

func TestStepScript_SetupBeforeStrictModeOff(t *testing.T) {
	got := StepScript([]string{"apt-get update", "pip install metaflow"}, "python flow.py step start")

	relax := strings.Index(got, "set +e")
	for _, setup := range []string{"apt-get update", "pip install metaflow"} {
		if idx := strings.Index(got, setup); idx > relax {
			t.Errorf("setup command %q runs after strict mode is relaxed", setup)
		}
	}
	if idx := strings.Index(got, "python flow.py step start"); idx < relax {
		t.Error("step command runs under strict mode")
	}
}

func TestStepScript_VerbatimCommands(t *testing.T) {
	// Shell-significant characters must pass through untouched.
	step := `python flow.py --with 'a b' "$VAR" | tee out.log`
	got := StepScript(nil, step)

	if !strings.Contains(got, step) {
		t.Errorf("step command mangled:\n%s", got)
	}
}

func TestStepScript_CaptureBeforeExit(t *testing.T) {
	got := StepScript(nil, "true")

	capture := strings.Index(got, "STEP_EXIT=$?")
	exit := strings.LastIndex(got, "exit $STEP_EXIT")
	if capture == -1 || exit == -1 || capture > exit {
		t.Errorf("exit code is not captured before the final exit:\n%s", got)
	}
}

func TestBootstrap_Shape(t *testing.T) {
	wrapper := StepScript([]string{"pip install metaflow"}, "python flow.py step start")
	cmd := Bootstrap("s3://bucket/pkg.tgz", "abc123", wrapper)

	if len(cmd) != 3 {
		t.Fatalf("expected 3 command elements, got %d", len(cmd))
	}
	if cmd[0] != "python3" {
		t.Errorf("interpreter = %q, want python3", cmd[0])
	}
	if cmd[1] != "-c" {
		t.Errorf("expected inline program flag, got %q", cmd[1])
	}
	for _, want := range []string{"boto3", "urllib", "s3://bucket/pkg.tgz", "abc123"} {
		if !strings.Contains(cmd[2], want) {
			t.Errorf("bootstrap program missing %q", want)
		}
	}
}

func TestBootstrap_WrapperRoundTrips(t *testing.T) {
	wrapper := StepScript(nil, "python flow.py step start")
	cmd := Bootstrap("https://example.com/pkg.tgz", "", wrapper)

	encoded := base64.StdEncoding.EncodeToString([]byte(wrapper))
	if !strings.Contains(cmd[2], encoded) {
		t.Error("bootstrap does not embed the wrapper script intact")
	}
}
