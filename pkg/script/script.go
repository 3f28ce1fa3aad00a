// Package script synthesizes the programs that run inside a CVM: the bash
// wrapper that executes the step and preserves its exit code, and the python
// bootstrap that fetches the code package and hands off to the wrapper.
package script

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Stream targets the host-side log collector attaches to.
const (
	StdoutTarget = "/dev/stdout"
	StderrTarget = "/dev/stderr"
)

// StepScript builds the bash wrapper around one step invocation.
//
// Setup commands run under `set -e` so any dependency failure aborts the
// script with a non-zero exit before the step starts. Immediately before the
// step command the script switches to `set +e` and captures the command's
// exit code in STEP_EXIT instead of dying on it. A trap re-raises STEP_EXIT
// on termination signals so the code survives an external kill, and the
// script's own exit status is always the captured code. Command strings are
// emitted verbatim; callers pass shell-ready text.
func StepScript(setupCommands []string, stepCommand string) string {
	var b strings.Builder

	b.WriteString("#!/bin/bash\n")
	b.WriteString(fmt.Sprintf("MFLOG_STDOUT=%s\n", StdoutTarget))
	b.WriteString(fmt.Sprintf("MFLOG_STDERR=%s\n", StderrTarget))
	b.WriteString("STEP_EXIT=1\n")
	b.WriteString("trap 'exit $STEP_EXIT' HUP INT QUIT TERM\n")
	b.WriteString("set -e\n")
	for _, cmd := range setupCommands {
		b.WriteString(cmd)
		b.WriteString("\n")
	}
	b.WriteString("set +e\n")
	b.WriteString(stepCommand)
	b.WriteString(" 1>>\"$MFLOG_STDOUT\" 2>>\"$MFLOG_STDERR\"\n")
	b.WriteString("STEP_EXIT=$?\n")
	b.WriteString("exit $STEP_EXIT\n")

	return b.String()
}

// Bootstrap builds the compose command for one step: a python3 invocation
// whose inline program downloads the code package, unpacks it into the
// working directory, and then runs the bash wrapper, exiting with the
// wrapper's code. The wrapper script travels base64-encoded inside the
// program text so the compose document never carries raw shell.
//
// The package is fetched with boto3 when the URL is an s3:// address and
// with urllib otherwise, matching what a bare python image can be expected
// to bootstrap.
func Bootstrap(packageURL, packageSHA, wrapperScript string) []string {
	encoded := base64.StdEncoding.EncodeToString([]byte(wrapperScript))

	program := strings.Join([]string{
		"import base64, hashlib, io, os, subprocess, sys, tarfile",
		fmt.Sprintf("url = %q", packageURL),
		fmt.Sprintf("sha = %q", packageSHA),
		"if url.startswith('s3://'):",
		"    subprocess.check_call([sys.executable, '-m', 'pip', 'install', '--quiet', 'boto3'])",
		"    import boto3",
		"    bucket, _, key = url[5:].partition('/')",
		"    blob = boto3.client('s3').get_object(Bucket=bucket, Key=key)['Body'].read()",
		"else:",
		"    from urllib.request import urlopen",
		"    blob = urlopen(url).read()",
		"if sha and hashlib.sha256(blob).hexdigest() != sha:",
		"    sys.exit('code package checksum mismatch')",
		"tarfile.open(fileobj=io.BytesIO(blob), mode='r:*').extractall('.')",
		fmt.Sprintf("script = base64.b64decode(%q).decode()", encoded),
		"with open('mf-step.sh', 'w') as f:",
		"    f.write(script)",
		"os.chmod('mf-step.sh', 0o755)",
		"sys.exit(subprocess.call(['/bin/bash', 'mf-step.sh']))",
	}, "\n")

	return []string{"python3", "-c", program}
}
