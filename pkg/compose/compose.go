// Package compose renders the docker-compose service document handed to the
// Phala provisioning API. The remote side hashes the document to detect
// already-provisioned content, so rendering must be deterministic: identical
// inputs always produce byte-identical output (yaml.v3 marshals map keys in
// sorted order, which covers the environment block).
package compose

import (
	"gopkg.in/yaml.v3"

	"github.com/phalaflow/orchestrator/pkg/errors"
)

// ServiceName is the fixed name of the single step service.
const ServiceName = "metaflow-step"

// Descriptor is the top-level compose document.
type Descriptor struct {
	Services map[string]Service `yaml:"services"`
}

// Service describes the one container the CVM runs.
type Service struct {
	Image       string            `yaml:"image"`
	Restart     string            `yaml:"restart"`
	Command     []string          `yaml:"command"`
	Environment map[string]string `yaml:"environment"`
}

// Build renders the compose document for one step. The job runs exactly
// once, so the restart policy is "no" — the CVM must not relaunch the
// container after it exits. Environment values pass through the YAML
// encoder verbatim, including URI-reserved characters and base64 payloads.
func Build(image string, env map[string]string, command []string) ([]byte, error) {
	doc := Descriptor{
		Services: map[string]Service{
			ServiceName: {
				Image:       image,
				Restart:     "no",
				Command:     command,
				Environment: env,
			},
		},
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to render compose document")
	}
	return out, nil
}
