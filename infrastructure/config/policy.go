package config

import (
	"bytes"
	"fmt"
	"os"

	domainconfig "ideaflow/domain/config"

	"gopkg.in/yaml.v3"
)

// LoadPolicy builds the pipeline policy for an environment. When path is set
// the YAML file is decoded on top of the environment preset, so the file only
// needs the keys it changes.
func LoadPolicy(environment, path string) (*domainconfig.DomainConfig, error) {
	policy := domainconfig.LoadDomainConfig(environment)
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	if err := ApplyPolicyOverlay(policy, data); err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return policy, nil
}

// ApplyPolicyOverlay decodes a YAML overlay into policy and validates the
// result. Unknown keys are rejected so typos do not pass silently.
func ApplyPolicyOverlay(policy *domainconfig.DomainConfig, data []byte) error {
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(policy); err != nil {
			return fmt.Errorf("failed to decode policy: %w", err)
		}
	}
	return policy.Validate()
}
