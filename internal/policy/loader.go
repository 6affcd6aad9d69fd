package policy

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrUnsupportedVersion is returned for any version other than 1.
var ErrUnsupportedVersion = errors.New("unsupported policy version")

func LoadPolicy(path string) (*PolicyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg PolicyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", path, err)
	}

	if cfg.Version != 1 {
		return nil, ErrUnsupportedVersion
	}

	if cfg.Auditors == nil {
		cfg.Auditors = make(map[string]AuditorConfig)
	}

	return &cfg, nil
}
