package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineConfig describes one analysis-engine instance in the fleet file.
type EngineConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	APIKey   string `yaml:"api_key"`
	TimeoutS int    `yaml:"timeout_s,omitempty"`
}

// enginesFile is the top-level shape of the YAML fleet file.
type enginesFile struct {
	Engines []EngineConfig `yaml:"engines"`
}

// LoadEngines reads the engine fleet from a YAML file. Instance names must be
// unique: they identify which instance owns a responder or job, and composite
// responder ids are routed by name prefix.
func LoadEngines(path string) ([]EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engines file: %w", err)
	}

	var f enginesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse engines file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Engines))
	for i, e := range f.Engines {
		if e.Name == "" {
			return nil, fmt.Errorf("engines[%d]: name is required", i)
		}
		if e.URL == "" {
			return nil, fmt.Errorf("engine %q: url is required", e.Name)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("engine %q: duplicate name", e.Name)
		}
		seen[e.Name] = true
	}

	return f.Engines, nil
}
