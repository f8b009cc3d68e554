package config

import (
	"encoding/json"
	"fmt"
	"os"

	domain "github.com/swingft/console-llm/internal/domain/analysis"
)

// Swingft is the obfuscator's project configuration (swingft_config.json).
// The analysis engine consumes it read-only: the project root for file
// discovery and the identifier lists as prompt hints.
type Swingft struct {
	Project struct {
		Input string `json:"input"`
	} `json:"project"`
	Exclude struct {
		Obfuscation []string `json:"obfuscation"`
	} `json:"exclude"`
	Include struct {
		Obfuscation []string `json:"obfuscation"`
	} `json:"include"`
}

// LoadSwingft parses a swingft_config.json.
func LoadSwingft(path string) (*Swingft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load swingft config %s: %w", path, err)
	}
	var cfg Swingft
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse swingft config %s: %w", path, err)
	}
	if cfg.Project.Input == "" {
		return nil, fmt.Errorf("swingft config %s: project.input is required", path)
	}
	return &cfg, nil
}

// Hints exposes the identifier lists as prompt hints.
func (c *Swingft) Hints() domain.RuleHints {
	return domain.RuleHints{
		Exclude: c.Exclude.Obfuscation,
		Include: c.Include.Obfuscation,
	}
}
