// Package config loads the ambient configuration a Taintpilot run needs
// that is not itself taint-analysis logic: the weakness table, API key
// environment files, and the canonical on-disk layout for a run.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Weakness describes one recognized weakness identifier: the natural
// language description handed to Specification Synthesizer prompts, and the
// sanitizer hint appended to Flow Triager prompts. The table is data, not
// logic — Taintpilot never special-cases a CWE identifier in Go.
type Weakness struct {
	ID            string `yaml:"id"`
	Description   string `yaml:"description"`
	SanitizerHint string `yaml:"sanitizer_hint"`
}

// WeaknessTable maps a weakness identifier to its entry.
type WeaknessTable map[string]Weakness

// LoadWeaknesses reads a weaknesses.yaml file: a YAML sequence of Weakness
// entries.
func LoadWeaknesses(path string) (WeaknessTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read weaknesses file: %w", err)
	}
	var entries []Weakness
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("config: parse weaknesses file: %w", err)
	}
	table := WeaknessTable{}
	for _, w := range entries {
		table[w.ID] = w
	}
	return table, nil
}

// Lookup returns the entry for id, or an error if the identifier is not in
// the table. An unrecognized weakness identifier is a configuration error,
// reported before any pipeline stage runs.
func (t WeaknessTable) Lookup(id string) (Weakness, error) {
	w, ok := t[id]
	if !ok {
		return Weakness{}, fmt.Errorf("config: unrecognized weakness identifier %q", id)
	}
	return w, nil
}
