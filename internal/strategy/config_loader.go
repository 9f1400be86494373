package strategy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config represents a strategy configuration entry in YAML.
type Config struct {
	Name       string         `yaml:"name"`
	Symbol     string         `yaml:"symbol,omitempty"`
	Parameters map[string]any `yaml:"parameters"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Active     string   `yaml:"active"`
	Symbol     string   `yaml:"symbol,omitempty"`
	Strategies []Config `yaml:"strategies"`
}

// LoadConfig reads strategies from a YAML file.
func LoadConfig(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &file, nil
}

// SaveConfig writes file as YAML, creating the directory if needed.
func SaveConfig(path string, file *ConfigFile) error {
	data, err := yaml.Marshal(file)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Apply configures reg from file. Unknown strategy names are an error.
func Apply(reg *Registry, file *ConfigFile) error {
	for _, c := range file.Strategies {
		if err := reg.Configure(c.Name, Params(c.Parameters)); err != nil {
			return err
		}
	}
	if file.Active != "" {
		return reg.SetActive(file.Active)
	}
	return nil
}

// Snapshot renders reg as a ConfigFile.
func Snapshot(reg *Registry, symbol string) *ConfigFile {
	file := &ConfigFile{Active: reg.ActiveName(), Symbol: symbol}
	params := reg.AllParams()
	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		file.Strategies = append(file.Strategies, Config{Name: n, Parameters: params[n]})
	}
	return file
}
