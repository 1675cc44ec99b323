package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Params captures the hyperparameters of a training run.
type Params struct {
	MaxEpochs   int     `yaml:"max_epochs"`
	Linear1     int     `yaml:"linear_1"`
	Linear2     int     `yaml:"linear_2"`
	LR          float64 `yaml:"lr"`
	DecayFactor float64 `yaml:"decay_factor"`
	BatchSize   int     `yaml:"batch_size"`
}

var requiredKeys = []string{"max_epochs", "linear_1", "linear_2", "lr", "decay_factor", "batch_size"}

// Load reads and validates Params from a YAML file.
func Load(path string) (*Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	p, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return p, nil
}

// Parse decodes Params from r. Every key is required and unknown keys are
// rejected.
func Parse(r io.Reader) (*Params, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	present := map[string]any{}
	if err := yaml.Unmarshal(raw, &present); err != nil {
		return nil, err
	}
	for _, key := range requiredKeys {
		if _, ok := present[key]; !ok {
			return nil, fmt.Errorf("missing required key %s", key)
		}
	}

	p := &Params{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate verifies the params are runnable.
func (p *Params) Validate() error {
	if p == nil {
		return errors.New("params are nil")
	}
	if p.MaxEpochs <= 0 {
		return fmt.Errorf("max_epochs must be > 0 (got %d)", p.MaxEpochs)
	}
	if p.Linear1 <= 0 {
		return fmt.Errorf("linear_1 must be > 0 (got %d)", p.Linear1)
	}
	if p.Linear2 <= 0 {
		return fmt.Errorf("linear_2 must be > 0 (got %d)", p.Linear2)
	}
	if p.LR <= 0 {
		return fmt.Errorf("lr must be > 0 (got %g)", p.LR)
	}
	if p.DecayFactor <= 0 {
		return fmt.Errorf("decay_factor must be > 0 (got %g)", p.DecayFactor)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", p.BatchSize)
	}
	return nil
}

// Map returns the params keyed by their file names, for hyperparameter logging.
func (p *Params) Map() map[string]any {
	return map[string]any{
		"max_epochs":   p.MaxEpochs,
		"linear_1":     p.Linear1,
		"linear_2":     p.Linear2,
		"lr":           p.LR,
		"decay_factor": p.DecayFactor,
		"batch_size":   p.BatchSize,
	}
}
