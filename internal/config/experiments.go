package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

// MaxSeedExperiments bounds the size of an experiments file.
const MaxSeedExperiments = 256

// ExperimentsFile is the YAML document loaded from EXPERIMENTS_FILE.
//
//	experiments:
//	  - name: prompt-length
//	    variants:
//	      - id: A
//	        payload: {prompt: "Answer briefly: {{question}}"}
//	      - id: B
//	        payload: {prompt: "Answer in detail: {{question}}"}
//	    traffic_split: {A: 0.5, B: 0.5}
//	    metrics: [successRate, latency]
//	    min_sample_size: 100
//	    max_duration: 168h
type ExperimentsFile struct {
	Experiments []domain.ExperimentConfig `yaml:"experiments"`
}

// LoadExperiments reads experiment definitions from a YAML file. Structural
// validation is left to the registry.
func LoadExperiments(path string) ([]domain.ExperimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading experiments file: %w", err)
	}
	return ParseExperiments(data)
}

// ParseExperiments decodes an experiments document. Unknown keys are
// rejected so typos do not silently drop settings. An empty document yields
// no experiments.
func ParseExperiments(data []byte) ([]domain.ExperimentConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file ExperimentsFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("unmarshaling YAML: %w", err)
	}
	if len(file.Experiments) > MaxSeedExperiments {
		return nil, fmt.Errorf("too many experiments: %d (max %d)", len(file.Experiments), MaxSeedExperiments)
	}
	for i, exp := range file.Experiments {
		if exp.Name == "" {
			return nil, fmt.Errorf("experiment at index %d has empty name", i)
		}
	}
	return file.Experiments, nil
}

// ParseExperiment decodes a single experiment config, as accepted by
// expctl create.
func ParseExperiment(data []byte) (domain.ExperimentConfig, error) {
	var cfg domain.ExperimentConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return domain.ExperimentConfig{}, fmt.Errorf("unmarshaling YAML: %w", err)
	}
	return cfg, nil
}
