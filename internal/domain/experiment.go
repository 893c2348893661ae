package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// VariantPayload is the opaque execution payload of a variant. The engine
// only reads Executor and Endpoint when it has to pick a named executor.
type VariantPayload struct {
	Prompt   string         `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Executor string         `json:"executor,omitempty" yaml:"executor,omitempty"`
	Endpoint string         `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Config   map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Variant is one alternative being tested.
type Variant struct {
	ID      string         `json:"id" yaml:"id" validate:"required"`
	Name    string         `json:"name,omitempty" yaml:"name,omitempty"`
	Payload VariantPayload `json:"payload" yaml:"payload"`
}

// ExperimentConfig is the immutable definition of an experiment.
type ExperimentConfig struct {
	Name          string             `json:"name" yaml:"name" validate:"required"`
	Description   string             `json:"description,omitempty" yaml:"description,omitempty"`
	Variants      []Variant          `json:"variants" yaml:"variants" validate:"min=2,dive"`
	TrafficSplit  map[string]float64 `json:"traffic_split" yaml:"traffic_split"`
	Metrics       []string           `json:"metrics" yaml:"metrics" validate:"dive,required"`
	MinSampleSize int                `json:"min_sample_size" yaml:"min_sample_size" validate:"gte=30"`
	MaxDuration   Duration           `json:"max_duration,omitempty" yaml:"max_duration,omitempty"`
}

// Variant returns the variant with the given id.
func (c *ExperimentConfig) Variant(id string) (Variant, bool) {
	for _, v := range c.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// PrimaryMetric returns the first configured metric, or "" if none.
func (c *ExperimentConfig) PrimaryMetric() string {
	if len(c.Metrics) == 0 {
		return ""
	}
	return c.Metrics[0]
}

// Clone returns a deep copy of the config so callers cannot mutate a stored
// definition through shared maps or slices.
func (c ExperimentConfig) Clone() ExperimentConfig {
	out := c
	out.Variants = make([]Variant, len(c.Variants))
	copy(out.Variants, c.Variants)
	out.TrafficSplit = make(map[string]float64, len(c.TrafficSplit))
	for k, v := range c.TrafficSplit {
		out.TrafficSplit[k] = v
	}
	out.Metrics = append([]string(nil), c.Metrics...)
	return out
}

// ExperimentRecord is the mutable registry entry for an experiment.
type ExperimentRecord struct {
	ID             string           `json:"experiment_id"`
	Config         ExperimentConfig `json:"config"`
	Status         ExperimentStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	FirstOutcomeAt *time.Time       `json:"first_outcome_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// Duration is a time.Duration that encodes as a Go duration string.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(val))
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}
