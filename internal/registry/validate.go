package registry

import (
	"errors"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

// SplitTolerance is the allowed deviation of the traffic split sum from 1.0.
const SplitTolerance = 0.01

var configValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks an experiment configuration and returns a
// *domain.ValidationError naming the first violated rule.
func Validate(cfg *domain.ExperimentConfig) error {
	if cfg == nil {
		return domain.NewValidationError("config is required")
	}
	if err := configValidate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return describe(verrs[0])
		}
		return domain.NewValidationError("%v", err)
	}

	seen := make(map[string]bool, len(cfg.Variants))
	for _, v := range cfg.Variants {
		if seen[v.ID] {
			return domain.NewValidationError("duplicate variant id %q", v.ID)
		}
		seen[v.ID] = true
	}

	if err := ValidateSplit(cfg.Variants, cfg.TrafficSplit); err != nil {
		return err
	}

	if cfg.MaxDuration < 0 {
		return domain.NewValidationError("max duration must not be negative")
	}
	return nil
}

// ValidateSplit checks that every fraction is a non-negative share of a known
// variant and that the shares sum to 1.0 within SplitTolerance.
func ValidateSplit(variants []domain.Variant, split map[string]float64) error {
	known := make(map[string]bool, len(variants))
	for _, v := range variants {
		known[v.ID] = true
	}

	total := 0.0
	for id, share := range split {
		if !known[id] {
			return domain.NewValidationError("traffic split references unknown variant %q", id)
		}
		if share < 0 || math.IsNaN(share) || math.IsInf(share, 0) {
			return domain.NewValidationError("traffic split for %q must be a non-negative number", id)
		}
		total += share
	}
	if math.Abs(total-1.0) > SplitTolerance {
		return domain.NewValidationError("traffic split must sum to 1.0 (got %.4f)", total)
	}
	return nil
}

func describe(fe validator.FieldError) error {
	switch fe.StructNamespace() {
	case "ExperimentConfig.Name":
		return domain.NewValidationError("name is required")
	case "ExperimentConfig.Variants":
		return domain.NewValidationError("at least 2 variants required")
	case "ExperimentConfig.MinSampleSize":
		return domain.NewValidationError("minimum sample size should be at least 30")
	}
	switch fe.Field() {
	case "ID":
		return domain.NewValidationError("variant id is required (%s)", fe.Namespace())
	}
	if fe.Tag() == "required" {
		return domain.NewValidationError("%s is required", fe.Namespace())
	}
	return domain.NewValidationError("%s failed %s", fe.Namespace(), fe.Tag())
}
