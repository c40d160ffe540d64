package plan

import (
	"context"
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// StaticSource serves a fixed in-code plan catalog.
// Useful for tests and bootstrapping before a catalog file exists.
type StaticSource map[string]Plan

func (s StaticSource) Load(_ context.Context) (map[string]Plan, error) {
	out := make(map[string]Plan, len(s))
	for name, p := range s {
		out[name] = p
	}
	return out, nil
}

// YAMLSource loads the plan catalog from a YAML file.
//
// The file holds a list of plans:
//
//	plans:
//	  - name: PROFESSIONAL
//	    price_id: pri_professional_monthly
//	    price: {amount: 4900, currency: USD}
//	    period: monthly
//	    trial_days: 14
//	    limits:
//	      campaigns: 10
//	      contacts: -1
type YAMLSource struct {
	Path string
}

// NewYAMLSource creates a source reading plans from the given file path.
func NewYAMLSource(path string) YAMLSource {
	return YAMLSource{Path: path}
}

func (s YAMLSource) Load(_ context.Context) (map[string]Plan, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Join(ErrCatalogFileMissing, err)
		}
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	plans := make(map[string]Plan, len(doc.Plans))
	for _, p := range doc.Plans {
		if _, exists := plans[p.Name]; exists {
			return nil, errors.Join(ErrInvalidPlan, ErrDuplicatePlanName)
		}
		plans[p.Name] = p
	}
	return plans, nil
}
