// Package alerts models alert rule configuration and evaluates samples
// against it. Delivering notifications is left to whoever consumes breaches.
package alerts

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"vitals-service/internal/models"
	"vitals-service/internal/vitals"
)

type Condition string

const (
	Above Condition = "above"
	Below Condition = "below"
)

type Rule struct {
	ID        string      `yaml:"id" json:"id"`
	Name      string      `yaml:"name" json:"name"`
	Metric    vitals.Kind `yaml:"metric" json:"metric"`
	Threshold float64     `yaml:"threshold" json:"threshold"`
	Condition Condition   `yaml:"condition" json:"condition"`
	Enabled   bool        `yaml:"enabled" json:"enabled"`
}

type File struct {
	Alerts []Rule `yaml:"alerts"`
}

type Breach struct {
	Rule  Rule
	Value float64
}

func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.New("alert id is required")
	}
	kind, err := vitals.ParseKind(string(r.Metric))
	if err != nil {
		return fmt.Errorf("alert %s: %w", r.ID, err)
	}
	if kind != r.Metric {
		return fmt.Errorf("alert %s: metric must be lower case, got %q", r.ID, r.Metric)
	}
	switch r.Condition {
	case Above, Below:
	default:
		return fmt.Errorf("alert %s: invalid condition %q (valid: above, below)", r.ID, r.Condition)
	}
	if r.Threshold < 0 {
		return fmt.Errorf("alert %s: threshold must not be negative", r.ID)
	}
	return nil
}

// Parse decodes and validates a YAML rule file. Duplicate ids are rejected.
func Parse(reader io.Reader) ([]Rule, error) {
	var data File
	if err := yaml.NewDecoder(reader).Decode(&data); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse YAML alerts: %w", err)
	}

	seen := make(map[string]struct{}, len(data.Alerts))
	for _, rule := range data.Alerts {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[rule.ID]; dup {
			return nil, fmt.Errorf("duplicate alert id %q", rule.ID)
		}
		seen[rule.ID] = struct{}{}
	}
	return data.Alerts, nil
}

func LoadFile(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open alerts file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Evaluate returns the enabled rules the sample breaches. Thresholds are
// exclusive: a value equal to the threshold does not breach.
func Evaluate(rules []Rule, sample models.Sample) []Breach {
	var breaches []Breach
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		value := vitals.Value(sample.Metrics, rule.Metric)
		if (rule.Condition == Above && value > rule.Threshold) ||
			(rule.Condition == Below && value < rule.Threshold) {
			breaches = append(breaches, Breach{Rule: rule, Value: value})
		}
	}
	return breaches
}
