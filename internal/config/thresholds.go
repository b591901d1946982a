package config

import (
	"fmt"
	"os"

	"github.com/BradenHooton/authguard/internal/models"
	"gopkg.in/yaml.v3"
)

// ThresholdOverride is one entry of the ALERT_THRESHOLDS_FILE document:
//
//	thresholds:
//	  - name: brute_force_detection
//	    threshold: 20
//	  - name: rapid_registration
//	    enabled: false
type ThresholdOverride struct {
	Name                        string `yaml:"name"`
	models.AlertThresholdUpdate `yaml:",inline"`
}

type thresholdFile struct {
	Thresholds []ThresholdOverride `yaml:"thresholds"`
}

// LoadThresholdOverrides reads alert threshold overrides from a YAML file.
// An empty path yields no overrides.
func LoadThresholdOverrides(path string) ([]ThresholdOverride, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read threshold overrides: %w", err)
	}

	var doc thresholdFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse threshold overrides: %w", err)
	}

	for i, o := range doc.Thresholds {
		if o.Name == "" {
			return nil, fmt.Errorf("threshold override %d has no name", i)
		}
		if o.Severity != nil && !o.Severity.Valid() {
			return nil, fmt.Errorf("threshold %s: unknown severity %q", o.Name, *o.Severity)
		}
		if o.EventType != nil && !o.EventType.Valid() {
			return nil, fmt.Errorf("threshold %s: unknown event type %q", o.Name, *o.EventType)
		}
		if o.Condition != nil && *o.Condition != models.ConditionCountExceeds && *o.Condition != models.ConditionRateExceeds {
			return nil, fmt.Errorf("threshold %s: unknown condition %q", o.Name, *o.Condition)
		}
		if o.TimeWindowMinutes != nil && *o.TimeWindowMinutes < 1 {
			return nil, fmt.Errorf("threshold %s: time_window_minutes must be at least 1", o.Name)
		}
	}

	return doc.Thresholds, nil
}
