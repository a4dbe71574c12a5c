package command

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema bounds the canonical configuration keys. Unknown keys pass
// here; whether a vendor can express them is decided when the command is
// built.
const configSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"minProperties": 1,
	"properties": {
		"record_interval": {"type": "integer", "minimum": 1, "maximum": 86400},
		"upload_interval": {"type": "integer", "minimum": 60, "maximum": 604800},
		"temp_high":       {"type": "number", "minimum": -60, "maximum": 125},
		"temp_low":        {"type": "number", "minimum": -60, "maximum": 125},
		"humidity_high":   {"type": "number", "minimum": 0, "maximum": 100},
		"humidity_low":    {"type": "number", "minimum": 0, "maximum": 100}
	},
	"additionalProperties": true
}`

// ConfigValidator checks operator-submitted configuration maps.
type ConfigValidator struct {
	schema *gojsonschema.Schema
}

// NewConfigValidator compiles the configuration schema.
func NewConfigValidator() (*ConfigValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(configSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling config schema: %w", err)
	}
	return &ConfigValidator{schema: schema}, nil
}

// Validate returns ErrInvalidConfig describing every problem found.
func (v *ConfigValidator) Validate(config map[string]any) error {
	if config == nil {
		return fmt.Errorf("%w: configuration is required", ErrInvalidConfig)
	}

	result, err := v.schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	var problems []string
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	problems = append(problems, rangeProblems(config, "temp_low", "temp_high")...)
	problems = append(problems, rangeProblems(config, "humidity_low", "humidity_high")...)

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// rangeProblems reports a low threshold that is not below its high pair.
func rangeProblems(config map[string]any, lowKey, highKey string) []string {
	low, okLow := asFloat(config[lowKey])
	high, okHigh := asFloat(config[highKey])
	if !okLow || !okHigh || low < high {
		return nil
	}
	return []string{fmt.Sprintf("%s must be below %s", lowKey, highKey)}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
