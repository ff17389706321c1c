package security

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
)

// Validator sanitizes and risk-scores untrusted inference input. All
// methods are pure and safe for concurrent use.
type Validator struct {
	config *ValidatorConfig
}

// ValidatorConfig configures input sanitization and adversarial detection
type ValidatorConfig struct {
	MaxStringLength    int     `json:"max_string_length"`
	MaxInputFields     int     `json:"max_input_fields"`
	MaxNestingDepth    int     `json:"max_nesting_depth"`
	RejectThreshold    float64 `json:"reject_threshold"`
	OutlierMagnitude   float64 `json:"outlier_magnitude"`
	PerturbationStdDev float64 `json:"perturbation_std_dev"`
}

// SanitizationResult is the outcome of sanitizing one input
type SanitizationResult struct {
	Sanitized interface{} `json:"sanitized"`
	Actions   []string    `json:"actions"`
	RiskScore float64     `json:"risk_score"`
}

// RiskLevel grades adversarial detection results
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// AdversarialResult is the outcome of adversarial-sample detection
type AdversarialResult struct {
	IsAdversarial bool      `json:"is_adversarial"`
	RiskLevel     RiskLevel `json:"risk_level"`
	Indicators    []string  `json:"indicators"`
}

var (
	scriptPattern    = regexp.MustCompile(`(?i)<\s*script|javascript:|on\w+\s*=`)
	sqlMetaPattern   = regexp.MustCompile(`(?i)(union\s+select|drop\s+table|insert\s+into|--\s|;\s*delete\s)`)
	traversalPattern = regexp.MustCompile(`\.\./|\.\.\\`)
)

// NewValidator creates a new input validator
func NewValidator(config *ValidatorConfig) *Validator {
	if config == nil {
		config = DefaultValidatorConfig()
	}
	return &Validator{config: config}
}

// DefaultValidatorConfig returns the default validator configuration
func DefaultValidatorConfig() *ValidatorConfig {
	return &ValidatorConfig{
		MaxStringLength:    4096,
		MaxInputFields:     256,
		MaxNestingDepth:    8,
		RejectThreshold:    70,
		OutlierMagnitude:   1e9,
		PerturbationStdDev: 1e-6,
	}
}

// RejectThreshold returns the risk score above which input must be rejected
func (v *Validator) RejectThreshold() float64 {
	return v.config.RejectThreshold
}

// SanitizeInput cleans the input and computes a 0-100 risk score. The
// returned value is a sanitized copy; the original is never modified.
func (v *Validator) SanitizeInput(input interface{}) *SanitizationResult {
	result := &SanitizationResult{Actions: []string{}}
	result.Sanitized = v.sanitizeValue(input, 0, result)
	if result.RiskScore > 100 {
		result.RiskScore = 100
	}
	return result
}

func (v *Validator) sanitizeValue(value interface{}, depth int, result *SanitizationResult) interface{} {
	if depth > v.config.MaxNestingDepth {
		result.Actions = append(result.Actions, "truncated_nested_structure")
		result.RiskScore += 25
		return nil
	}

	switch val := value.(type) {
	case string:
		return v.sanitizeString(val, result)
	case map[string]interface{}:
		if len(val) > v.config.MaxInputFields {
			result.Actions = append(result.Actions, "oversized_field_count")
			result.RiskScore += 20
		}
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			key := v.sanitizeString(k, result)
			out[key] = v.sanitizeValue(item, depth+1, result)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = v.sanitizeValue(item, depth+1, result)
		}
		return out
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			result.Actions = append(result.Actions, "replaced_non_finite_value")
			result.RiskScore += 15
			return float64(0)
		}
		return val
	default:
		return value
	}
}

func (v *Validator) sanitizeString(s string, result *SanitizationResult) string {
	original := s

	if len(s) > v.config.MaxStringLength {
		s = s[:v.config.MaxStringLength]
		result.Actions = append(result.Actions, "truncated_string")
		result.RiskScore += 10
	}

	if scriptPattern.MatchString(s) {
		s = scriptPattern.ReplaceAllString(s, "")
		result.Actions = append(result.Actions, "removed_script_content")
		result.RiskScore += 40
	}

	if sqlMetaPattern.MatchString(s) {
		s = sqlMetaPattern.ReplaceAllString(s, "")
		result.Actions = append(result.Actions, "removed_sql_metacharacters")
		result.RiskScore += 35
	}

	if traversalPattern.MatchString(s) {
		s = traversalPattern.ReplaceAllString(s, "")
		result.Actions = append(result.Actions, "removed_path_traversal")
		result.RiskScore += 30
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	if cleaned != s {
		result.Actions = append(result.Actions, "removed_control_characters")
		result.RiskScore += 10
	}

	if cleaned != original && len(result.Actions) == 0 {
		result.Actions = append(result.Actions, "normalized_string")
	}

	return cleaned
}

// DetectAdversarial inspects numeric content of the input for signs of
// crafted adversarial samples: extreme magnitudes, non-finite values, and
// uniform low-variance perturbation patterns.
func (v *Validator) DetectAdversarial(input interface{}) *AdversarialResult {
	result := &AdversarialResult{RiskLevel: RiskLevelLow, Indicators: []string{}}

	values := collectNumeric(input, nil)
	if len(values) == 0 {
		return result
	}

	nonFinite := 0
	extreme := 0
	for _, x := range values {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			nonFinite++
		} else if math.Abs(x) > v.config.OutlierMagnitude {
			extreme++
		}
	}

	if nonFinite > 0 {
		result.Indicators = append(result.Indicators, fmt.Sprintf("non_finite_values:%d", nonFinite))
	}
	if extreme > 0 {
		result.Indicators = append(result.Indicators, fmt.Sprintf("extreme_magnitude:%d", extreme))
	}

	// Many near-identical tiny deltas across features look like a crafted
	// uniform perturbation rather than organic data.
	if len(values) >= 8 {
		mean := 0.0
		for _, x := range values {
			mean += x
		}
		mean /= float64(len(values))

		variance := 0.0
		allTiny := true
		for _, x := range values {
			d := x - mean
			variance += d * d
			if math.Abs(x) > 1 {
				allTiny = false
			}
		}
		variance /= float64(len(values))

		if allTiny && variance > 0 && math.Sqrt(variance) < v.config.PerturbationStdDev {
			result.Indicators = append(result.Indicators, "uniform_perturbation_pattern")
		}
	}

	switch {
	case nonFinite > 0 || extreme > len(values)/2:
		result.IsAdversarial = true
		result.RiskLevel = RiskLevelHigh
	case extreme > 0 || len(result.Indicators) > 0:
		result.IsAdversarial = true
		result.RiskLevel = RiskLevelMedium
	}

	return result
}

func collectNumeric(value interface{}, acc []float64) []float64 {
	switch val := value.(type) {
	case float64:
		return append(acc, val)
	case float32:
		return append(acc, float64(val))
	case int:
		return append(acc, float64(val))
	case int64:
		return append(acc, float64(val))
	case map[string]interface{}:
		for _, item := range val {
			acc = collectNumeric(item, acc)
		}
		return acc
	case []interface{}:
		for _, item := range val {
			acc = collectNumeric(item, acc)
		}
		return acc
	case []float64:
		return append(acc, val...)
	default:
		return acc
	}
}
