package monitor

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// AbuseDetector scans submitted code for patterns that suggest sandbox
// probing or resource abuse. Detections are recorded and logged; they never
// block an execution, since the interpreter's own restrictions are the
// enforcement layer and paid requests should not fail on heuristics.
type AbuseDetector struct {
	patterns []DetectionPattern
	metrics  *Metrics
}

// DetectionPattern defines a suspicious pattern to match.
type DetectionPattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
	Severity    Severity
}

// Severity levels for detected threats.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Detection represents a detected suspicious pattern.
type Detection struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
	Line     int    `json:"line,omitempty"`
}

// NewAbuseDetector creates a detector with default patterns. Metrics may be
// nil in tests.
func NewAbuseDetector(metrics *Metrics) *AbuseDetector {
	return &AbuseDetector{
		patterns: defaultPatterns(),
		metrics:  metrics,
	}
}

// AnalyzeCode checks submitted code for suspicious patterns before execution.
func (d *AbuseDetector) AnalyzeCode(code string) []Detection {
	var detections []Detection

	lines := strings.Split(code, "\n")
	for i, line := range lines {
		for _, p := range d.patterns {
			if p.Regex.MatchString(line) {
				det := Detection{
					Pattern:  p.Name,
					Severity: p.Severity.String(),
					Detail:   p.Description,
					Line:     i + 1,
				}
				detections = append(detections, det)

				if d.metrics != nil {
					d.metrics.SuspiciousCode.WithLabelValues(p.Name).Inc()
				}
				log.Warn().
					Str("pattern", p.Name).
					Str("severity", p.Severity.String()).
					Int("line", i+1).
					Msg("suspicious pattern in submitted code")
			}
		}
	}

	return detections
}

func defaultPatterns() []DetectionPattern {
	return []DetectionPattern{
		{
			Name:        "constructor_escape",
			Description: "Reaching the Function constructor through an object's constructor chain",
			Regex:       regexp.MustCompile(`constructor\s*(\.|\[)\s*['"]?constructor`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "dynamic_eval",
			Description: "Dynamic code evaluation",
			Regex:       regexp.MustCompile(`\beval\s*\(|new\s+Function\s*\(`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "prototype_pollution",
			Description: "Prototype chain manipulation",
			Regex:       regexp.MustCompile(`__proto__|Object\s*\.\s*setPrototypeOf`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "global_probe",
			Description: "Probing for host globals",
			Regex:       regexp.MustCompile(`\bglobalThis\b|\bprocess\s*\.\s*(env|binding)|\brequire\s*\(`),
			Severity:    SeverityMedium,
		},
		{
			Name:        "crypto_miner",
			Description: "Cryptocurrency mining signatures",
			Regex:       regexp.MustCompile(`(?i)(stratum\+tcp|cryptonight|hashrate|coinhive)`),
			Severity:    SeverityMedium,
		},
		{
			Name:        "allocation_bomb",
			Description: "Unbounded buffer allocation in a loop",
			Regex:       regexp.MustCompile(`new\s+Array\s*\(\s*1e[89]|new\s+Array\s*\(\s*\d{9,}`),
			Severity:    SeverityLow,
		},
	}
}
