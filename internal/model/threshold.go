package model

import "time"

// Operator compares a measured value against a threshold value.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
)

// NormalizeOperator returns op if it is one of the known comparison
// operators, otherwise the safe default ">".
func NormalizeOperator(op Operator) Operator {
	switch op {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual:
		return op
	}
	return OpGreater
}

// Compare applies the operator with value on the left-hand side:
// value <op> limit.
func (op Operator) Compare(value, limit float64) bool {
	switch op {
	case OpGreater:
		return value > limit
	case OpLess:
		return value < limit
	case OpGreaterEqual:
		return value >= limit
	case OpLessEqual:
		return value <= limit
	case OpEqual:
		return value == limit
	}
	return false
}

// Severity classifies how far a value exceeds its threshold.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is one of the four severity levels.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Threshold defines when a performance metric value is considered bad.
type Threshold struct {
	Metric      string    `json:"metric"`
	Value       float64   `json:"value"`
	Operator    Operator  `json:"operator"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MetricSample is one recorded measurement for a component metric.
type MetricSample struct {
	Component  string    `json:"component"`
	MetricName string    `json:"metric_name"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}
