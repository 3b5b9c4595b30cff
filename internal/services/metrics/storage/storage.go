// Package storage defines persistence contracts for metric telemetry state.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownValueType indicates a persisted row carries a value discriminator
// the current code does not understand.
var ErrUnknownValueType = errors.New("unknown metric value type")

// ValueKind discriminates the payload variant of a metric value.
type ValueKind string

const (
	// ValueDouble marks a numeric metric value.
	ValueDouble ValueKind = "double"
	// ValueString marks a text metric value.
	ValueString ValueKind = "string"
)

// Value holds exactly one of a numeric or text payload, selected by Kind.
type Value struct {
	Kind   ValueKind
	Double float64
	Str    string
}

// DoubleValue builds a numeric metric value.
func DoubleValue(v float64) Value {
	return Value{Kind: ValueDouble, Double: v}
}

// StringValue builds a text metric value.
func StringValue(s string) Value {
	return Value{Kind: ValueString, Str: s}
}

// Metric is one named, timestamped data point. Rows are append-only facts;
// no update or delete operation exists.
type Metric struct {
	Name  string
	When  time.Time
	Value Value
}

// MetricInfo pairs a metric name with the latest timestamp observed for it.
type MetricInfo struct {
	Name     string
	LastSeen time.Time
}

// ReadFilter restricts a prefix read. Start and Stop are strictly exclusive
// bounds when set. Limit caps the number of returned rows when positive.
type ReadFilter struct {
	Start *time.Time
	Stop  *time.Time
	Limit int
}

// Database persists metric data points. Setup applies the backend's embedded
// schema migrations and must run before any other call.
type Database interface {
	Setup(ctx context.Context) error
	WriteMetric(ctx context.Context, metric Metric) error
	ReadMetrics(ctx context.Context, prefix string, filter ReadFilter) ([]Metric, error)
	ListMetrics(ctx context.Context, prefix string) ([]MetricInfo, error)
}
