package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Counter is a named Int64 counter that tolerates creation failure.
// A nil inner counter turns Add into a no-op.
type Counter struct {
	inner metric.Int64Counter
}

// NewCounter creates a counter on the meter for the given scope.
func NewCounter(m metric.Meter, name, description string) Counter {
	c, err := m.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return Counter{}
	}
	return Counter{inner: c}
}

// Add increments the counter by n with the given attributes.
func (c Counter) Add(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	if c.inner == nil || n == 0 {
		return
	}
	c.inner.Add(ctx, n, metric.WithAttributes(attrs...))
}
