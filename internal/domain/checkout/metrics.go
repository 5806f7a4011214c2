package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics counts submissions by method and outcome.
type Metrics struct {
	submissions   metric.Int64Counter
	compensations metric.Int64Counter
}

// NewMetrics registers the checkout instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("checkout")

	submissions, err := meter.Int64Counter("checkout.submissions",
		metric.WithDescription("Checkout submissions by payment method and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "submissions counter")
	}
	compensations, err := meter.Int64Counter("checkout.compensations",
		metric.WithDescription("Orders cancelled after a failed QR proof upload"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "compensations counter")
	}
	return &Metrics{submissions: submissions, compensations: compensations}, nil
}

func nopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func (m *Metrics) submission(ctx context.Context, method string, o Outcome) {
	m.submissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", string(o)),
	))
}

func (m *Metrics) compensation(ctx context.Context, ok bool) {
	m.compensations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}
