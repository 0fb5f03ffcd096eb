package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "finsight"

// Metrics holds all advisory pipeline metric instruments.
type Metrics struct {
	RequestsStarted  metric.Int64Counter
	RequestsDone     metric.Int64Counter
	RequestsAborted  metric.Int64Counter
	Escalations      metric.Int64Counter
	RequestDuration  metric.Float64Histogram
	ConfidenceScores metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RequestsStarted, err = meter.Int64Counter("finsight.requests.started",
		metric.WithDescription("Number of advisory requests started"))
	if err != nil {
		return nil, err
	}

	m.RequestsDone, err = meter.Int64Counter("finsight.requests.done",
		metric.WithDescription("Number of advisory requests finalized"))
	if err != nil {
		return nil, err
	}

	m.RequestsAborted, err = meter.Int64Counter("finsight.requests.aborted",
		metric.WithDescription("Number of advisory requests aborted"))
	if err != nil {
		return nil, err
	}

	m.Escalations, err = meter.Int64Counter("finsight.router.escalations",
		metric.WithDescription("Number of segments escalated to the large model"))
	if err != nil {
		return nil, err
	}

	m.RequestDuration, err = meter.Float64Histogram("finsight.request.duration_seconds",
		metric.WithDescription("Advisory request duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ConfidenceScores, err = meter.Float64Histogram("finsight.confidence.score",
		metric.WithDescription("Final confidence score distribution"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
