package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/warden/pkg/errors"
)

// Metrics holds the admission and execution instruments. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	verdicts     metric.Int64Counter
	invocations  metric.Int64Counter
	loadFailures metric.Int64Counter
	duration     metric.Float64Histogram
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("warden")

	verdicts, err := meter.Int64Counter(
		"warden.admission.verdicts",
		metric.WithDescription("Admission verdicts by outcome"),
	)
	if err != nil {
		return nil, err
	}
	invocations, err := meter.Int64Counter(
		"warden.invocations",
		metric.WithDescription("Capability and skill invocations by outcome"),
	)
	if err != nil {
		return nil, err
	}
	loadFailures, err := meter.Int64Counter(
		"warden.load.failures",
		metric.WithDescription("Artifacts or types that failed to load"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"warden.invocation.duration",
		metric.WithDescription("Invocation latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{
		verdicts:     verdicts,
		invocations:  invocations,
		loadFailures: loadFailures,
		duration:     duration,
	}, nil
}

// RecordVerdict counts one inspection outcome.
func (m *Metrics) RecordVerdict(ctx context.Context, accepted bool) {
	if m == nil {
		return
	}
	m.verdicts.Add(ctx, 1, metric.WithAttributes(attribute.Bool(AttrVerdictAccepted, accepted)))
}

// RecordInvocation counts one invocation and its latency. err is the
// dispatcher-level error, if any.
func (m *Metrics) RecordInvocation(ctx context.Context, kind, name string, success bool, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := append(InvocationAttributes(kind, name), attribute.Bool(AttrCapabilitySuccess, success))
	if err != nil {
		attrs = append(attrs, attribute.String(AttrErrorCode, string(errors.AsWardenError(err).Code)))
	}
	m.invocations.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(InvocationAttributes(kind, name)...))
}

// RecordLoadFailure counts one artifact or type load failure.
func (m *Metrics) RecordLoadFailure(ctx context.Context, artifact string) {
	if m == nil {
		return
	}
	m.loadFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrArtifactName, artifact)))
}
