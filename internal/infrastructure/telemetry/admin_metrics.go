package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrNilMeter is returned when an instrument set is built without a meter.
var ErrNilMeter = errors.New("telemetry: meter is nil")

// AdminMetrics tracks administrative operations, extension failures,
// compensations and cache invalidations. A nil *AdminMetrics records nothing.
type AdminMetrics struct {
	operations        *Counter
	operationDuration *Histogram
	extensionFailures *Counter
	compensations     *Counter
	invalidations     *Counter
}

// NewAdminMetrics registers the service instruments on meter.
func NewAdminMetrics(meter metric.Meter) (*AdminMetrics, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	am := &AdminMetrics{}
	var err error
	if am.operations, err = NewCounter(meter, "admin_operations_total",
		"Administrative operations by kind, operation and outcome", "{operation}"); err != nil {
		return nil, err
	}
	if am.operationDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "admin_operation_duration_seconds",
		Description: "Duration of administrative operations",
		Unit:        "s",
	}); err != nil {
		return nil, err
	}
	if am.extensionFailures, err = NewCounter(meter, "admin_extension_failures_total",
		"Failed extension invocations", "{failure}"); err != nil {
		return nil, err
	}
	if am.compensations, err = NewCounter(meter, "admin_compensations_total",
		"Compensating actions run after a failed step", "{action}"); err != nil {
		return nil, err
	}
	if am.invalidations, err = NewCounter(meter, "admin_cache_invalidations_total",
		"Cache keys invalidated per region", "{key}"); err != nil {
		return nil, err
	}
	return am, nil
}

// RecordOperation records a finished operation with its outcome (a failure kind or "ok").
func (am *AdminMetrics) RecordOperation(ctx context.Context, kind, op, outcome string, d time.Duration) {
	if am == nil {
		return
	}
	attrs := []attribute.KeyValue{
		AttrEntityKind.String(kind),
		AttrOperation.String(op),
		AttrOutcome.String(outcome),
	}
	am.operations.Inc(ctx, attrs...)
	am.operationDuration.RecordDuration(ctx, d, attrs...)
}

func (am *AdminMetrics) RecordExtensionFailure(ctx context.Context, extension, op string) {
	if am == nil {
		return
	}
	am.extensionFailures.Inc(ctx, AttrExtension.String(extension), AttrOperation.String(op))
}

// RecordCompensation records one compensating action and whether it succeeded.
func (am *AdminMetrics) RecordCompensation(ctx context.Context, target string, ok bool) {
	if am == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	am.compensations.Inc(ctx, AttrExtension.String(target), AttrOutcome.String(outcome))
}

func (am *AdminMetrics) RecordInvalidation(ctx context.Context, region string, keys int) {
	if am == nil {
		return
	}
	am.invalidations.Add(ctx, int64(keys), AttrRegion.String(region))
}
