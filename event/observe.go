package event

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for longhaul metrics.
const meterName = "github.com/xraph/longhaul"

// Observe subscribes lifecycle observability to the bus: an OTel counter
// per lifecycle emission and structured logs for failures and errors. If
// no MeterProvider is configured the instruments are noop and only the
// logs remain. Returns a function that removes all subscriptions.
func Observe(b *Bus, logger *slog.Logger) (cancel func()) {
	return ObserveWithMeter(b, logger, otel.Meter(meterName))
}

// ObserveWithMeter is Observe with an injected meter, for testing.
func ObserveWithMeter(b *Bus, logger *slog.Logger, meter metric.Meter) (cancel func()) {
	lifecycle, lErr := meter.Int64Counter(
		"longhaul.job.lifecycle",
		metric.WithDescription("Job lifecycle events observed on the bus"),
		metric.WithUnit("{event}"),
	)
	_ = lErr // noop fallback guaranteed by OTel API contract

	count := func(name string, payload JobPayload) {
		lifecycle.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("event", name),
			attribute.String("job_name", payload.Name),
		))
	}

	cancels := []func(){
		On(b, JobCreated, func(d CreatedData) { count(JobCreated, d.JobPayload) }),
		On(b, JobStatusChanged, func(d StatusChangedData) { count(JobStatusChanged, d.JobPayload) }),
		On(b, JobCancelled, func(d CancelledData) { count(JobCancelled, d.JobPayload) }),
		On(b, JobCompleted, func(d CompletedData) { count(JobCompleted, d.JobPayload) }),
		On(b, JobDeleted, func(d DeletedData) { count(JobDeleted, d.JobPayload) }),
		On(b, JobFailed, func(d FailedData) {
			count(JobFailed, d.JobPayload)
			logger.Warn("job failed",
				slog.String("job_id", d.ID.String()),
				slog.String("job_name", d.Name),
				slog.String("error", d.Error),
			)
		}),
		On(b, Error, func(d ErrorData) {
			logger.Error("execution error",
				slog.String("name", d.Name),
				slog.String("error", d.Error),
			)
		}),
	}

	return func() {
		for _, c := range cancels {
			c()
		}
	}
}
