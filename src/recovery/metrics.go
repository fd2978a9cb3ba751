package recovery

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Blackdeer1524/ariesdb/src/pkg/utils"
)

const meterName = "github.com/Blackdeer1524/ariesdb/src/recovery"

type metrics struct {
	recordsAppended metric.Int64Counter
	logFlushes      metric.Int64Counter
	pagesFlushed    metric.Int64Counter
	clrsWritten     metric.Int64Counter
	restartPhase    metric.Float64Histogram
}

// newMetrics binds to the global meter provider, which is a no-op until
// the application installs one.
func newMetrics() *metrics {
	meter := otel.Meter(meterName)

	return &metrics{
		recordsAppended: utils.Must(meter.Int64Counter(
			"ariesdb.log.records_appended",
			metric.WithDescription("Log records appended, by record type"),
		)),
		logFlushes: utils.Must(meter.Int64Counter(
			"ariesdb.log.flushes",
			metric.WithDescription("Log flushes that wrote at least one page"),
		)),
		pagesFlushed: utils.Must(meter.Int64Counter(
			"ariesdb.log.pages_flushed",
			metric.WithDescription("Log pages written to disk"),
		)),
		clrsWritten: utils.Must(meter.Int64Counter(
			"ariesdb.recovery.clrs_written",
			metric.WithDescription("Compensation records written by rollbacks"),
		)),
		restartPhase: utils.Must(meter.Float64Histogram(
			"ariesdb.recovery.restart_phase_duration",
			metric.WithDescription("Duration of restart recovery phases"),
			metric.WithUnit("s"),
		)),
	}
}

func (m *metrics) recordAppended(tag LogRecordTypeTag) {
	m.recordsAppended.Add(
		context.Background(),
		1,
		metric.WithAttributes(attribute.String("type", tag.String())),
	)
}

func (m *metrics) logFlushed(pages int) {
	m.logFlushes.Add(context.Background(), 1)
	m.pagesFlushed.Add(context.Background(), int64(pages))
}

func (m *metrics) clrWritten() {
	m.clrsWritten.Add(context.Background(), 1)
}

func (m *metrics) phaseFinished(phase Phase, started time.Time) {
	m.restartPhase.Record(
		context.Background(),
		time.Since(started).Seconds(),
		metric.WithAttributes(attribute.String("phase", phase.String())),
	)
}
