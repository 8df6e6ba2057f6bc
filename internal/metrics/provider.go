package metrics

import (
	"context"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-learning-auth/pkg/utilities"
)

// NewProvider builds a meter provider whose periodic reader writes every
// collection to logger. Callers own the provider and must Shutdown it, which
// also flushes the last collection.
func NewProvider(logger *zap.SugaredLogger, interval time.Duration) *sdkmetric.MeterProvider {
	exp := &LogExporter{logger: utilities.Nop(logger)}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
}

// LogExporter is a push exporter that logs counter totals.
type LogExporter struct {
	logger *zap.SugaredLogger
}

func (e *LogExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(k)
}

func (e *LogExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

func (e *LogExporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				e.logger.Debugw("metric skipped", "name", m.Name)
				continue
			}
			for _, dp := range sum.DataPoints {
				fields := []any{"name", m.Name, "value", dp.Value}
				for _, kv := range dp.Attributes.ToSlice() {
					fields = append(fields, string(kv.Key), kv.Value.Emit())
				}
				e.logger.Infow("metric", fields...)
			}
		}
	}
	return nil
}

func (e *LogExporter) ForceFlush(context.Context) error { return nil }

func (e *LogExporter) Shutdown(context.Context) error { return nil }
