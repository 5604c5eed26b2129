package otel

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MetricSnapshot is the JSON-friendly view of one collected metric.
type MetricSnapshot struct {
	Name   string          `json:"name"`
	Unit   string          `json:"unit,omitempty"`
	Kind   string          `json:"kind"`
	Points []PointSnapshot `json:"points"`
}

// PointSnapshot is one data point of a metric. Counters fill Value;
// histograms fill Count and Sum.
type PointSnapshot struct {
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value,omitempty"`
	Count      uint64            `json:"count,omitempty"`
	Sum        float64           `json:"sum,omitempty"`
}

// Snapshot collects the current metrics from reader, sorted by name.
func Snapshot(ctx context.Context, reader sdkmetric.Reader) ([]MetricSnapshot, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("otel: collect metrics: %w", err)
	}

	var out []MetricSnapshot
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			snap := MetricSnapshot{Name: m.Name, Unit: m.Unit}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				snap.Kind = "counter"
				for _, dp := range data.DataPoints {
					snap.Points = append(snap.Points, PointSnapshot{
						Attributes: attributeMap(dp.Attributes),
						Value:      float64(dp.Value),
					})
				}
			case metricdata.Sum[float64]:
				snap.Kind = "counter"
				for _, dp := range data.DataPoints {
					snap.Points = append(snap.Points, PointSnapshot{
						Attributes: attributeMap(dp.Attributes),
						Value:      dp.Value,
					})
				}
			case metricdata.Histogram[float64]:
				snap.Kind = "histogram"
				for _, dp := range data.DataPoints {
					snap.Points = append(snap.Points, PointSnapshot{
						Attributes: attributeMap(dp.Attributes),
						Count:      dp.Count,
						Sum:        dp.Sum,
					})
				}
			default:
				continue
			}
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func attributeMap(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	m := make(map[string]string, set.Len())
	for _, kv := range set.ToSlice() {
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}
