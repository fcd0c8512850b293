// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics records the counters of the tracing pipeline and exports
// them through OTel metrics. Definitions live in metrics.json.
package metrics // import "go.opentelemetry.io/orbit-tracing/metrics"

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"go.opentelemetry.io/orbit-tracing/vc"
)

var (
	//go:embed metrics.json
	metricsJSON []byte

	definitions []MetricDefinition
	metricTypes [IDMax]MetricType

	// values mirrors what was exported, for status logging and tests.
	values [IDMax]atomic.Int64

	meter = otel.Meter("go.opentelemetry.io/orbit-tracing",
		metric.WithInstrumentationVersion(vc.Version()))
	counters [IDMax]metric.Int64Counter
	gauges   [IDMax]metric.Int64Gauge
)

func init() {
	definitions = GetDefinitions()
	for _, md := range definitions {
		if md.Obsolete {
			continue
		}
		if md.ID <= IDInvalid || md.ID >= IDMax {
			panic(fmt.Sprintf("metric %s has id %d out of range", md.Name, md.ID))
		}
		metricTypes[md.ID] = md.Type
		switch typ := md.Type; typ {
		case MetricTypeCounter:
			counter, err := meter.Int64Counter(md.Field,
				metric.WithDescription(md.Description),
				metric.WithUnit(md.Unit))
			if err != nil {
				log.Errorf("Creating Int64Counter: %v", err)
				continue
			}
			counters[md.ID] = counter
		case MetricTypeGauge:
			gauge, err := meter.Int64Gauge(md.Field,
				metric.WithDescription(md.Description),
				metric.WithUnit(md.Unit))
			if err != nil {
				log.Errorf("Creating Int64Gauge: %v", err)
				continue
			}
			gauges[md.ID] = gauge
		default:
			panic(fmt.Sprintf("Unknown metric type: %v", typ))
		}
	}
}

// Add records a single metric. Counters accumulate, gauges are replaced.
func Add(id MetricID, value MetricValue) {
	if id <= IDInvalid || id >= IDMax {
		log.Errorf("Metric value %d out of range [%d,%d]- needs investigation",
			id, IDInvalid+1, IDMax-1)
		return
	}
	ctx := context.Background()
	switch metricTypes[id] {
	case MetricTypeCounter:
		if value == 0 {
			return
		}
		values[id].Add(int64(value))
		if counters[id] != nil {
			counters[id].Add(ctx, int64(value))
		}
	case MetricTypeGauge:
		values[id].Store(int64(value))
		if gauges[id] != nil {
			gauges[id].Record(ctx, int64(value))
		}
	default:
		log.Warnf("Invalid metric id %d, skipping", id)
	}
}

// AddSlice records a batch of metrics.
func AddSlice(newMetrics []Metric) {
	for _, m := range newMetrics {
		Add(m.ID, m.Value)
	}
}

// Value returns the current total of a counter or the last value of a gauge.
func Value(id MetricID) MetricValue {
	if id <= IDInvalid || id >= IDMax {
		return 0
	}
	return MetricValue(values[id].Load())
}

// Snapshot returns the current value of every defined metric keyed by its
// field name.
func Snapshot() map[string]MetricValue {
	snap := make(map[string]MetricValue, len(definitions))
	for _, md := range definitions {
		if md.Obsolete {
			continue
		}
		snap[md.Field] = Value(md.ID)
	}
	return snap
}

// GetDefinitions returns the metric definitions from the embedded metrics.json file.
func GetDefinitions() []MetricDefinition {
	var defs []MetricDefinition

	dec := json.NewDecoder(bytes.NewReader(metricsJSON))
	dec.DisallowUnknownFields()

	err := dec.Decode(&defs)
	if err != nil {
		panic(fmt.Sprintf("extracting definitions from metrics.json: %v", err))
	}
	return defs
}
