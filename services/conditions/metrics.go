// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conditions

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for conditions operations.
var (
	tracer = otel.Tracer("conditions.manager")
	meter  = otel.Meter("conditions.manager")
)

// Prometheus collectors, scraped from /metrics by the serve command.
var (
	memoLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conditions",
		Name:      "memo_lookups_total",
		Help:      "Converted-conditions lookups by result (hit or miss).",
	}, []string{"result"})

	converterRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conditions",
		Name:      "converter_runs_total",
		Help:      "Converter invocations by converted type and outcome.",
	}, []string{"type", "outcome"})

	identityChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conditions",
		Name:      "identity_changes_total",
		Help:      "Committed detector/run changes by source decision.",
	}, []string{"decision"})

	invalidatedEntries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "conditions",
		Name:      "invalidated_entries_total",
		Help:      "Memoized entries cleared by identity changes.",
	})
)

// OpenTelemetry instruments, initialized lazily.
var (
	convertLatency metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		convertLatency, metricsErr = meter.Float64Histogram(
			"conditions_convert_duration_seconds",
			metric.WithDescription("Duration of converter invocations"),
			metric.WithUnit("s"),
		)
	})
	return metricsErr
}

func recordMemo(hit bool) {
	if hit {
		memoLookups.WithLabelValues("hit").Inc()
		return
	}
	memoLookups.WithLabelValues("miss").Inc()
}

func recordConvert(ctx context.Context, typeName string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	converterRuns.WithLabelValues(typeName, outcome).Inc()
	if initMetrics() != nil {
		return
	}
	convertLatency.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("type", typeName),
			attribute.Bool("error", err != nil),
		),
	)
}

func startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "conditions."+op, trace.WithAttributes(attrs...))
}
