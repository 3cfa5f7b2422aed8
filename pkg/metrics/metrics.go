/*
Copyright 2023-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package metrics

import (
	"sync"

	"github.com/couchbase/stellar-slotmap/pkg/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type SlotmapMetrics struct {
	Operations        metric.Int64Counter
	OperationDuration metric.Float64Histogram
	NodesRegistered   metric.Int64Counter
	SlotsWritten      metric.Int64Counter
	MemInfoRequests   metric.Int64Counter
}

var (
	slotmapMetrics     *SlotmapMetrics
	slotmapMetricsLock sync.Mutex
)

func GetSlotmapMetrics() *SlotmapMetrics {
	slotmapMetricsLock.Lock()

	if slotmapMetrics != nil {
		slotmapMetricsLock.Unlock()
		return slotmapMetrics
	}

	slotmapMetrics = newSlotmapMetrics()

	slotmapMetricsLock.Unlock()
	return slotmapMetrics
}

func newSlotmapMetrics() *SlotmapMetrics {
	meter := otel.Meter(
		"com.couchbase.stellar-slotmap",
		metric.WithInstrumentationVersion(version.GetVersion()))

	operations, _ := meter.Int64Counter("slotmap_operations_total",
		metric.WithDescription("topology operations by name and result"))
	operationDuration, _ := meter.Float64Histogram("slotmap_operation_duration_seconds",
		metric.WithUnit("s"))
	nodesRegistered, _ := meter.Int64Counter("slotmap_nodes_registered_total")
	slotsWritten, _ := meter.Int64Counter("slotmap_slots_written_total")
	memInfoRequests, _ := meter.Int64Counter("memagent_requests_total")

	return &SlotmapMetrics{
		Operations:        operations,
		OperationDuration: operationDuration,
		NodesRegistered:   nodesRegistered,
		SlotsWritten:      slotsWritten,
		MemInfoRequests:   memInfoRequests,
	}
}
