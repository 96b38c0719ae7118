package godcp

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter = otel.Meter("github.com/couchbase/godcp",
		metric.WithInstrumentationVersion(buildVersion))
)

var (
	// configsApplied tracks the number of bucket configs that passed the
	// revision check and were published to the conductor.
	configsApplied, _ = meter.Int64Counter("godcp.configs_applied")

	// configParseFailures tracks streaming config documents that could not
	// be parsed.  These are dropped without tearing down the stream.
	configParseFailures, _ = meter.Int64Counter("godcp.config_parse_failures")

	// dataEventsDispatched tracks mutation, deletion and expiration events
	// delivered to the listener.
	dataEventsDispatched, _ = meter.Int64Counter("godcp.data_events_dispatched")

	// bufferAcksSent tracks DCP buffer acknowledgements written back to
	// the server by the flow controller.
	bufferAcksSent, _ = meter.Int64Counter("godcp.buffer_acks_sent")
)
