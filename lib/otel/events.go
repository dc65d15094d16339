package otel

// Span event names
const (
	SmartRequestDispatched = "smart.request.dispatched"
	SmartResponseDelivered = "smart.response.delivered"
	SmartResponseOrphaned  = "smart.response.orphaned"
	SmartRequestTimedOut   = "smart.request.timed_out"

	LaunchContextBound = "launch.context_bound"
)
