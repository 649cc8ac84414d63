package types

// Metric names and dimensions shared by the CloudWatch and Prometheus
// metric sinks.
const (
	MetricDeliveryAttempt = "DeliveryAttempt"
	MetricDeliveryLatency = "DeliveryLatency"
	MetricRetryOutcome    = "RetryOutcome"
	MetricSubmitDropped   = "SubmitDropped"

	DimChannel = "Channel"
	DimResult  = "Result"
	DimOutcome = "Outcome"

	MetricNamespace = "AlertRelay"
)
