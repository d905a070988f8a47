// Package metrics holds gateway-wide Prometheus collectors that do not
// belong to a single handler package, and the /metrics handler that merges
// the default registry with component registries such as the limiter's.
package metrics
