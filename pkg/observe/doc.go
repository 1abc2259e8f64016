// Package observe provides api.Observer implementations that export run
// and step lifecycle events to Prometheus and OpenTelemetry. Combine them
// with api.NewLoggingObserver through api.NewCompositeObserver.
package observe
