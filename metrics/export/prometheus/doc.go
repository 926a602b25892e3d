// Package prometheus renders goGuard engine metrics in Prometheus text format.
//
// Counter names are prefixed goguard_*_total; the single histogram is
// goguard_login_latency_seconds. Callers mount [Exporter.Handler] themselves.
package prometheus
