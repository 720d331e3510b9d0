// Package metrics provides Prometheus collectors for the resolution engine.
//
// Collectors are registered on a caller-supplied prometheus.Registerer so
// tests and embedded engines can keep them isolated:
//
//	reg := metrics.NewRegistry()
//	m := metrics.New(reg)
//	http.Handle("/metrics", metrics.Handler(reg))
//
// A nil *Metrics is valid and records nothing.
//
// # Exported series
//
//   - imposter_resolutions_total{type, outcome}
//   - imposter_resolution_duration_seconds{type}
//   - imposter_injections_total{kind, result}
//   - imposter_recordings_total{mode, action}
//   - imposter_pending_proxy_resolutions{imposter}
//   - imposter_proxy_duration_seconds{result}
//   - imposter_requests_total{imposter, method, status}
//
// Label values are lowercase except HTTP methods.
package metrics
