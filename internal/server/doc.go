// Package server runs the HTTP listeners of sitekit.
//
// HTTPServer multiplexes the REST routes, the optional MCP streamable HTTP
// endpoint and the Kubernetes probes onto one listener. Readiness pings the
// configured storage backend and turns unhealthy as soon as a shutdown
// begins, so traffic drains before in-flight requests are cut.
//
// MetricsServer exposes Prometheus metrics on a dedicated port.
package server
