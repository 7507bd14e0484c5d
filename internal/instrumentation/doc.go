// Package instrumentation provides OpenTelemetry instrumentation for sitekit.
//
// # Metrics
//
//   - http_requests_total, http_request_duration_seconds: REST route traffic
//   - oauth_auth_total: OAuth callback exchanges by result
//   - oauth_token_refresh_total: token refresh attempts by result
//   - oauth_revocations_total: disconnects by remote revocation status
//   - module_state_changes_total: activation, deactivation and settings writes
//   - google_api_requests_total, google_api_request_duration_seconds: module data requests
//   - mcp_tool_invocations_total: MCP admin tool calls
//
// Metrics are exported through Prometheus (served by the dedicated metrics
// server), OTLP or stdout.
//
// # Tracing
//
// Spans are created for authentication manager operations (auth.<op>),
// registry operations (modules.<op>), module data requests
// (google.<module>.<datapoint>) and MCP tools (tool.<name>).
//
// # Audit
//
// AuditLogger writes connect, disconnect, re-authentication and module
// lifecycle events to a separate "audit" log stream. Owner ids are hashed.
package instrumentation
