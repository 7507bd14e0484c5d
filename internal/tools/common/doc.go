// Package common provides shared plumbing for the MCP admin tools: the
// services the tools call, caller resolution, permission checks and
// instrumentation around every tool handler.
package common
