// Package module_tools exposes the module registry as MCP tools: listing
// and inspecting modules, toggling activation, editing settings and
// reading module datapoints.
//
// Mutating tools are omitted in read-only mode and always require the
// manage_options permission.
package module_tools
