// Package cmd implements the command-line interface for sitekit.
//
// This package provides the following commands:
//   - serve: Start the REST API, optionally with MCP, or MCP over stdio
//   - modules: List the module catalog and its activation state
//   - generate-docs: Generate markdown documentation for all MCP tools
//   - version: Display version information
//
// Configuration is read from the environment; flags override the listen
// address and log level only.
package cmd
