// Package auth_tools exposes the site owner's Google connection as MCP
// tools: the connection state, the consent URL for connecting or granting
// module scopes, and disconnecting.
package auth_tools
