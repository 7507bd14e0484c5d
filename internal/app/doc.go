// Package app is the composition root of sitekit.
//
// New builds every component from a config.Config in dependency order:
//
//  1. Logging and telemetry
//  2. The storage backend selected by SITEKIT_STORAGE
//  3. The option and credential stores on top of it
//  4. The Google OAuth client and the authentication manager
//  5. The module registry with the built-in catalog
//  6. Permissions and the REST layer
//
// Nothing is kept in package level state. Tests build as many independent
// App values as they need, each on its own store.
//
// ServeHTTP and ServeStdio run the transports until their context ends.
package app
