// Package modules implements the module registry and the reference Google
// service modules.
//
// Modules are registered once at startup in dependency order. Activation
// flags and settings are kept in the options store under
// module:{slug}:active and module:{slug}:settings; every flag change is a
// compare-and-swap so concurrent activations of one module serialize
// without blocking other modules.
package modules
