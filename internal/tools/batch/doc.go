// Package batch runs one admin operation over several modules and
// reports per-item outcomes, so one failing module does not hide the
// results of the others.
package batch
