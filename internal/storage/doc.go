// Package storage keeps the capture history: one record per pipeline run,
// with the per-sink outcomes, queried newest first.
package storage
