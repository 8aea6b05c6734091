// Package server implements the HTTP server using Echo framework.
//
// Routes: session API (start/increment/end, list/detail), health probes,
// version, and Prometheus metrics. Handlers return structured errors that
// the errors middleware converts to JSON responses.
package server
