// Package app is the application layer: the only component that references
// multiple domain components. It orchestrates the session lifecycle
// (start, metered usage, settlement close) across the registry, the signing
// coordinator, and the channel transport.
package app
