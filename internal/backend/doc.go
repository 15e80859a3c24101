// Package backend defines the graph storage interface used by guest queries,
// a pooled gRPC client for the wart.WartStorage service, and the registry
// that resolves a session namespace to the backend serving it.
package backend
