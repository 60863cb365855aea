// Package network contains the TCP plumbing shared by the collector and the reference exporter:
// a listening server that hands every accepted connection to a handler, timeout-aware connection
// wrappers, and a pool of persistent client connections to collector endpoints.
package network
