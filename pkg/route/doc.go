// Package route holds the method/path routing table. Routes are registered
// during setup, frozen at server start, and resolved concurrently by the
// dispatcher without locking.
package route
