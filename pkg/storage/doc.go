// Package storage holds what the connection-pool adapters share: sentinel
// errors and the driver names accepted in configuration.
//
// Adapters (postgres, sqlite) implement txn.Pool. Their connections expose
// Exec/Query helpers that run inside the request's transaction when one is
// open, and are reached from handlers through each adapter's FromContext.
package storage
