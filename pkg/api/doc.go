// Package api defines the wire-level types shared by the crane request core.
//
// The package has zero external dependencies and performs no I/O.
//
// Core types:
//   - [APIError]: Structured error with type, machine-readable code, param, and message
//   - [ErrorResponse]: Top-level JSON wrapper for error bodies
//   - [Payload]: Success envelope (code, message, success, data) for handler responses
package api
