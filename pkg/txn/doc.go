// Package txn propagates one database connection, and optionally one open
// transaction, through everything a request executes.
//
// A Holder is installed in the request's context.Context. The Coordinator
// checks a connection out of a Pool when a request first needs one, stores
// it in the Holder, and commits, rolls back and releases it when the
// outermost scope ends. Nested code reaches the same connection with
// Current or ConnFrom, without passing it around explicitly.
package txn
