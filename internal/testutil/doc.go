// Package testutil contains helper builders used across tests to reduce
// boilerplate when wiring a session to a scripted model. They are not
// intended for production usage.
package testutil
