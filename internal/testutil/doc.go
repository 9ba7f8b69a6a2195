// Package testutil contains fake responders and similarity helpers used
// across tests to reduce boilerplate when exercising dispatch, chains and
// coordination. They are not intended for production usage.
package testutil
