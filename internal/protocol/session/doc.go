// Package session owns per-connection reliability primitives shared by server and client.
//
// Ownership boundary:
// - connection timeouts
// - reconnect backoff
// - pending call correlation by sequence
package session
