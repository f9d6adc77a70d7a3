// Package corral routes messages to the sessions of long-running
// processes by correlation.
//
// A process declares operations and correlation sets.  A correlation
// set says which parts of a message must equal which parts of a
// session's state for the message to belong to that session.  Package
// 'correlation' does the routing, package 'process' supervises
// sessions, and package 'sio' connects transports.  The command is in
// 'cmd/corral'.
package corral
