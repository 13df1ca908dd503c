// Package protocol owns the tcpserv wire contract.
//
// Ownership boundary:
// - error taxonomy shared by both peer roles
// - frame primitives (see package frame)
//
// One connection carries exactly one request frame followed by exactly one
// response frame, then closes.
package protocol
