// Package mirror keeps a typed value tree in sync between an authoritative
// server and any number of replicas using single-line text commands.
//
// A command is a slash separated path followed by one operation:
//
//	games/0/field/37/set:4
//	games/1/garbage/push:{"column":3,"delay":2}
//	games/1/garbage/remove:0
//	games/0/call:clear:19
//	call:drop:0,3,17,1
//
// Values and call arguments are JSON. The first frame on every connection is
// the JSON snapshot of the root; every frame after that is a command, applied
// with Execute on both ends so replicas end up equal by construction.
package mirror
