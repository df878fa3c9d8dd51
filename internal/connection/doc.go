// Package connection owns the persistent event-channel connection to
// the VerdantGrow server: lifecycle state machine, heartbeat, outbound
// message queueing, reconnection policy, and local event fan-out.
//
// One Manager owns one logical connection. Subscribers observe it
// through the typed event bus (On/Off) and Status snapshots; they never
// hold references into internal state.
package connection
