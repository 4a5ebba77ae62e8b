// Package tasks runs keyed background work (delayed node resets, coil
// pulses, actuation sequences) under an explicit policy.
//
// Every task belongs to a key such as "node:read_amr_go_move" or
// "coil:66". When a new task is requested for a key that already has one in
// flight, the policy decides what happens:
//
//   - Overlap: start another one alongside (fire and forget)
//   - Supersede: cancel the in-flight task, then start the new one
//   - Join: hand back the in-flight task and start nothing
//
// Tasks recover panics, carry a uuid for log correlation, and are all
// cancelled by Close.
package tasks
