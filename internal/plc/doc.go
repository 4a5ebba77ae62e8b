// Package plc drives the conveyor PLC's outputs.
//
// The PLC program reacts to coil edges, so every actuation here is either a
// pulse (set, hold, clear) or a fixed sequence that writes related coils
// together so mutually exclusive outputs never disagree:
//
//	Stop:    stop=1, move=0, restart=0
//	Restart: restart=1, stop=0, move=0
//	Move:    pulse forward|reverse, then move=1, stop=0, restart=0
//
// Sequences attempt every write even when an earlier one fails, and the
// clear half of a pulse always runs. Conveyor sequences are serialized so a
// poll-driven stop and an operator start cannot interleave their writes.
package plc
