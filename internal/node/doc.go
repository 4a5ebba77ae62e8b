// Package node holds the cell's read-exposed variables.
//
// Every signal the cell publishes (robot commands, PLC status, arm data, the
// latest camera frame) is a named node with a fixed kind and a current value.
// The Registry is the only writer of that public state. Writers that want a
// node to fall back to "Ready" after a while schedule a reset; resets are
// supervised tasks keyed per node, so the configured policy decides whether a
// newer reset replaces an older one or both fire.
//
// Values crossing the protocol boundary are represented as a Value, a tagged
// union of text, bytes, bool and numeric with one canonical text form.
package node
