// Package ingress turns method calls from robots and the web tier into node
// writes.
//
// Each write_* method is an entry in a fixed command table that names its
// target node, the payload shape it expects (JSON text, a sensor boolean or
// raw image bytes), and how it reports results (success flag or int32 code).
// The table is checked against the node registry once at startup.
//
// A JSON command decodes its argument, stores the raw text in its node and
// schedules the node's return to "Ready". Failures come back as a Result
// whose message tells decode errors, validation errors and other failures
// apart; observational commands also leave a JSON_ERROR, VALIDATION_ERROR or
// GENERAL_ERROR marker in their node.
package ingress
