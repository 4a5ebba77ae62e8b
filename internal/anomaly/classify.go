// Package anomaly reacts to inspection verdicts by pulsing the PLC's OK or
// NG coil and then restarting the conveyor.
//
// Verdicts arrive as free-form text: a JSON document with an "Anomaly"
// field, possibly wrapped in other text, or a bare token such as "NG".
// Classification runs in two stages. The embedded JSON span is tried
// first; only when no span parses is the whole payload taken as the token.
package anomaly

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-cell/internal/node"
)

// Class is the outcome of classifying a verdict.
type Class int

const (
	// ClassNone means no action: unparseable, unknown or absent verdict.
	ClassNone Class = iota
	// ClassNormal is an OK verdict.
	ClassNormal
	// ClassAnomaly is an NG verdict.
	ClassAnomaly
)

// String returns "none", "ok" or "ng".
func (c Class) String() string {
	switch c {
	case ClassNormal:
		return "ok"
	case ClassAnomaly:
		return "ng"
	default:
		return "none"
	}
}

// Classify extracts the verdict from v. The token is returned for logging.
func Classify(v node.Value) (Class, string) {
	raw := strings.TrimSpace(v.Normalize())

	token, parsed := parseEmbedded(raw)
	if !parsed {
		token = rawToken(raw)
	}

	switch strings.ToUpper(token) {
	case "OK":
		return ClassNormal, token
	case "NG":
		return ClassAnomaly, token
	default:
		return ClassNone, token
	}
}

// parseEmbedded decodes the span from the first '{' to the last '}'.
// parsed is false when there is no such span or it isn't valid JSON. A
// parsed document without an Anomaly field yields an empty token.
func parseEmbedded(raw string) (token string, parsed bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return "", false
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &doc); err != nil {
		return "", false
	}

	verdict, ok := doc["Anomaly"]
	if !ok || verdict == nil {
		return "", true
	}
	if s, ok := verdict.(string); ok {
		return strings.TrimSpace(s), true
	}
	return fmt.Sprint(verdict), true
}

// rawToken is the fallback: the whole payload is the verdict.
func rawToken(raw string) string {
	return strings.TrimSpace(raw)
}
