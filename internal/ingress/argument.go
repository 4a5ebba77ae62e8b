package ingress

import (
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-cell/internal/node"
)

// Argument converts a transport payload into the value cmd expects. binary
// marks payloads that arrived as raw bytes; only bytes commands take them
// as-is, so a text body sent to an image command fails its type check.
func Argument(cmd Command, payload []byte, binary bool) node.Value {
	switch cmd.Shape {
	case ShapeBytes:
		if binary {
			return node.Bytes(payload)
		}
	case ShapeBool:
		s := strings.Trim(strings.TrimSpace(string(payload)), `"`)
		if b, err := strconv.ParseBool(s); err == nil {
			return node.Bool(b)
		}
	}
	return node.Text(string(payload))
}
