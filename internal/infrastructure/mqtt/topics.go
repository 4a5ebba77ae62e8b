package mqtt

import (
	"fmt"
	"strings"
)

// TopicRoot is the first level of every cell topic.
const TopicRoot = "cell"

// Topics builds the MQTT topic tree for one cell.
//
//	cell/{cell_id}/status           retained online/offline (LWT)
//	cell/{cell_id}/health           retained link health
//	cell/{cell_id}/node/{node}      retained node values
//	cell/{cell_id}/method/{name}    method invocations (inbound)
//	cell/{cell_id}/result/{name}    method results (outbound)
//	cell/{cell_id}/control/move     HMI move requests (inbound)
//	cell/{cell_id}/anomaly          anomaly verdicts
//	cell/{cell_id}/event            event log entries
type Topics struct {
	CellID string
}

// NewTopics returns the topic builder for cellID.
func NewTopics(cellID string) Topics {
	return Topics{CellID: cellID}
}

func (t Topics) base() string {
	return fmt.Sprintf("%s/%s", TopicRoot, t.CellID)
}

// Status returns the retained online/offline topic.
func (t Topics) Status() string { return t.base() + "/status" }

// Health returns the retained health topic.
func (t Topics) Health() string { return t.base() + "/health" }

// Node returns the retained value topic for a node.
//
// Example: cell/cell-01/node/ok_ng_value
func (t Topics) Node(nodeID string) string { return t.base() + "/node/" + nodeID }

// Method returns the inbound topic for a method.
//
// Example: cell/cell-01/method/write_ok_ng_value
func (t Topics) Method(name string) string { return t.base() + "/method/" + name }

// Result returns the outbound result topic for a method.
func (t Topics) Result(name string) string { return t.base() + "/result/" + name }

// ControlMove returns the inbound HMI move topic.
func (t Topics) ControlMove() string { return t.base() + "/control/move" }

// Anomaly returns the anomaly verdict topic.
func (t Topics) Anomaly() string { return t.base() + "/anomaly" }

// Event returns the event log topic.
func (t Topics) Event() string { return t.base() + "/event" }

// AllMethods matches every inbound method topic.
//
// Pattern: cell/{cell_id}/method/+
func (t Topics) AllMethods() string { return t.base() + "/method/+" }

// AllNodes matches every node value topic.
func (t Topics) AllNodes() string { return t.base() + "/node/+" }

// MethodName extracts the method name from an inbound method topic.
func (t Topics) MethodName(topic string) (string, bool) {
	prefix := t.base() + "/method/"
	name, ok := strings.CutPrefix(topic, prefix)
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
