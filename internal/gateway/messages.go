package gateway

import (
	"time"

	"github.com/nerrad567/gray-logic-cell/internal/anomaly"
	"github.com/nerrad567/gray-logic-cell/internal/ingress"
	"github.com/nerrad567/gray-logic-cell/internal/node"
)

// NodeMessage is the retained payload on cell/{cell_id}/node/{node}.
type NodeMessage struct {
	Node      string     `json:"node"`
	Group     node.Group `json:"group"`
	Kind      string     `json:"kind"`
	Value     node.Value `json:"value"`
	Version   uint64     `json:"version"`
	Timestamp time.Time  `json:"timestamp"`
}

// ResultMessage is published on cell/{cell_id}/result/{name}.
type ResultMessage struct {
	RequestID string `json:"request_id"`
	Method    string `json:"method"`
	Success   bool   `json:"success"`
	Code      int32  `json:"code"`
	Message   string `json:"message"`
}

// AnomalyMessage is published on cell/{cell_id}/anomaly for each OK/NG
// verdict written to the inspection node.
type AnomalyMessage struct {
	Class     string    `json:"class"`
	Token     string    `json:"token"`
	Version   uint64    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func nodeMessage(ch node.Change) NodeMessage {
	return NodeMessage{
		Node:      ch.Node,
		Group:     ch.Group,
		Kind:      ch.New.Kind().String(),
		Value:     ch.New,
		Version:   ch.Version,
		Timestamp: ch.At.UTC(),
	}
}

func snapshotMessage(s node.Snapshot) NodeMessage {
	return NodeMessage{
		Node:      s.ID,
		Group:     s.Group,
		Kind:      s.Kind,
		Value:     s.Value,
		Version:   s.Version,
		Timestamp: s.UpdatedAt.UTC(),
	}
}

func resultMessage(requestID, method string, res ingress.Result) ResultMessage {
	return ResultMessage{
		RequestID: requestID,
		Method:    method,
		Success:   res.Success,
		Code:      res.Code,
		Message:   res.Message,
	}
}

// anomalyMessage classifies a verdict change. ok is false for values that
// are neither OK nor NG (resets to Ready, failure markers without a verdict).
func anomalyMessage(ch node.Change) (AnomalyMessage, bool) {
	class, token := anomaly.Classify(ch.New)
	if class == anomaly.ClassNone {
		return AnomalyMessage{}, false
	}
	return AnomalyMessage{
		Class:     class.String(),
		Token:     token,
		Version:   ch.Version,
		Timestamp: ch.At.UTC(),
	}, true
}
