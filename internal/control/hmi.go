package control

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nerrad567/gray-logic-cell/internal/node"
	"github.com/nerrad567/gray-logic-cell/internal/tasks"
)

// HMI commands carried in the conveyor command node.
const (
	HMIConveyorMove    = "CONVEYOR_MOVE"
	HMIConveyorStop    = "CONVEYOR_STOP"
	HMIConveyorRestart = "CONVEYOR_RESTART"
)

// hmiCommand extracts the command from a node value: the "state" field of
// the embedded JSON span, or "move_command" when there is no "state".
func hmiCommand(v node.Value) string {
	raw := strings.TrimSpace(v.Normalize())
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return ""
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &doc); err != nil {
		return ""
	}
	field, ok := doc["state"]
	if !ok {
		field = doc["move_command"]
	}
	s, _ := field.(string)
	return strings.ToUpper(strings.TrimSpace(s))
}

// WatchHMI runs ManualStart whenever node id receives CONVEYOR_MOVE. Stop
// and restart requests are left to the polled run mode. Starts run as
// supervised tasks so the writer isn't blocked by the sequence.
func (l *Loop) WatchHMI(reg *node.Registry, id string) (unsubscribe func()) {
	return reg.SubscribeNode(id, func(ch node.Change) {
		switch cmd := hmiCommand(ch.New); cmd {
		case HMIConveyorMove:
			l.requestStart()
		case HMIConveyorStop, HMIConveyorRestart:
			l.logger.Debug("hmi command left to control state", "command", cmd)
		}
	})
}

// requestStart runs ManualStart in the background. Requests arriving while
// one is running join it.
func (l *Loop) requestStart() *tasks.Task {
	run := func(ctx context.Context) error {
		_, err := l.ManualStart(ctx)
		if err != nil {
			l.logger.Error("manual start failed", "error", err)
		}
		return err
	}
	if l.tasks == nil {
		_ = run(context.Background())
		return nil
	}
	return l.tasks.Go("control:manual_start", tasks.Join, run)
}
