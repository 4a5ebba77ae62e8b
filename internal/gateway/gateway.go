package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-cell/internal/control"
	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-cell/internal/ingress"
	"github.com/nerrad567/gray-logic-cell/internal/node"
	"github.com/nerrad567/gray-logic-cell/internal/tasks"
)

// Gateway operation constants.
const (
	defaultHealthInterval = 30 * time.Second
	defaultQueueSize      = 256

	// invokeTimeout bounds one method call started from the bus.
	invokeTimeout = 30 * time.Second

	// ControlMoveResult is the result name used for manual start requests.
	ControlMoveResult = "control_move"
)

// ErrUnknownTopic is returned by inbound handlers for topics outside the
// cell's method tree.
var ErrUnknownTopic = errors.New("gateway: unknown topic")

// Bus is the MQTT surface the gateway needs. Satisfied by *mqtt.Client.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Nodes is the registry surface the gateway needs.
type Nodes interface {
	List() []node.Snapshot
	Subscribe(l node.Listener) (unsubscribe func())
}

// Methods is the method table surface the gateway needs.
type Methods interface {
	Lookup(name string) (ingress.Command, bool)
	Invoke(ctx context.Context, name string, value node.Value) (ingress.Result, error)
}

// Starter runs a manual conveyor start.
type Starter interface {
	ManualStart(ctx context.Context) (control.StartResult, error)
}

// Logger is the logging surface the gateway needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Gateway.
type Options struct {
	Bus     Bus
	Topics  mqtt.Topics
	Nodes   Nodes
	Methods Methods

	// Starter handles cell/{cell_id}/control/move. Optional.
	Starter Starter

	// Tasks runs inbound invocations. Without it they run on plain goroutines.
	Tasks *tasks.Supervisor

	// Links are reported on the health topic.
	Links []LinkSource

	Version        string
	QoS            byte
	HealthInterval time.Duration
	QueueSize      int
	Logger         Logger
}

type outbound struct {
	topic    string
	payload  any
	retained bool
}

// Gateway publishes cell state to MQTT and serves methods from it.
//
// Thread Safety: All methods are safe for concurrent use. Run must be
// called once.
type Gateway struct {
	bus      Bus
	topics   mqtt.Topics
	nodes    Nodes
	methods  Methods
	starter  Starter
	tasks    *tasks.Supervisor
	health   *healthReporter
	qos      byte
	interval time.Duration
	logger   Logger

	queue   chan outbound
	dropped atomic.Uint64
	wg      sync.WaitGroup
	newID   func() string

	// published is the last node version sent per node. Owned by Run.
	published map[string]uint64

	// moveTask is the latest manual start task and moveOut its outcome.
	moveMu   sync.Mutex
	moveTask *tasks.Task
	moveOut  *moveOutcome
}

// New validates opts and creates a Gateway. Call Run to start it.
func New(opts Options) (*Gateway, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("gateway: bus is required")
	}
	if opts.Nodes == nil {
		return nil, fmt.Errorf("gateway: node registry is required")
	}
	if opts.Methods == nil {
		return nil, fmt.Errorf("gateway: method table is required")
	}
	if opts.Topics.CellID == "" {
		return nil, fmt.Errorf("gateway: cell id is required")
	}
	if opts.QoS > 2 {
		return nil, mqtt.ErrInvalidQoS
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = defaultHealthInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Gateway{
		bus:      opts.Bus,
		topics:   opts.Topics,
		nodes:    opts.Nodes,
		methods:  opts.Methods,
		starter:  opts.Starter,
		tasks:    opts.Tasks,
		health:   newHealthReporter(opts.Topics.CellID, opts.Version, opts.Links),
		qos:      opts.QoS,
		interval: opts.HealthInterval,
		logger:   opts.Logger,
		queue:    make(chan outbound, opts.QueueSize),
		newID:    uuid.NewString,

		published: make(map[string]uint64),
	}, nil
}

// Run subscribes to the inbound topics, publishes every node once and then
// forwards changes and health until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	g.publishHealth(g.health.message(HealthStarting, "gateway starting"))

	unsubscribe := g.nodes.Subscribe(g.onChange)
	defer unsubscribe()

	for _, s := range g.nodes.List() {
		g.send(outbound{topic: g.topics.Node(s.ID), payload: snapshotMessage(s), retained: true})
	}

	type route struct {
		topic   string
		handler mqtt.MessageHandler
	}
	routes := []route{{g.topics.AllMethods(), g.handleMethod}}
	if g.starter != nil {
		routes = append(routes, route{g.topics.ControlMove(), g.handleMove})
	}
	for _, r := range routes {
		if err := g.bus.Subscribe(r.topic, g.qos, r.handler); err != nil {
			return fmt.Errorf("subscribe to %s: %w", r.topic, err)
		}
		defer g.bus.Unsubscribe(r.topic) //nolint:errcheck // best-effort during shutdown
		g.logger.Info("subscribed", "topic", r.topic)
	}

	g.publishHealth(g.health.current())

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.shutdown()
			return nil
		case msg := <-g.queue:
			g.send(msg)
		case <-ticker.C:
			g.publishHealth(g.health.current())
		}
	}
}

// shutdown waits for in-flight invocations, flushes what is queued and
// reports stopping.
func (g *Gateway) shutdown() {
	g.wg.Wait()
	for {
		select {
		case msg := <-g.queue:
			g.send(msg)
		default:
			g.publishHealth(g.health.message(HealthStopping, ""))
			return
		}
	}
}

// Dropped returns how many outbound messages were discarded because the
// queue was full.
func (g *Gateway) Dropped() uint64 {
	return g.dropped.Load()
}

// onChange runs on the registry writer's goroutine and only enqueues.
func (g *Gateway) onChange(ch node.Change) {
	g.enqueue(outbound{topic: g.topics.Node(ch.Node), payload: nodeMessage(ch), retained: true})

	if ch.Node == node.OKNGValue {
		if msg, ok := anomalyMessage(ch); ok {
			g.enqueue(outbound{topic: g.topics.Anomaly(), payload: msg})
		}
	}
}

func (g *Gateway) enqueue(msg outbound) {
	select {
	case g.queue <- msg:
	default:
		n := g.dropped.Add(1)
		g.logger.Warn("gateway queue full, message dropped", "topic", msg.topic, "dropped_total", n)
	}
}

// send publishes msg. Node state older than what the broker already holds
// is dropped so a retained value never goes backwards.
func (g *Gateway) send(msg outbound) {
	if nm, ok := msg.payload.(NodeMessage); ok {
		if nm.Version != 0 && nm.Version <= g.published[nm.Node] {
			g.logger.Debug("stale node state dropped", "node", nm.Node, "version", nm.Version)
			return
		}
		g.published[nm.Node] = nm.Version
	}

	data, err := json.Marshal(msg.payload)
	if err != nil {
		g.logger.Error("encoding message", "topic", msg.topic, "error", err)
		return
	}
	if err := g.bus.Publish(msg.topic, data, g.qos, msg.retained); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			g.logger.Debug("publish skipped, broker offline", "topic", msg.topic)
			return
		}
		g.logger.Warn("publish failed", "topic", msg.topic, "error", err)
	}
}

func (g *Gateway) publishHealth(msg HealthMessage) {
	data, err := encodeHealth(msg)
	if err != nil {
		g.logger.Error("health", "error", err)
		return
	}
	if err := g.bus.Publish(g.topics.Health(), data, g.qos, true); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
		g.logger.Warn("publishing health", "error", err)
	}
}

// handleMethod invokes the method named by topic. The invocation runs in
// the background; its result is published on the result topic.
func (g *Gateway) handleMethod(topic string, payload []byte) error {
	name, ok := g.topics.MethodName(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	requestID := g.newID()

	cmd, ok := g.methods.Lookup(name)
	if !ok {
		g.enqueue(outbound{topic: g.topics.Result(name), payload: ResultMessage{
			RequestID: requestID,
			Method:    name,
			Code:      1,
			Message:   "Error: unknown method " + name,
		}})
		return fmt.Errorf("%w: %s", ingress.ErrUnknownCommand, name)
	}

	// MQTT payloads are raw bytes; only bytes commands keep them that way.
	value := ingress.Argument(cmd, payload, true)

	g.spawn("gateway:"+name, tasks.Overlap, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, invokeTimeout)
		defer cancel()

		res, err := g.methods.Invoke(ctx, name, value)
		if err != nil {
			res = ingress.Result{Code: 1, Message: "Error: " + err.Error()}
		}
		g.logger.Debug("method invoked from bus", "method", name, "request_id", requestID, "success", res.Success)
		g.enqueue(outbound{topic: g.topics.Result(name), payload: resultMessage(requestID, name, res)})
		return err
	})
	return nil
}

// moveOutcome is the result of one manual start, shared by every request
// that joined it.
type moveOutcome struct {
	ran bool
	msg ResultMessage
}

// handleMove requests a manual start. Requests arriving while one runs
// join it and each receive its result under their own request id.
func (g *Gateway) handleMove(_ string, _ []byte) error {
	requestID := g.newID()

	run := func(ctx context.Context, out *moveOutcome) error {
		res, err := g.starter.ManualStart(ctx)
		msg := ResultMessage{Method: ControlMoveResult, Message: res.Message}
		switch {
		case err != nil:
			msg.Code = 1
			msg.Message = "Error: " + err.Error()
		case res.Started:
			msg.Success = true
		default:
			msg.Code = 1
		}
		out.msg, out.ran = msg, true
		return err
	}

	if g.tasks == nil {
		out := &moveOutcome{}
		g.spawn("gateway:"+ControlMoveResult, tasks.Join, func(ctx context.Context) error {
			err := run(ctx, out)
			g.replyMove(requestID, out, err)
			return err
		})
		return nil
	}

	g.moveMu.Lock()
	out := &moveOutcome{}
	t := g.tasks.Go("gateway:"+ControlMoveResult, tasks.Join, func(ctx context.Context) error {
		return run(ctx, out)
	})
	joined := t == g.moveTask
	if !joined {
		g.moveTask, g.moveOut = t, out
	}
	shared := g.moveOut
	g.moveMu.Unlock()

	if joined {
		g.logger.Debug("manual start joined", "request_id", requestID)
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		<-t.Done()
		g.replyMove(requestID, shared, t.Err())
	}()
	return nil
}

// replyMove publishes a manual start result for one request. A start that
// never ran reports the task error.
func (g *Gateway) replyMove(requestID string, out *moveOutcome, err error) {
	msg := out.msg
	if !out.ran {
		msg = ResultMessage{Method: ControlMoveResult, Code: 1, Message: "Error: manual start did not run"}
		if err != nil {
			msg.Message = "Error: " + err.Error()
		}
	}
	msg.RequestID = requestID
	g.enqueue(outbound{topic: g.topics.Result(ControlMoveResult), payload: msg})
}

func (g *Gateway) spawn(key string, policy tasks.Policy, fn tasks.Func) {
	if g.tasks != nil {
		g.tasks.Go(key, policy, fn)
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		_ = fn(context.Background())
	}()
}
