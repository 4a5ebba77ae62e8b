package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cell/internal/control"
	"github.com/nerrad567/gray-logic-cell/internal/eventlog"
	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cell/internal/ingress"
	"github.com/nerrad567/gray-logic-cell/internal/node"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// NodeSource is the registry surface the API needs.
type NodeSource interface {
	List() []node.Snapshot
	Snapshot(id string) (node.Snapshot, error)
	Subscribe(l node.Listener) (unsubscribe func())
}

// MethodTable is the method surface the API needs.
type MethodTable interface {
	Commands() []ingress.Command
	Lookup(name string) (ingress.Command, bool)
	Invoke(ctx context.Context, name string, value node.Value) (ingress.Result, error)
}

// Conveyor is the control loop surface the API needs.
type Conveyor interface {
	Snapshot() control.Snapshot
	ManualStart(ctx context.Context) (control.StartResult, error)
}

// HealthFunc reports component health for GET /health. Optional.
type HealthFunc func() map[string]any

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	Nodes       NodeSource
	Methods     MethodTable
	Store       control.Store       // optional: GET /control/state reads it directly
	Conveyor    Conveyor            // optional: control endpoints return 503 without it
	Events      eventlog.Repository // optional
	EquipmentID string
	Health      HealthFunc
	Version     string
}

// Server is the HTTP API server for the cell controller.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	nodes       NodeSource
	methods     MethodTable
	store       control.Store
	conveyor    Conveyor
	events      eventlog.Repository
	equipmentID string
	health      HealthFunc
	version     string
	maxBody     int64
	server      *http.Server
	hub         *Hub
	cancel      context.CancelFunc
	unsubscribe func()

	// versionMu orders node.changed broadcasts; versions holds the last
	// version sent per node.
	versionMu sync.Mutex
	versions  map[string]uint64
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Nodes == nil {
		return nil, fmt.Errorf("node registry is required")
	}
	if deps.Methods == nil {
		return nil, fmt.Errorf("method table is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	maxBody := deps.Config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		nodes:       deps.Nodes,
		methods:     deps.Methods,
		store:       deps.Store,
		conveyor:    deps.Conveyor,
		events:      deps.Events,
		equipmentID: deps.EquipmentID,
		health:      deps.Health,
		version:     deps.Version,
		maxBody:     maxBody,
		hub:         NewHub(deps.WS, deps.Logger),
		versions:    make(map[string]uint64),
	}, nil
}

// Start relays node changes to the WebSocket hub and launches the HTTP
// listener in a background goroutine. Stop it with Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.unsubscribe = s.nodes.Subscribe(s.broadcastChange)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// Handler returns the router without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// broadcastChange runs on the registry writer's goroutine; Broadcast only
// enqueues to client buffers. Changes that lost a race with a newer write
// of the same node are dropped.
func (s *Server) broadcastChange(ch node.Change) {
	s.versionMu.Lock()
	defer s.versionMu.Unlock()
	if ch.Version <= s.versions[ch.Node] {
		return
	}
	s.versions[ch.Node] = ch.Version

	s.hub.Broadcast(ChannelNodeChanged, nodeEvent{
		Node:      ch.Node,
		Group:     ch.Group,
		Kind:      ch.New.Kind().String(),
		Value:     ch.New,
		Version:   ch.Version,
		UpdatedAt: ch.At.UTC(),
	})
}
