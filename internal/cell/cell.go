package cell

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-cell/internal/anomaly"
	"github.com/nerrad567/gray-logic-cell/internal/api"
	"github.com/nerrad567/gray-logic-cell/internal/connection"
	"github.com/nerrad567/gray-logic-cell/internal/control"
	"github.com/nerrad567/gray-logic-cell/internal/eventlog"
	"github.com/nerrad567/gray-logic-cell/internal/gateway"
	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/modbus"
	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-cell/internal/ingress"
	"github.com/nerrad567/gray-logic-cell/internal/node"
	"github.com/nerrad567/gray-logic-cell/internal/plc"
	"github.com/nerrad567/gray-logic-cell/internal/sensor"
	"github.com/nerrad567/gray-logic-cell/internal/tasks"
	"github.com/nerrad567/gray-logic-cell/migrations"
)

// shutdownTimeout bounds the wait for supervised tasks once the producers
// have stopped.
const shutdownTimeout = 10 * time.Second

// PLCLink is the PLC connection the cell drives. *modbus.Client implements it.
type PLCLink interface {
	plc.IO
	connection.Endpoint
	Close() error
}

// Telemetry receives every PLC write, sensor edge and command outcome.
// *influxdb.Client implements it.
type Telemetry interface {
	plc.Recorder
	sensor.Recorder
	ingress.Recorder
}

// Infra holds the connections a Cell runs on. New fills it from
// configuration; tests build it by hand.
type Infra struct {
	DB  *database.DB
	PLC PLCLink

	// MQTT and Telemetry are optional.
	MQTT      *mqtt.Client
	Telemetry Telemetry
}

// Cell is the running controller: the registry, the method table and the
// loops that connect them to the PLC.
type Cell struct {
	cfg     *config.Config
	log     *logging.Logger
	version string
	started time.Time

	infra   Infra
	influx  *influxdb.Client
	closers []func() error

	tasks       *tasks.Supervisor
	registry    *node.Registry
	actuator    *plc.Actuator
	monitor     *connection.Monitor
	ingress     *ingress.Ingress
	poller      *sensor.Poller
	coordinator *anomaly.Coordinator
	store       *control.SQLiteStore
	loop        *control.Loop
	events      *eventlog.SQLiteRepository
	gateway     *gateway.Gateway
	api         *api.Server
}

// New opens the infrastructure described by cfg and assembles the cell.
// Disabled MQTT and InfluxDB sections are skipped. On error everything
// opened so far is closed again.
func New(cfg *config.Config, log *logging.Logger, version string) (*Cell, error) {
	var (
		infra   Infra
		closers []func() error
		influx  *influxdb.Client
	)
	fail := func(err error) (*Cell, error) {
		closeAll(closers, log)
		return nil, err
	}

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fail(fmt.Errorf("opening database: %w", err))
	}
	closers = append(closers, db.Close)
	if err := db.Migrate(context.Background(), migrations.Source()); err != nil {
		return fail(fmt.Errorf("running migrations: %w", err))
	}
	infra.DB = db
	log.Info("database ready", "path", cfg.Database.Path)

	plcClient, err := modbus.New(cfg.PLC)
	if err != nil {
		return fail(fmt.Errorf("creating PLC client: %w", err))
	}
	plcClient.SetLogger(log.Component("modbus"))
	closers = append(closers, plcClient.Close)
	infra.PLC = plcClient

	switch mqttClient, err := mqtt.Connect(cfg.MQTT, cfg.Cell.ID); {
	case errors.Is(err, mqtt.ErrDisabled):
		log.Info("MQTT disabled")
	case err != nil:
		return fail(fmt.Errorf("connecting to MQTT: %w", err))
	default:
		mqttLog := log.Component("mqtt")
		mqttClient.SetLogger(mqttLog)
		mqttClient.SetOnConnect(func() { mqttLog.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { mqttLog.Warn("MQTT disconnected", "error", err) })
		closers = append(closers, mqttClient.Close)
		infra.MQTT = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	switch client, err := influxdb.Connect(cfg.InfluxDB, cfg.Cell.ID); {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fail(fmt.Errorf("connecting to InfluxDB: %w", err))
	default:
		client.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		closers = append(closers, client.Close)
		influx = client
		infra.Telemetry = client
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	c, err := Assemble(cfg, log, version, infra)
	if err != nil {
		return fail(err)
	}
	c.influx = influx
	c.closers = closers
	return c, nil
}

// Assemble builds the domain components on already opened infrastructure.
// The caller keeps ownership of infra.
func Assemble(cfg *config.Config, log *logging.Logger, version string, infra Infra) (*Cell, error) {
	if infra.DB == nil || infra.PLC == nil {
		return nil, errors.New("cell: database and PLC link are required")
	}
	resetPolicy, err := tasks.ParsePolicy(cfg.Control.ResetPolicy)
	if err != nil {
		return nil, fmt.Errorf("control.reset_policy: %w", err)
	}
	pulsePolicy, err := tasks.ParsePolicy(cfg.Control.PulsePolicy)
	if err != nil {
		return nil, fmt.Errorf("control.pulse_policy: %w", err)
	}

	c := &Cell{
		cfg:     cfg,
		log:     log,
		version: version,
		infra:   infra,
		tasks:   tasks.NewSupervisor(log.Component("tasks")),
	}
	coils := plc.CoilMapFromConfig(cfg.PLC.Coils)

	c.registry, err = node.NewRegistry(node.DefaultDefinitions(), node.Options{
		Tasks:       c.tasks,
		ResetPolicy: resetPolicy,
		Logger:      log.Component("node"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating node registry: %w", err)
	}

	c.actuator, err = plc.NewActuator(plc.Options{
		IO:             infra.PLC,
		Coils:          coils,
		Registers:      plc.RegisterMapFromConfig(cfg.PLC.Registers),
		DirectionPulse: cfg.Control.DirectionPulse,
		Logger:         log.Component("plc"),
		Recorder:       plcRecorder(infra.Telemetry),
	})
	if err != nil {
		return nil, fmt.Errorf("creating actuator: %w", err)
	}

	linkLog := log.Component("connection")
	c.monitor, err = connection.NewMonitor(infra.PLC, connection.MonitorConfig{
		Policy: connection.Policy{
			Name:        "plc",
			MaxAttempts: cfg.PLC.Connect.MaxAttempts,
			Delay:       cfg.PLC.Connect.RetryDelay,
		},
		CheckInterval: cfg.PLC.Connect.CheckInterval,
		OnStatus: func(s connection.Status) {
			linkLog.Info("PLC link status", "status", string(s))
		},
	}, linkLog)
	if err != nil {
		return nil, fmt.Errorf("creating link monitor: %w", err)
	}

	c.ingress, err = ingress.New(ingress.Options{
		Registry:         c.registry,
		Flag:             c.actuator,
		ResetDelay:       cfg.Control.ResetDelay,
		ReadyStateSettle: cfg.Control.ReadyStateSettle,
		Logger:           log.Component("ingress"),
		Recorder:         ingressRecorder(infra.Telemetry),
	})
	if err != nil {
		return nil, fmt.Errorf("creating command ingress: %w", err)
	}

	c.events = eventlog.NewSQLiteRepository(infra.DB.DB)
	events := eventlog.NewRecorder(c.events, log.Component("eventlog"))

	c.poller, err = sensor.NewPoller(sensor.Options{
		Reader:   infra.PLC,
		Invoker:  c.ingress,
		Inputs:   sensor.DefaultInputs(coils),
		Interval: cfg.Control.SensorPollInterval,
		Events:   events,
		Recorder: sensorRecorder(infra.Telemetry),
		Logger:   log.Component("sensor"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating sensor poller: %w", err)
	}

	c.coordinator, err = anomaly.New(anomaly.Options{
		Actuator: c.actuator,
		Tasks:    c.tasks,
		Policy:   pulsePolicy,
		NGCoil:   coils.NG,
		OKCoil:   coils.OK,
		Hold:     cfg.Control.AnomalyPulse,
		Logger:   log.Component("anomaly"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating anomaly coordinator: %w", err)
	}

	c.store = control.NewSQLiteStore(infra.DB.DB)
	c.loop, err = control.NewLoop(control.Options{
		Store:       c.store,
		Actuator:    c.actuator,
		EquipmentID: cfg.Cell.EquipmentID,
		Interval:    cfg.Control.PollInterval,
		Tasks:       c.tasks,
		Events:      events,
		Logger:      log.Component("control"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating control loop: %w", err)
	}

	if infra.MQTT != nil {
		c.gateway, err = gateway.New(gateway.Options{
			Bus:            infra.MQTT,
			Topics:         infra.MQTT.Topics(),
			Nodes:          c.registry,
			Methods:        c.ingress,
			Starter:        c.loop,
			Tasks:          c.tasks,
			Links:          []gateway.LinkSource{c.monitor},
			Version:        version,
			QoS:            infra.MQTT.QoS(),
			HealthInterval: cfg.Control.HealthInterval,
			Logger:         log.Component("gateway"),
		})
		if err != nil {
			return nil, fmt.Errorf("creating MQTT gateway: %w", err)
		}
	}

	if cfg.API.Enabled {
		c.api, err = api.New(api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Security:    cfg.Security,
			Logger:      log.Component("api"),
			Nodes:       c.registry,
			Methods:     c.ingress,
			Store:       c.store,
			Conveyor:    c.loop,
			Events:      c.events,
			EquipmentID: cfg.Cell.EquipmentID,
			Health:      c.Health,
			Version:     version,
		})
		if err != nil {
			return nil, fmt.Errorf("creating API server: %w", err)
		}
	}

	return c, nil
}

// Run connects the PLC and runs the cell until ctx is cancelled or a
// producer fails. An exhausted PLC reconnection ends Run with
// connection.ErrRetriesExhausted.
func (c *Cell) Run(ctx context.Context) error {
	c.started = time.Now()

	if err := c.monitor.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to PLC: %w", err)
	}

	unwatchAnomaly := c.coordinator.Watch(c.registry, node.OKNGValue)
	defer unwatchAnomaly()
	unwatchHMI := c.loop.WatchHMI(c.registry, node.ConveyorCommand)
	defer unwatchHMI()

	if c.api != nil {
		if err := c.api.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if err := c.api.Close(); err != nil {
				c.log.Error("error closing API server", "error", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.monitor.Run(gctx) })
	g.Go(func() error { return c.loop.Run(gctx) })
	g.Go(func() error { return c.poller.Run(gctx) })
	if c.gateway != nil {
		g.Go(func() error { return c.gateway.Run(gctx) })
	}

	c.log.Info("cell running",
		"cell_id", c.cfg.Cell.ID,
		"equipment_id", c.cfg.Cell.EquipmentID,
		"mqtt", c.gateway != nil,
		"api", c.api != nil,
	)
	err := g.Wait()

	// Let in-flight pulses and resets finish before cancelling them.
	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if waitErr := c.tasks.Wait(waitCtx); waitErr != nil {
		c.log.Warn("cancelling background tasks still running at shutdown", "error", waitErr)
	}
	c.tasks.Close()

	if err != nil {
		return fmt.Errorf("cell stopped: %w", err)
	}
	c.log.Info("cell stopped")
	return nil
}

// Close releases the infrastructure opened by New in reverse order. Safe to
// call more than once.
func (c *Cell) Close() error {
	c.tasks.Close()
	errs := closeAll(c.closers, c.log)
	c.closers = nil
	return errs
}

func closeAll(closers []func() error, log *logging.Logger) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			log.Error("error closing resource", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Registry returns the cell's node registry.
func (c *Cell) Registry() *node.Registry { return c.registry }

// Ingress returns the cell's method table.
func (c *Cell) Ingress() *ingress.Ingress { return c.ingress }

// Health reports component state for the HTTP health endpoint.
func (c *Cell) Health() map[string]any {
	h := map[string]any{
		"cell_id":  c.cfg.Cell.ID,
		"plc":      c.monitor.Stats(),
		"control":  c.loop.Snapshot(),
		"mqtt":     c.infra.MQTT != nil && c.infra.MQTT.IsConnected(),
		"influxdb": c.influx != nil && c.influx.IsConnected(),
	}
	if !c.started.IsZero() {
		h["uptime_s"] = int64(time.Since(c.started).Seconds())
	}
	if c.gateway != nil {
		h["gateway_dropped"] = c.gateway.Dropped()
	}
	return h
}

// The recorder helpers keep a nil Telemetry from becoming a non-nil
// interface holding a nil pointer.

func plcRecorder(t Telemetry) plc.Recorder {
	if t == nil {
		return nil
	}
	return t
}

func sensorRecorder(t Telemetry) sensor.Recorder {
	if t == nil {
		return nil
	}
	return t
}

func ingressRecorder(t Telemetry) ingress.Recorder {
	if t == nil {
		return nil
	}
	return t
}
