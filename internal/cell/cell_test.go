package cell

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-cell/internal/control"
	"github.com/nerrad567/gray-logic-cell/internal/eventlog"
	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cell/internal/ingress"
	"github.com/nerrad567/gray-logic-cell/internal/node"
	"github.com/nerrad567/gray-logic-cell/internal/plc/plctest"
	"github.com/nerrad567/gray-logic-cell/migrations"
)

// fakeLink is an in-memory PLC that is always reachable.
type fakeLink struct {
	*plctest.PLC
	connects atomic.Int32
	health   atomic.Value // error
}

func newFakeLink() *fakeLink {
	return &fakeLink{PLC: plctest.New()}
}

func (f *fakeLink) Connect(context.Context) error {
	f.connects.Add(1)
	return nil
}

func (f *fakeLink) HealthCheck(context.Context) error {
	if err, ok := f.health.Load().(error); ok {
		return err
	}
	return nil
}

func (f *fakeLink) Close() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Cell: config.CellConfig{ID: "cell-test", EquipmentID: "CONVEYOR01"},
		PLC: config.PLCConfig{
			Coils: config.CoilConfig{
				ConveyorSensor: 10, RobotArmSensor: 11,
				NG: 64, OK: 65, Move: 66, Stop: 67, Forward: 68, Reverse: 69, Restart: 70,
			},
			Registers: config.RegisterConfig{Frequency: 0, Acceleration: 2, Deceleration: 3, AnomalyFlag: 80},
			Connect: config.ConnectConfig{
				MaxAttempts:   2,
				RetryDelay:    time.Millisecond,
				CheckInterval: 20 * time.Millisecond,
			},
		},
		Control: config.ControlConfig{
			PollInterval:       10 * time.Millisecond,
			SensorPollInterval: 10 * time.Millisecond,
			ResetDelay:         50 * time.Millisecond,
			ReadyStateSettle:   time.Millisecond,
			AnomalyPulse:       5 * time.Millisecond,
			DirectionPulse:     time.Millisecond,
			ResetPolicy:        "supersede",
			PulsePolicy:        "join",
			HealthInterval:     time.Second,
		},
	}
}

func openDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "cell.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(context.Background(), migrations.Source()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func coilWritten(link *fakeLink, addr uint16, on bool) bool {
	for _, w := range link.CoilWrites() {
		if w.Addr == addr && w.On == on {
			return true
		}
	}
	return false
}

// runCell starts c.Run and returns a stop function that cancels it and
// returns its error.
func runCell(t *testing.T, c *Cell) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(15 * time.Second):
			t.Fatal("Run() did not return after cancel")
			return nil
		}
	}
}

func TestAssemble_Validation(t *testing.T) {
	db := openDB(t)

	if _, err := Assemble(testConfig(), logging.Discard(), "test", Infra{PLC: newFakeLink()}); err == nil {
		t.Error("Assemble() without database should fail")
	}
	if _, err := Assemble(testConfig(), logging.Discard(), "test", Infra{DB: db}); err == nil {
		t.Error("Assemble() without PLC should fail")
	}

	cfg := testConfig()
	cfg.Control.PulsePolicy = "sometimes"
	if _, err := Assemble(cfg, logging.Discard(), "test", Infra{DB: db, PLC: newFakeLink()}); err == nil {
		t.Error("Assemble() with unknown pulse policy should fail")
	}

	c, err := Assemble(testConfig(), logging.Discard(), "test", Infra{DB: db, PLC: newFakeLink()})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if c.gateway != nil || c.api != nil {
		t.Error("gateway and API should be off without MQTT and api.enabled")
	}
	if len(c.Registry().List()) != len(node.DefaultDefinitions()) {
		t.Error("registry not populated with the default nodes")
	}
}

func TestRun_SensorEdgeReachesRegistryAndEventLog(t *testing.T) {
	db := openDB(t)
	link := newFakeLink()
	c, err := Assemble(testConfig(), logging.Discard(), "test", Infra{DB: db, PLC: link})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	stop := runCell(t, c)

	link.SetCoil(10, true)
	waitFor(t, "conveyor sensor node", func() bool {
		snap, err := c.Registry().Snapshot(node.ConveyorSensor)
		return err == nil && snap.Value.Normalize() == ingress.SensorCheckOK
	})

	repo := eventlog.NewSQLiteRepository(db.DB)
	waitFor(t, "sensor event", func() bool {
		res, err := repo.List(context.Background(), eventlog.Filter{EquipmentID: "SENSER01"})
		return err == nil && res.Total == 1
	})

	if err := stop(); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if link.connects.Load() != 1 {
		t.Errorf("connects = %d, want 1", link.connects.Load())
	}
}

func TestRun_VerdictPulsesCoilAndRestarts(t *testing.T) {
	db := openDB(t)
	link := newFakeLink()
	c, err := Assemble(testConfig(), logging.Discard(), "test", Infra{DB: db, PLC: link})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	stop := runCell(t, c)

	res, err := c.Ingress().Invoke(context.Background(), ingress.CmdOKNGValue, node.Text(`{"Anomaly":"NG"}`))
	if err != nil || !res.Success {
		t.Fatalf("Invoke() = %+v, %v", res, err)
	}
	if got := link.Register(80); got != 1 {
		t.Errorf("anomaly flag register = %d, want 1", got)
	}

	waitFor(t, "NG pulse and restart", func() bool {
		return coilWritten(link, 64, true) && coilWritten(link, 64, false) && coilWritten(link, 70, true)
	})
	if coilWritten(link, 65, true) {
		t.Error("OK coil pulsed for an NG verdict")
	}

	if err := stop(); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestRun_RunModeEdgeMovesConveyor(t *testing.T) {
	db := openDB(t)
	link := newFakeLink()
	c, err := Assemble(testConfig(), logging.Discard(), "test", Infra{DB: db, PLC: link})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	stop := runCell(t, c)

	waitFor(t, "control loop baseline", func() bool { return c.loop.Snapshot().Baselined })
	if coilWritten(link, 66, true) {
		t.Fatal("baseline poll dispatched a sequence")
	}

	store := control.NewSQLiteStore(db.DB)
	err = store.Upsert(context.Background(), control.State{EquipmentID: "CONVEYOR01", RunMode: "RUN", Direction: "FORWARD"})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	waitFor(t, "move sequence", func() bool {
		return coilWritten(link, 68, true) && coilWritten(link, 66, true)
	})

	if err := stop(); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestRun_ConveyorCommandStartsConveyor(t *testing.T) {
	db := openDB(t)
	link := newFakeLink()
	store := control.NewSQLiteStore(db.DB)
	err := store.Upsert(context.Background(), control.State{EquipmentID: "CONVEYOR01", RunMode: "RUN", Direction: "FORWARD"})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	c, err := Assemble(testConfig(), logging.Discard(), "test", Infra{DB: db, PLC: link})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	stop := runCell(t, c)
	waitFor(t, "control loop baseline", func() bool { return c.loop.Snapshot().Baselined })

	ctx := context.Background()

	// Arm cycle states are relayed, never treated as conveyor commands.
	res, err := c.Ingress().Invoke(ctx, ingress.CmdReadyState, node.Text(`{"state":"CONVEYOR_MOVE"}`))
	if err != nil {
		t.Fatalf("Invoke(%s) error = %v", ingress.CmdReadyState, err)
	}
	if res.Success {
		t.Errorf("Invoke(%s) = %+v, want rejection", ingress.CmdReadyState, res)
	}
	time.Sleep(50 * time.Millisecond)
	if coilWritten(link, 66, true) {
		t.Fatal("ready state started the conveyor")
	}

	res, err = c.Ingress().Invoke(ctx, ingress.CmdConveyorCommand, node.Text(`{"move_command":"CONVEYOR_MOVE"}`))
	if err != nil {
		t.Fatalf("Invoke(%s) error = %v", ingress.CmdConveyorCommand, err)
	}
	if !res.Success {
		t.Fatalf("Invoke(%s) = %+v, want success", ingress.CmdConveyorCommand, res)
	}
	waitFor(t, "manual start", func() bool {
		return coilWritten(link, 68, true) && coilWritten(link, 66, true)
	})

	if err := stop(); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestRun_LinkExhaustionStopsCell(t *testing.T) {
	db := openDB(t)
	link := &failingLink{fakeLink: newFakeLink()}
	c, err := Assemble(testConfig(), logging.Discard(), "test", Infra{DB: db, PLC: link})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	stop := runCell(t, c)

	link.health.Store(errors.New("no response"))
	link.down.Store(true)

	err = stop()
	if err == nil {
		t.Fatal("Run() error = nil, want exhausted reconnection")
	}
}

// failingLink refuses to reconnect once down is set.
type failingLink struct {
	*fakeLink
	down atomic.Bool
}

func (f *failingLink) Connect(ctx context.Context) error {
	if f.down.Load() {
		return errors.New("refused")
	}
	return f.fakeLink.Connect(ctx)
}

func TestHealth(t *testing.T) {
	c, err := Assemble(testConfig(), logging.Discard(), "v1", Infra{DB: openDB(t), PLC: newFakeLink()})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	h := c.Health()
	if h["cell_id"] != "cell-test" {
		t.Errorf("cell_id = %v", h["cell_id"])
	}
	if h["mqtt"] != false || h["influxdb"] != false {
		t.Errorf("mqtt/influxdb = %v/%v, want false/false", h["mqtt"], h["influxdb"])
	}
	if _, ok := h["uptime_s"]; ok {
		t.Error("uptime reported before Run")
	}
}
