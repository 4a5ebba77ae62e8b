package modbus

import (
	"context"
	"fmt"
	"sync"

	goburrow "github.com/goburrow/modbus"

	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/config"
)

const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// transport is the connection half of a goburrow client handler.
type transport interface {
	Connect() error
	Close() error
}

// bus is the subset of goburrow.Client the controller uses.
type bus interface {
	ReadCoils(address, quantity uint16) ([]byte, error)
	WriteSingleCoil(address, value uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

// Logger is the logging surface the client needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// Client is a serialized Modbus client for one PLC.
//
// Thread Safety:
//   - All methods are safe for concurrent use; requests are sent one at a time.
type Client struct {
	address   string
	probeCoil uint16

	transport transport
	bus       bus

	mu        sync.Mutex
	connected bool
	logger    Logger
}

// New builds a client for cfg without opening the link.
func New(cfg config.PLCConfig) (*Client, error) {
	switch cfg.Mode {
	case "rtu":
		h := goburrow.NewRTUClientHandler(cfg.RTU.Device)
		h.BaudRate = cfg.RTU.BaudRate
		h.DataBits = cfg.RTU.DataBits
		h.Parity = cfg.RTU.Parity
		h.StopBits = cfg.RTU.StopBits
		h.SlaveId = byte(cfg.SlaveID)
		h.Timeout = cfg.Timeout
		return newClient(cfg, h, goburrow.NewClient(h)), nil

	case "tcp":
		h := goburrow.NewTCPClientHandler(cfg.PLCAddress())
		h.SlaveId = byte(cfg.SlaveID)
		h.Timeout = cfg.Timeout
		return newClient(cfg, h, goburrow.NewClient(h)), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, cfg.Mode)
	}
}

func newClient(cfg config.PLCConfig, t transport, b bus) *Client {
	return &Client{
		address:   cfg.PLCAddress(),
		probeCoil: uint16(cfg.Coils.ConveyorSensor), //nolint:gosec // validated by config
		transport: t,
		bus:       b,
	}
}

// SetLogger sets the logger for link state changes.
func (c *Client) SetLogger(l Logger) {
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

// Address returns the serial device or host:port of the PLC.
func (c *Client) Address() string {
	return c.address
}

// Connect opens the serial port or TCP socket.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transport.Connect(); err != nil {
		c.connected = false
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, c.address, err)
	}
	c.connected = true
	return nil
}

// Close closes the link. Safe to call on a closed client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	return c.transport.Close()
}

// IsConnected reports whether the last operation on the link succeeded.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ReadCoil reads a single coil.
func (c *Client) ReadCoil(ctx context.Context, addr uint16) (bool, error) {
	var on bool
	err := c.do(ctx, ErrReadFailed, "read coil", addr, func() error {
		res, err := c.bus.ReadCoils(addr, 1)
		if err != nil {
			return err
		}
		if len(res) < 1 {
			return ErrShortResponse
		}
		on = res[0]&0x01 == 1
		return nil
	})
	return on, err
}

// WriteCoil sets a single coil on or off.
func (c *Client) WriteCoil(ctx context.Context, addr uint16, on bool) error {
	value := coilOff
	if on {
		value = coilOn
	}
	return c.do(ctx, ErrWriteFailed, "write coil", addr, func() error {
		_, err := c.bus.WriteSingleCoil(addr, value)
		return err
	})
}

// WriteRegister writes a single holding register.
func (c *Client) WriteRegister(ctx context.Context, addr uint16, value uint16) error {
	return c.do(ctx, ErrWriteFailed, "write register", addr, func() error {
		_, err := c.bus.WriteSingleRegister(addr, value)
		return err
	})
}

// HealthCheck reads the conveyor sensor coil as a liveness probe.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.ReadCoil(ctx, c.probeCoil)
	return err
}

// do runs one request under the link lock. A failure drops the transport so
// the next request redials.
func (c *Client) do(ctx context.Context, kind error, op string, addr uint16, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := fn(); err != nil {
		wasConnected := c.connected
		c.connected = false
		_ = c.transport.Close() //nolint:errcheck // redialled on next request
		if wasConnected && c.logger != nil {
			c.logger.Warn("plc link lost", "address", c.address, "op", op, "addr", addr, "error", err)
		}
		return fmt.Errorf("%w: %s %d: %w", kind, op, addr, err)
	}
	c.connected = true
	return nil
}
