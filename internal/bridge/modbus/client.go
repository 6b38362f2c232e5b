// internal/bridge/modbus/client.go
package modbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-bridge/internal/element"
	"github.com/tamzrod/modbus-bridge/internal/protocol"
	"github.com/tamzrod/modbus-bridge/internal/task"
)

const (
	ModeTCP = "tcp"
	ModeRTU = "rtu"
)

// Config is the transport config of one bus.
type Config struct {
	Mode     string
	Endpoint string // host:port for tcp, device path for rtu
	Timeout  time.Duration

	// rtu only
	BaudRate int
	DataBits int
	StopBits int
	Parity   string

	// ConnectRetries bounds reconnect attempts per request.
	ConnectRetries uint64
}

// ErrInvalidRequest marks a request rejected before it reaches the wire.
// The connection is kept.
var ErrInvalidRequest = errors.New("bridge modbus: invalid request")

// handler is what both goburrow client handlers provide.
type handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// Client implements task.Transport on top of goburrow/modbus.
// It serializes requests because it mutates SlaveId per request.
type Client struct {
	mu        sync.Mutex
	cfg       Config
	handler   handler
	setUnit   func(uint8)
	client    modbus.Client
	connected bool
	logger    zerolog.Logger
}

var _ task.Transport = (*Client)(nil)

// New builds a client. The connection is opened lazily on first Send.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("bridge modbus: endpoint required")
	}

	c := &Client{
		cfg:    cfg,
		logger: logger.With().Str("endpoint", cfg.Endpoint).Logger(),
	}

	switch strings.ToLower(cfg.Mode) {
	case "", ModeTCP:
		h := modbus.NewTCPClientHandler(cfg.Endpoint)
		h.Timeout = cfg.Timeout
		c.handler = h
		c.setUnit = func(id uint8) { h.SlaveId = id }

	case ModeRTU:
		h := modbus.NewRTUClientHandler(cfg.Endpoint)
		h.Timeout = cfg.Timeout
		if cfg.BaudRate > 0 {
			h.BaudRate = cfg.BaudRate
		}
		if cfg.DataBits > 0 {
			h.DataBits = cfg.DataBits
		}
		if cfg.StopBits > 0 {
			h.StopBits = cfg.StopBits
		}
		if cfg.Parity != "" {
			h.Parity = cfg.Parity
		}
		c.handler = h
		c.setUnit = func(id uint8) { h.SlaveId = id }

	default:
		return nil, fmt.Errorf("bridge modbus: unknown mode %q", cfg.Mode)
	}

	c.client = modbus.NewClient(c.handler)
	return c, nil
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.connected {
		return nil
	}

	c.logger.Debug().Msg("connecting")

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.ConnectRetries),
		ctx,
	)
	if err := backoff.Retry(c.handler.Connect, bo); err != nil {
		return fmt.Errorf("bridge modbus: connect %s: %w", c.cfg.Endpoint, err)
	}
	c.connected = true
	c.logger.Info().Str("mode", c.cfg.Mode).Msg("connected")
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return c.handler.Close()
}

// Send performs one request. Responses of writes echo the written payload.
// A transport error drops the connection. A Modbus exception or a request
// rejected by validate does not.
func (c *Client) Send(ctx context.Context, req task.Request) (task.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return task.Response{}, err
	}
	if err := validate(req); err != nil {
		return task.Response{}, fmt.Errorf("%s: %w", req.Function, err)
	}
	if err := c.connectLocked(ctx); err != nil {
		return task.Response{}, err
	}

	c.setUnit(req.UnitID)

	resp, err := c.do(req)
	if err != nil {
		var me *modbus.ModbusError
		if !errors.As(err, &me) {
			c.logger.Warn().Err(err).Msg("connection error, dropping connection")
			_ = c.handler.Close()
			c.connected = false
		}
		return task.Response{}, fmt.Errorf("%s: %w", req.Function, err)
	}
	return resp, nil
}

func (c *Client) do(req task.Request) (task.Response, error) {
	resp := task.Response{Request: req}

	switch req.Function {
	case task.FC1ReadCoils:
		b, err := c.client.ReadCoils(req.Address, req.Quantity)
		if err != nil {
			return resp, err
		}
		resp.Bits = unpackBits(b, int(req.Quantity))

	case task.FC2ReadDiscreteInputs:
		b, err := c.client.ReadDiscreteInputs(req.Address, req.Quantity)
		if err != nil {
			return resp, err
		}
		resp.Bits = unpackBits(b, int(req.Quantity))

	case task.FC3ReadHoldingRegisters:
		b, err := c.client.ReadHoldingRegisters(req.Address, req.Quantity)
		if err != nil {
			return resp, err
		}
		resp.Registers = element.RegistersFromBytes(b)

	case task.FC4ReadInputRegisters:
		b, err := c.client.ReadInputRegisters(req.Address, req.Quantity)
		if err != nil {
			return resp, err
		}
		resp.Registers = element.RegistersFromBytes(b)

	case task.FC5WriteCoil:
		v := uint16(0x0000)
		if req.Bits[0] {
			v = 0xFF00
		}
		if _, err := c.client.WriteSingleCoil(req.Address, v); err != nil {
			return resp, err
		}
		resp.Bits = req.Bits

	case task.FC6WriteRegister:
		if _, err := c.client.WriteSingleRegister(req.Address, req.Registers[0]); err != nil {
			return resp, err
		}
		resp.Registers = req.Registers

	case task.FC16WriteRegisters:
		qty := uint16(len(req.Registers))
		if _, err := c.client.WriteMultipleRegisters(req.Address, qty, element.BytesFromRegisters(req.Registers)); err != nil {
			return resp, err
		}
		resp.Registers = req.Registers

	default:
		return resp, fmt.Errorf("%w: %s", task.ErrUnsupportedFunction, req.Function)
	}

	return resp, nil
}

// validate checks quantities and payloads against the wire limits.
func validate(req task.Request) error {
	switch req.Function {
	case task.FC1ReadCoils, task.FC2ReadDiscreteInputs:
		if req.Quantity < 1 || req.Quantity > protocol.MaxReadBits {
			return fmt.Errorf("%w: quantity %d outside 1..%d", ErrInvalidRequest, req.Quantity, protocol.MaxReadBits)
		}
	case task.FC3ReadHoldingRegisters, task.FC4ReadInputRegisters:
		if req.Quantity < 1 || req.Quantity > protocol.MaxReadRegisters {
			return fmt.Errorf("%w: quantity %d outside 1..%d", ErrInvalidRequest, req.Quantity, protocol.MaxReadRegisters)
		}
	case task.FC5WriteCoil:
		if len(req.Bits) != 1 {
			return fmt.Errorf("%w: FC5 carries one coil, got %d", ErrInvalidRequest, len(req.Bits))
		}
	case task.FC6WriteRegister:
		if len(req.Registers) != 1 {
			return fmt.Errorf("%w: FC6 carries one register, got %d", ErrInvalidRequest, len(req.Registers))
		}
	case task.FC16WriteRegisters:
		if n := len(req.Registers); n < 1 || n > protocol.MaxWriteRegisters {
			return fmt.Errorf("%w: %d registers outside 1..%d", ErrInvalidRequest, n, protocol.MaxWriteRegisters)
		}
	default:
		return fmt.Errorf("%w: %s", task.ErrUnsupportedFunction, req.Function)
	}
	return nil
}

// ---- helpers ----

func unpackBits(data []byte, count int) []bool {
	out := make([]bool, 0, count)
	for i := 0; i < count; i++ {
		byteIdx := i / 8
		if byteIdx >= len(data) {
			break
		}
		out = append(out, data[byteIdx]&(1<<uint(i%8)) != 0)
	}
	return out
}
