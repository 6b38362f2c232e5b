// internal/task/transport.go
package task

import (
	"context"
	"errors"
	"fmt"
)

// FunctionCode is the Modbus operation selector.
type FunctionCode uint8

const (
	FC1ReadCoils            FunctionCode = 1
	FC2ReadDiscreteInputs   FunctionCode = 2
	FC3ReadHoldingRegisters FunctionCode = 3
	FC4ReadInputRegisters   FunctionCode = 4
	FC5WriteCoil            FunctionCode = 5
	FC6WriteRegister        FunctionCode = 6
	FC16WriteRegisters      FunctionCode = 16
)

func (fc FunctionCode) String() string {
	switch fc {
	case FC1ReadCoils:
		return "FC1ReadCoils"
	case FC2ReadDiscreteInputs:
		return "FC2ReadDiscreteInputs"
	case FC3ReadHoldingRegisters:
		return "FC3ReadHoldingRegisters"
	case FC4ReadInputRegisters:
		return "FC4ReadInputRegisters"
	case FC5WriteCoil:
		return "FC5WriteCoil"
	case FC6WriteRegister:
		return "FC6WriteRegister"
	case FC16WriteRegisters:
		return "FC16WriteRegisters"
	default:
		return fmt.Sprintf("FC%d", uint8(fc))
	}
}

// IsBits reports whether the function code carries a bit vector.
func (fc FunctionCode) IsBits() bool {
	return fc == FC1ReadCoils || fc == FC2ReadDiscreteInputs || fc == FC5WriteCoil
}

// IsWrite reports whether the function code writes to the device.
func (fc FunctionCode) IsWrite() bool {
	return fc == FC5WriteCoil || fc == FC6WriteRegister || fc == FC16WriteRegisters
}

var (
	ErrShortResponse       = errors.New("task: response shorter than request")
	ErrUnsupportedFunction = errors.New("task: unsupported function code")
)

// Request is one bus transaction.
type Request struct {
	UnitID    uint8
	Function  FunctionCode
	Address   uint16
	Quantity  uint16
	Registers []uint16 // FC6 / FC16 payload
	Bits      []bool   // FC5 payload
}

// Response carries raw words or bits plus the request it answers.
// Write responses echo the written payload.
type Response struct {
	Request   Request
	Registers []uint16
	Bits      []bool
}

// Transport sends one request and waits for its response.
// Implementations allow at most one request in flight.
type Transport interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) (Response, error)

func (f TransportFunc) Send(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// Device identifies the target of a task in requests and log lines.
type Device struct {
	ID     string
	UnitID uint8
}
