// internal/protocol/types.go
package protocol

import (
	"fmt"
	"strings"
)

// Area is one of the four Modbus data tables.
// Coils and registers are independent address spaces.
type Area uint8

const (
	AreaCoils Area = iota + 1
	AreaDiscreteInputs
	AreaHoldingRegisters
	AreaInputRegisters
)

func (a Area) String() string {
	switch a {
	case AreaCoils:
		return "coils"
	case AreaDiscreteInputs:
		return "discrete_inputs"
	case AreaHoldingRegisters:
		return "holding_registers"
	case AreaInputRegisters:
		return "input_registers"
	default:
		return fmt.Sprintf("area(%d)", uint8(a))
	}
}

// IsBits reports whether the area is bit addressed.
func (a Area) IsBits() bool { return a == AreaCoils || a == AreaDiscreteInputs }

// Writable reports whether a client may write the area.
func (a Area) Writable() bool { return a == AreaCoils || a == AreaHoldingRegisters }

func ParseArea(s string) (Area, error) {
	switch strings.ToLower(s) {
	case "coils", "coil":
		return AreaCoils, nil
	case "discrete_inputs", "discrete_input":
		return AreaDiscreteInputs, nil
	case "holding_registers", "holding":
		return AreaHoldingRegisters, nil
	case "input_registers", "input":
		return AreaInputRegisters, nil
	}
	return 0, fmt.Errorf("protocol: unknown area %q", s)
}

// Priority is a scheduling hint: HIGH runs every cycle,
// LOW ranges are read round-robin, one per cycle.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "HIGH"
	}
	return "LOW"
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "", "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	}
	return PriorityLow, fmt.Errorf("protocol: unknown priority %q", s)
}

// WriteMode selects the function code for writable register ranges.
// Coil ranges always use single-coil writes.
type WriteMode uint8

const (
	WriteMultiple WriteMode = iota // FC16, merged
	WriteSingle                    // FC6, one request per element
)

func (m WriteMode) String() string {
	if m == WriteSingle {
		return "single"
	}
	return "multiple"
}

func ParseWriteMode(s string) (WriteMode, error) {
	switch strings.ToLower(s) {
	case "", "multiple":
		return WriteMultiple, nil
	case "single":
		return WriteSingle, nil
	}
	return WriteMultiple, fmt.Errorf("protocol: unknown write mode %q", s)
}

// Wire limits for one request.
const (
	MaxReadRegisters  = 125
	MaxReadBits       = 2000
	MaxWriteRegisters = 123
)
