// internal/task/logmsg.go
package task

import (
	"fmt"
	"strings"

	"github.com/tamzrod/modbus-bridge/internal/protocol"
)

// LogVerbosity controls how much of a transaction is traced.
type LogVerbosity uint8

const (
	LogNone LogVerbosity = iota
	LogReadsAndWrites
	LogReadsAndWritesVerbose
)

func (v LogVerbosity) String() string {
	switch v {
	case LogReadsAndWrites:
		return "reads_and_writes"
	case LogReadsAndWritesVerbose:
		return "reads_and_writes_verbose"
	default:
		return "none"
	}
}

func ParseLogVerbosity(s string) (LogVerbosity, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return LogNone, nil
	case "reads_and_writes":
		return LogReadsAndWrites, nil
	case "reads_and_writes_verbose", "verbose":
		return LogReadsAndWritesVerbose, nil
	}
	return LogNone, fmt.Errorf("task: unknown log verbosity %q", s)
}

// LogMessage renders one transaction as
//
//	<FCName> [<device>;unitid=<U>;priority=<P>;ref=<addr>/0x<hex>;length=<L>;response=<payload>]
//
// The response part is only rendered in verbose mode when resp is non-nil.
func LogMessage(d Device, p protocol.Priority, v LogVerbosity, req Request, resp *Response) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s;unitid=%d;priority=%s;ref=%d/0x%x;length=%d",
		req.Function, d.ID, d.UnitID, p, req.Address, req.Address, req.Quantity)

	if v == LogReadsAndWritesVerbose && resp != nil {
		if payload := payloadString(req.Function, resp); payload != "" {
			sb.WriteString(";response=")
			sb.WriteString(payload)
		}
	}

	sb.WriteByte(']')
	return sb.String()
}

func payloadString(fc FunctionCode, resp *Response) string {
	if fc.IsBits() {
		parts := make([]string, len(resp.Bits))
		for i, b := range resp.Bits {
			if b {
				parts[i] = "ON"
			} else {
				parts[i] = "OFF"
			}
		}
		return strings.Join(parts, " ")
	}

	parts := make([]string, len(resp.Registers))
	for i, r := range resp.Registers {
		parts[i] = fmt.Sprintf("%04x", r)
	}
	return strings.Join(parts, " ")
}
