// internal/task/read.go
package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/tamzrod/modbus-bridge/internal/protocol"
)

// Exchange is one request/response pair produced by a task.
// Response is nil when the transport failed.
type Exchange struct {
	Request  Request
	Response *Response
	Err      error
}

// Result counts the requests and failures of one task execution.
type Result struct {
	Requests int
	Failed   int
}

// Summarize counts the requests and failures of a set of exchanges.
func Summarize(xs []Exchange) Result {
	r := Result{Requests: len(xs)}
	for _, x := range xs {
		if x.Err != nil {
			r.Failed++
		}
	}
	return r
}

// Task is one scheduled unit of bus work.
type Task interface {
	Function() FunctionCode
	Priority() protocol.Priority
	Execute(ctx context.Context, d Device, tr Transport) ([]Exchange, error)
}

// ReadTask reads one range with FC1/2/3/4.
// Reads are idempotent and safe to retry every cycle.
type ReadTask struct {
	rng *protocol.Range
	fc  FunctionCode
}

var _ Task = (*ReadTask)(nil)

// NewReadTask picks the read function code from the range area.
func NewReadTask(r *protocol.Range) (*ReadTask, error) {
	var fc FunctionCode
	switch r.Area() {
	case protocol.AreaCoils:
		fc = FC1ReadCoils
	case protocol.AreaDiscreteInputs:
		fc = FC2ReadDiscreteInputs
	case protocol.AreaHoldingRegisters:
		fc = FC3ReadHoldingRegisters
	case protocol.AreaInputRegisters:
		fc = FC4ReadInputRegisters
	default:
		return nil, fmt.Errorf("%w: area %s", ErrUnsupportedFunction, r.Area())
	}
	return &ReadTask{rng: r, fc: fc}, nil
}

func (t *ReadTask) Function() FunctionCode { return t.fc }
func (t *ReadTask) Priority() protocol.Priority { return t.rng.Priority() }
func (t *ReadTask) Range() *protocol.Range { return t.rng }

// Request spans [start, start + length) of the range.
func (t *ReadTask) Request(d Device) Request {
	return Request{
		UnitID:   d.UnitID,
		Function: t.fc,
		Address:  t.rng.StartAddress(),
		Quantity: t.rng.Length(),
	}
}

// Apply splits resp into per-element slices and decodes them in range order.
// A short response is rejected before any element is touched.
func (t *ReadTask) Apply(resp Response) error {
	start := uint32(t.rng.StartAddress())
	qty := int(t.rng.Length())

	if t.fc.IsBits() {
		if len(resp.Bits) < qty {
			return fmt.Errorf("%w: %s got %d bits, want %d", ErrShortResponse, t.fc, len(resp.Bits), qty)
		}
	} else if len(resp.Registers) < qty {
		return fmt.Errorf("%w: %s got %d registers, want %d", ErrShortResponse, t.fc, len(resp.Registers), qty)
	}

	var errs []error
	for _, e := range t.rng.Elements() {
		off := uint32(e.Address()) - start
		end := off + uint32(e.Length())
		if uint32(e.Address()) < start || end > uint32(qty) {
			errs = append(errs, fmt.Errorf("task: %s outside %s", e, t.rng))
			continue
		}

		var err error
		if t.fc.IsBits() {
			err = e.UpdateBits(resp.Bits[off:end])
		} else {
			err = e.UpdateRegisters(resp.Registers[off:end])
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Execute sends the request and applies the response.
// On any failure the elements keep their previous values.
func (t *ReadTask) Execute(ctx context.Context, d Device, tr Transport) ([]Exchange, error) {
	req := t.Request(d)

	resp, err := tr.Send(ctx, req)
	if err != nil {
		return []Exchange{{Request: req, Err: err}}, err
	}
	if err := t.Apply(resp); err != nil {
		return []Exchange{{Request: req, Response: &resp, Err: err}}, err
	}
	return []Exchange{{Request: req, Response: &resp}}, nil
}
