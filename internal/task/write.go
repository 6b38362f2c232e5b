// internal/task/write.go
package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/tamzrod/modbus-bridge/internal/element"
	"github.com/tamzrod/modbus-bridge/internal/protocol"
)

// WriteTask writes the pending values of one writable range.
//
// Coil ranges use FC5, one request per coil. Register ranges use FC6
// (WriteSingle) or merged FC16 blocks (WriteMultiple). A pending value is
// cleared only when the request carrying it is confirmed; failed requests
// keep their values for the next cycle, independent of sibling requests.
type WriteTask struct {
	rng *protocol.Range
	fc  FunctionCode
}

var _ Task = (*WriteTask)(nil)

func NewWriteTask(r *protocol.Range) (*WriteTask, error) {
	if !r.Writable() {
		return nil, fmt.Errorf("%w: %s", protocol.ErrNotWritable, r)
	}

	var fc FunctionCode
	switch r.Area() {
	case protocol.AreaCoils:
		fc = FC5WriteCoil
	case protocol.AreaHoldingRegisters:
		fc = FC16WriteRegisters
		if r.WriteMode() == protocol.WriteSingle {
			fc = FC6WriteRegister
		}
	default:
		return nil, fmt.Errorf("%w: %s", protocol.ErrNotWritable, r.Area())
	}
	return &WriteTask{rng: r, fc: fc}, nil
}

func (t *WriteTask) Function() FunctionCode { return t.fc }

// Priority is always HIGH: pending writes are attempted every cycle.
func (t *WriteTask) Priority() protocol.Priority { return protocol.PriorityHigh }

func (t *WriteTask) Range() *protocol.Range { return t.rng }

// planned is one request and the intents it carries.
type planned struct {
	req   Request
	parts []pendingWrite
}

// Plan harvests pending values into requests without sending anything.
func (t *WriteTask) Plan(d Device) ([]Request, error) {
	ps, err := t.plan(d)
	out := make([]Request, len(ps))
	for i, p := range ps {
		out[i] = p.req
	}
	return out, err
}

func (t *WriteTask) plan(d Device) ([]planned, error) {
	elems := t.rng.Elements()

	switch t.fc {
	case FC16WriteRegisters:
		blocks, err := MergeWrites(elems)
		out := make([]planned, 0, len(blocks))
		for _, b := range blocks {
			out = append(out, planned{
				req: Request{
					UnitID:    d.UnitID,
					Function:  FC16WriteRegisters,
					Address:   b.Address,
					Quantity:  uint16(len(b.Registers)),
					Registers: b.Registers,
				},
				parts: b.parts,
			})
		}
		return out, err

	case FC6WriteRegister:
		var out []planned
		var errs []error
		for _, e := range elems {
			v, ok := e.NextWriteValue()
			if !ok {
				continue
			}
			regs, err := e.EncodeRegisters(v)
			if err == nil && len(regs) != 1 {
				err = fmt.Errorf("task: %s spans %d registers, FC6 writes one", e, len(regs))
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			out = append(out, planned{
				req: Request{
					UnitID:    d.UnitID,
					Function:  FC6WriteRegister,
					Address:   e.Address(),
					Quantity:  1,
					Registers: regs,
				},
				parts: []pendingWrite{{el: e, value: v}},
			})
		}
		return out, errors.Join(errs...)

	case FC5WriteCoil:
		var out []planned
		var errs []error
		for _, e := range elems {
			v, ok := e.NextWriteValue()
			if !ok {
				continue
			}
			bits, err := e.EncodeBits(v)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if len(bits) == 0 {
				continue
			}
			out = append(out, planned{
				req: Request{
					UnitID:   d.UnitID,
					Function: FC5WriteCoil,
					Address:  e.Address(),
					Quantity: 1,
					Bits:     bits[:1],
				},
				parts: []pendingWrite{{el: e, value: v}},
			})
		}
		return out, errors.Join(errs...)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFunction, t.fc)
}

// Execute sends every planned request in address order.
// The returned error joins planning and per-request failures.
func (t *WriteTask) Execute(ctx context.Context, d Device, tr Transport) ([]Exchange, error) {
	ps, planErr := t.plan(d)

	errs := []error{planErr}
	exchanges := make([]Exchange, 0, len(ps))

	for _, p := range ps {
		resp, err := tr.Send(ctx, p.req)
		if err != nil {
			exchanges = append(exchanges, Exchange{Request: p.req, Err: err})
			errs = append(errs, fmt.Errorf("%s ref=%d: %w", p.req.Function, p.req.Address, err))
			continue
		}

		for _, pw := range p.parts {
			pw.el.ClearNextWriteValue(pw.value)
		}
		exchanges = append(exchanges, Exchange{Request: p.req, Response: &resp})
	}

	return exchanges, errors.Join(errs...)
}

// pendingValues lists the elements of a range that currently hold an intent.
func pendingValues(elems []*element.Element) []pendingWrite {
	var out []pendingWrite
	for _, e := range elems {
		if v, ok := e.NextWriteValue(); ok {
			out = append(out, pendingWrite{el: e, value: v})
		}
	}
	return out
}

// HasPending reports whether any element of the task's range holds an intent.
func (t *WriteTask) HasPending() bool {
	return len(pendingValues(t.rng.Elements())) > 0
}
