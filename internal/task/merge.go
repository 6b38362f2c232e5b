// internal/task/merge.go
package task

import (
	"errors"
	"fmt"

	"github.com/tamzrod/modbus-bridge/internal/element"
	"github.com/tamzrod/modbus-bridge/internal/protocol"
)

// pendingWrite is one harvested intent and the element it belongs to.
type pendingWrite struct {
	el    *element.Element
	value element.Value
}

// WriteBlock is one contiguous multi-register write.
type WriteBlock struct {
	Address   uint16
	Registers []uint16
	parts     []pendingWrite
}

// Elements returns the elements covered by the block, in address order.
func (b WriteBlock) Elements() []*element.Element {
	out := make([]*element.Element, len(b.parts))
	for i, p := range b.parts {
		out[i] = p.el
	}
	return out
}

func (b WriteBlock) end() uint32 { return uint32(b.Address) + uint32(len(b.Registers)) }

// MergeWrites turns the pending values of elems into the minimal ordered
// set of contiguous write blocks.
//
// Elements are scanned in order. An element without a pending value is a
// hole and closes the current run; so does an address gap or reaching the
// FC16 register limit. Elements with nothing pending are never included.
// Values that fail to encode are reported and treated as holes.
func MergeWrites(elems []*element.Element) ([]WriteBlock, error) {
	var (
		blocks []WriteBlock
		run    *WriteBlock
		errs   []error
	)

	closeRun := func() {
		if run != nil && len(run.Registers) > 0 {
			blocks = append(blocks, *run)
		}
		run = nil
	}

	for _, e := range elems {
		v, ok := e.NextWriteValue()
		if !ok {
			closeRun()
			continue
		}

		regs, err := e.EncodeRegisters(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("task: encode %s: %w", e, err))
			closeRun()
			continue
		}
		if len(regs) == 0 {
			closeRun()
			continue
		}

		if run != nil {
			contiguous := run.end() == uint32(e.Address())
			fits := len(run.Registers)+len(regs) <= protocol.MaxWriteRegisters
			if !contiguous || !fits {
				closeRun()
			}
		}
		if run == nil {
			run = &WriteBlock{Address: e.Address()}
		}

		run.Registers = append(run.Registers, regs...)
		run.parts = append(run.parts, pendingWrite{el: e, value: v})
	}
	closeRun()

	return blocks, errors.Join(errs...)
}
