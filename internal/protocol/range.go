// internal/protocol/range.go
package protocol

import (
	"errors"
	"fmt"

	"github.com/tamzrod/modbus-bridge/internal/element"
)

var (
	ErrEmptyRange     = errors.New("protocol: range has no elements")
	ErrNotContiguous  = errors.New("protocol: range elements are not contiguous")
	ErrWrongSpace     = errors.New("protocol: element does not belong to the range area")
	ErrRangeTooLong   = errors.New("protocol: range exceeds one request")
	ErrNotWritable    = errors.New("protocol: area is not writable")
	ErrDuplicateRange = errors.New("protocol: duplicate range start address")
)

// Range is an ordered, contiguous group of elements in one area.
// Its start address is the address of the first element.
type Range struct {
	area      Area
	priority  Priority
	writable  bool
	writeMode WriteMode
	elements  []*element.Element
}

// NewRange creates a read-only range.
func NewRange(area Area, priority Priority, elems ...*element.Element) *Range {
	return &Range{area: area, priority: priority, elements: elems}
}

// NewWriteRange creates a range whose elements may carry pending writes.
// Writable ranges are read as well, with the given priority.
func NewWriteRange(area Area, priority Priority, mode WriteMode, elems ...*element.Element) *Range {
	return &Range{area: area, priority: priority, writable: true, writeMode: mode, elements: elems}
}

// Append adds elements at the end of the range.
func (r *Range) Append(elems ...*element.Element) *Range {
	r.elements = append(r.elements, elems...)
	return r
}

func (r *Range) Area() Area { return r.area }
func (r *Range) Priority() Priority { return r.priority }
func (r *Range) Writable() bool { return r.writable }
func (r *Range) WriteMode() WriteMode { return r.writeMode }

// Elements returns a copy of the element list in range order.
func (r *Range) Elements() []*element.Element {
	out := make([]*element.Element, len(r.elements))
	copy(out, r.elements)
	return out
}

// StartAddress is the first element's address, 0 for an empty range.
func (r *Range) StartAddress() uint16 {
	if len(r.elements) == 0 {
		return 0
	}
	return r.elements[0].Address()
}

// Length is the address span covered by the range. For a valid range it
// equals the sum of element lengths.
func (r *Range) Length() uint16 {
	if len(r.elements) == 0 {
		return 0
	}
	start := uint32(r.StartAddress())
	end := start
	for _, e := range r.elements {
		if e.End() > end {
			end = e.End()
		}
	}
	if end-start > 0xFFFF {
		return 0xFFFF
	}
	return uint16(end - start)
}

func (r *Range) String() string {
	return fmt.Sprintf("%s@%d/%d", r.area, r.StartAddress(), r.Length())
}

// Validate checks the range invariants:
// e[i+1].address == e[i].address + e[i].length, elements match the area's
// space, the span fits one read request, and writable ranges are in a
// writable area. All defects are returned joined.
func (r *Range) Validate() error {
	if len(r.elements) == 0 {
		return ErrEmptyRange
	}

	var errs []error
	for i, e := range r.elements {
		if e.Kind().IsCoil() != r.area.IsBits() {
			errs = append(errs, fmt.Errorf("%w: %s in %s", ErrWrongSpace, e, r.area))
		}
		if i == 0 {
			continue
		}
		prev := r.elements[i-1]
		if uint32(e.Address()) != prev.End() {
			errs = append(errs, fmt.Errorf(
				"%w: %s expected at %d, found at %d",
				ErrNotContiguous, e, prev.End(), e.Address(),
			))
		}
	}

	limit := uint16(MaxReadRegisters)
	if r.area.IsBits() {
		limit = MaxReadBits
	}
	if r.Length() > limit {
		errs = append(errs, fmt.Errorf("%w: %s spans %d, max %d", ErrRangeTooLong, r, r.Length(), limit))
	}

	if r.writable && !r.area.Writable() {
		errs = append(errs, fmt.Errorf("%w: %s", ErrNotWritable, r.area))
	}

	return errors.Join(errs...)
}
