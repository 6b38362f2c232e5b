// internal/element/element.go
package element

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
)

// Kind is the wire layout of an element. The set is closed:
// a new layout is a new Kind and a new case in the codec switches.
type Kind uint8

const (
	KindUnsignedWord Kind = iota + 1
	KindSignedWord
	KindUnsignedDoubleword
	KindSignedDoubleword
	KindFloat
	KindDummy
	KindCoil
	KindDummyCoil
)

func (k Kind) String() string {
	switch k {
	case KindUnsignedWord:
		return "UnsignedWord"
	case KindSignedWord:
		return "SignedWord"
	case KindUnsignedDoubleword:
		return "UnsignedDoubleword"
	case KindSignedDoubleword:
		return "SignedDoubleword"
	case KindFloat:
		return "Float"
	case KindDummy:
		return "Dummy"
	case KindCoil:
		return "Coil"
	case KindDummyCoil:
		return "DummyCoil"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// IsCoil reports whether the kind lives in the coil (bit) address space.
func (k Kind) IsCoil() bool { return k == KindCoil || k == KindDummyCoil }

// IsDummy reports whether the kind only reserves address space.
func (k Kind) IsDummy() bool { return k == KindDummy || k == KindDummyCoil }

// Type returns the decoded value type of the kind.
func (k Kind) Type() Type {
	switch k {
	case KindUnsignedWord:
		return TypeU16
	case KindSignedWord:
		return TypeI16
	case KindUnsignedDoubleword:
		return TypeU32
	case KindSignedDoubleword:
		return TypeI32
	case KindFloat:
		return TypeF32
	case KindCoil:
		return TypeBit
	default:
		return TypeInvalid
	}
}

// ParseKind accepts the config spelling of a kind, e.g. "unsigned_word".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "unsigned_word", "u16":
		return KindUnsignedWord, nil
	case "signed_word", "i16":
		return KindSignedWord, nil
	case "unsigned_doubleword", "u32":
		return KindUnsignedDoubleword, nil
	case "signed_doubleword", "i32":
		return KindSignedDoubleword, nil
	case "float", "f32":
		return KindFloat, nil
	case "dummy":
		return KindDummy, nil
	case "coil", "bit":
		return KindCoil, nil
	case "dummy_coil":
		return KindDummyCoil, nil
	}
	return 0, fmt.Errorf("element: unknown kind %q", s)
}

// Channel is the data sink an element pushes decoded values into,
// and the source of write intents for writable elements.
type Channel interface {
	ID() string
	SetNextValue(v Value)
	NextWriteValue() (Value, bool)
	// ClearNextWriteValueIf drops the intent only if it still equals sent,
	// checked and cleared under one lock. It reports whether it cleared.
	ClearNextWriteValueIf(sent Value) bool
}

var (
	ErrShortInput = errors.New("element: input shorter than element length")
	ErrNotFinite  = errors.New("element: float not representable as fixed point")
)

// Element is a typed view over a fixed span of registers or coils.
type Element struct {
	kind       Kind
	address    uint16
	length     uint16
	byteOrder  ByteOrder
	wordOrder  WordOrder
	multiplier int
	channel    Channel

	mu       sync.Mutex
	onUpdate []func(Value)
	pending  *Value
}

// Option configures an Element at construction time.
type Option func(*Element)

func WithByteOrder(o ByteOrder) Option { return func(e *Element) { e.byteOrder = o } }
func WithWordOrder(o WordOrder) Option { return func(e *Element) { e.wordOrder = o } }

// WithMultiplier sets the 10^m scale applied by Float elements.
func WithMultiplier(m int) Option { return func(e *Element) { e.multiplier = m } }

// WithChannel binds the element to a data sink. Ignored on dummies.
func WithChannel(c Channel) Option {
	return func(e *Element) {
		if !e.kind.IsDummy() {
			e.channel = c
		}
	}
}

func newElement(k Kind, addr, length uint16, opts []Option) *Element {
	e := &Element{kind: k, address: addr, length: length}
	for _, o := range opts {
		o(e)
	}
	return e
}

func NewUnsignedWord(addr uint16, opts ...Option) *Element {
	return newElement(KindUnsignedWord, addr, 1, opts)
}

func NewSignedWord(addr uint16, opts ...Option) *Element {
	return newElement(KindSignedWord, addr, 1, opts)
}

func NewUnsignedDoubleword(addr uint16, opts ...Option) *Element {
	return newElement(KindUnsignedDoubleword, addr, 2, opts)
}

func NewSignedDoubleword(addr uint16, opts ...Option) *Element {
	return newElement(KindSignedDoubleword, addr, 2, opts)
}

func NewFloat(addr uint16, opts ...Option) *Element {
	return newElement(KindFloat, addr, 2, opts)
}

// NewDummy reserves length registers starting at addr. length < 1 is raised to 1.
func NewDummy(addr, length uint16) *Element {
	if length < 1 {
		length = 1
	}
	return newElement(KindDummy, addr, length, nil)
}

func NewCoil(addr uint16, opts ...Option) *Element {
	return newElement(KindCoil, addr, 1, opts)
}

// NewDummyCoil reserves length coils starting at addr.
func NewDummyCoil(addr, length uint16) *Element {
	if length < 1 {
		length = 1
	}
	return newElement(KindDummyCoil, addr, length, nil)
}

// New builds an element of any kind. length is only honoured by dummies.
func New(k Kind, addr, length uint16, opts ...Option) (*Element, error) {
	switch k {
	case KindUnsignedWord, KindSignedWord, KindCoil:
		return newElement(k, addr, 1, opts), nil
	case KindUnsignedDoubleword, KindSignedDoubleword, KindFloat:
		return newElement(k, addr, 2, opts), nil
	case KindDummy:
		return NewDummy(addr, length), nil
	case KindDummyCoil:
		return NewDummyCoil(addr, length), nil
	}
	return nil, fmt.Errorf("element: unknown kind %s", k)
}

func (e *Element) Kind() Kind { return e.kind }
func (e *Element) Type() Type { return e.kind.Type() }
func (e *Element) Address() uint16 { return e.address }
func (e *Element) Length() uint16 { return e.length }
func (e *Element) ByteOrder() ByteOrder { return e.byteOrder }
func (e *Element) WordOrder() WordOrder { return e.wordOrder }
func (e *Element) Multiplier() int { return e.multiplier }
func (e *Element) Channel() Channel { return e.channel }

// End is the first address after the element.
func (e *Element) End() uint32 { return uint32(e.address) + uint32(e.length) }

func (e *Element) String() string {
	if e.channel != nil {
		return fmt.Sprintf("%s@%d(%s)", e.kind, e.address, e.channel.ID())
	}
	return fmt.Sprintf("%s@%d", e.kind, e.address)
}

// OnUpdate registers a callback fired after every successful decode.
// Callbacks run on the polling goroutine and must not block.
func (e *Element) OnUpdate(fn func(Value)) {
	e.mu.Lock()
	e.onUpdate = append(e.onUpdate, fn)
	e.mu.Unlock()
}

// ---- codec ----

// DecodeRegisters decodes raw wire registers. Dummies return an invalid Value.
func (e *Element) DecodeRegisters(regs []uint16) (Value, error) {
	if e.kind.IsCoil() {
		return Value{}, fmt.Errorf("element: %s is not a register element", e)
	}
	if len(regs) < int(e.length) {
		return Value{}, fmt.Errorf("%w: %s got %d registers", ErrShortInput, e, len(regs))
	}

	switch e.kind {
	case KindUnsignedWord:
		return U16(e.byteOrder.fromWire(regs[0])), nil
	case KindSignedWord:
		return I16(int16(e.byteOrder.fromWire(regs[0]))), nil
	case KindUnsignedDoubleword:
		return U32(join(regs, e.byteOrder, e.wordOrder)), nil
	case KindSignedDoubleword:
		return I32(int32(join(regs, e.byteOrder, e.wordOrder))), nil
	case KindFloat:
		f := math.Float32frombits(join(regs, e.byteOrder, e.wordOrder))
		x := math.Round(float64(f) * math.Pow10(e.multiplier))
		// NaN and Inf are common "not available" markers
		if math.IsNaN(x) || x >= 0x1p63 || x < -0x1p63 {
			return Value{}, fmt.Errorf("%w: %s decoded %v", ErrNotFinite, e, f)
		}
		return Scaled(int64(x)), nil
	case KindDummy:
		return Value{}, nil
	}
	return Value{}, fmt.Errorf("element: unknown kind %s", e.kind)
}

// EncodeRegisters encodes v into wire registers. Dummies return nil.
func (e *Element) EncodeRegisters(v Value) ([]uint16, error) {
	if e.kind.IsCoil() {
		return nil, fmt.Errorf("element: %s is not a register element", e)
	}
	if e.kind == KindDummy {
		return nil, nil
	}
	if v.Type() != e.Type() {
		return nil, fmt.Errorf("%w: %s wants %s, got %s", ErrTypeMismatch, e, e.Type(), v.Type())
	}

	switch e.kind {
	case KindUnsignedWord, KindSignedWord:
		return []uint16{e.byteOrder.toWire(uint16(v.Int64()))}, nil
	case KindUnsignedDoubleword, KindSignedDoubleword:
		return split(uint32(v.Int64()), e.byteOrder, e.wordOrder), nil
	case KindFloat:
		f := float32(float64(v.Int64()) / math.Pow10(e.multiplier))
		return split(math.Float32bits(f), e.byteOrder, e.wordOrder), nil
	}
	return nil, fmt.Errorf("element: unknown kind %s", e.kind)
}

// DecodeBits decodes raw coil bits. Dummy coils return an invalid Value.
func (e *Element) DecodeBits(bits []bool) (Value, error) {
	if !e.kind.IsCoil() {
		return Value{}, fmt.Errorf("element: %s is not a coil element", e)
	}
	if len(bits) < int(e.length) {
		return Value{}, fmt.Errorf("%w: %s got %d bits", ErrShortInput, e, len(bits))
	}
	if e.kind == KindDummyCoil {
		return Value{}, nil
	}
	return Bit(bits[0]), nil
}

// EncodeBits encodes v into coil bits. Dummy coils return nil.
func (e *Element) EncodeBits(v Value) ([]bool, error) {
	if !e.kind.IsCoil() {
		return nil, fmt.Errorf("element: %s is not a coil element", e)
	}
	if e.kind == KindDummyCoil {
		return nil, nil
	}
	if v.Type() != TypeBit {
		return nil, fmt.Errorf("%w: %s wants %s, got %s", ErrTypeMismatch, e, TypeBit, v.Type())
	}
	return []bool{v.Bool()}, nil
}

// ---- update path ----

// UpdateRegisters decodes regs and notifies the channel and callbacks.
// Dummies are a no-op. Unchanged values are still propagated.
func (e *Element) UpdateRegisters(regs []uint16) error {
	if e.kind == KindDummy {
		return nil
	}
	v, err := e.DecodeRegisters(regs)
	if err != nil {
		return err
	}
	e.notify(v)
	return nil
}

// UpdateBits is UpdateRegisters for coils.
func (e *Element) UpdateBits(bits []bool) error {
	if e.kind == KindDummyCoil {
		return nil
	}
	v, err := e.DecodeBits(bits)
	if err != nil {
		return err
	}
	e.notify(v)
	return nil
}

func (e *Element) notify(v Value) {
	if e.channel != nil {
		e.channel.SetNextValue(v)
	}

	e.mu.Lock()
	fns := make([]func(Value), len(e.onUpdate))
	copy(fns, e.onUpdate)
	e.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// ---- pending writes ----

// SetNextWriteValue stores a write intent on the element itself.
func (e *Element) SetNextWriteValue(v Value) error {
	if e.kind.IsDummy() {
		return fmt.Errorf("element: %s cannot be written", e)
	}
	if v.Type() != e.Type() {
		return fmt.Errorf("%w: %s wants %s, got %s", ErrTypeMismatch, e, e.Type(), v.Type())
	}
	e.mu.Lock()
	e.pending = &v
	e.mu.Unlock()
	return nil
}

// NextWriteValue returns the element's own intent, else the bound channel's.
func (e *Element) NextWriteValue() (Value, bool) {
	if e.kind.IsDummy() {
		return Value{}, false
	}
	e.mu.Lock()
	p := e.pending
	e.mu.Unlock()
	if p != nil {
		return *p, true
	}
	if e.channel != nil {
		return e.channel.NextWriteValue()
	}
	return Value{}, false
}

// ClearNextWriteValue drops the pending intent if it still equals sent.
// A newer intent set while the request was in flight is kept.
func (e *Element) ClearNextWriteValue(sent Value) {
	e.mu.Lock()
	own := e.pending != nil
	if own && e.pending.Equal(sent) {
		e.pending = nil
	}
	e.mu.Unlock()

	if own || e.channel == nil {
		return
	}
	e.channel.ClearNextWriteValueIf(sent)
}
