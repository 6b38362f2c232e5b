// internal/element/order.go
package element

import (
	"fmt"
	"strings"
)

// ByteOrder is the order of the two bytes inside one register.
type ByteOrder uint8

const (
	BigEndian    ByteOrder = iota // network order, as transmitted
	LittleEndian
)

func (o ByteOrder) String() string {
	if o == LittleEndian {
		return "little"
	}
	return "big"
}

// ParseByteOrder accepts "big" / "little" (case-insensitive). Empty means big.
func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(s) {
	case "", "big", "big_endian":
		return BigEndian, nil
	case "little", "little_endian":
		return LittleEndian, nil
	}
	return BigEndian, fmt.Errorf("element: unknown byte order %q", s)
}

// WordOrder is the order of the two registers composing a 32-bit value.
type WordOrder uint8

const (
	MSWLSW WordOrder = iota // register 1 holds the most significant word
	LSWMSW
)

func (o WordOrder) String() string {
	if o == LSWMSW {
		return "lsw_msw"
	}
	return "msw_lsw"
}

// ParseWordOrder accepts "msw_lsw" / "lsw_msw". Empty means msw_lsw.
func ParseWordOrder(s string) (WordOrder, error) {
	switch strings.ToLower(s) {
	case "", "msw_lsw":
		return MSWLSW, nil
	case "lsw_msw":
		return LSWMSW, nil
	}
	return MSWLSW, fmt.Errorf("element: unknown word order %q", s)
}

// ---- register helpers ----

func (o ByteOrder) fromWire(r uint16) uint16 {
	if o == LittleEndian {
		return r<<8 | r>>8
	}
	return r
}

func (o ByteOrder) toWire(r uint16) uint16 {
	// byte swap is its own inverse
	return o.fromWire(r)
}

// join assembles a 32-bit value from two wire registers.
func join(regs []uint16, bo ByteOrder, wo WordOrder) uint32 {
	hi, lo := bo.fromWire(regs[0]), bo.fromWire(regs[1])
	if wo == LSWMSW {
		hi, lo = lo, hi
	}
	return uint32(hi)<<16 | uint32(lo)
}

// split is the inverse of join.
func split(v uint32, bo ByteOrder, wo WordOrder) []uint16 {
	hi, lo := uint16(v>>16), uint16(v)
	if wo == LSWMSW {
		hi, lo = lo, hi
	}
	return []uint16{bo.toWire(hi), bo.toWire(lo)}
}

// RegistersFromBytes packs big-endian wire bytes into registers.
// A trailing odd byte is dropped.
func RegistersFromBytes(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return out
}

// BytesFromRegisters is the inverse of RegistersFromBytes.
func BytesFromRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}

// BitString renders a register most significant bit first.
func BitString(r uint16) string {
	var sb strings.Builder
	sb.Grow(16)
	for i := 15; i >= 0; i-- {
		if r&(1<<uint(i)) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
