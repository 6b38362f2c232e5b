// internal/protocol/protocol.go
package protocol

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-bridge/internal/element"
)

// Handle is a stable index of an element inside its Protocol.
type Handle int

type rangeKey struct {
	area  Area
	start uint16
}

type slot struct {
	el  *element.Element
	rng *Range
}

// Protocol is the set of ranges of one device.
//
// Ranges are indexed by (area, start address); writable ranges are also in
// the write index. Elements live in an arena addressed by Handle, and bound
// channels are indexed by channel ID.
type Protocol struct {
	mu     sync.RWMutex
	log    zerolog.Logger
	strict bool

	readRanges  map[rangeKey]*Range
	writeRanges map[rangeKey]*Range
	arena       []slot
	byChannel   map[string]Handle
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithLogger sets the logger used for configuration defects.
func WithLogger(l zerolog.Logger) Option { return func(p *Protocol) { p.log = l } }

// WithStrict makes AddRange reject invalid ranges and duplicate start
// addresses instead of logging them.
func WithStrict(strict bool) Option { return func(p *Protocol) { p.strict = strict } }

func New(opts ...Option) *Protocol {
	p := &Protocol{
		log:         zerolog.Nop(),
		readRanges:  make(map[rangeKey]*Range),
		writeRanges: make(map[rangeKey]*Range),
		byChannel:   make(map[string]Handle),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// AddRange validates r and indexes it.
//
// Defects are logged and the range is still added; only strict mode
// returns an error. A range with the same area and start address as an
// existing one replaces it.
func (p *Protocol) AddRange(r *Range) ([]Handle, error) {
	if err := r.Validate(); err != nil {
		if p.strict {
			return nil, fmt.Errorf("protocol: range %s: %w", r, err)
		}
		p.log.Warn().Err(err).Str("range", r.String()).Msg("invalid range configuration")
		if len(r.elements) == 0 {
			return nil, nil
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := rangeKey{area: r.area, start: r.StartAddress()}
	if old, ok := p.readRanges[key]; ok {
		if p.strict {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRange, r)
		}
		p.log.Warn().Str("range", r.String()).Str("replaces", old.String()).Msg("duplicate range start address")
		p.dropLocked(old)
		delete(p.writeRanges, key)
	}

	p.readRanges[key] = r
	if r.writable {
		p.writeRanges[key] = r
	}

	handles := make([]Handle, 0, len(r.elements))
	for _, e := range r.elements {
		h := Handle(len(p.arena))
		p.arena = append(p.arena, slot{el: e, rng: r})
		handles = append(handles, h)

		ch := e.Channel()
		if ch == nil {
			continue
		}
		if prev, ok := p.byChannel[ch.ID()]; ok && p.arena[prev].rng != nil {
			p.log.Warn().Str("channel", ch.ID()).Str("element", e.String()).Msg("channel bound twice")
		}
		p.byChannel[ch.ID()] = h
	}

	return handles, nil
}

// dropLocked detaches a shadowed range from the channel index.
// Its arena slots stay so existing handles remain valid.
func (p *Protocol) dropLocked(old *Range) {
	for id, h := range p.byChannel {
		if p.arena[h].rng == old {
			delete(p.byChannel, id)
		}
	}
	for i := range p.arena {
		if p.arena[i].rng == old {
			p.arena[i].rng = nil
		}
	}
}

// ReadRanges returns all ranges. Order is not defined.
func (p *Protocol) ReadRanges() []*Range {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Range, 0, len(p.readRanges))
	for _, r := range p.readRanges {
		out = append(out, r)
	}
	return out
}

// WritableRanges returns the writable ranges. Order is not defined.
func (p *Protocol) WritableRanges() []*Range {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Range, 0, len(p.writeRanges))
	for _, r := range p.writeRanges {
		out = append(out, r)
	}
	return out
}

// Element returns the element for h. ok is false for unknown handles.
func (p *Protocol) Element(h Handle) (*element.Element, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if h < 0 || int(h) >= len(p.arena) {
		return nil, false
	}
	return p.arena[h].el, true
}

// Handle returns the handle of the element bound to channel id.
func (p *Protocol) Handle(channelID string) (Handle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.byChannel[channelID]
	return h, ok
}

// ElementByChannel returns the element bound to channel id.
func (p *Protocol) ElementByChannel(channelID string) (*element.Element, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.byChannel[channelID]
	if !ok {
		return nil, false
	}
	return p.arena[h].el, true
}

// RangeByChannel returns the range holding the element bound to channel id.
func (p *Protocol) RangeByChannel(channelID string) (*Range, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.byChannel[channelID]
	if !ok || p.arena[h].rng == nil {
		return nil, false
	}
	return p.arena[h].rng, true
}

// SortedRanges orders ranges by area, then start address.
func SortedRanges(rs []*Range) []*Range {
	out := make([]*Range, len(rs))
	copy(out, rs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].area != out[j].area {
			return out[i].area < out[j].area
		}
		return out[i].StartAddress() < out[j].StartAddress()
	})
	return out
}
