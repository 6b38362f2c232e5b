// internal/channel/channel.go
package channel

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tamzrod/modbus-bridge/internal/element"
)

// Channel is a named data point fed by one element.
// Reads and write intents may come from any goroutine.
type Channel struct {
	id  string
	typ element.Type

	mu      sync.RWMutex
	value   element.Value
	updated time.Time
	next    *element.Value
}

var _ element.Channel = (*Channel)(nil)

func New(id string, typ element.Type) *Channel {
	return &Channel{id: id, typ: typ}
}

func (c *Channel) ID() string { return c.id }
func (c *Channel) Type() element.Type { return c.typ }

// SetNextValue stores the latest decoded value.
func (c *Channel) SetNextValue(v element.Value) {
	c.mu.Lock()
	c.value = v
	c.updated = time.Now()
	c.mu.Unlock()
}

// Value returns the latest decoded value and when it arrived.
// ok is false until the first successful read.
func (c *Channel) Value() (v element.Value, at time.Time, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.updated, c.value.Valid()
}

// SetNextWriteValue records a write intent. The latest intent wins.
func (c *Channel) SetNextWriteValue(v element.Value) error {
	if v.Type() != c.typ {
		return fmt.Errorf("%w: channel %s wants %s, got %s", element.ErrTypeMismatch, c.id, c.typ, v.Type())
	}
	c.mu.Lock()
	c.next = &v
	c.mu.Unlock()
	return nil
}

func (c *Channel) NextWriteValue() (element.Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.next == nil {
		return element.Value{}, false
	}
	return *c.next, true
}

// ClearNextWriteValueIf clears the intent only if it still equals sent.
// An intent replaced while a request was in flight survives.
func (c *Channel) ClearNextWriteValueIf(sent element.Value) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next == nil || !c.next.Equal(sent) {
		return false
	}
	c.next = nil
	return true
}

// Set is a flat collection of channels keyed by ID.
type Set struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

func NewSet() *Set {
	return &Set{channels: make(map[string]*Channel)}
}

// Add registers c, replacing any channel with the same ID.
func (s *Set) Add(c *Channel) {
	s.mu.Lock()
	s.channels[c.ID()] = c
	s.mu.Unlock()
}

func (s *Set) Get(id string) (*Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[id]
	return c, ok
}

// List returns the channels sorted by ID.
func (s *Set) List() []*Channel {
	s.mu.RLock()
	out := make([]*Channel, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
