// internal/config/validate.go
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-bridge/internal/element"
	"github.com/tamzrod/modbus-bridge/internal/protocol"
	"github.com/tamzrod/modbus-bridge/internal/task"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil config")
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format %q: want console or json", cfg.Log.Format)
	}

	if len(cfg.Devices) == 0 {
		return errors.New("config: at least one device required")
	}

	seen := make(map[string]bool)
	for _, d := range cfg.Devices {
		if d.ID == "" {
			return errors.New("device: id required")
		}
		if seen[d.ID] {
			return fmt.Errorf("device %q: duplicate id", d.ID)
		}
		seen[d.ID] = true

		if err := validateDevice(d, cfg.Strict); err != nil {
			return fmt.Errorf("device %q: %w", d.ID, err)
		}
	}
	return nil
}

func validateDevice(d DeviceConfig, strict bool) error {
	if d.UnitID > 247 {
		return fmt.Errorf("unit_id %d out of range 0-247", d.UnitID)
	}
	if _, err := task.ParseLogVerbosity(d.LogVerbosity); err != nil {
		return err
	}

	t := d.Transport
	switch strings.ToLower(t.Mode) {
	case "", "tcp", "rtu":
	default:
		return fmt.Errorf("transport.mode %q: want tcp or rtu", t.Mode)
	}
	if t.Endpoint == "" {
		return errors.New("transport.endpoint required")
	}
	switch strings.ToUpper(t.Parity) {
	case "", "N", "E", "O":
	default:
		return fmt.Errorf("transport.parity %q: want N, E or O", t.Parity)
	}

	if len(d.Ranges) == 0 {
		return errors.New("at least one range required")
	}

	type span struct {
		start uint32
		end   uint32 // inclusive
		index int
	}

	// key = area
	spans := make(map[protocol.Area][]span)
	channels := make(map[string]int)

	for ri, r := range d.Ranges {
		area, err := protocol.ParseArea(r.Area)
		if err != nil {
			return fmt.Errorf("range %d: %w", ri, err)
		}
		if _, err := protocol.ParsePriority(r.Priority); err != nil {
			return fmt.Errorf("range %d: %w", ri, err)
		}
		if r.Writable {
			if !area.Writable() {
				return fmt.Errorf("range %d: %w: %s", ri, protocol.ErrNotWritable, area)
			}
			if _, err := protocol.ParseWriteMode(r.WriteMode); err != nil {
				return fmt.Errorf("range %d: %w", ri, err)
			}
		}
		if len(r.Elements) == 0 {
			return fmt.Errorf("range %d: %w", ri, protocol.ErrEmptyRange)
		}

		start, end, err := validateElements(r, area, strict)
		if err != nil {
			return fmt.Errorf("range %d: %w", ri, err)
		}

		for _, e := range r.Elements {
			if e.Channel == "" {
				continue
			}
			if prev, ok := channels[e.Channel]; ok && strict {
				return fmt.Errorf("range %d: channel %q already bound in range %d", ri, e.Channel, prev)
			}
			channels[e.Channel] = ri
		}

		existing := spans[area]
		for _, s := range existing {
			// overlap check (inclusive)
			if !(end < s.start || start > s.end) {
				return fmt.Errorf(
					"range overlap: area=%s range %d (%d-%d) overlaps with range %d (%d-%d)",
					area,
					ri,
					start,
					end,
					s.index,
					s.start,
					s.end,
				)
			}
		}
		spans[area] = append(spans[area], span{start: start, end: end, index: ri})
	}

	return nil
}

// validateElements checks kinds and orders and returns the inclusive span
// covered by the range.
func validateElements(r RangeConfig, area protocol.Area, strict bool) (uint32, uint32, error) {
	start := uint32(r.Address)
	if a := r.Elements[0].Address; a != nil {
		start = uint32(*a)
	}
	if strict && start != uint32(r.Address) {
		return 0, 0, fmt.Errorf("%w: first element at %d, range at %d", protocol.ErrNotContiguous, start, r.Address)
	}

	next := start
	for ei, e := range r.Elements {
		k, err := element.ParseKind(e.Kind)
		if err != nil {
			return 0, 0, fmt.Errorf("element %d: %w", ei, err)
		}
		if k.IsCoil() != area.IsBits() {
			return 0, 0, fmt.Errorf("element %d: %w: %s in %s", ei, protocol.ErrWrongSpace, k, area)
		}
		if _, err := element.ParseByteOrder(e.ByteOrder); err != nil {
			return 0, 0, fmt.Errorf("element %d: %w", ei, err)
		}
		if _, err := element.ParseWordOrder(e.WordOrder); err != nil {
			return 0, 0, fmt.Errorf("element %d: %w", ei, err)
		}
		if e.Multiplier < -9 || e.Multiplier > 9 {
			return 0, 0, fmt.Errorf("element %d: multiplier %d out of range -9..9", ei, e.Multiplier)
		}
		if k.IsDummy() && e.Channel != "" {
			return 0, 0, fmt.Errorf("element %d: dummy cannot bind channel %q", ei, e.Channel)
		}

		addr := next
		if e.Address != nil {
			addr = uint32(*e.Address)
		}
		if strict && addr != next {
			return 0, 0, fmt.Errorf("element %d: %w: at %d, want %d", ei, protocol.ErrNotContiguous, addr, next)
		}
		next = addr + uint32(elementLength(e))
	}

	if next > 0x10000 {
		return 0, 0, fmt.Errorf("range ends past address 65535")
	}

	limit := uint32(protocol.MaxReadRegisters)
	if area.IsBits() {
		limit = protocol.MaxReadBits
	}
	if strict && next-start > limit {
		return 0, 0, fmt.Errorf("%w: %d > %d", protocol.ErrRangeTooLong, next-start, limit)
	}

	return start, next - 1, nil
}

// elementLength is the span of an element config; unknown kinds count as 1.
func elementLength(e ElementConfig) uint16 {
	k, err := element.ParseKind(e.Kind)
	if err != nil {
		return 1
	}
	switch k {
	case element.KindUnsignedDoubleword, element.KindSignedDoubleword, element.KindFloat:
		return 2
	case element.KindDummy, element.KindDummyCoil:
		if e.Length > 1 {
			return e.Length
		}
	}
	return 1
}
