// internal/bridge/builder.go
package bridge

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-bridge/internal/bridge/modbus"
	"github.com/tamzrod/modbus-bridge/internal/channel"
	cfg "github.com/tamzrod/modbus-bridge/internal/config"
	"github.com/tamzrod/modbus-bridge/internal/element"
	"github.com/tamzrod/modbus-bridge/internal/protocol"
	"github.com/tamzrod/modbus-bridge/internal/task"
)

// BuildProtocol assembles the Protocol and channels of one device.
// d must be validated and normalized.
func BuildProtocol(d cfg.DeviceConfig, strict bool, logger zerolog.Logger) (*protocol.Protocol, *channel.Set, error) {
	p := protocol.New(
		protocol.WithLogger(logger.With().Str("device", d.ID).Logger()),
		protocol.WithStrict(strict),
	)
	set := channel.NewSet()

	for ri, rc := range d.Ranges {
		r, err := buildRange(rc, set)
		if err != nil {
			return nil, nil, fmt.Errorf("range %d: %w", ri, err)
		}
		if _, err := p.AddRange(r); err != nil {
			return nil, nil, fmt.Errorf("range %d: %w", ri, err)
		}
	}
	return p, set, nil
}

func buildRange(rc cfg.RangeConfig, set *channel.Set) (*protocol.Range, error) {
	area, err := protocol.ParseArea(rc.Area)
	if err != nil {
		return nil, err
	}
	prio, err := protocol.ParsePriority(rc.Priority)
	if err != nil {
		return nil, err
	}

	var r *protocol.Range
	if rc.Writable {
		mode, err := protocol.ParseWriteMode(rc.WriteMode)
		if err != nil {
			return nil, err
		}
		r = protocol.NewWriteRange(area, prio, mode)
	} else {
		r = protocol.NewRange(area, prio)
	}

	next := uint32(rc.Address)
	for ei, ec := range rc.Elements {
		addr := uint16(next)
		if ec.Address != nil {
			addr = *ec.Address
		}
		e, err := buildElement(ec, addr, set)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", ei, err)
		}
		r.Append(e)
		next = e.End()
	}
	return r, nil
}

func buildElement(ec cfg.ElementConfig, addr uint16, set *channel.Set) (*element.Element, error) {
	kind, err := element.ParseKind(ec.Kind)
	if err != nil {
		return nil, err
	}
	bo, err := element.ParseByteOrder(ec.ByteOrder)
	if err != nil {
		return nil, err
	}
	wo, err := element.ParseWordOrder(ec.WordOrder)
	if err != nil {
		return nil, err
	}

	opts := []element.Option{
		element.WithByteOrder(bo),
		element.WithWordOrder(wo),
		element.WithMultiplier(ec.Multiplier),
	}

	if ec.Channel != "" && !kind.IsDummy() {
		ch, ok := set.Get(ec.Channel)
		if !ok {
			ch = channel.New(ec.Channel, kind.Type())
			set.Add(ch)
		} else if ch.Type() != kind.Type() {
			return nil, fmt.Errorf("channel %q is %s, element is %s", ec.Channel, ch.Type(), kind.Type())
		}
		opts = append(opts, element.WithChannel(ch))
	}

	return element.New(kind, addr, ec.Length, opts...)
}

// Build constructs a Bridge and its transport for one device.
// The transport connects lazily; the returned closer releases it.
func Build(d cfg.DeviceConfig, strict bool, logger zerolog.Logger, m *Metrics) (*Bridge, func() error, error) {
	p, set, err := BuildProtocol(d, strict, logger)
	if err != nil {
		return nil, nil, err
	}

	verbosity, err := task.ParseLogVerbosity(d.LogVerbosity)
	if err != nil {
		return nil, nil, err
	}

	var retries uint64
	if d.Transport.ConnectRetries != nil {
		retries = *d.Transport.ConnectRetries
	}

	client, err := modbus.New(modbus.Config{
		Mode:           d.Transport.Mode,
		Endpoint:       d.Transport.Endpoint,
		Timeout:        time.Duration(d.Transport.TimeoutMs) * time.Millisecond,
		BaudRate:       d.Transport.BaudRate,
		DataBits:       d.Transport.DataBits,
		StopBits:       d.Transport.StopBits,
		Parity:         d.Transport.Parity,
		ConnectRetries: retries,
	}, logger.With().Str("device", d.ID).Logger())
	if err != nil {
		return nil, nil, err
	}

	if m == nil {
		m = NewMetrics(nil)
	}
	exportChannels(d.ID, p, set, m)

	b, err := New(
		task.Device{ID: d.ID, UnitID: d.UnitID},
		p,
		client,
		WithLogger(logger),
		WithMetrics(m),
		WithVerbosity(verbosity),
		WithInterval(time.Duration(d.IntervalMs)*time.Millisecond),
		WithChannels(set),
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return b, client.Close, nil
}

// exportChannels mirrors every decoded channel value into the ChannelValue gauge.
func exportChannels(deviceID string, p *protocol.Protocol, set *channel.Set, m *Metrics) {
	for _, ch := range set.List() {
		e, ok := p.ElementByChannel(ch.ID())
		if !ok {
			continue
		}
		g := m.ChannelValue.WithLabelValues(deviceID, ch.ID())
		mult := e.Multiplier()
		e.OnUpdate(func(v element.Value) { g.Set(v.Float64(mult)) })
	}
}
