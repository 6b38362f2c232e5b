// internal/bridge/builder_test.go
package bridge

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	cfg "github.com/tamzrod/modbus-bridge/internal/config"
	"github.com/tamzrod/modbus-bridge/internal/element"
	"github.com/tamzrod/modbus-bridge/internal/protocol"
)

func sampleDevice() cfg.DeviceConfig {
	c := &cfg.Config{
		Devices: []cfg.DeviceConfig{{
			ID:        "meter",
			UnitID:    2,
			Transport: cfg.TransportConfig{Endpoint: "127.0.0.1:1502"},
			Ranges: []cfg.RangeConfig{
				{
					Area:     "holding",
					Address:  0,
					Priority: "high",
					Elements: []cfg.ElementConfig{
						{Kind: "signed_doubleword", Channel: "energy"},
						{Kind: "float", Channel: "power", Multiplier: 1},
					},
				},
				{
					Area:     "coils",
					Address:  5,
					Writable: true,
					Elements: []cfg.ElementConfig{
						{Kind: "coil", Channel: "relay"},
						{Kind: "dummy_coil", Length: 2},
						{Kind: "coil", Channel: "lamp"},
					},
				},
			},
		}},
	}
	cfg.Normalize(c)
	return c.Devices[0]
}

func TestBuildProtocol(t *testing.T) {
	p, set, err := BuildProtocol(sampleDevice(), true, zerolog.Nop())
	if err != nil {
		t.Fatalf("BuildProtocol: %v", err)
	}

	if n := len(p.ReadRanges()); n != 2 {
		t.Fatalf("read ranges=%d", n)
	}
	if n := len(p.WritableRanges()); n != 1 {
		t.Fatalf("writable ranges=%d", n)
	}
	if n := len(set.List()); n != 4 {
		t.Fatalf("channels=%d", n)
	}

	lamp, ok := p.ElementByChannel("lamp")
	if !ok || lamp.Address() != 8 || lamp.Kind() != element.KindCoil {
		t.Fatalf("lamp: %v %v", lamp, ok)
	}

	r, ok := p.RangeByChannel("power")
	if !ok || r.Area() != protocol.AreaHoldingRegisters || r.Length() != 4 {
		t.Fatalf("power range: %v %v", r, ok)
	}
}

func TestBuild_ExportsChannelValues(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	b, closeFn, err := Build(sampleDevice(), false, zerolog.Nop(), m)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer closeFn()

	e, _ := b.Protocol().ElementByChannel("energy")
	if err := e.UpdateRegisters([]uint16{100, 200}); err != nil {
		t.Fatalf("UpdateRegisters: %v", err)
	}

	if got := testutil.ToFloat64(m.ChannelValue.WithLabelValues("meter", "energy")); got != 6553800 {
		t.Fatalf("gauge=%v", got)
	}

	ch, ok := b.Channels().Get("energy")
	if !ok {
		t.Fatalf("channel missing")
	}
	if v, _, ok := ch.Value(); !ok || v.Int64() != 6553800 {
		t.Fatalf("channel value %v %v", v, ok)
	}
}

func TestBuildProtocol_ChannelTypeConflict(t *testing.T) {
	d := sampleDevice()
	d.Ranges[0].Elements[1].Channel = "energy"

	if _, _, err := BuildProtocol(d, false, zerolog.Nop()); err == nil {
		t.Fatalf("expected channel type conflict")
	}
}
