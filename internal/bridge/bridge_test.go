// internal/bridge/bridge_test.go
package bridge

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-bridge/internal/element"
	"github.com/tamzrod/modbus-bridge/internal/protocol"
	"github.com/tamzrod/modbus-bridge/internal/status"
	"github.com/tamzrod/modbus-bridge/internal/task"
)

// fakeTransport serves zeroed reads and records every request.
type fakeTransport struct {
	failFC map[task.FunctionCode]bool
	sent   []task.Request
}

func (f *fakeTransport) Send(_ context.Context, req task.Request) (task.Response, error) {
	f.sent = append(f.sent, req)
	if f.failFC[req.Function] {
		return task.Response{}, errors.New("timeout")
	}
	resp := task.Response{Request: req}
	switch {
	case req.Function == task.FC1ReadCoils || req.Function == task.FC2ReadDiscreteInputs:
		resp.Bits = make([]bool, req.Quantity)
	case req.Function.IsWrite():
		resp.Registers = req.Registers
		resp.Bits = req.Bits
	default:
		resp.Registers = make([]uint16, req.Quantity)
	}
	return resp, nil
}

func (f *fakeTransport) functions() []task.FunctionCode {
	out := make([]task.FunctionCode, len(f.sent))
	for i, r := range f.sent {
		out[i] = r.Function
	}
	return out
}

type fixture struct {
	bridge  *Bridge
	tr      *fakeTransport
	metrics *Metrics
	setp    *element.Element
	logs    *bytes.Buffer
}

// newFixture: one HIGH writable holding range, two LOW input ranges.
func newFixture(t *testing.T) fixture {
	t.Helper()

	setp := element.NewUnsignedWord(0)
	p := protocol.New()
	ranges := []*protocol.Range{
		protocol.NewWriteRange(protocol.AreaHoldingRegisters, protocol.PriorityHigh, protocol.WriteMultiple,
			setp, element.NewUnsignedWord(1)),
		protocol.NewRange(protocol.AreaInputRegisters, protocol.PriorityLow, element.NewUnsignedWord(0)),
		protocol.NewRange(protocol.AreaInputRegisters, protocol.PriorityLow, element.NewUnsignedWord(10)),
	}
	for _, r := range ranges {
		if _, err := p.AddRange(r); err != nil {
			t.Fatalf("AddRange: %v", err)
		}
	}

	var logs bytes.Buffer
	tr := &fakeTransport{}
	m := NewMetrics(prometheus.NewRegistry())
	b, err := New(task.Device{ID: "device0", UnitID: 1}, p, tr,
		WithMetrics(m),
		WithLogger(zerolog.New(&logs)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return fixture{bridge: b, tr: tr, metrics: m, setp: setp, logs: &logs}
}

func TestCycle_HighEveryCycleLowRoundRobin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var lowAddrs []uint16
	for i := 0; i < 3; i++ {
		f.tr.sent = nil
		res := f.bridge.Cycle(ctx)
		if res.Err != nil {
			t.Fatalf("cycle %d: %v", i, res.Err)
		}
		if res.Tasks != 2 {
			t.Fatalf("cycle %d: %d tasks", i, res.Tasks)
		}
		if f.tr.sent[0].Function != task.FC3ReadHoldingRegisters {
			t.Fatalf("cycle %d: HIGH read not first: %v", i, f.tr.functions())
		}
		lowAddrs = append(lowAddrs, f.tr.sent[1].Address)
	}

	if lowAddrs[0] != 0 || lowAddrs[1] != 10 || lowAddrs[2] != 0 {
		t.Fatalf("LOW reads not round-robin: %v", lowAddrs)
	}
	if f.bridge.Status().Health != status.HealthOK {
		t.Fatalf("health=%d", f.bridge.Status().Health)
	}
}

func TestCycle_WritesRunFirst(t *testing.T) {
	f := newFixture(t)
	_ = f.setp.SetNextWriteValue(element.U16(42))

	f.bridge.Cycle(context.Background())

	if f.tr.sent[0].Function != task.FC16WriteRegisters || f.tr.sent[0].Registers[0] != 42 {
		t.Fatalf("expected FC16 first, got %v", f.tr.functions())
	}
	if _, ok := f.setp.NextWriteValue(); ok {
		t.Fatalf("confirmed write still pending")
	}
}

func TestCycle_FailureIsCountedAndLogged(t *testing.T) {
	f := newFixture(t)
	f.tr.failFC = map[task.FunctionCode]bool{task.FC16WriteRegisters: true, task.FC4ReadInputRegisters: true}
	_ = f.setp.SetNextWriteValue(element.U16(7))

	res := f.bridge.Cycle(context.Background())
	if res.Err == nil || res.Failed != 2 || res.Requests != 3 {
		t.Fatalf("unexpected result %+v", res)
	}

	if f.bridge.Failures() != 2 {
		t.Fatalf("failures=%d", f.bridge.Failures())
	}
	if !f.bridge.CommunicationFailed() {
		t.Fatalf("expected communication failed")
	}
	if v, ok := f.setp.NextWriteValue(); !ok || v.Int64() != 7 {
		t.Fatalf("failed write lost its intent")
	}

	if got := testutil.ToFloat64(f.metrics.Failures.WithLabelValues("device0", "FC16WriteRegisters")); got != 1 {
		t.Fatalf("FC16 failures metric=%v", got)
	}
	if got := testutil.ToFloat64(f.metrics.Requests.WithLabelValues("device0", "FC3ReadHoldingRegisters")); got != 1 {
		t.Fatalf("FC3 requests metric=%v", got)
	}
	if got := testutil.ToFloat64(f.metrics.CommunicationFailed.WithLabelValues("device0")); got != 1 {
		t.Fatalf("communication failed gauge=%v", got)
	}

	logs := f.logs.String()
	want := "FC4ReadInputRegisters [device0;unitid=1;priority=LOW;ref=0/0x0;length=1]"
	if !strings.Contains(logs, want) {
		t.Fatalf("missing task line %q in\n%s", want, logs)
	}
	if !strings.Contains(logs, "communication failed") {
		t.Fatalf("missing transition log in\n%s", logs)
	}

	// recovery
	f.tr.failFC = nil
	if res := f.bridge.Cycle(context.Background()); res.Err != nil {
		t.Fatalf("recovery cycle: %v", res.Err)
	}
	if f.bridge.CommunicationFailed() {
		t.Fatalf("still failed after recovery")
	}
	if _, ok := f.setp.NextWriteValue(); ok {
		t.Fatalf("retried write still pending")
	}
}

func TestCycle_VerboseTrace(t *testing.T) {
	f := newFixture(t)
	f.bridge.verbosity = task.LogReadsAndWritesVerbose

	f.bridge.Cycle(context.Background())

	want := "FC3ReadHoldingRegisters [device0;unitid=1;priority=HIGH;ref=0/0x0;length=2;response=0000 0000]"
	if !strings.Contains(f.logs.String(), want) {
		t.Fatalf("missing trace %q in\n%s", want, f.logs.String())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.bridge.interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := f.bridge.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.tr.sent) == 0 {
		t.Fatalf("no cycles ran")
	}
}

func TestNew_Validation(t *testing.T) {
	p := protocol.New()
	tr := &fakeTransport{}
	if _, err := New(task.Device{}, p, tr); err == nil {
		t.Fatalf("expected id error")
	}
	if _, err := New(task.Device{ID: "d"}, nil, tr); err == nil {
		t.Fatalf("expected protocol error")
	}
	if _, err := New(task.Device{ID: "d"}, p, tr, WithInterval(0)); err == nil {
		t.Fatalf("expected interval error")
	}
}

func TestLowScheduler_Empty(t *testing.T) {
	var s lowScheduler
	if s.next(nil) != nil {
		t.Fatalf("expected nil")
	}
}
