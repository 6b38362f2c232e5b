// internal/bridge/modbus/client_test.go
package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-bridge/internal/task"
)

func TestUnpackBits_LSBFirst(t *testing.T) {
	got := unpackBits([]byte{0x05, 0x01}, 10)
	want := []bool{true, false, true, false, false, false, false, false, true, false}
	if len(got) != len(want) {
		t.Fatalf("len=%d", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bit %d: got %v", i, got[i])
		}
	}
}

func TestUnpackBits_ShortPayloadIsShort(t *testing.T) {
	// a short payload must surface as a short response, not as zero bits
	if got := unpackBits([]byte{0xFF}, 12); len(got) != 8 {
		t.Fatalf("len=%d", len(got))
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}, zerolog.Nop()); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := New(Config{Mode: "udp", Endpoint: "x"}, zerolog.Nop()); err == nil {
		t.Fatalf("expected mode error")
	}
	if _, err := New(Config{Mode: ModeRTU, Endpoint: "/dev/ttyUSB0", BaudRate: 9600, Parity: "N"}, zerolog.Nop()); err != nil {
		t.Fatalf("rtu: %v", err)
	}
}

func TestSend_CanceledContext(t *testing.T) {
	c, err := New(Config{Endpoint: "127.0.0.1:1"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Send(ctx, task.Request{Function: task.FC3ReadHoldingRegisters, Quantity: 1})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// ---- fake Modbus TCP server ----

// fakeServer answers MBAP framed requests on a loopback listener.
// reply returns the response PDU for a request PDU; nil closes the connection.
type fakeServer struct {
	ln    net.Listener
	reply func(pdu []byte) []byte

	mu      sync.Mutex
	frames  [][]byte
	accepts int
}

func newFakeServer(t *testing.T, reply func(pdu []byte) []byte) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{ln: ln, reply: reply}
	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.accepts++
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	for {
		var hdr [7]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		pdu := make([]byte, int(binary.BigEndian.Uint16(hdr[4:]))-1)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}
		s.mu.Lock()
		s.frames = append(s.frames, pdu)
		s.mu.Unlock()

		resp := s.reply(pdu)
		if resp == nil {
			return
		}
		out := make([]byte, 7+len(resp))
		copy(out, hdr[:4])
		binary.BigEndian.PutUint16(out[4:], uint16(1+len(resp)))
		out[6] = hdr[6]
		copy(out[7:], resp)
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func (s *fakeServer) stats() (frames [][]byte, accepts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...), s.accepts
}

// answer is a well-behaved device: register N reads as 100+N, writes echo.
func answer(pdu []byte) []byte {
	fc := pdu[0]
	addr := binary.BigEndian.Uint16(pdu[1:])
	qty := binary.BigEndian.Uint16(pdu[3:])

	switch fc {
	case 1, 2:
		return append([]byte{fc, byte((qty + 7) / 8)}, make([]byte, (qty+7)/8)...)
	case 3, 4:
		out := []byte{fc, byte(2 * qty)}
		for i := uint16(0); i < qty; i++ {
			out = binary.BigEndian.AppendUint16(out, 100+addr+i)
		}
		return out
	case 5, 6:
		return append([]byte(nil), pdu[:5]...)
	case 16:
		return append([]byte(nil), pdu[:5]...)
	}
	return []byte{fc | 0x80, 0x01}
}

func dial(t *testing.T, s *fakeServer) *Client {
	t.Helper()
	c, err := New(Config{Endpoint: s.ln.Addr().String(), Timeout: 2 * time.Second}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSend_WriteCoilFrames(t *testing.T) {
	cases := []struct {
		on   bool
		want []byte
	}{
		{true, []byte{5, 0x00, 0x0A, 0xFF, 0x00}},
		{false, []byte{5, 0x00, 0x0A, 0x00, 0x00}},
	}

	for _, tc := range cases {
		s := newFakeServer(t, answer)
		c := dial(t, s)

		resp, err := c.Send(context.Background(), task.Request{
			UnitID: 1, Function: task.FC5WriteCoil, Address: 10, Quantity: 1, Bits: []bool{tc.on},
		})
		if err != nil {
			t.Fatalf("on=%v: %v", tc.on, err)
		}
		if len(resp.Bits) != 1 || resp.Bits[0] != tc.on {
			t.Fatalf("on=%v: response bits %v", tc.on, resp.Bits)
		}

		frames, _ := s.stats()
		if len(frames) != 1 || string(frames[0]) != string(tc.want) {
			t.Fatalf("on=%v: frame % x, want % x", tc.on, frames, tc.want)
		}
	}
}

func TestSend_WritesEchoPayload(t *testing.T) {
	s := newFakeServer(t, answer)
	c := dial(t, s)

	resp, err := c.Send(context.Background(), task.Request{
		UnitID: 1, Function: task.FC6WriteRegister, Address: 7, Quantity: 1, Registers: []uint16{0xBEEF},
	})
	if err != nil {
		t.Fatalf("FC6: %v", err)
	}
	if len(resp.Registers) != 1 || resp.Registers[0] != 0xBEEF {
		t.Fatalf("FC6 echo %v", resp.Registers)
	}

	resp, err = c.Send(context.Background(), task.Request{
		UnitID: 1, Function: task.FC16WriteRegisters, Address: 20, Quantity: 2, Registers: []uint16{1, 2},
	})
	if err != nil {
		t.Fatalf("FC16: %v", err)
	}
	if len(resp.Registers) != 2 || resp.Registers[0] != 1 || resp.Registers[1] != 2 {
		t.Fatalf("FC16 echo %v", resp.Registers)
	}

	frames, _ := s.stats()
	want := []byte{16, 0x00, 0x14, 0x00, 0x02, 0x04, 0x00, 0x01, 0x00, 0x02}
	if len(frames) != 2 || string(frames[1]) != string(want) {
		t.Fatalf("FC16 frame % x, want % x", frames, want)
	}
}

func TestSend_ReadHoldingRegisters(t *testing.T) {
	s := newFakeServer(t, answer)
	c := dial(t, s)

	resp, err := c.Send(context.Background(), task.Request{
		UnitID: 3, Function: task.FC3ReadHoldingRegisters, Address: 5, Quantity: 3,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := []uint16{105, 106, 107}
	if len(resp.Registers) != len(want) {
		t.Fatalf("registers %v", resp.Registers)
	}
	for i := range want {
		if resp.Registers[i] != want[i] {
			t.Fatalf("reg %d: got %d want %d", i, resp.Registers[i], want[i])
		}
	}
}

func TestSend_RejectedBeforeWire(t *testing.T) {
	cases := []struct {
		name string
		req  task.Request
	}{
		{"fc5 two coils", task.Request{Function: task.FC5WriteCoil, Quantity: 1, Bits: []bool{true, false}}},
		{"fc5 no coil", task.Request{Function: task.FC5WriteCoil, Quantity: 1}},
		{"fc6 two registers", task.Request{Function: task.FC6WriteRegister, Quantity: 1, Registers: []uint16{1, 2}}},
		{"fc16 empty", task.Request{Function: task.FC16WriteRegisters}},
		{"fc16 over limit", task.Request{Function: task.FC16WriteRegisters, Quantity: 124, Registers: make([]uint16, 124)}},
		{"fc3 over limit", task.Request{Function: task.FC3ReadHoldingRegisters, Quantity: 130}},
		{"fc4 zero", task.Request{Function: task.FC4ReadInputRegisters}},
		{"fc1 over limit", task.Request{Function: task.FC1ReadCoils, Quantity: 2001}},
	}

	s := newFakeServer(t, answer)
	c := dial(t, s)

	for _, tc := range cases {
		if _, err := c.Send(context.Background(), tc.req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: expected ErrInvalidRequest, got %v", tc.name, err)
		}
	}

	frames, accepts := s.stats()
	if len(frames) != 0 || accepts != 0 {
		t.Fatalf("rejected requests reached the wire: frames=%d accepts=%d", len(frames), accepts)
	}
}

func TestSend_OverLimitKeepsConnection(t *testing.T) {
	s := newFakeServer(t, answer)
	c := dial(t, s)
	ok := task.Request{UnitID: 1, Function: task.FC3ReadHoldingRegisters, Address: 0, Quantity: 2}

	if _, err := c.Send(context.Background(), ok); err != nil {
		t.Fatalf("first read: %v", err)
	}
	long := task.Request{UnitID: 1, Function: task.FC3ReadHoldingRegisters, Address: 0, Quantity: 130}
	if _, err := c.Send(context.Background(), long); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := c.Send(context.Background(), ok); err != nil {
		t.Fatalf("read after rejected request: %v", err)
	}

	frames, accepts := s.stats()
	if len(frames) != 2 || accepts != 1 {
		t.Fatalf("frames=%d accepts=%d, want 2 and 1", len(frames), accepts)
	}
}

func TestSend_ExceptionKeepsConnection(t *testing.T) {
	var calls atomic.Int32
	s := newFakeServer(t, func(pdu []byte) []byte {
		if calls.Add(1) == 1 {
			return []byte{pdu[0] | 0x80, 0x02}
		}
		return answer(pdu)
	})
	c := dial(t, s)
	req := task.Request{UnitID: 1, Function: task.FC3ReadHoldingRegisters, Address: 0, Quantity: 1}

	_, err := c.Send(context.Background(), req)
	var me *modbus.ModbusError
	if !errors.As(err, &me) || me.ExceptionCode != modbus.ExceptionCodeIllegalDataAddress {
		t.Fatalf("expected illegal data address exception, got %v", err)
	}
	if _, err := c.Send(context.Background(), req); err != nil {
		t.Fatalf("read after exception: %v", err)
	}

	if _, accepts := s.stats(); accepts != 1 {
		t.Fatalf("accepts=%d, exception must not reconnect", accepts)
	}
}

func TestSend_ClosedConnectionReconnects(t *testing.T) {
	var calls atomic.Int32
	s := newFakeServer(t, func(pdu []byte) []byte {
		if calls.Add(1) == 1 {
			return nil
		}
		return answer(pdu)
	})
	c := dial(t, s)
	req := task.Request{UnitID: 1, Function: task.FC3ReadHoldingRegisters, Address: 0, Quantity: 1}

	_, err := c.Send(context.Background(), req)
	var me *modbus.ModbusError
	if err == nil || errors.As(err, &me) {
		t.Fatalf("expected an I/O error, got %v", err)
	}
	if _, err := c.Send(context.Background(), req); err != nil {
		t.Fatalf("read after reconnect: %v", err)
	}

	if _, accepts := s.stats(); accepts != 2 {
		t.Fatalf("accepts=%d, a dropped connection must reconnect", accepts)
	}
}
