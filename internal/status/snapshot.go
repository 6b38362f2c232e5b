// internal/status/snapshot.go
package status

import (
	"errors"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// Snapshot is the device-level communication state.
type Snapshot struct {
	Health         uint16
	LastErrorCode  uint16
	SecondsInError uint16
}

// Tracker folds cycle outcomes into a Snapshot.
// It is safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	snap  Snapshot
	since time.Time
}

func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{Health: HealthUnknown}}
}

// Observe records the outcome of one cycle.
// A nil error is a recovery: code and seconds are reset.
func (t *Tracker) Observe(err error, now time.Time) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err == nil {
		t.snap = Snapshot{Health: HealthOK}
		t.since = time.Time{}
		return t.snap
	}

	if t.snap.Health != HealthError {
		t.snap.Health = HealthError
		t.since = now
	}
	t.snap.LastErrorCode = ErrorCode(err)
	t.snap.SecondsInError = secondsSince(t.since, now)
	return t.snap
}

// Tick advances SecondsInError while the device is not OK.
func (t *Tracker) Tick(now time.Time) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.Health == HealthError {
		t.snap.SecondsInError = secondsSince(t.since, now)
	}
	return t.snap
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// CommunicationFailed is the per-device flag callers surface to operators.
func (t *Tracker) CommunicationFailed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.Health == HealthError
}

func secondsSince(since, now time.Time) uint16 {
	if since.IsZero() || now.Before(since) {
		return 0
	}
	s := now.Sub(since) / time.Second
	if s > MaxSecondsInError {
		return MaxSecondsInError
	}
	return uint16(s)
}

// ErrorCode extracts a best-effort uint16 code from an error.
// Modbus exceptions yield their exception code, anything else CodeGeneric.
func ErrorCode(err error) uint16 {
	if err == nil {
		return 0
	}

	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return uint16(me.ExceptionCode)
	}

	return CodeGeneric
}
