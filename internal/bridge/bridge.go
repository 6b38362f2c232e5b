// internal/bridge/bridge.go
package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-bridge/internal/channel"
	"github.com/tamzrod/modbus-bridge/internal/protocol"
	"github.com/tamzrod/modbus-bridge/internal/status"
	"github.com/tamzrod/modbus-bridge/internal/task"
)

// Bridge drives one device: one Protocol, one Transport, one task at a time.
type Bridge struct {
	device    task.Device
	proto     *protocol.Protocol
	tr        task.Transport
	channels  *channel.Set
	verbosity task.LogVerbosity
	interval  time.Duration
	logger    zerolog.Logger
	metrics   *Metrics
	status    *status.Tracker
	now       func() time.Time

	// cycleMu keeps cycles of one bridge sequential.
	cycleMu  sync.Mutex
	low      lowScheduler
	failures atomic.Uint64
}

type Option func(*Bridge)

func WithLogger(l zerolog.Logger) Option { return func(b *Bridge) { b.logger = l } }
func WithMetrics(m *Metrics) Option { return func(b *Bridge) { b.metrics = m } }
func WithVerbosity(v task.LogVerbosity) Option { return func(b *Bridge) { b.verbosity = v } }
func WithInterval(d time.Duration) Option { return func(b *Bridge) { b.interval = d } }
func WithChannels(s *channel.Set) Option { return func(b *Bridge) { b.channels = s } }
func WithClock(now func() time.Time) Option { return func(b *Bridge) { b.now = now } }

func New(d task.Device, p *protocol.Protocol, tr task.Transport, opts ...Option) (*Bridge, error) {
	if d.ID == "" {
		return nil, errors.New("bridge: device id required")
	}
	if p == nil || tr == nil {
		return nil, errors.New("bridge: protocol and transport required")
	}

	b := &Bridge{
		device:   d,
		proto:    p,
		tr:       tr,
		channels: channel.NewSet(),
		interval: time.Second,
		logger:   zerolog.Nop(),
		metrics:  NewMetrics(nil),
		status:   status.NewTracker(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	if b.interval <= 0 {
		return nil, errors.New("bridge: interval must be > 0")
	}
	b.logger = b.logger.With().Str("device", d.ID).Logger()
	return b, nil
}

func (b *Bridge) Device() task.Device { return b.device }
func (b *Bridge) Protocol() *protocol.Protocol { return b.proto }
func (b *Bridge) Channels() *channel.Set { return b.channels }
func (b *Bridge) Status() status.Snapshot { return b.status.Snapshot() }
func (b *Bridge) CommunicationFailed() bool { return b.status.CommunicationFailed() }

// Failures is the number of failed requests since start.
func (b *Bridge) Failures() uint64 { return b.failures.Load() }

// CycleResult summarizes one cycle.
type CycleResult struct {
	Tasks    int
	Requests int
	Failed   int
	Err      error
}

// Cycle runs, in order: every write task with pending values, every HIGH
// read, and one LOW read picked round-robin. A failed task never stops the
// cycle; its error is joined into the result.
func (b *Bridge) Cycle(ctx context.Context) CycleResult {
	b.cycleMu.Lock()
	defer b.cycleMu.Unlock()

	start := b.now()
	var res CycleResult
	var errs []error

	run := func(t task.Task) {
		res.Tasks++
		n, failed, err := b.execute(ctx, t)
		res.Requests += n
		res.Failed += failed
		if err != nil {
			errs = append(errs, err)
		}
	}

	for _, r := range protocol.SortedRanges(b.proto.WritableRanges()) {
		wt, err := task.NewWriteTask(r)
		if err != nil {
			b.logger.Warn().Err(err).Str("range", r.String()).Msg("skipping write range")
			continue
		}
		if wt.HasPending() {
			run(wt)
		}
	}

	high, low := splitByPriority(protocol.SortedRanges(b.proto.ReadRanges()))
	if r := b.low.next(low); r != nil {
		high = append(high, r)
	}
	for _, r := range high {
		rt, err := task.NewReadTask(r)
		if err != nil {
			b.logger.Warn().Err(err).Str("range", r.String()).Msg("skipping read range")
			continue
		}
		run(rt)
	}

	res.Err = errors.Join(errs...)

	end := b.now()
	wasFailed := b.status.CommunicationFailed()
	snap := b.status.Observe(res.Err, end)
	b.observeStatus(snap)
	b.metrics.CycleDuration.WithLabelValues(b.device.ID).Observe(end.Sub(start).Seconds())

	switch {
	case res.Err != nil && !wasFailed:
		b.logger.Error().Err(res.Err).Uint16("code", snap.LastErrorCode).Msg("communication failed")
	case res.Err == nil && wasFailed:
		b.logger.Info().Msg("communication restored")
	}

	return res
}

// execute runs one task and accounts for every exchange it produced.
func (b *Bridge) execute(ctx context.Context, t task.Task) (requests, failed int, err error) {
	xs, err := t.Execute(ctx, b.device, b.tr)

	for _, x := range xs {
		fc := x.Request.Function.String()
		b.metrics.Requests.WithLabelValues(b.device.ID, fc).Inc()

		if x.Err != nil {
			b.failures.Add(1)
			b.metrics.Failures.WithLabelValues(b.device.ID, fc).Inc()
			b.logger.Warn().Err(x.Err).
				Msg(task.LogMessage(b.device, t.Priority(), task.LogReadsAndWrites, x.Request, nil))
			continue
		}

		if b.verbosity != task.LogNone {
			b.logger.Info().
				Msg(task.LogMessage(b.device, t.Priority(), b.verbosity, x.Request, x.Response))
		}
	}

	res := task.Summarize(xs)
	if err != nil && res.Failed == 0 {
		// planning errors, e.g. a value that no longer encodes
		b.logger.Warn().Err(err).Str("function", t.Function().String()).Msg("task error")
	}
	return res.Requests, res.Failed, err
}

func (b *Bridge) observeStatus(s status.Snapshot) {
	failed := 0.0
	if s.Health == status.HealthError {
		failed = 1
	}
	b.metrics.CommunicationFailed.WithLabelValues(b.device.ID).Set(failed)
	b.metrics.SecondsInError.WithLabelValues(b.device.ID).Set(float64(s.SecondsInError))
}
