// internal/bridge/scheduler.go
package bridge

import "github.com/tamzrod/modbus-bridge/internal/protocol"

// lowScheduler hands out LOW ranges one per cycle, round-robin.
type lowScheduler struct {
	cursor int
}

// next returns the range to read this cycle, or nil when there is none.
// rs must be in a stable order across cycles.
func (s *lowScheduler) next(rs []*protocol.Range) *protocol.Range {
	if len(rs) == 0 {
		return nil
	}
	r := rs[s.cursor%len(rs)]
	s.cursor = (s.cursor + 1) % len(rs)
	return r
}

// splitByPriority partitions sorted ranges, preserving order.
func splitByPriority(rs []*protocol.Range) (high, low []*protocol.Range) {
	for _, r := range rs {
		if r.Priority() == protocol.PriorityHigh {
			high = append(high, r)
		} else {
			low = append(low, r)
		}
	}
	return high, low
}
