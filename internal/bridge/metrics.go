// internal/bridge/metrics.go
package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are shared by all bridges of a process, labelled by device.
type Metrics struct {
	Requests            *prometheus.CounterVec
	Failures            *prometheus.CounterVec
	CycleDuration       *prometheus.HistogramVec
	CommunicationFailed *prometheus.GaugeVec
	SecondsInError      *prometheus.GaugeVec
	ChannelValue        *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mbbridge_requests_total",
			Help: "Modbus requests sent, by device and function code.",
		}, []string{"device", "function"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mbbridge_request_failures_total",
			Help: "Failed Modbus requests, by device and function code.",
		}, []string{"device", "function"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mbbridge_cycle_duration_seconds",
			Help:    "Duration of one bridge cycle.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"device"}),
		CommunicationFailed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mbbridge_communication_failed",
			Help: "1 while the last cycle of the device failed.",
		}, []string{"device"}),
		SecondsInError: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mbbridge_seconds_in_error",
			Help: "Seconds since the device entered the error state.",
		}, []string{"device"}),
		ChannelValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mbbridge_channel_value",
			Help: "Last decoded channel value in engineering units.",
		}, []string{"device", "channel"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Requests,
			m.Failures,
			m.CycleDuration,
			m.CommunicationFailed,
			m.SecondsInError,
			m.ChannelValue,
		)
	}
	return m
}
