package telemetry

import (
	"github.com/nerrad567/launchdeck/internal/infrastructure/influxdb"
	"github.com/nerrad567/launchdeck/internal/supervisor"
)

// PointWriter is the part of influxdb.Client the sink needs.
type PointWriter interface {
	WriteInstanceStatus(s influxdb.InstanceStatus)
}

// MetricsSink writes each poll cycle to InfluxDB. Instances whose status
// is unknown are skipped; their zero readings would skew the series.
type MetricsSink struct {
	w PointWriter
}

var _ supervisor.Sink = (*MetricsSink)(nil)

// NewMetricsSink creates a sink writing to w.
func NewMetricsSink(w PointWriter) *MetricsSink {
	return &MetricsSink{w: w}
}

// HandleEvent implements supervisor.Sink.
func (m *MetricsSink) HandleEvent(ev supervisor.Event) {
	if ev.Kind != supervisor.EventStatusUpdated {
		return
	}
	for _, st := range ev.Statuses {
		if st.Status == supervisor.StatusUnknown {
			continue
		}
		m.w.WriteInstanceStatus(influxdb.InstanceStatus{
			Type:          st.Type,
			UID:           st.UID,
			ID:            st.ID,
			Running:       st.Running,
			UptimeSeconds: st.UptimeSeconds,
			CPUPercent:    st.CPUPercent,
			MemoryMB:      st.MemoryMB,
			At:            st.PolledAt,
		})
	}
}
