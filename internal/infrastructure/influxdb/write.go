package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementInstanceStatus holds one point per instance per poll.
const measurementInstanceStatus = "instance_status"

// InstanceStatus is the telemetry recorded for one instance at one poll.
type InstanceStatus struct {
	Type          string
	UID           string
	ID            int
	Running       bool
	UptimeSeconds float64
	CPUPercent    float64
	MemoryMB      float64
	At            time.Time
}

// instanceStatusPoint builds the point for s. The uid tag keeps series
// distinct across renumbering; id is a field because it changes.
func instanceStatusPoint(s InstanceStatus) *write.Point {
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		measurementInstanceStatus,
		map[string]string{
			"type": s.Type,
			"uid":  s.UID,
		},
		map[string]interface{}{
			"id":             int64(s.ID),
			"running":        s.Running,
			"uptime_seconds": s.UptimeSeconds,
			"cpu_percent":    s.CPUPercent,
			"memory_mb":      s.MemoryMB,
		},
		at,
	)
}

// WriteInstanceStatus queues one instance_status point. The write is
// non-blocking; failures arrive through the SetOnError callback.
//
//	client.WriteInstanceStatus(influxdb.InstanceStatus{
//	    Type: "Ollama", UID: uid, ID: 1, Running: true, CPUPercent: 12.5,
//	})
func (c *Client) WriteInstanceStatus(s InstanceStatus) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(instanceStatusPoint(s))
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
