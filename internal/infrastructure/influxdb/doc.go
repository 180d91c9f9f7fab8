// Package influxdb records launchdeck instance telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every poll cycle
// produces one instance_status point per instance:
//
//	instance_status,type=Ollama,uid=<uuid> id=1i,running=true,cpu_percent=12.5,memory_mb=640,uptime_seconds=93
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry turned off
//	}
//	defer client.Close()
//
//	client.WriteInstanceStatus(influxdb.InstanceStatus{Type: "Ollama", UID: uid, ID: 1})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are batched according to
// batch_size and flush_interval and never block the caller; write errors are
// delivered to the SetOnError callback.
package influxdb
