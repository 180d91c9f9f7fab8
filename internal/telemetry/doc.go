// Package telemetry mirrors supervisor events onto external systems.
//
// Each sink implements supervisor.Sink and is subscribed to the
// controller's Dispatcher, so a slow broker or database never blocks a
// supervisor operation:
//
//	events.Subscribe(telemetry.NewMQTTSink(mqttClient, cfg.MQTT.PublishLines))
//	events.Subscribe(telemetry.NewMetricsSink(influxClient))
//
// MQTTSink publishes lifecycle events, retained per-instance status and,
// optionally, every captured line. MetricsSink writes one InfluxDB point
// per instance per poll.
package telemetry
