// Package mqtt publishes launchdeck state to an MQTT broker.
//
// The client is publish-only. It mirrors instance lifecycle events and the
// latest status of each instance so that other tools on the network can
// follow what the supervisor is running without talking to it directly.
//
// # Topics
//
//	launchdeck/system/status           retained online/offline, with LWT
//	launchdeck/status/{type}/{id}      retained latest poll per instance
//	launchdeck/event/{kind}            lifecycle events
//	launchdeck/output/{type}/{uid}     captured lines, when enabled
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if errors.Is(err, mqtt.ErrDisabled) {
//	    // run without a broker
//	}
//	defer client.Close()
//
//	client.PublishRetained(mqtt.Topics{}.InstanceStatus("Ollama", 1), payload)
//
// Reconnection uses paho's exponential backoff between the configured
// initial and maximum delays. Publishing while disconnected returns
// ErrNotConnected rather than queueing.
package mqtt
