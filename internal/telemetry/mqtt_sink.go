package telemetry

import (
	"encoding/json"
	"sync"

	"github.com/nerrad567/launchdeck/internal/infrastructure/mqtt"
	"github.com/nerrad567/launchdeck/internal/supervisor"
)

// Publisher is the part of mqtt.Client the sink needs.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
	PublishEvent(topic string, payload []byte) error
}

// Logger is the logging interface used by sinks.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// MQTTSink publishes supervisor events to MQTT.
//
// Status is retained per positional id. Because ids are renumbered on
// removal, topics that drop out of a poll cycle are cleared with an empty
// retained message.
type MQTTSink struct {
	pub          Publisher
	topics       mqtt.Topics
	publishLines bool
	logger       Logger

	mu        sync.Mutex
	published map[string]bool // status topics retained by the last cycle
}

var _ supervisor.Sink = (*MQTTSink)(nil)

// NewMQTTSink creates a sink. When publishLines is false, line events are
// ignored.
func NewMQTTSink(pub Publisher, publishLines bool) *MQTTSink {
	return &MQTTSink{
		pub:          pub,
		publishLines: publishLines,
		logger:       noopLogger{},
		published:    make(map[string]bool),
	}
}

// SetLogger sets the logger for publish failures.
func (s *MQTTSink) SetLogger(logger Logger) {
	s.logger = logger
}

// HandleEvent implements supervisor.Sink.
func (s *MQTTSink) HandleEvent(ev supervisor.Event) {
	switch ev.Kind {
	case supervisor.EventInstanceCreated, supervisor.EventInstanceRemoved:
		s.publish(s.topics.Event(string(ev.Kind)), ev, false)

	case supervisor.EventLineAppended:
		if !s.publishLines || ev.Instance == nil || ev.Line == nil {
			return
		}
		s.publish(s.topics.Output(ev.Instance.Type, ev.Instance.UID), ev.Line, false)

	case supervisor.EventStatusUpdated:
		s.publishStatuses(ev.Statuses)
	}
}

func (s *MQTTSink) publishStatuses(statuses []supervisor.StatusSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		topic := s.topics.InstanceStatus(st.Type, st.ID)
		// Live instances come first; a removed instance reported under an
		// id that has since been reused must not overwrite it.
		if current[topic] {
			continue
		}
		current[topic] = true
		s.publish(topic, st, true)
	}

	for topic := range s.published {
		if !current[topic] {
			if err := s.pub.PublishRetained(topic, nil); err != nil {
				s.logger.Warn("clearing retained status failed", "topic", topic, "error", err)
			}
		}
	}
	s.published = current
}

func (s *MQTTSink) publish(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("encoding mqtt payload failed", "topic", topic, "error", err)
		return
	}

	if retained {
		err = s.pub.PublishRetained(topic, payload)
	} else {
		err = s.pub.PublishEvent(topic, payload)
	}
	if err != nil {
		s.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}
