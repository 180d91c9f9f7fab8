package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every launchdeck topic.
const TopicPrefix = "launchdeck"

// Topics builds launchdeck topic names.
//
//	topics := mqtt.Topics{}
//	topics.InstanceStatus("ComfyUI", 2) // "launchdeck/status/ComfyUI/2"
type Topics struct{}

// SystemStatus is the retained online/offline topic, also used for the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// InstanceStatus is the retained status topic for one instance.
func (Topics) InstanceStatus(typeName string, id int) string {
	return fmt.Sprintf("%s/status/%s/%d", TopicPrefix, segment(typeName), id)
}

// AllInstanceStatus matches every instance status topic.
func (Topics) AllInstanceStatus() string {
	return TopicPrefix + "/status/+/+"
}

// Event is the topic for one lifecycle event kind.
func (Topics) Event(kind string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, segment(kind))
}

// Output is the topic for an instance's captured lines.
func (Topics) Output(typeName, uid string) string {
	return fmt.Sprintf("%s/output/%s/%s", TopicPrefix, segment(typeName), segment(uid))
}

// segment makes s safe as a single topic level. Wildcards and separators
// would otherwise change the topic's shape.
func segment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

// validTopic reports whether topic can be published to.
func validTopic(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, "+#")
}
