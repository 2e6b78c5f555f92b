package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix roots every gateway topic when mqtt.topic_prefix is empty.
const DefaultTopicPrefix = "lwm2m"

// Topics builds the gateway's MQTT topics under a common prefix:
//
//	<prefix>/gateway/status
//	<prefix>/endpoints/<name>/status
//	<prefix>/endpoints/<name>/<object>/<instance>/<resource>
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix, trimming surrounding slashes.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

func (t Topics) root() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// GatewayStatus returns the retained online/offline topic, also used for
// the Last Will.
//
// Example: lwm2m/gateway/status
func (t Topics) GatewayStatus() string {
	return fmt.Sprintf("%s/gateway/status", t.root())
}

// EndpointStatus returns the topic carrying an endpoint's lifecycle events.
//
// Example: lwm2m/endpoints/dev-1/status
func (t Topics) EndpointStatus(name string) string {
	return fmt.Sprintf("%s/endpoints/%s/status", t.root(), sanitize(name))
}

// Resource returns the topic of a single resource value. path is an LwM2M
// path with a leading slash.
//
// Example: lwm2m/endpoints/dev-1/3303/0/5700
func (t Topics) Resource(name, path string) string {
	return fmt.Sprintf("%s/endpoints/%s/%s", t.root(), sanitize(name), strings.Trim(path, "/"))
}

// sanitize replaces characters with MQTT meaning in a single topic level.
func sanitize(level string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(level)
}
