package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the bridge uses.
const TopicPrefix = "geniebridge"

// Topics builds the bridge's MQTT topics:
//
//	geniebridge/system/status                         retained online/offline
//	geniebridge/state/<entity_id>                     external state ingest
//	geniebridge/out/<entity_id>                       state changes published by the bridge
//	geniebridge/command/<domain>/<object_id>          forwarded service calls
//	geniebridge/gateway/sensortag/<mac>/<sensor>      SensorTag gateway readings
//	geniebridge/gateway/miio/<host>/status            water purifier status vectors
type Topics struct{}

// SystemStatus returns the retained bridge status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// EntityState returns the ingest topic for an entity.
func (Topics) EntityState(entityID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, entityID)
}

// AllEntityStates matches every ingest topic.
func (Topics) AllEntityStates() string {
	return TopicPrefix + "/state/+"
}

// EntityOut returns the topic state changes are published on.
func (Topics) EntityOut(entityID string) string {
	return fmt.Sprintf("%s/out/%s", TopicPrefix, entityID)
}

// Command returns the topic a service call for entityID is forwarded to.
// Entity ids without a dot are addressed as the whole domain.
//
// Example: geniebridge/command/light/kitchen
func (Topics) Command(domain, entityID string) string {
	objectID := entityID
	if _, rest, ok := strings.Cut(entityID, "."); ok {
		objectID = rest
	}
	if objectID == "" {
		return fmt.Sprintf("%s/command/%s", TopicPrefix, domain)
	}
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, domain, objectID)
}

// SensorTagReading returns the topic a gateway publishes raw readings on.
func (Topics) SensorTagReading(mac, sensor string) string {
	return fmt.Sprintf("%s/gateway/sensortag/%s/%s", TopicPrefix, mac, sensor)
}

// AllSensorTagReadings matches every reading for one tag.
func (Topics) AllSensorTagReadings(mac string) string {
	return fmt.Sprintf("%s/gateway/sensortag/%s/+", TopicPrefix, mac)
}

// PurifierStatus returns the topic a miio gateway publishes status on.
func (Topics) PurifierStatus(host string) string {
	return fmt.Sprintf("%s/gateway/miio/%s/status", TopicPrefix, host)
}

// ParseEntityState extracts the entity id from an ingest topic.
func ParseEntityState(topic string) (string, error) {
	entityID, ok := strings.CutPrefix(topic, TopicPrefix+"/state/")
	if !ok || entityID == "" || strings.Contains(entityID, "/") {
		return "", fmt.Errorf("%w: %s", ErrUnexpectedTopic, topic)
	}
	return entityID, nil
}

// ParseSensorTagReading extracts the mac and sensor name from a gateway topic.
func ParseSensorTagReading(topic string) (mac, sensor string, err error) {
	rest, ok := strings.CutPrefix(topic, TopicPrefix+"/gateway/sensortag/")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnexpectedTopic, topic)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrUnexpectedTopic, topic)
	}
	return parts[0], parts[1], nil
}
