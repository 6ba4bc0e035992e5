package entity

import (
	"regexp"
	"strings"
	"time"

	"github.com/gosimple/slug"
)

// Attributes holds the free-form attributes of an entity, decoded from JSON.
type Attributes map[string]any

// Well-known attribute keys.
const (
	AttrFriendlyName = "friendly_name"
	AttrEntityID     = "entity_id"
	AttrHidden       = "hidden"
	AttrUnit         = "unit_of_measurement"
	AttrIcon         = "icon"
	AttrDeviceClass  = "device_class"
)

// State is the current state of one entity.
//
// LastChanged moves only when State changes; LastUpdated moves on every
// write, including attribute-only updates.
type State struct {
	EntityID    string     `json:"entity_id"`
	State       string     `json:"state"`
	Attributes  Attributes `json:"attributes"`
	LastChanged time.Time  `json:"last_changed"`
	LastUpdated time.Time  `json:"last_updated"`
}

// Domain returns the part of the entity id before the first dot.
func (s *State) Domain() string {
	return Domain(s.EntityID)
}

// ObjectID returns the part of the entity id after the first dot.
func (s *State) ObjectID() string {
	_, object, _ := strings.Cut(s.EntityID, ".")
	return object
}

// FriendlyName returns the friendly_name attribute, or "" when unset.
func (s *State) FriendlyName() string {
	name, _ := s.Attributes[AttrFriendlyName].(string)
	return name
}

// DeepCopy returns a copy that shares no mutable data with s.
func (s *State) DeepCopy() *State {
	if s == nil {
		return nil
	}
	cpy := *s
	cpy.Attributes = deepCopyAttributes(s.Attributes)
	return &cpy
}

func deepCopyAttributes(src Attributes) Attributes {
	if src == nil {
		return Attributes{}
	}
	dst := make(Attributes, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = deepCopyValue(inner)
		}
		return out
	case Attributes:
		return deepCopyAttributes(val)
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = deepCopyValue(inner)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// Change is delivered to listeners after a state is written or removed.
// Old is nil for new entities; New is nil for removals.
type Change struct {
	EntityID string
	Old      *State
	New      *State
}

// Domain returns the domain part of an entity id.
func Domain(entityID string) string {
	domain, _, _ := strings.Cut(entityID, ".")
	return domain
}

var entityIDPattern = regexp.MustCompile(`^[a-z0-9_]+\.[a-z0-9_]+$`)

// ValidateEntityID checks the <domain>.<object_id> format.
func ValidateEntityID(entityID string) error {
	if !entityIDPattern.MatchString(entityID) {
		return ErrInvalidEntityID
	}
	return nil
}

// MakeID builds an entity id from a domain and a human name:
// MakeID("sensor", "SensorTag Temperature") is "sensor.sensortag_temperature".
func MakeID(domain, name string) string {
	object := strings.ReplaceAll(slug.Make(name), "-", "_")
	if object == "" {
		object = "unnamed"
	}
	return domain + "." + object
}
