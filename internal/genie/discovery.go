package genie

import (
	"strings"

	"github.com/samber/lo"

	"github.com/nerrad567/genie-bridge/internal/entity"
)

const (
	sensorType       = "sensor"
	sensorDeviceName = "传感器"
	powerState       = "PowerState"
	defaultViewGroup = "group.default_view"
)

// Alias is one entry of the platform alias list: a canonical device name
// and the names accepted for it.
type Alias struct {
	Key   string   `json:"key"`
	Value []string `json:"value"`
}

// Branding written into every descriptor.
type Branding struct {
	Brand string
	Icon  string
}

type discovery struct {
	places   []string
	aliases  []Alias // nil disables name validation
	branding Branding
	logger   Logger
}

// discover derives device descriptors from a state snapshot. Entities that
// cannot be described are omitted.
func (d *discovery) discover(states []entity.State) []Device {
	groups := groupAttributes(states)
	devices := []Device{}
	sensorsByZone := map[string]int{}

	for i := range states {
		s := &states[i]
		attrs := s.Attributes

		if truthy(attrs[entity.AttrHidden]) || truthy(attrs[attrHidden]) {
			continue
		}
		friendlyName, ok := attrString(attrs, entity.AttrFriendlyName)
		if !ok {
			continue
		}

		deviceType := guessDeviceType(s.EntityID, attrs)
		if deviceType == "" {
			continue
		}
		if !IsDeviceType(deviceType) {
			d.logger.Warn("unknown device type override", "entity_id", s.EntityID, "device_type", deviceType)
		}

		deviceName, ok := d.guessDeviceName(s.EntityID, attrs)
		if !ok {
			continue
		}

		zone := guessZone(s.EntityID, attrs, groups, d.places)
		if zone == "" {
			continue
		}

		prop, action, ok := guessPropertyAndAction(s.EntityID, attrs, s.State)
		if !ok {
			continue
		}

		deviceID := s.EntityID
		if deviceType == sensorType {
			if idx, merged := sensorsByZone[zone]; merged {
				sensor := &devices[idx]
				if lo.Contains(sensor.Actions, action) {
					d.logger.Info("skipping duplicate sensor action", "entity_id", s.EntityID, "zone", zone, "action", action)
					continue
				}
				sensor.Properties = append(sensor.Properties, prop)
				sensor.Actions = append(sensor.Actions, action)
				sensor.Model += " " + friendlyName
				continue
			}
			deviceName = sensorDeviceName
			deviceID = zone
			sensorsByZone[zone] = len(devices)
		}

		devices = append(devices, Device{
			DeviceID:   deviceID,
			DeviceName: deviceName,
			DeviceType: deviceType,
			Zone:       zone,
			Model:      friendlyName,
			Brand:      d.branding.Brand,
			Icon:       d.branding.Icon,
			Properties: []Property{prop},
			Actions:    actionsFor(action),
		})
	}
	return devices
}

func actionsFor(action string) []string {
	if action == "Query"+powerState {
		return []string{"TurnOn", "TurnOff", "Query", action}
	}
	return []string{"Query", action}
}

// guessDeviceType returns "" when the entity should not be exposed.
func guessDeviceType(entityID string, attrs entity.Attributes) string {
	if override, ok := attrString(attrs, attrDeviceType); ok {
		return override
	}
	domain := entity.Domain(entityID)
	if lo.Contains(excludeDomains, domain) {
		return ""
	}
	return includeDomains[domain]
}

func (d *discovery) guessDeviceName(entityID string, attrs entity.Attributes) (string, bool) {
	if override, ok := attrString(attrs, attrDeviceName); ok {
		return override, true
	}

	name, _ := attrString(attrs, entity.AttrFriendlyName)
	if place, found := placePrefix(name, d.places); found {
		name = strings.TrimPrefix(name, place)
	}

	if d.aliases == nil || strings.HasPrefix(entityID, "sensor") {
		return name, true
	}

	for _, alias := range d.aliases {
		if name == alias.Key || lo.Contains(alias.Value, name) {
			return name, true
		}
	}

	d.logger.Error("device name is not in the platform alias list", "entity_id", entityID, "name", name)
	return "", false
}

func placePrefix(name string, places []string) (string, bool) {
	return lo.Find(places, func(place string) bool {
		return place != "" && strings.HasPrefix(name, place)
	})
}

// group is the part of a group entity zone lookup needs.
type group struct {
	entityID string
	attrs    entity.Attributes
	members  []string
}

func groupAttributes(states []entity.State) []group {
	var groups []group
	for _, s := range states {
		if s.EntityID == defaultViewGroup || s.Domain() != "group" {
			continue
		}
		raw, ok := s.Attributes[entity.AttrEntityID]
		if !ok {
			continue
		}
		groups = append(groups, group{entityID: s.EntityID, attrs: s.Attributes, members: stringList(raw)})
	}
	return groups
}

// guessZone returns "" when no zone can be derived.
func guessZone(entityID string, attrs entity.Attributes, groups []group, places []string) string {
	if override, ok := attrString(attrs, attrZone); ok {
		return override
	}

	name, _ := attrString(attrs, entity.AttrFriendlyName)
	if place, found := placePrefix(name, places); found {
		return place
	}

	for _, g := range groups {
		if !lo.Contains(g.members, entityID) {
			continue
		}
		if zone, ok := attrString(g.attrs, attrZone); ok {
			return zone
		}
		zone, _ := attrString(g.attrs, entity.AttrFriendlyName)
		return zone
	}
	return ""
}

// sensorRule maps a sensor to a property name.
type sensorRule struct {
	name  string
	match func(entityID, unit string) bool
}

func unitIs(units ...string) func(string, string) bool {
	return func(_, unit string) bool { return lo.Contains(units, unit) }
}

func idContains(fragment string) func(string, string) bool {
	return func(entityID, _ string) bool { return strings.Contains(entityID, fragment) }
}

// sensorRules are evaluated in order; the first match wins.
var sensorRules = []sensorRule{
	{"Temperature", unitIs("°C", "℃")},
	{"Brightness", unitIs("lx", "lm")},
	{"Fog", idContains("hcho")},
	{"Humidity", idContains("humidity")},
	{"PM2.5", idContains("pm25")},
	{"WindSpeed", idContains("co2")},
}

// guessPropertyAndAction derives the reported property and its query action.
func guessPropertyAndAction(entityID string, attrs entity.Attributes, state string) (Property, string, bool) {
	var name string
	switch override, hasOverride := attrString(attrs, attrPropertyName); {
	case hasOverride:
		name = override

	case strings.HasPrefix(entityID, "sensor."):
		unit, _ := attrString(attrs, entity.AttrUnit)
		rule, found := lo.Find(sensorRules, func(r sensorRule) bool {
			return r.match(entityID, unit)
		})
		if !found {
			return Property{}, "", false
		}
		name = rule.name

	default:
		name = powerState
		if state != "off" {
			state = "on"
		}
	}

	return Property{Name: strings.ToLower(name), Value: state}, "Query" + name, true
}
