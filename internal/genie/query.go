package genie

import (
	"context"
	"strings"

	"github.com/samber/lo"

	"github.com/nerrad567/genie-bridge/internal/entity"
	"github.com/nerrad567/genie-bridge/internal/host"
)

const stateUnavailable = "unavailable"

// query answers a query request with the property list.
func (h *Handler) query(ctx context.Context, target host.Host, payload Payload) ([]Property, error) {
	if payload.DeviceID == "" {
		return nil, NewError(ErrInvalidateParams, "")
	}

	if payload.DeviceType == sensorType {
		states, err := target.States(ctx)
		if err != nil {
			h.logger.Warn("query failed to read states", "device_id", payload.DeviceID, "error", err)
			return nil, NewError(ErrDeviceOffline, "")
		}
		return querySensorZone(states, payload.DeviceID), nil
	}

	s, err := target.State(ctx, payload.DeviceID)
	if err != nil || s == nil || s.State == stateUnavailable {
		return nil, NewError(ErrDeviceOffline, "")
	}

	value := "on"
	if s.State == "off" {
		value = "off"
	}
	return []Property{{Name: "powerstate", Value: value}}, nil
}

// querySensorZone collects the properties of every sensor in zone.
func querySensorZone(states []entity.State, zone string) []Property {
	var members []string
	if g, found := lo.Find(states, func(s entity.State) bool {
		if s.Domain() != "group" {
			return false
		}
		z, _ := attrString(s.Attributes, attrZone)
		return s.FriendlyName() == zone || z == zone
	}); found {
		members = stringList(g.Attributes[entity.AttrEntityID])
	}

	props := []Property{{Name: "powerstate", Value: "on"}}
	for _, s := range states {
		if !strings.HasPrefix(s.EntityID, "sensor.") {
			continue
		}
		z, _ := attrString(s.Attributes, attrZone)
		if !lo.Contains(members, s.EntityID) && !strings.HasPrefix(s.FriendlyName(), zone) && z != zone {
			continue
		}
		prop, _, ok := guessPropertyAndAction(s.EntityID, s.Attributes, s.State)
		if !ok {
			continue
		}
		props = append(props, prop)
	}
	return props
}
