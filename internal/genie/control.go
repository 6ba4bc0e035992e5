package genie

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"unicode"

	"github.com/nerrad567/genie-bridge/internal/entity"
	"github.com/nerrad567/genie-bridge/internal/host"
)

// controlServices maps AliGenie control names to host services.
var controlServices = map[string]string{
	"TurnOn":                "turn_on",
	"TurnOff":               "turn_off",
	"QueryPowerState":       "query_power_state",
	"SetTemperature":        "set_temperature",
	"AdjustUpTemperature":   "set_temperature",
	"AdjustDownTemperature": "set_temperature",
	"SetMode":               "set_operation_mode",
	"SetWindSpeed":          "set_fan_mode",
	"Pause":                 "pause",
	"Continue":              "start",
}

// ServiceName converts an AliGenie action to a snake_case service name.
// Unknown names fall back to inserting "_" before every upper-case letter
// after the first and lower-casing.
func ServiceName(action string) string {
	if svc, ok := controlServices[action]; ok {
		return svc
	}

	var b strings.Builder
	for i, r := range action {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// AliGenie mode and wind speed values mapped to climate settings.
var (
	operationModes = map[string]string{
		"cold":             "Cool",
		"cool":             "Cool",
		"heat":             "Heat",
		"wind":             "Fan",
		"fan":              "Fan",
		"dehumidification": "Dry",
		"dry":              "Dry",
	}
	fanModes = map[string]string{
		"low":    "Low",
		"middle": "Medium",
		"medium": "Medium",
		"high":   "High",
		"auto":   "Auto",
	}
)

const defaultTemperatureStep = 1.0

// controlData builds the service data for action.
func controlData(ctx context.Context, h host.Host, action, entityID string, payload Payload) (map[string]any, error) {
	data := map[string]any{entity.AttrEntityID: entityID}
	value, hasValue := payload.Value()

	switch action {
	case "SetTemperature":
		temp, ok := numberValue(value)
		if !hasValue || !ok {
			return nil, NewError(ErrInvalidateParams, "")
		}
		data["temperature"] = temp

	case "AdjustUpTemperature", "AdjustDownTemperature":
		step := defaultTemperatureStep
		if v, ok := numberValue(value); hasValue && ok {
			step = v
		}
		if action == "AdjustDownTemperature" {
			step = -step
		}
		current, err := currentTemperature(ctx, h, entityID)
		if err != nil {
			return nil, err
		}
		data["temperature"] = current + step

	case "SetMode":
		mode, ok := operationModes[strings.ToLower(stringValue(value))]
		if !hasValue || !ok {
			return nil, NewError(ErrInvalidateParams, "")
		}
		data["operation_mode"] = mode

	case "SetWindSpeed":
		mode, ok := fanModes[strings.ToLower(stringValue(value))]
		if !hasValue || !ok {
			return nil, NewError(ErrInvalidateParams, "")
		}
		data["fan_mode"] = mode
	}
	return data, nil
}

func currentTemperature(ctx context.Context, h host.Host, entityID string) (float64, error) {
	s, err := h.State(ctx, entityID)
	if err != nil {
		if errors.Is(err, host.ErrNotFound) {
			return 0, NewError(ErrDeviceNotExist, "")
		}
		return 0, NewError(ErrDeviceOffline, "")
	}
	temp, ok := numberValue(s.Attributes["temperature"])
	if !ok {
		return 0, NewError(ErrDeviceNotSupport, "")
	}
	return temp, nil
}

func numberValue(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// control runs a control request and returns the empty success payload.
func (h *Handler) control(ctx context.Context, target host.Host, name string, payload Payload) (map[string]any, error) {
	entityID := payload.DeviceID
	if entityID == "" {
		return nil, NewError(ErrInvalidateParams, "")
	}

	domain := entity.Domain(entityID)
	svc := ServiceName(name)
	if domain == "cover" {
		if svc == "turn_off" {
			svc = "close_cover"
		} else {
			svc = "open_cover"
		}
	}

	data, err := controlData(ctx, target, name, entityID, payload)
	if err != nil {
		return nil, err
	}

	ok, err := target.CallService(ctx, domain, svc, data)
	if err != nil {
		h.logger.Warn("control failed", "entity_id", entityID, "service", domain+"."+svc, "error", err)
		return nil, NewError(ErrDeviceOffline, "")
	}
	if !ok {
		return nil, NewError(ErrDeviceOffline, "")
	}
	return map[string]any{}, nil
}
