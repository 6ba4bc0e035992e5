package genie

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/genie-bridge/internal/entity"
)

func TestServiceName(t *testing.T) {
	tests := map[string]string{
		"TurnOn":                "turn_on",
		"TurnOff":               "turn_off",
		"QueryPowerState":       "query_power_state",
		"SetMode":               "set_operation_mode",
		"AdjustUpTemperature":   "set_temperature",
		"Pause":                 "pause",
		"Continue":              "start",
		"SetBrightness":         "set_brightness",
		"OpenSwitch":            "open_switch",
	}
	for action, want := range tests {
		if got := ServiceName(action); got != want {
			t.Errorf("ServiceName(%q) = %q, want %q", action, got, want)
		}
	}
}

func newControlHandler() *Handler {
	return New(Options{Directory: StaticDirectory{}})
}

func TestControl_Services(t *testing.T) {
	tests := []struct {
		name        string
		action      string
		entityID    string
		extra       map[string]any
		wantDomain  string
		wantService string
		wantData    map[string]any
	}{
		{
			name: "cover turn on opens", action: "TurnOn", entityID: "cover.curtain1",
			wantDomain: "cover", wantService: "open_cover",
		},
		{
			name: "cover turn off closes", action: "TurnOff", entityID: "cover.curtain1",
			wantDomain: "cover", wantService: "close_cover",
		},
		{
			name: "light query power state", action: "QueryPowerState", entityID: "light.x",
			wantDomain: "light", wantService: "query_power_state",
		},
		{
			name: "set temperature", action: "SetTemperature", entityID: "climate.ac",
			extra:      map[string]any{"value": "26"},
			wantDomain: "climate", wantService: "set_temperature",
			wantData: map[string]any{"temperature": 26.0},
		},
		{
			name: "set mode", action: "SetMode", entityID: "climate.ac",
			extra:      map[string]any{"value": "cold"},
			wantDomain: "climate", wantService: "set_operation_mode",
			wantData: map[string]any{"operation_mode": "Cool"},
		},
		{
			name: "set wind speed", action: "SetWindSpeed", entityID: "climate.ac",
			extra:      map[string]any{"value": "middle"},
			wantDomain: "climate", wantService: "set_fan_mode",
			wantData: map[string]any{"fan_mode": "Medium"},
		},
		{
			name: "adjust up defaults to one degree", action: "AdjustUpTemperature", entityID: "climate.ac",
			wantDomain: "climate", wantService: "set_temperature",
			wantData: map[string]any{"temperature": 25.0},
		},
		{
			name: "adjust down by value", action: "AdjustDownTemperature", entityID: "climate.ac",
			extra:      map[string]any{"value": 2.0},
			wantDomain: "climate", wantService: "set_temperature",
			wantData: map[string]any{"temperature": 22.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFakeHost(state("climate.ac", "cool", entity.Attributes{"temperature": 24.0}))
			payload := Payload{DeviceID: tt.entityID, Extra: tt.extra}

			result, err := newControlHandler().control(context.Background(), h, tt.action, payload)
			if err != nil {
				t.Fatalf("control() error = %v", err)
			}
			if len(result) != 0 {
				t.Errorf("control() result = %v, want empty", result)
			}

			call, ok := h.lastCall()
			if !ok {
				t.Fatal("no service call recorded")
			}
			if call.domain != tt.wantDomain || call.service != tt.wantService {
				t.Errorf("called %s.%s, want %s.%s", call.domain, call.service, tt.wantDomain, tt.wantService)
			}
			if call.data[entity.AttrEntityID] != tt.entityID {
				t.Errorf("data entity_id = %v, want %s", call.data[entity.AttrEntityID], tt.entityID)
			}
			for k, want := range tt.wantData {
				if call.data[k] != want {
					t.Errorf("data[%s] = %v, want %v", k, call.data[k], want)
				}
			}
		})
	}
}

func TestControl_Errors(t *testing.T) {
	tests := []struct {
		name     string
		action   string
		payload  Payload
		setup    func(*fakeHost)
		wantCode ErrorCode
	}{
		{
			name: "missing device id", action: "TurnOn",
			wantCode: ErrInvalidateParams,
		},
		{
			name: "missing temperature", action: "SetTemperature",
			payload:  Payload{DeviceID: "climate.ac"},
			wantCode: ErrInvalidateParams,
		},
		{
			name: "unknown mode", action: "SetMode",
			payload:  Payload{DeviceID: "climate.ac", Extra: map[string]any{"value": "turbo"}},
			wantCode: ErrInvalidateParams,
		},
		{
			name: "adjust unknown entity", action: "AdjustUpTemperature",
			payload:  Payload{DeviceID: "climate.missing"},
			wantCode: ErrDeviceNotExist,
		},
		{
			name: "host did not act", action: "TurnOn",
			payload:  Payload{DeviceID: "light.x"},
			setup:    func(h *fakeHost) { h.callOK = false },
			wantCode: ErrDeviceOffline,
		},
		{
			name: "host call failed", action: "TurnOn",
			payload:  Payload{DeviceID: "light.x"},
			setup:    func(h *fakeHost) { h.callErr = errors.New("boom") },
			wantCode: ErrDeviceOffline,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFakeHost(state("climate.ac", "cool", entity.Attributes{"temperature": 24.0}))
			if tt.setup != nil {
				tt.setup(h)
			}

			_, err := newControlHandler().control(context.Background(), h, tt.action, tt.payload)
			var perr *ErrorPayload
			if !errors.As(err, &perr) {
				t.Fatalf("control() error = %v, want *ErrorPayload", err)
			}
			if perr.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", perr.Code, tt.wantCode)
			}
		})
	}
}
