package genie

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/genie-bridge/internal/entity"
	"github.com/nerrad567/genie-bridge/internal/host"
)

const testToken = "valid-token"

func newTestHandler(h host.Host, metrics *Metrics) *Handler {
	return New(Options{
		Connector: &fakeConnector{token: testToken, host: h},
		Directory: StaticDirectory{PlaceList: testPlaces},
		Branding:  Branding{Brand: "HomeAssistant"},
		Metrics:   metrics,
	})
}

func request(namespace, name string, payload Payload) *Request {
	if payload.AccessToken == "" {
		payload.AccessToken = testToken
	}
	return &Request{
		Header:  Header{Namespace: namespace, Name: name, MessageID: "msg-1", PayLoadVersion: 1},
		Payload: payload,
	}
}

func TestHandle_Discovery(t *testing.T) {
	h := newFakeHost(state("light.living", "on", entity.Attributes{"friendly_name": "客厅灯"}))

	resp := newTestHandler(h, nil).Handle(context.Background(),
		request(NamespaceDiscovery, "DiscoveryDevices", Payload{}))

	if resp.Header.Name != "DiscoveryDevicesResponse" {
		t.Errorf("Header.Name = %q, want DiscoveryDevicesResponse", resp.Header.Name)
	}
	if resp.Header.MessageID != "msg-1" || resp.Header.Namespace != NamespaceDiscovery {
		t.Errorf("header not echoed: %+v", resp.Header)
	}
	devices, ok := resp.Payload["devices"].([]Device)
	if !ok || len(devices) != 1 || devices[0].DeviceID != "light.living" {
		t.Errorf("devices = %#v", resp.Payload["devices"])
	}
}

func TestHandle_DiscoveryNoMatches(t *testing.T) {
	resp := newTestHandler(newFakeHost(), nil).Handle(context.Background(),
		request(NamespaceDiscovery, "DiscoveryDevices", Payload{}))

	body, err := json.Marshal(resp.Payload)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(body) != `{"devices":[]}` {
		t.Errorf("payload = %s, want {\"devices\":[]}", body)
	}
}

func TestHandle_ControlEchoesDeviceID(t *testing.T) {
	h := newFakeHost()
	resp := newTestHandler(h, nil).Handle(context.Background(),
		request(NamespaceControl, "TurnOn", Payload{DeviceID: "cover.curtain1", DeviceType: "curtain"}))

	if resp.Header.Name != "TurnOnResponse" {
		t.Errorf("Header.Name = %q, want TurnOnResponse", resp.Header.Name)
	}
	want := map[string]any{"deviceId": "cover.curtain1"}
	if !reflect.DeepEqual(resp.Payload, want) {
		t.Errorf("Payload = %v, want %v", resp.Payload, want)
	}
	if call, _ := h.lastCall(); call.service != "open_cover" {
		t.Errorf("service = %q, want open_cover", call.service)
	}
}

func TestHandle_QueryProperties(t *testing.T) {
	h := newFakeHost(state("light.x", "off", nil))
	resp := newTestHandler(h, nil).Handle(context.Background(),
		request(NamespaceQuery, "Query", Payload{DeviceID: "light.x", DeviceType: "light"}))

	if resp.Header.Name != "QueryResponse" {
		t.Errorf("Header.Name = %q, want QueryResponse", resp.Header.Name)
	}
	if !reflect.DeepEqual(resp.Payload, map[string]any{"deviceId": "light.x"}) {
		t.Errorf("Payload = %v", resp.Payload)
	}
	if !reflect.DeepEqual(resp.Properties, []Property{{Name: "powerstate", Value: "off"}}) {
		t.Errorf("Properties = %v", resp.Properties)
	}
}

func TestHandle_Errors(t *testing.T) {
	tests := []struct {
		name        string
		req         *Request
		wantCode    ErrorCode
		wantMessage string
	}{
		{
			name:        "invalid token",
			req:         request(NamespaceQuery, "Query", Payload{AccessToken: "bad", DeviceID: "light.x"}),
			wantCode:    ErrAccessTokenInvalidate,
			wantMessage: " access_token is invalidate",
		},
		{
			name:        "unknown namespace",
			req:         request("AliGenie.Iot.Device.Other", "Foo", Payload{}),
			wantCode:    ErrServiceError,
			wantMessage: "service error",
		},
		{
			name:        "unavailable device",
			req:         request(NamespaceQuery, "Query", Payload{DeviceID: "light.gone"}),
			wantCode:    ErrDeviceOffline,
			wantMessage: "device is offline",
		},
	}

	h := newFakeHost(state("light.gone", "unavailable", nil))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := newTestHandler(h, nil).Handle(context.Background(), tt.req)
			if resp.Header.Name != "ErrorResponse" {
				t.Errorf("Header.Name = %q, want ErrorResponse", resp.Header.Name)
			}
			if resp.Payload["errorCode"] != string(tt.wantCode) || resp.Payload["message"] != tt.wantMessage {
				t.Errorf("Payload = %v, want %s/%q", resp.Payload, tt.wantCode, tt.wantMessage)
			}
			if tt.req.Payload.DeviceID != "" && resp.Payload["deviceId"] != tt.req.Payload.DeviceID {
				t.Errorf("deviceId not echoed: %v", resp.Payload)
			}
		})
	}
}

// panicHost blows up on any call.
type panicHost struct{ fakeHost }

func (*panicHost) States(context.Context) ([]entity.State, error) { panic("kaboom") }

func TestHandle_PanicBecomesServiceException(t *testing.T) {
	resp := newTestHandler(&panicHost{}, nil).Handle(context.Background(),
		request(NamespaceDiscovery, "DiscoveryDevices", Payload{}))

	want := &Response{
		Header:  Header{Namespace: NamespaceDiscovery, Name: "ErrorResponse", MessageID: "msg-1"},
		Payload: map[string]any{"errorCode": "SERVICE_ERROR", "message": "service exception"},
	}
	if !reflect.DeepEqual(resp, want) {
		t.Errorf("Handle() = %+v, want %+v", resp, want)
	}
}

// failingConnector returns a non-token error.
type failingConnector struct{}

func (failingConnector) Connect(context.Context, string) (host.Host, host.Options, error) {
	return nil, host.Options{}, errors.New("connector broken")
}

func TestHandle_UnexpectedErrorBecomesServiceException(t *testing.T) {
	handler := New(Options{Connector: failingConnector{}, Directory: StaticDirectory{}})
	resp := handler.Handle(context.Background(), request(NamespaceQuery, "Query", Payload{DeviceID: "x.y"}))

	if resp.Payload["message"] != "service exception" {
		t.Errorf("Payload = %v, want service exception", resp.Payload)
	}
}

func TestHandle_RecordsMetrics(t *testing.T) {
	metrics := NewMetrics()
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.Collectors()...)

	handler := newTestHandler(newFakeHost(state("light.x", "on", nil)), metrics)
	handler.Handle(context.Background(), request(NamespaceQuery, "Query", Payload{DeviceID: "light.x"}))
	handler.Handle(context.Background(), request(NamespaceQuery, "Query", Payload{DeviceID: "light.y"}))

	counts := requestCounts(t, reg)
	if counts[resultOK] != 1 || counts[string(ErrDeviceOffline)] != 1 {
		t.Errorf("request counts = %v, want one ok and one offline", counts)
	}
}

func TestHandle_UnknownNamespacesShareOneSeries(t *testing.T) {
	metrics := NewMetrics()
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.Collectors()...)

	handler := newTestHandler(newFakeHost(), metrics)
	for i := range 50 {
		handler.Handle(context.Background(), request(fmt.Sprintf("junk-%d", i), "Query", Payload{AccessToken: "bad"}))
	}
	handler.Handle(context.Background(), request(NamespaceDiscovery, "DiscoveryDevices", Payload{AccessToken: "bad"}))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "geniebridge_aligenie_discovered_devices" {
			continue
		}
		namespaces := map[string]bool{}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "namespace" {
					namespaces[l.GetValue()] = true
				}
			}
		}
		if len(namespaces) != 2 || !namespaces["unknown"] || !namespaces[NamespaceDiscovery] {
			t.Errorf("%s namespaces = %v, want unknown and discovery", mf.GetName(), namespaces)
		}
	}
}

func TestHandle_NilRequest(t *testing.T) {
	resp := newTestHandler(newFakeHost(), nil).Handle(context.Background(), nil)
	if resp == nil || resp.Header.Name != "ErrorResponse" {
		t.Fatalf("Handle(nil) = %+v, want ErrorResponse", resp)
	}
}

// requestCounts returns requests_total by result label.
func requestCounts(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	counts := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "geniebridge_aligenie_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" {
					counts[l.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	return counts
}

func TestDecodeRequest_KeepsExtras(t *testing.T) {
	body := `{"header":{"namespace":"AliGenie.Iot.Device.Control","name":"SetTemperature","messageId":"m","payLoadVersion":1},
	"payload":{"accessToken":"t","deviceId":"climate.ac","deviceType":"aircondition","attribute":"temperature","value":"26"}}`

	req, err := DecodeRequest([]byte(body))
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if req.Payload.DeviceID != "climate.ac" || req.Payload.AccessToken != "t" {
		t.Errorf("Payload = %+v", req.Payload)
	}
	if v, ok := req.Payload.Value(); !ok || v != "26" {
		t.Errorf("Value() = %v, %v", v, ok)
	}
	if req.Payload.Extra["attribute"] != "temperature" {
		t.Errorf("Extra = %v", req.Payload.Extra)
	}

	if _, err := DecodeRequest([]byte("{not json")); err == nil {
		t.Error("DecodeRequest() expected error for malformed body")
	}
}

func TestMalformedResponse(t *testing.T) {
	body, err := json.Marshal(MalformedResponse())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(body), `"message":"json error"`) || !strings.Contains(string(body), `"name":"ErrorResponse"`) {
		t.Errorf("MalformedResponse() = %s", body)
	}
}
