package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/genie-bridge/internal/audit"
	"github.com/nerrad567/genie-bridge/internal/entity"
)

type published struct {
	topic   string
	payload []byte
}

type mockPublisher struct {
	mu        sync.Mutex
	messages  []published
	connected bool
	err       error
}

func (m *mockPublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, published{topic, payload})
	return nil
}

func (m *mockPublisher) IsConnected() bool { return m.connected }

type mockAuditor struct {
	entries []audit.Entry
}

func (m *mockAuditor) Create(_ context.Context, e *audit.Entry) error {
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockAuditor) List(context.Context, audit.Filter) (*audit.ListResult, error) {
	return &audit.ListResult{Entries: m.entries}, nil
}

func TestRegistry_CallsRegisteredHandler(t *testing.T) {
	reg := NewRegistry()
	auditor := &mockAuditor{}
	reg.SetAuditor(auditor)

	var got Call
	reg.Register("light", "turn_on", func(_ context.Context, c Call) (bool, error) {
		got = c
		return true, nil
	})

	ok, err := reg.Call(context.Background(), Call{
		Domain: "light", Service: "turn_on",
		Data:   map[string]any{"entity_id": "light.kitchen"},
		Source: "aligenie",
	})
	if err != nil || !ok {
		t.Fatalf("Call() = %v, %v", ok, err)
	}
	if got.Data["entity_id"] != "light.kitchen" {
		t.Errorf("handler got %+v", got)
	}
	if len(auditor.entries) != 1 || !auditor.entries[0].Success || auditor.entries[0].Source != "aligenie" {
		t.Errorf("audit entries = %+v", auditor.entries)
	}
	if !reg.Has("light", "turn_on") || reg.Has("light", "turn_off") {
		t.Error("Has() mismatch")
	}
}

func TestRegistry_ForwardsUnregisteredOverMQTT(t *testing.T) {
	reg := NewRegistry()
	pub := &mockPublisher{connected: true}
	reg.SetPublisher(pub)

	ok, err := reg.Call(context.Background(), Call{
		Domain: "switch", Service: "turn_off",
		Data:   map[string]any{"entity_id": []any{"switch.fan", "switch.heater"}},
	})
	if err != nil || !ok {
		t.Fatalf("Call() = %v, %v", ok, err)
	}

	if len(pub.messages) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.messages))
	}
	if pub.messages[0].topic != "geniebridge/command/switch/fan" || pub.messages[1].topic != "geniebridge/command/switch/heater" {
		t.Errorf("topics = %q, %q", pub.messages[0].topic, pub.messages[1].topic)
	}

	var body forwardedCall
	if err := json.Unmarshal(pub.messages[1].payload, &body); err != nil {
		t.Fatal(err)
	}
	if body.Service != "turn_off" || body.Data["entity_id"] != "switch.heater" || body.ID == "" {
		t.Errorf("payload = %+v", body)
	}
}

func TestRegistry_NotFoundWithoutMQTT(t *testing.T) {
	tests := []struct {
		name string
		pub  Publisher
	}{
		{"no publisher", nil},
		{"disconnected", &mockPublisher{connected: false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			auditor := &mockAuditor{}
			reg.SetAuditor(auditor)
			if tt.pub != nil {
				reg.SetPublisher(tt.pub)
			}

			ok, err := reg.Call(context.Background(), Call{Domain: "vacuum", Service: "start"})
			if ok || !errors.Is(err, ErrServiceNotFound) {
				t.Errorf("Call() = %v, %v; want false, ErrServiceNotFound", ok, err)
			}
			if len(auditor.entries) != 1 || auditor.entries[0].Success || auditor.entries[0].Error == "" {
				t.Errorf("failed call not audited: %+v", auditor.entries)
			}
		})
	}
}

func TestRegistry_InvalidCall(t *testing.T) {
	if _, err := NewRegistry().Call(context.Background(), Call{Domain: "light"}); !errors.Is(err, ErrInvalidCall) {
		t.Errorf("Call() error = %v, want ErrInvalidCall", err)
	}
}

func TestRegistry_Services(t *testing.T) {
	reg := NewRegistry()
	noop := func(context.Context, Call) (bool, error) { return true, nil }
	reg.Register("climate", "turn_on", noop)
	reg.Register("climate", "set_temperature", noop)

	got := reg.Services()["climate"]
	if len(got) != 2 || got[0] != "set_temperature" || got[1] != "turn_on" {
		t.Errorf("Services() = %v", got)
	}
}

func TestEntityIDs(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want []string
	}{
		{"single", map[string]any{"entity_id": "light.a"}, []string{"light.a"}},
		{"comma", map[string]any{"entity_id": "light.a, light.b"}, []string{"light.a", "light.b"}},
		{"strings", map[string]any{"entity_id": []string{"light.a", ""}}, []string{"light.a"}},
		{"any list", map[string]any{"entity_id": []any{"light.a", 3, "light.c"}}, []string{"light.a", "light.c"}},
		{"missing", map[string]any{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EntityIDs(tt.data)
			if len(got) != len(tt.want) {
				t.Fatalf("EntityIDs() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("EntityIDs()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

type fakeStates []entity.State

func (f fakeStates) ByDomain(_ context.Context, domain string) []entity.State {
	var out []entity.State
	for _, s := range f {
		if s.Domain() == domain {
			out = append(out, s)
		}
	}
	return out
}

func TestBuiltins_TurnOffLights(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterScripts(fakeStates{
		{EntityID: "light.kitchen", State: "on"},
		{EntityID: "light.hall", State: "off"},
		{EntityID: "light.bedroom", State: "on"},
		{EntityID: "switch.fan", State: "on"},
	})

	var got []string
	reg.Register("light", "turn_off", func(_ context.Context, c Call) (bool, error) {
		got = EntityIDs(c.Data)
		return true, nil
	})

	ok, err := reg.Call(context.Background(), Call{Domain: "script", Service: "turn_off_lights"})
	if err != nil || !ok {
		t.Fatalf("Call() = %v, %v", ok, err)
	}
	if len(got) != 2 || got[0] != "light.kitchen" || got[1] != "light.bedroom" {
		t.Errorf("turned off %v", got)
	}
}

func TestBuiltins_TurnOffLightsNothingOn(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterScripts(fakeStates{{EntityID: "light.hall", State: "off"}})

	called := false
	reg.Register("light", "turn_off", func(context.Context, Call) (bool, error) {
		called = true
		return true, nil
	})

	ok, err := reg.Call(context.Background(), Call{Domain: "script", Service: "turn_off_lights"})
	if err != nil || !ok || called {
		t.Errorf("Call() = %v, %v, light.turn_off called = %v", ok, err, called)
	}
}

func TestBuiltins_HomeassistantFanOut(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterBuiltins()

	calls := map[string][]string{}
	record := func(_ context.Context, c Call) (bool, error) {
		calls[c.Domain+"."+c.Service] = EntityIDs(c.Data)
		return true, nil
	}
	reg.Register("light", "turn_off", record)
	reg.Register("cover", "close_cover", record)

	ok, err := reg.Call(context.Background(), Call{
		Domain: "homeassistant", Service: "turn_off",
		Data: map[string]any{"entity_id": []any{"light.a", "cover.curtain", "light.b"}},
	})
	if err != nil || !ok {
		t.Fatalf("Call() = %v, %v", ok, err)
	}
	if got := calls["light.turn_off"]; len(got) != 2 {
		t.Errorf("light.turn_off targets = %v", got)
	}
	if got := calls["cover.close_cover"]; len(got) != 1 || got[0] != "cover.curtain" {
		t.Errorf("cover.close_cover targets = %v", got)
	}

	if _, err := reg.Call(context.Background(), Call{Domain: "homeassistant", Service: "turn_on"}); !errors.Is(err, ErrInvalidCall) {
		t.Errorf("fan-out without targets error = %v, want ErrInvalidCall", err)
	}
}

func TestBuiltins_FanOutRejectsOwnDomain(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterBuiltins()

	called := false
	reg.Register("light", "turn_on", func(context.Context, Call) (bool, error) {
		called = true
		return true, nil
	})

	for _, svc := range []string{"turn_on", "turn_off", "toggle"} {
		t.Run(svc, func(t *testing.T) {
			ok, err := reg.Call(context.Background(), Call{
				Domain: "homeassistant", Service: svc,
				Data: map[string]any{"entity_id": []any{"light.a", "homeassistant.anything"}},
			})
			if ok || !errors.Is(err, ErrInvalidCall) {
				t.Errorf("Call() = %v, %v, want ErrInvalidCall", ok, err)
			}
		})
	}
	if called {
		t.Error("light.turn_on should not run when a target is rejected")
	}
}
