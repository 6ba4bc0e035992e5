package purifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/genie-bridge/internal/entity"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/config"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/mqtt"
)

type fakeSource struct {
	status []int
	err    error
	calls  int
}

func (f *fakeSource) Status() ([]int, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

func TestPurifierReadCaches(t *testing.T) {
	src := &fakeSource{status: sampleStatus()}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	p := NewPurifier("192.168.1.50", src, 20*time.Minute, nil)
	p.now = func() time.Time { return now }

	if s, ok := p.Read(); !ok || s.TapTDS != 120 {
		t.Fatalf("Read() = %+v, %v", s, ok)
	}
	p.Read()
	if src.calls != 1 {
		t.Errorf("source calls within timeout = %d, want 1", src.calls)
	}

	now = now.Add(21 * time.Minute)
	src.err = errors.New("timeout")
	if _, ok := p.Read(); ok {
		t.Error("Read() after a failed fetch should report no status")
	}

	// An empty cache is refetched immediately.
	src.err = nil
	if _, ok := p.Read(); !ok {
		t.Error("Read() should refetch after a failure")
	}
	if src.calls != 3 {
		t.Errorf("source calls = %d, want 3", src.calls)
	}
}

type recordingStates struct {
	states map[string]string
	attrs  map[string]entity.Attributes
}

func (r *recordingStates) Set(_ context.Context, id, state string, attrs entity.Attributes) (*entity.State, error) {
	if r.states == nil {
		r.states = map[string]string{}
		r.attrs = map[string]entity.Attributes{}
	}
	r.states[id] = state
	r.attrs[id] = attrs
	return &entity.State{EntityID: id, State: state, Attributes: attrs}, nil
}

type recordingReadings struct{ readings []influxdb.Reading }

func (r *recordingReadings) WriteReading(rd influxdb.Reading) { r.readings = append(r.readings, rd) }

func TestDeviceUpdate(t *testing.T) {
	states := &recordingStates{}
	readings := &recordingReadings{}
	src := &fakeSource{status: sampleStatus()}

	d, err := NewDevice(DeviceOptions{
		Config:   config.WaterPurifier{Host: "192.168.1.50", Name: "Kitchen Purifier", ScanInterval: 1200},
		Source:   src,
		States:   states,
		Readings: readings,
	})
	if err != nil {
		t.Fatalf("NewDevice() error: %v", err)
	}
	if len(d.Sensors()) != 6 {
		t.Fatalf("Sensors() = %d, want 6", len(d.Sensors()))
	}

	d.Update(context.Background())

	want := map[string]string{
		"sensor.kitchen_purifier_tap_water":                  "120",
		"sensor.kitchen_purifier_filtered_water":             "8",
		"sensor.kitchen_purifier_pp_cotton_filter":           "72",
		"sensor.kitchen_purifier_front_active_carbon_filter": "76",
		"sensor.kitchen_purifier_ro_filter":                  "53",
		"sensor.kitchen_purifier_rear_active_carbon_filter":  "0",
	}
	for id, w := range want {
		if got := states.states[id]; got != w {
			t.Errorf("%s = %q, want %q", id, got, w)
		}
	}

	ro := states.attrs["sensor.kitchen_purifier_ro_filter"]
	if ro["RO filter"] != "386 days remaining" || ro[entity.AttrIcon] != "mdi:filter-outline" || ro[entity.AttrUnit] != "%" {
		t.Errorf("RO filter attributes = %v", ro)
	}
	tap := states.attrs["sensor.kitchen_purifier_tap_water"]
	if tap[entity.AttrIcon] != "mdi:water" || tap[entity.AttrUnit] != "TDS" || tap[entity.AttrFriendlyName] != "Tap water" {
		t.Errorf("tap water attributes = %v", tap)
	}

	if len(readings.readings) != 6 || readings.readings[2].Quantity != "filter_life" {
		t.Errorf("readings = %+v", readings.readings)
	}
}

func TestDeviceUpdateUnavailable(t *testing.T) {
	states := &recordingStates{}
	d, err := NewDevice(DeviceOptions{
		Config: config.WaterPurifier{Host: "192.168.1.50", Name: "Water Purifier", ScanInterval: 1200},
		Source: &fakeSource{err: ErrNoStatus},
		States: states,
	})
	if err != nil {
		t.Fatal(err)
	}

	d.Update(context.Background())
	if len(states.states) != 6 {
		t.Fatalf("published %d sensors, want 6", len(states.states))
	}
	for id, state := range states.states {
		if state != "unavailable" {
			t.Errorf("%s = %q, want unavailable", id, state)
		}
	}
}

type fakeSubscriber struct {
	topic   string
	handler mqtt.MessageHandler
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.topic = topic
	f.handler = handler
	return nil
}

func TestMQTTSource(t *testing.T) {
	src := NewMQTTSource("192.168.1.50")
	if _, err := src.Status(); !errors.Is(err, ErrNoStatus) {
		t.Errorf("Status() before any message error = %v, want ErrNoStatus", err)
	}

	sub := &fakeSubscriber{}
	if err := src.Subscribe(sub); err != nil {
		t.Fatal(err)
	}
	if sub.topic != "geniebridge/gateway/miio/192.168.1.50/status" {
		t.Errorf("topic = %q", sub.topic)
	}

	tests := []struct {
		name    string
		payload string
		wantErr bool
		wantTap int
	}{
		{"bare", `[101, 5, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 1, 0, 1, 0, 1]`, false, 101},
		{"wrapped", `{"id": 7, "result": [102, 5, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 1, 0, 1, 0, 1]}`, false, 102},
		{"garbage", `{"error": "timeout"}`, true, 102},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sub.handler(src.Topic(), []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("handler error = %v, wantErr %v", err, tt.wantErr)
			}
			status, err := src.Status()
			if err != nil {
				t.Fatal(err)
			}
			if status[0] != tt.wantTap {
				t.Errorf("tap TDS = %d, want %d", status[0], tt.wantTap)
			}
		})
	}
}
