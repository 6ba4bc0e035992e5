package sensortag

import (
	"errors"
	"testing"

	"github.com/nerrad567/genie-bridge/internal/infrastructure/mqtt"
)

const testMAC = "B0:B4:48:C9:4B:01"

type fakeSubscriber struct {
	topic   string
	handler mqtt.MessageHandler
	err     error
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.topic = topic
	f.handler = handler
	return f.err
}

func TestMQTTSourceSubscribe(t *testing.T) {
	src := NewMQTTSource(testMAC)
	sub := &fakeSubscriber{}
	if err := src.Subscribe(sub); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	if want := "geniebridge/gateway/sensortag/" + testMAC + "/+"; sub.topic != want {
		t.Errorf("topic = %q, want %q", sub.topic, want)
	}

	if err := sub.handler(mqtt.Topics{}.SensorTagReading(testMAC, "humidity"), []byte(`[22.1, 48.25]`)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	got, err := src.Read("humidity")
	if err != nil || len(got) != 2 || got[1] != 48.25 {
		t.Errorf("Read(humidity) = %v, %v", got, err)
	}

	sub.err = errors.New("not connected")
	if err := src.Subscribe(sub); err == nil {
		t.Error("Subscribe() should surface the client error")
	}
}

func TestMQTTSourceHandleMessage(t *testing.T) {
	topics := mqtt.Topics{}

	tests := []struct {
		name    string
		topic   string
		payload string
		sensor  string
		want    []float64
		wantErr bool
	}{
		{"array", topics.SensorTagReading(testMAC, "IRtemperature"), `[21.53, 19.2]`, "IRtemperature", []float64{21.53, 19.2}, false},
		{"scalar", topics.SensorTagReading(testMAC, "lightmeter"), `312.4`, "lightmeter", []float64{312.4}, false},
		{"other tag ignored", topics.SensorTagReading("AA:BB", "battery"), `90`, "battery", nil, false},
		{"bad payload", topics.SensorTagReading(testMAC, "battery"), `"full"`, "battery", nil, true},
		{"bad topic", "geniebridge/state/sensor.x", `1`, "battery", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewMQTTSource(testMAC)
			err := src.HandleMessage(tt.topic, []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("HandleMessage() error = %v, wantErr %v", err, tt.wantErr)
			}

			got, err := src.Read(tt.sensor)
			if tt.want == nil {
				if !errors.Is(err, ErrNoReading) {
					t.Errorf("Read() error = %v, want ErrNoReading", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Read() error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Read() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Read()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
