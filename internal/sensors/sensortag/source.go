package sensortag

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/genie-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/genie-bridge/internal/sensors"
)

// ErrNoReading is returned when a sensor has not reported yet.
var ErrNoReading = errors.New("sensortag: no reading")

// Source reads the raw values of one tag sensor.
type Source interface {
	Read(sensorName string) ([]float64, error)
}

// MQTTSource keeps the latest gateway reading per sensor of one tag.
type MQTTSource struct {
	mac string

	mu       sync.RWMutex
	readings map[string][]float64
}

// NewMQTTSource creates a source for the tag with the given MAC address.
func NewMQTTSource(mac string) *MQTTSource {
	return &MQTTSource{mac: mac, readings: make(map[string][]float64)}
}

// Subscribe starts receiving readings for the tag.
func (s *MQTTSource) Subscribe(sub sensors.Subscriber) error {
	if err := sub.Subscribe(mqtt.Topics{}.AllSensorTagReadings(s.mac), 1, s.HandleMessage); err != nil {
		return fmt.Errorf("sensortag %s: subscribe: %w", s.mac, err)
	}
	return nil
}

// HandleMessage stores a reading. The payload is a JSON number array or a
// single number.
func (s *MQTTSource) HandleMessage(topic string, payload []byte) error {
	mac, sensor, err := mqtt.ParseSensorTagReading(topic)
	if err != nil {
		return err
	}
	if mac != s.mac {
		return nil
	}

	var values []float64
	if err := json.Unmarshal(payload, &values); err != nil {
		var v float64
		if scalarErr := json.Unmarshal(payload, &v); scalarErr != nil {
			return fmt.Errorf("sensortag %s/%s: decoding reading: %w", mac, sensor, err)
		}
		values = []float64{v}
	}

	s.mu.Lock()
	s.readings[sensor] = values
	s.mu.Unlock()
	return nil
}

// Read returns the latest reading of sensorName.
func (s *MQTTSource) Read(sensorName string) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.readings[sensorName]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrNoReading, sensorName, s.mac)
	}
	return append([]float64(nil), v...), nil
}
