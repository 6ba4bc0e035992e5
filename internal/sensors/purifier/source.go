package purifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/genie-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/genie-bridge/internal/sensors"
)

// ErrNoStatus is returned before the gateway has reported a status.
var ErrNoStatus = errors.New("purifier: no status")

// Source fetches the raw status vector of one purifier.
type Source interface {
	Status() ([]int, error)
}

// MQTTSource keeps the latest status a miio gateway published.
type MQTTSource struct {
	host string

	mu     sync.RWMutex
	status []int
}

// NewMQTTSource creates a source for the purifier at host.
func NewMQTTSource(host string) *MQTTSource {
	return &MQTTSource{host: host}
}

// Topic returns the status topic of the purifier.
func (s *MQTTSource) Topic() string {
	return mqtt.Topics{}.PurifierStatus(s.host)
}

// Subscribe starts receiving status updates.
func (s *MQTTSource) Subscribe(sub sensors.Subscriber) error {
	if err := sub.Subscribe(s.Topic(), 1, s.HandleMessage); err != nil {
		return fmt.Errorf("purifier %s: subscribe: %w", s.host, err)
	}
	return nil
}

// HandleMessage stores a status. The payload is the get_prop result, either
// bare or wrapped as {"result": [...]}.
func (s *MQTTSource) HandleMessage(topic string, payload []byte) error {
	if topic != s.Topic() {
		return nil
	}

	var status []int
	if err := json.Unmarshal(payload, &status); err != nil {
		var wrapped struct {
			Result []int `json:"result"`
		}
		if wrappedErr := json.Unmarshal(payload, &wrapped); wrappedErr != nil || wrapped.Result == nil {
			return fmt.Errorf("purifier %s: decoding status: %w", s.host, err)
		}
		status = wrapped.Result
	}

	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	return nil
}

// Status returns the latest status vector.
func (s *MQTTSource) Status() ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoStatus, s.host)
	}
	return append([]int(nil), s.status...), nil
}
