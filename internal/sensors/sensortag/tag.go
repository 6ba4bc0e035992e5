package sensortag

import (
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/genie-bridge/internal/sensors"
)

// Tag caches the formatted readings of one SensorTag.
type Tag struct {
	mac     string
	source  Source
	timeout time.Duration
	logger  sensors.Logger
	now     func() time.Time

	mu         sync.Mutex
	registered []string
	cache      map[string]string
	lastRead   time.Time
}

// NewTag creates a tag whose first read always hits the source.
func NewTag(mac string, source Source, timeout time.Duration, logger sensors.Logger) *Tag {
	if logger == nil {
		logger = sensors.NoopLogger{}
	}
	t := &Tag{
		mac:     mac,
		source:  source,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
		cache:   make(map[string]string),
	}
	t.lastRead = t.now().Add(-timeout - time.Second)
	return t
}

// Enable registers a tag sensor. Unknown sensors are ignored.
func (t *Tag) Enable(sensorName string) bool {
	if _, ok := conditionBySensor(sensorName); !ok {
		t.logger.Info("sensor not supported", "sensor", sensorName, "mac", t.mac)
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !slices.Contains(t.registered, sensorName) {
		t.registered = append(t.registered, sensorName)
	}
	return true
}

// Read returns the cached reading of sensorName, refreshing the cache when
// it expired. With force only sensorName is refreshed, on every call.
func (t *Tag) Read(sensorName string, force bool) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !slices.Contains(t.registered, sensorName) {
		t.logger.Info("sensor not enabled", "sensor", sensorName, "mac", t.mac)
		return "", false
	}

	now := t.now()
	if force || now.Sub(t.lastRead) > t.timeout {
		t.lastRead = now
		for _, name := range t.registered {
			if force && name != sensorName {
				continue
			}
			t.refresh(name)
		}
	}

	v, ok := t.cache[sensorName]
	return v, ok
}

// refresh reads one sensor into the cache, keeping the old value on error.
func (t *Tag) refresh(name string) {
	cond, _ := conditionBySensor(name)
	raw, err := t.source.Read(name)
	if err != nil {
		t.logger.Info("read error", "sensor", name, "mac", t.mac, "error", err)
		return
	}
	v, err := cond.extract(raw)
	if err != nil {
		t.logger.Info("read error", "sensor", name, "mac", t.mac, "error", err)
		return
	}
	t.cache[name] = v
}
