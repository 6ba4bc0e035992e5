// Package sensortag publishes TI SensorTag readings as sensor entities.
//
// A BLE gateway publishes raw readings per tag and sensor over MQTT. A Tag
// caches them with a timeout, and every monitored condition becomes one
// median-filtered Sensor.
package sensortag

import "fmt"

// Condition describes one monitored condition and the tag sensor behind it.
type Condition struct {
	Name       string
	SensorName string
	Unit       string
	Icon       string
	// Component picks the reading element; -1 means the first element of a
	// scalar reading.
	Component int
	Format    func(float64) string
}

// Conditions maps a configured condition to its tag sensor.
var Conditions = map[string]Condition{
	"temperature": {Name: "temperature", SensorName: "IRtemperature", Unit: "°C", Icon: "mdi:thermometer", Component: 0, Format: oneDecimal},
	"illuminance": {Name: "illuminance", SensorName: "lightmeter", Unit: "lux", Icon: "mdi:weather-sunny", Component: -1, Format: oneDecimal},
	"humidity":    {Name: "humidity", SensorName: "humidity", Unit: "%rH", Icon: "mdi:water-percent", Component: 1, Format: oneDecimal},
	"pressure":    {Name: "pressure", SensorName: "barometer", Unit: "mbar", Icon: "mdi:debug-step-over", Component: 1, Format: oneDecimal},
	"battery":     {Name: "battery", SensorName: "battery", Unit: "%", Icon: "mdi:battery-bluetooth", Component: -1, Format: integer},
}

// conditionBySensor returns the condition read from a tag sensor.
func conditionBySensor(sensorName string) (Condition, bool) {
	for _, c := range Conditions {
		if c.SensorName == sensorName {
			return c, true
		}
	}
	return Condition{}, false
}

// extract formats the component of a raw reading this condition reports.
func (c Condition) extract(raw []float64) (string, error) {
	idx := c.Component
	if idx < 0 {
		idx = 0
	}
	if idx >= len(raw) {
		return "", fmt.Errorf("%s: reading has %d values, need %d", c.SensorName, len(raw), idx+1)
	}
	return c.Format(raw[idx]), nil
}

func oneDecimal(v float64) string { return fmt.Sprintf("%.1f", v) }

func integer(v float64) string { return fmt.Sprintf("%d", int(v)) }
