package influxdb

import (
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementReading = "entity_reading"
	MeasurementState   = "entity_state"
)

// Reading is one numeric sample from a sensor or climate entity.
type Reading struct {
	EntityID string
	Quantity string // temperature, humidity, tds, filter_life...
	Unit     string
	Value    float64
	Time     time.Time
}

// WriteReading queues a numeric reading. It is a no-op when disconnected.
func (c *Client) WriteReading(r Reading) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(readingPoint(r))
}

// WriteState records an entity state change. Numeric states are also
// stored as a float field so they can be graphed.
func (c *Client) WriteState(entityID, state string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(statePoint(entityID, state, at))
}

func readingPoint(r Reading) *write.Point {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{
		"entity_id": r.EntityID,
		"domain":    domainOf(r.EntityID),
		"quantity":  r.Quantity,
	}
	if r.Unit != "" {
		tags["unit"] = r.Unit
	}

	return write.NewPoint(MeasurementReading, tags, map[string]interface{}{"value": r.Value}, ts)
}

func statePoint(entityID, state string, at time.Time) *write.Point {
	fields := map[string]interface{}{"state": state}
	if v, err := strconv.ParseFloat(state, 64); err == nil {
		fields["value"] = v
	}

	return write.NewPoint(MeasurementState, map[string]string{
		"entity_id": entityID,
		"domain":    domainOf(entityID),
	}, fields, at)
}

func domainOf(entityID string) string {
	domain, _, _ := strings.Cut(entityID, ".")
	return domain
}
