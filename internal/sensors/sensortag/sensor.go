package sensortag

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/nerrad567/genie-bridge/internal/entity"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/config"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/genie-bridge/internal/sensors"
)

// Sensor is one monitored condition, median-filtered over the last
// medianCount readings.
type Sensor struct {
	tag         *Tag
	cond        Condition
	name        string
	entityID    string
	force       bool
	medianCount int

	data  []string
	state string
}

// NewSensor creates the sensor for cond, named "<prefix> <condition>".
func NewSensor(tag *Tag, cond Condition, prefix string, median int, force bool) *Sensor {
	if median < 1 {
		median = 1
	}
	name := fmt.Sprintf("%s %s", prefix, cond.Name)
	return &Sensor{
		tag:         tag,
		cond:        cond,
		name:        name,
		entityID:    entity.MakeID("sensor", name),
		force:       force,
		medianCount: median,
	}
}

// EntityID returns the sensor entity id.
func (s *Sensor) EntityID() string { return s.entityID }

// State returns the filtered reading, empty until the first reading.
func (s *Sensor) State() string { return s.state }

// Update reads the tag and feeds the median filter.
func (s *Sensor) Update() {
	if v, ok := s.tag.Read(s.cond.SensorName, s.force); ok {
		s.data = append(s.data, v)
	} else {
		s.tag.logger.Info("no data received", "sensor", s.name)
	}

	if len(s.data) > s.medianCount {
		s.data = s.data[len(s.data)-s.medianCount:]
	}

	switch {
	case len(s.data) == s.medianCount:
		sorted := slices.Clone(s.data)
		slices.SortFunc(sorted, compareNumeric)
		s.state = sorted[(s.medianCount-1)/2]
	case len(s.data) > 0:
		s.state = s.data[0]
	}
}

// Attributes returns the entity attributes.
func (s *Sensor) Attributes() entity.Attributes {
	return entity.Attributes{
		entity.AttrFriendlyName: s.name,
		entity.AttrUnit:         s.cond.Unit,
		entity.AttrIcon:         s.cond.Icon,
		entity.AttrDeviceClass:  s.cond.Name,
	}
}

func compareNumeric(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA != nil || errB != nil {
		return cmp.Compare(a, b)
	}
	return cmp.Compare(fa, fb)
}

// Device is one configured SensorTag with its sensors.
type Device struct {
	tag      *Tag
	list     []*Sensor
	states   sensors.StateWriter
	readings sensors.ReadingWriter
	logger   sensors.Logger
}

// DeviceOptions wires a Device.
type DeviceOptions struct {
	Config   config.SensorTag
	Source   Source
	States   sensors.StateWriter
	Readings sensors.ReadingWriter
	Logger   sensors.Logger
}

// NewDevice creates the tag and one sensor per monitored condition.
func NewDevice(opts DeviceOptions) (*Device, error) {
	if opts.Source == nil || opts.States == nil {
		return nil, fmt.Errorf("sensortag %s: source and state writer are required", opts.Config.MAC)
	}
	if opts.Logger == nil {
		opts.Logger = sensors.NoopLogger{}
	}

	cfg := opts.Config
	timeout := time.Duration(cfg.ScanInterval) * time.Second
	d := &Device{
		tag:      NewTag(cfg.MAC, opts.Source, timeout, opts.Logger),
		states:   opts.States,
		readings: opts.Readings,
		logger:   opts.Logger,
	}

	for _, name := range cfg.MonitoredConditions {
		cond, ok := Conditions[name]
		if !ok {
			return nil, fmt.Errorf("sensortag %s: unknown condition %q", cfg.MAC, name)
		}
		d.tag.Enable(cond.SensorName)
		d.list = append(d.list, NewSensor(d.tag, cond, cfg.Name, cfg.Median, cfg.ForceUpdate))
	}
	return d, nil
}

// Sensors returns the device sensors in configuration order.
func (d *Device) Sensors() []*Sensor { return d.list }

// Update refreshes every sensor and publishes those with a state.
func (d *Device) Update(ctx context.Context) {
	for _, s := range d.list {
		if ctx.Err() != nil {
			return
		}
		s.Update()
		state := s.State()
		if state == "" {
			continue
		}

		if _, err := d.states.Set(ctx, s.EntityID(), state, s.Attributes()); err != nil {
			d.logger.Warn("publishing sensor state failed", "entity_id", s.EntityID(), "error", err)
			continue
		}
		if d.readings == nil {
			continue
		}
		if v, err := strconv.ParseFloat(state, 64); err == nil {
			d.readings.WriteReading(influxdb.Reading{
				EntityID: s.EntityID(),
				Quantity: s.cond.Name,
				Unit:     s.cond.Unit,
				Value:    v,
				Time:     time.Now(),
			})
		}
	}
}
