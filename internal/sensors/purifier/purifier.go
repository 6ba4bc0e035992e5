package purifier

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/genie-bridge/internal/entity"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/config"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/genie-bridge/internal/sensors"
)

const (
	unitTDS     = "TDS"
	unitPercent = "%"
	iconWater   = "mdi:water"
	iconFilter  = "mdi:filter-outline"

	stateUnavailable = "unavailable"
)

var filterNames = [4]string{
	"PP cotton filter",
	"Front active carbon filter",
	"RO filter",
	"Rear active carbon filter",
}

// Purifier caches the decoded status of one purifier.
type Purifier struct {
	host    string
	source  Source
	timeout time.Duration
	logger  sensors.Logger
	now     func() time.Time

	mu       sync.Mutex
	cache    *Status
	lastRead time.Time
}

// NewPurifier creates a purifier with an empty cache.
func NewPurifier(host string, source Source, timeout time.Duration, logger sensors.Logger) *Purifier {
	if logger == nil {
		logger = sensors.NoopLogger{}
	}
	return &Purifier{host: host, source: source, timeout: timeout, logger: logger, now: time.Now}
}

// Read returns the cached status, fetching a new one when the cache is
// empty or expired. A failed fetch clears the cache.
func (p *Purifier) Read() (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.cache == nil || now.Sub(p.lastRead) > p.timeout {
		p.lastRead = now
		p.cache = nil

		raw, err := p.source.Status()
		if err == nil {
			var s Status
			if s, err = ParseStatus(raw); err == nil {
				p.cache = &s
			}
		}
		if err != nil {
			p.logger.Warn("reading purifier status failed", "host", p.host, "error", err)
		}
	}

	if p.cache == nil {
		return Status{}, false
	}
	return *p.cache, true
}

// Sensor describes one published purifier value.
type Sensor struct {
	Name     string
	EntityID string
	Unit     string
	Icon     string
	// filter is the index into Status.Filters, or -1 for water quality.
	filter int
	tap    bool
}

func (s Sensor) value(st Status) (int, entity.Attributes) {
	attrs := entity.Attributes{
		entity.AttrFriendlyName: s.Name,
		entity.AttrUnit:         s.Unit,
		entity.AttrIcon:         s.Icon,
	}
	switch {
	case s.filter >= 0:
		f := st.Filters[s.filter]
		attrs[s.Name] = fmt.Sprintf("%d days remaining", f.DaysRemaining)
		return f.Percent, attrs
	case s.tap:
		return st.TapTDS, attrs
	default:
		return st.FilteredTDS, attrs
	}
}

// Device publishes the six sensors of one configured purifier.
type Device struct {
	purifier *Purifier
	list     []Sensor
	states   sensors.StateWriter
	readings sensors.ReadingWriter
	logger   sensors.Logger
}

// DeviceOptions wires a Device.
type DeviceOptions struct {
	Config   config.WaterPurifier
	Source   Source
	States   sensors.StateWriter
	Readings sensors.ReadingWriter
	Logger   sensors.Logger
}

// NewDevice creates the purifier sensors. Entity ids are prefixed with the
// configured name.
func NewDevice(opts DeviceOptions) (*Device, error) {
	if opts.Source == nil || opts.States == nil {
		return nil, fmt.Errorf("purifier %s: source and state writer are required", opts.Config.Host)
	}
	if opts.Logger == nil {
		opts.Logger = sensors.NoopLogger{}
	}

	cfg := opts.Config
	id := func(name string) string { return entity.MakeID("sensor", cfg.Name+" "+name) }

	list := []Sensor{
		{Name: "Tap water", EntityID: id("Tap water"), Unit: unitTDS, Icon: iconWater, filter: -1, tap: true},
		{Name: "Filtered water", EntityID: id("Filtered water"), Unit: unitTDS, Icon: iconWater, filter: -1},
	}
	for i, name := range filterNames {
		list = append(list, Sensor{Name: name, EntityID: id(name), Unit: unitPercent, Icon: iconFilter, filter: i})
	}

	return &Device{
		purifier: NewPurifier(cfg.Host, opts.Source, time.Duration(cfg.ScanInterval)*time.Second, opts.Logger),
		list:     list,
		states:   opts.States,
		readings: opts.Readings,
		logger:   opts.Logger,
	}, nil
}

// Sensors returns the published sensors.
func (d *Device) Sensors() []Sensor { return d.list }

// Update reads the purifier and publishes every sensor. Without a status
// the sensors are marked unavailable.
func (d *Device) Update(ctx context.Context) {
	status, ok := d.purifier.Read()
	now := time.Now()

	for _, s := range d.list {
		if ctx.Err() != nil {
			return
		}

		if !ok {
			attrs := entity.Attributes{entity.AttrFriendlyName: s.Name, entity.AttrUnit: s.Unit, entity.AttrIcon: s.Icon}
			if _, err := d.states.Set(ctx, s.EntityID, stateUnavailable, attrs); err != nil {
				d.logger.Warn("publishing purifier state failed", "entity_id", s.EntityID, "error", err)
			}
			continue
		}

		v, attrs := s.value(status)
		if _, err := d.states.Set(ctx, s.EntityID, strconv.Itoa(v), attrs); err != nil {
			d.logger.Warn("publishing purifier state failed", "entity_id", s.EntityID, "error", err)
			continue
		}
		if d.readings != nil {
			d.readings.WriteReading(influxdb.Reading{
				EntityID: s.EntityID,
				Quantity: quantity(s),
				Unit:     s.Unit,
				Value:    float64(v),
				Time:     now,
			})
		}
	}
}

func quantity(s Sensor) string {
	if s.filter >= 0 {
		return "filter_life"
	}
	return "tds"
}
