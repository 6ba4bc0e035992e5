package knx

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/nerrad567/genie-bridge/internal/entity"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/config"
)

// Supported feature bits published in the supported_features attribute.
const (
	SupportTargetTemperature = 1
	SupportFanMode           = 64
	SupportOperationMode     = 128
	SupportOnOff             = 4096
)

// Climate attribute keys.
const (
	AttrCurrentTemperature = "current_temperature"
	AttrTemperature        = "temperature"
	AttrTargetTempStep     = "target_temp_step"
	AttrMinTemp            = "min_temp"
	AttrMaxTemp            = "max_temp"
	AttrOperationMode      = "operation_mode"
	AttrOperationList      = "operation_list"
	AttrFanMode            = "fan_mode"
	AttrFanList            = "fan_list"
	AttrSupportedFeatures  = "supported_features"

	unitCelsius = "°C"
)

// mode maps a KTS counter value to its name.
type mode struct {
	Name  string
	Value uint8
}

var (
	operationModes = []mode{{"Cool", 1}, {"Heat", 4}, {"Fan", 3}, {"Dry", 2}}
	fanModes       = []mode{{"Low", 1}, {"Medium", 2}, {"High", 3}, {"Auto", 4}}
)

func modeNames(modes []mode) []string {
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = m.Name
	}
	return names
}

// modeName returns the name for v, or fallback for unknown values.
func modeName(modes []mode, v uint8, fallback string) string {
	for _, m := range modes {
		if m.Value == v {
			return m.Name
		}
	}
	return fallback
}

func modeValue(modes []mode, name string) (uint8, bool) {
	for _, m := range modes {
		if strings.EqualFold(m.Name, name) {
			return m.Value, true
		}
	}
	return 0, false
}

// datapoint is a command address paired with its state address.
type datapoint struct {
	command *GroupAddress
	state   *GroupAddress
}

func (d datapoint) supported() bool { return d.command != nil || d.state != nil }

func (d datapoint) matches(ga GroupAddress) bool {
	return (d.command != nil && *d.command == ga) || (d.state != nil && *d.state == ga)
}

// readAddress is where a group read should go: the state address when
// present, the command address otherwise.
func (d datapoint) readAddress() *GroupAddress {
	if d.state != nil {
		return d.state
	}
	return d.command
}

// Climate is one KTS air conditioner or floor heating zone.
//
// It tracks the last value seen on each of its group addresses. All
// methods are safe for concurrent use.
type Climate struct {
	name     string
	entityID string

	temperature   datapoint
	target        datapoint
	operationMode datapoint
	fanMode       datapoint
	onOff         datapoint

	step    float64
	minTemp float64
	maxTemp float64

	mu        sync.RWMutex
	current   *float64
	setpoint  *float64
	opValue   *uint8
	fanValue  *uint8
	on        *bool
	available bool
}

// NewClimate builds a climate from its configuration.
func NewClimate(cfg config.ClimateConfig) (*Climate, error) {
	c := &Climate{
		name:     cfg.Name,
		entityID: entity.MakeID("climate", cfg.Name),
		step:     cfg.TargetTemperatureStep,
		minTemp:  cfg.MinTemp,
		maxTemp:  cfg.MaxTemp,
	}

	pairs := []struct {
		dst            *datapoint
		command, state string
	}{
		{&c.temperature, "", cfg.TemperatureAddress},
		{&c.target, cfg.TargetTemperatureAddress, cfg.TargetTemperatureStateAddress},
		{&c.operationMode, cfg.OperationModeAddress, cfg.OperationModeStateAddress},
		{&c.fanMode, cfg.FanModeAddress, cfg.FanModeStateAddress},
		{&c.onOff, cfg.OnOffAddress, cfg.OnOffStateAddress},
	}
	for _, p := range pairs {
		var err error
		if p.dst.command, err = parseOptionalAddress(p.command); err != nil {
			return nil, fmt.Errorf("climate %q: %w", cfg.Name, err)
		}
		if p.dst.state, err = parseOptionalAddress(p.state); err != nil {
			return nil, fmt.Errorf("climate %q: %w", cfg.Name, err)
		}
	}

	return c, nil
}

// EntityID returns the climate.* entity id.
func (c *Climate) EntityID() string { return c.entityID }

// Name returns the configured name.
func (c *Climate) Name() string { return c.name }

// SupportedFeatures returns the feature bitmask.
func (c *Climate) SupportedFeatures() int {
	features := SupportTargetTemperature
	if c.operationMode.supported() {
		features |= SupportOperationMode
	}
	if c.fanMode.supported() {
		features |= SupportFanMode
	}
	if c.onOff.supported() {
		features |= SupportOnOff
	}
	return features
}

// HasAddress reports whether ga belongs to this climate.
func (c *Climate) HasAddress(ga GroupAddress) bool {
	return c.temperature.matches(ga) || c.target.matches(ga) ||
		c.operationMode.matches(ga) || c.fanMode.matches(ga) || c.onOff.matches(ga)
}

// StateAddresses lists the addresses to read for a full state sync.
func (c *Climate) StateAddresses() []GroupAddress {
	var out []GroupAddress
	for _, d := range []datapoint{c.temperature, c.target, c.onOff, c.operationMode, c.fanMode} {
		if ga := d.readAddress(); ga != nil {
			out = append(out, *ga)
		}
	}
	return out
}

// Process applies a group write or response. It reports whether the
// telegram changed anything this climate tracks.
func (c *Climate) Process(t Telegram) (bool, error) {
	if t.APCI != APCIWrite && t.APCI != APCIResponse {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	matched := false
	if c.temperature.matches(t.Destination) {
		v, err := DecodeDPT9(t.Data)
		if err != nil {
			return false, err
		}
		c.current = &v
		matched = true
	}
	if c.target.matches(t.Destination) {
		v, err := DecodeDPT9(t.Data)
		if err != nil {
			return false, err
		}
		c.setpoint = &v
		matched = true
	}
	if c.operationMode.matches(t.Destination) {
		v, err := DecodeDPT5(t.Data)
		if err != nil {
			return false, err
		}
		c.opValue = &v
		matched = true
	}
	if c.fanMode.matches(t.Destination) {
		v, err := DecodeDPT5(t.Data)
		if err != nil {
			return false, err
		}
		c.fanValue = &v
		matched = true
	}
	if c.onOff.matches(t.Destination) {
		v, err := DecodeDPT1(t.Data)
		if err != nil {
			return false, err
		}
		c.on = &v
		matched = true
	}
	return matched, nil
}

// SetAvailable records whether the bus is reachable.
func (c *Climate) SetAvailable(available bool) {
	c.mu.Lock()
	c.available = available
	c.mu.Unlock()
}

// CurrentTemperature returns the last measured temperature.
func (c *Climate) CurrentTemperature() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return 0, false
	}
	return *c.current, true
}

// TargetTemperature returns the last known setpoint.
func (c *Climate) TargetTemperature() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.setpoint == nil {
		return 0, false
	}
	return *c.setpoint, true
}

// OperationMode returns the current operation mode, "" when unsupported.
// An unknown counter value reads as Cool.
func (c *Climate) OperationMode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.operationModeLocked()
}

func (c *Climate) operationModeLocked() string {
	if !c.operationMode.supported() {
		return ""
	}
	var v uint8
	if c.opValue != nil {
		v = *c.opValue
	}
	return modeName(operationModes, v, "Cool")
}

// FanMode returns the current fan mode, "" when unsupported. An unknown
// counter value reads as Auto.
func (c *Climate) FanMode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fanModeLocked()
}

func (c *Climate) fanModeLocked() string {
	if !c.fanMode.supported() {
		return ""
	}
	var v uint8
	if c.fanValue != nil {
		v = *c.fanValue
	}
	return modeName(fanModes, v, "Auto")
}

// IsOn reports the power state; false until the device has reported.
func (c *Climate) IsOn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.on != nil && *c.on
}

// State renders the entity state and attributes.
//
// The state is "unavailable" while knxd is down, "off" when switched off,
// the lower-case operation mode when on, and "on" or "unknown" for
// devices without an operation mode.
func (c *Climate) State() (string, entity.Attributes) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	attrs := entity.Attributes{
		AttrCurrentTemperature:  floatOrNil(c.current),
		AttrTemperature:         floatOrNil(c.setpoint),
		AttrTargetTempStep:      c.step,
		AttrMinTemp:             c.minTemp,
		AttrMaxTemp:             c.maxTemp,
		AttrSupportedFeatures:   c.SupportedFeatures(),
		entity.AttrUnit:         unitCelsius,
		entity.AttrFriendlyName: c.name,
	}
	if c.operationMode.supported() {
		attrs[AttrOperationMode] = c.operationModeLocked()
		attrs[AttrOperationList] = modeNames(operationModes)
	}
	if c.fanMode.supported() {
		attrs[AttrFanMode] = c.fanModeLocked()
		attrs[AttrFanList] = modeNames(fanModes)
	}

	switch {
	case !c.available:
		return "unavailable", attrs
	case c.onOff.supported() && (c.on == nil || !*c.on):
		return "off", attrs
	case c.operationMode.supported():
		return strings.ToLower(c.operationModeLocked()), attrs
	case c.on != nil && *c.on:
		return "on", attrs
	default:
		return "unknown", attrs
	}
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// Command is a telegram for the bus together with the local change it
// implies. Apply is called once the telegram has been sent, the way the
// device would report the value back.
type Command struct {
	Telegram Telegram
	apply    func()
}

// Apply records the commanded value on the climate.
func (cmd Command) Apply() {
	if cmd.apply != nil {
		cmd.apply()
	}
}

// TurnOn builds the power-on command.
func (c *Climate) TurnOn() (Command, error) { return c.power(true) }

// TurnOff builds the power-off command.
func (c *Climate) TurnOff() (Command, error) { return c.power(false) }

func (c *Climate) power(on bool) (Command, error) {
	if c.onOff.command == nil {
		return Command{}, fmt.Errorf("%w: on/off on %s", ErrFeatureNotSupported, c.entityID)
	}

	return Command{
		Telegram: NewWriteTelegram(*c.onOff.command, EncodeDPT1(on), true),
		apply: func() {
			c.mu.Lock()
			c.on = &on
			c.mu.Unlock()
		},
	}, nil
}

// SetTargetTemperature rounds temp to the configured step, clamps it to the
// device range and builds the setpoint command.
func (c *Climate) SetTargetTemperature(temp float64) (Command, float64, error) {
	if c.target.command == nil {
		return Command{}, 0, fmt.Errorf("%w: target temperature on %s", ErrFeatureNotSupported, c.entityID)
	}

	value := c.clampTemperature(temp)
	data, err := EncodeDPT9(value)
	if err != nil {
		return Command{}, 0, err
	}

	return Command{
		Telegram: NewWriteTelegram(*c.target.command, data, false),
		apply: func() {
			c.mu.Lock()
			c.setpoint = &value
			c.mu.Unlock()
		},
	}, value, nil
}

func (c *Climate) clampTemperature(temp float64) float64 {
	if c.step > 0 {
		temp = math.Round(temp/c.step) * c.step
	}
	return math.Max(c.minTemp, math.Min(c.maxTemp, temp))
}

// SetOperationMode builds the command selecting name (Cool, Heat, Fan, Dry).
func (c *Climate) SetOperationMode(name string) (Command, error) {
	if c.operationMode.command == nil {
		return Command{}, fmt.Errorf("%w: operation mode on %s", ErrFeatureNotSupported, c.entityID)
	}
	return c.setMode(operationModes, &c.opValue, *c.operationMode.command, name)
}

// SetFanMode builds the command selecting name (Low, Medium, High, Auto).
func (c *Climate) SetFanMode(name string) (Command, error) {
	if c.fanMode.command == nil {
		return Command{}, fmt.Errorf("%w: fan mode on %s", ErrFeatureNotSupported, c.entityID)
	}
	return c.setMode(fanModes, &c.fanValue, *c.fanMode.command, name)
}

func (c *Climate) setMode(modes []mode, dst **uint8, ga GroupAddress, name string) (Command, error) {
	v, ok := modeValue(modes, name)
	if !ok {
		return Command{}, fmt.Errorf("%w: %q (want one of %s)", ErrInvalidMode, name, strings.Join(modeNames(modes), ", "))
	}

	return Command{
		Telegram: NewWriteTelegram(ga, EncodeDPT5(v), false),
		apply: func() {
			c.mu.Lock()
			*dst = &v
			c.mu.Unlock()
		},
	}, nil
}
