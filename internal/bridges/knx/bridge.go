package knx

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/genie-bridge/internal/entity"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/config"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/genie-bridge/internal/service"
)

const (
	commandTimeout = 5 * time.Second

	// interReadDelay spaces the start-up group reads to avoid flooding the bus.
	interReadDelay = 50 * time.Millisecond

	// Service data keys.
	dataTemperature   = "temperature"
	dataOperationMode = "operation_mode"
	dataFanMode       = "fan_mode"
)

// ErrUnknownClimate is returned when a service call targets an entity the
// bridge does not own.
var ErrUnknownClimate = errors.New("knx: unknown climate entity")

// StateWriter is the part of the entity registry the bridge writes to.
type StateWriter interface {
	Set(ctx context.Context, entityID, state string, attrs entity.Attributes) (*entity.State, error)
}

// ReadingWriter records numeric samples. *influxdb.Client implements it.
type ReadingWriter interface {
	WriteReading(r influxdb.Reading)
}

// Bus is a Connector that also delivers telegrams and link changes.
// *Client implements it.
type Bus interface {
	Connector
	OnTelegram(h func(Telegram))
	OnConnectionChange(h func(connected bool))
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	Bus      Bus
	Climates []config.ClimateConfig
	States   StateWriter

	// Readings is optional.
	Readings ReadingWriter
	Logger   Logger
}

// Bridge owns the configured climates: it feeds them telegrams, publishes
// their entities and serves the climate.* services.
type Bridge struct {
	bus      Bus
	states   StateWriter
	readings ReadingWriter
	logger   Logger

	climates map[string]*Climate
	order    []string

	// ctx bounds publishes triggered by bus callbacks; set by Start.
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards stopped and wg.Add against Stop.
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewBridge builds the climates from configuration.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Bus == nil || opts.States == nil {
		return nil, errors.New("knx: bus and state writer are required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	b := &Bridge{
		bus:      opts.Bus,
		states:   opts.States,
		readings: opts.Readings,
		logger:   opts.Logger,
		climates: make(map[string]*Climate, len(opts.Climates)),
	}

	for _, cfg := range opts.Climates {
		c, err := NewClimate(cfg)
		if err != nil {
			return nil, err
		}
		if _, dup := b.climates[c.EntityID()]; dup {
			return nil, fmt.Errorf("knx: duplicate climate entity %s", c.EntityID())
		}
		c.SetAvailable(opts.Bus.IsConnected())
		b.climates[c.EntityID()] = c
		b.order = append(b.order, c.EntityID())
	}
	sort.Strings(b.order)

	return b, nil
}

// Climate returns the climate for an entity id.
func (b *Bridge) Climate(entityID string) (*Climate, bool) {
	c, ok := b.climates[entityID]
	return c, ok
}

// RegisterServices installs the climate.* services.
func (b *Bridge) RegisterServices(reg *service.Registry) {
	reg.Register("climate", "turn_on", b.each(func(c *Climate, _ service.Call) (Command, error) {
		return c.TurnOn()
	}))
	reg.Register("climate", "turn_off", b.each(func(c *Climate, _ service.Call) (Command, error) {
		return c.TurnOff()
	}))
	reg.Register("climate", "set_temperature", b.each(func(c *Climate, call service.Call) (Command, error) {
		temp, ok := number(call.Data[dataTemperature])
		if !ok {
			return Command{}, fmt.Errorf("%w: temperature is required", service.ErrInvalidCall)
		}
		cmd, _, err := c.SetTargetTemperature(temp)
		return cmd, err
	}))
	reg.Register("climate", "set_operation_mode", b.each(func(c *Climate, call service.Call) (Command, error) {
		name, _ := call.Data[dataOperationMode].(string)
		return c.SetOperationMode(name)
	}))
	reg.Register("climate", "set_fan_mode", b.each(func(c *Climate, call service.Call) (Command, error) {
		name, _ := call.Data[dataFanMode].(string)
		return c.SetFanMode(name)
	}))
}

// each runs build against every target climate, sends the telegram and,
// once it is on the bus, applies the command and republishes the entity.
func (b *Bridge) each(build func(*Climate, service.Call) (Command, error)) service.Handler {
	return func(ctx context.Context, call service.Call) (bool, error) {
		ids := service.EntityIDs(call.Data)
		if len(ids) == 0 {
			ids = b.order
		}

		for _, id := range ids {
			c, ok := b.climates[id]
			if !ok {
				return false, fmt.Errorf("%w: %s", ErrUnknownClimate, id)
			}
			if !b.bus.IsConnected() {
				return false, ErrNotConnected
			}

			cmd, err := build(c, call)
			if err != nil {
				return false, err
			}

			sendCtx, cancel := context.WithTimeout(ctx, commandTimeout)
			err = b.bus.Send(sendCtx, cmd.Telegram)
			cancel()
			if err != nil {
				return false, fmt.Errorf("%s.%s on %s: %w", call.Domain, call.Service, id, err)
			}
			cmd.Apply()

			b.logger.Info("climate command sent", "entity_id", id, "service", call.Service, "ga", cmd.Telegram.Destination.String())
			b.publish(ctx, c)
		}
		return true, nil
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Start subscribes to the bus, publishes every climate and requests the
// current values of all state addresses.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))

	b.bus.OnTelegram(b.HandleTelegram)
	b.bus.OnConnectionChange(b.handleConnection)

	for _, id := range b.order {
		b.publish(ctx, b.climates[id])
	}

	if b.bus.IsConnected() {
		b.goReadAll(b.ctx)
	}

	b.logger.Info("knx bridge started", "climates", len(b.climates))
	return nil
}

// Stop cancels pending reads and waits for them. Reconnects after Stop
// no longer start reads.
func (b *Bridge) Stop() {
	b.mu.Lock()
	b.stopped = true
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// goReadAll starts readAll unless the bridge is stopped.
func (b *Bridge) goReadAll(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return false
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.readAll(ctx)
	}()
	return true
}

// readAll sends a group read to every state address.
func (b *Bridge) readAll(ctx context.Context) {
	for _, id := range b.order {
		for _, ga := range b.climates[id].StateAddresses() {
			if err := b.bus.Send(ctx, NewReadTelegram(ga)); err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logger.Warn("group read failed", "entity_id", id, "ga", ga.String(), "error", err)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(interReadDelay):
			}
		}
	}
}

// HandleTelegram routes a telegram to the climates that own its address.
func (b *Bridge) HandleTelegram(t Telegram) {
	ctx := b.context()
	for _, id := range b.order {
		c := b.climates[id]
		if !c.HasAddress(t.Destination) {
			continue
		}

		changed, err := c.Process(t)
		if err != nil {
			b.logger.Warn("cannot decode telegram", "entity_id", id, "ga", t.Destination.String(), "error", err)
			continue
		}
		if changed {
			b.publish(ctx, c)
		}
	}
}

func (b *Bridge) handleConnection(connected bool) {
	ctx := b.context()
	for _, id := range b.order {
		c := b.climates[id]
		c.SetAvailable(connected)
		b.publish(ctx, c)
	}

	if connected {
		b.goReadAll(ctx)
	}
}

func (b *Bridge) context() context.Context {
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

// publish writes the climate entity and its temperature readings.
func (b *Bridge) publish(ctx context.Context, c *Climate) {
	state, attrs := c.State()
	if _, err := b.states.Set(ctx, c.EntityID(), state, attrs); err != nil {
		b.logger.Error("failed to publish climate state", "entity_id", c.EntityID(), "error", err)
		return
	}

	if b.readings == nil {
		return
	}
	now := time.Now()
	if v, ok := c.CurrentTemperature(); ok {
		b.readings.WriteReading(influxdb.Reading{
			EntityID: c.EntityID(), Quantity: "temperature", Unit: unitCelsius, Value: v, Time: now,
		})
	}
	if v, ok := c.TargetTemperature(); ok {
		b.readings.WriteReading(influxdb.Reading{
			EntityID: c.EntityID(), Quantity: "target_temperature", Unit: unitCelsius, Value: v, Time: now,
		})
	}
}
