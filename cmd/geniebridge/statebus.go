package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/genie-bridge/internal/entity"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/mqtt"
)

const ingestTimeout = 5 * time.Second

// statePayload is the JSON body of an ingested or republished state.
type statePayload struct {
	State      string            `json:"state"`
	Attributes entity.Attributes `json:"attributes,omitempty"`
}

type stateSetter interface {
	Set(ctx context.Context, entityID, state string, attrs entity.Attributes) (*entity.State, error)
}

// ingestHandler writes states other systems publish on
// geniebridge/state/<entity_id> into the registry. A payload without
// attributes keeps the current ones.
func ingestHandler(states stateSetter, log *logging.Logger) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		entityID, err := mqtt.ParseEntityState(topic)
		if err != nil {
			return err
		}

		var p statePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decoding state for %s: %w", entityID, err)
		}
		if p.State == "" {
			return fmt.Errorf("state for %s is empty", entityID)
		}

		ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
		defer cancel()
		if _, err := states.Set(ctx, entityID, p.State, p.Attributes); err != nil {
			return fmt.Errorf("ingesting %s: %w", entityID, err)
		}
		log.Debug("state ingested", "entity_id", entityID, "state", p.State)
		return nil
	}
}

type changeBroadcaster interface {
	PublishChange(change entity.Change)
}

type jsonPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// changeQueueSize bounds the changes waiting for MQTT and InfluxDB.
const changeQueueSize = 256

// changeFanout republishes every registry change to websocket clients and
// as a retained message on geniebridge/out/<entity_id>. A removed entity
// clears its retained message. States also go to InfluxDB when enabled.
//
// Listener runs under the registry's write lock, often from the MQTT
// message callback, so it only hands the change to the hub and the queue.
// Run publishes queued changes in order.
type changeFanout struct {
	hub    changeBroadcaster
	pub    jsonPublisher
	influx *influxdb.Client
	log    *logging.Logger
	topics mqtt.Topics
	queue  chan entity.Change
}

func newChangeFanout(hub changeBroadcaster, pub jsonPublisher, influx *influxdb.Client, log *logging.Logger) *changeFanout {
	return &changeFanout{
		hub:    hub,
		pub:    pub,
		influx: influx,
		log:    log,
		queue:  make(chan entity.Change, changeQueueSize),
	}
}

// Listener returns the registry listener. A full queue drops the MQTT
// republish of that change.
func (f *changeFanout) Listener() entity.Listener {
	return func(change entity.Change) {
		f.hub.PublishChange(change)

		select {
		case f.queue <- change:
		default:
			f.log.Warn("state change queue full, dropping republish", "entity_id", change.EntityID)
		}
	}
}

// Run publishes queued changes until ctx is done.
func (f *changeFanout) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-f.queue:
			f.publish(change)
		}
	}
}

func (f *changeFanout) publish(change entity.Change) {
	topic := f.topics.EntityOut(change.EntityID)
	if change.New == nil {
		if err := f.pub.Publish(topic, nil, 1, true); err != nil {
			f.log.Warn("clearing retained state failed", "entity_id", change.EntityID, "error", err)
		}
		return
	}

	out := statePayload{State: change.New.State, Attributes: change.New.Attributes}
	if err := f.pub.PublishJSON(topic, out, true); err != nil {
		f.log.Warn("publishing state change failed", "entity_id", change.EntityID, "error", err)
	}

	if f.influx != nil {
		f.influx.WriteState(change.EntityID, change.New.State, change.New.LastUpdated)
	}
}
