// Package mqtt wraps the Eclipse Paho client for the bridge.
//
// The bridge uses MQTT in four places: it ingests entity states published
// by other systems, republishes every state change, forwards service calls
// it has no local handler for, and receives readings from the SensorTag and
// miio gateways. Topic builders live in topics.go.
//
// Connect blocks until the first connection succeeds, registers a retained
// Last Will on geniebridge/system/status, and restores subscriptions on
// every reconnect. Handler panics are recovered and logged.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllEntityStates(), 1, func(topic string, payload []byte) error {
//	    id, err := mqtt.ParseEntityState(topic)
//	    ...
//	})
package mqtt
