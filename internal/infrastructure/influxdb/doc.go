// Package influxdb records entity readings as time series.
//
// Sensor integrations (SensorTag, water purifier, KNX climate) write numeric
// samples with WriteReading; the entity registry writes every state change
// with WriteState. Both are non-blocking and batched by the underlying
// influxdb-client-go WriteAPI.
//
// Points use two measurements:
//
//	entity_reading  tags entity_id, domain, quantity, unit   field value
//	entity_state    tags entity_id, domain                   fields state, value
package influxdb
