// Package entity holds the local entity state machine: a cached registry of
// entity states written through to SQLite, with change listeners.
//
// Entity ids have the form <domain>.<object_id>, for example light.kitchen or
// group.living_room. Groups are ordinary entities whose entity_id attribute
// lists their members. Static groups and fixed devices are loaded from a YAML
// seed file at startup; everything else is written by integrations, MQTT
// ingest or the HTTP API.
//
// Listeners registered with OnChange fan changes out to MQTT, the websocket
// hub and InfluxDB.
package entity
