// Package service dispatches service calls such as light.turn_on.
//
// Integrations register handlers for the services they implement (the KNX
// climate registers climate.*). Calls with no local handler are forwarded
// to MQTT on geniebridge/command/<domain>/<object_id> so an external system
// can act on them; without MQTT they fail with ErrServiceNotFound.
//
// Every call, local or forwarded, is recorded in the audit log.
package service
