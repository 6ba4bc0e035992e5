// Package genie implements the AliGenie smart-home skill endpoint.
//
// A request carries an access token that a host.Connector turns into a host
// (the in-process registry or a remote REST API). Discovery derives device
// descriptors from entity attributes and naming conventions, Control maps
// actions to host services, and Query reports power state or the readings of
// every sensor in a zone.
//
// Handler.Handle never fails: every outcome, including panics, is reported
// inside the response envelope.
package genie
