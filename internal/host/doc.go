// Package host abstracts the home-automation host behind the voice endpoint.
//
// Two backends exist. Local serves the in-process entity and service
// registries and accepts signed voice-link tokens. REST talks to a
// Home-Assistant-compatible API whose address and bearer token are packed
// into the access token itself:
//
//	https_192.168.1.10_8123_<long-lived-token>
//
// A Connector is chosen at startup from genie.mode and resolves the token
// of every request into a Host and per-request Options.
package host
