// Package knx drives KTS climate devices (air conditioners and floor
// heating) on a KNX bus through the knxd daemon.
//
// The knxd client opens a group socket (EIB_OPEN_GROUPCON) over TCP or a
// Unix socket and exchanges group telegrams. Each configured Climate
// decodes the telegrams for its group addresses, publishes a climate.*
// entity into the entity registry and registers the climate services.
//
// Supported datapoint types:
//
//   - DPT 1.001: switch (on/off)
//   - DPT 5.010: 1-byte counter (operation and fan mode)
//   - DPT 9.001: 2-byte float temperature
//
// Group addresses use the 3-level format main/middle/sub, e.g. "1/2/3".
package knx
