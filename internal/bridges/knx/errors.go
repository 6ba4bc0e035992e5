package knx

import "errors"

var (
	// ErrNotConnected is returned when knxd is not reachable.
	ErrNotConnected = errors.New("knx: not connected to knxd")

	// ErrConnectionFailed is returned when dialling or the group socket
	// handshake fails.
	ErrConnectionFailed = errors.New("knx: connection to knxd failed")

	// ErrProtocolDesync is returned when a frame from knxd cannot be
	// framed safely; the connection is dropped and re-established.
	ErrProtocolDesync = errors.New("knx: protocol desync")

	ErrInvalidGroupAddress = errors.New("knx: invalid group address")
	ErrEncodingFailed      = errors.New("knx: encoding failed")
	ErrDecodingFailed      = errors.New("knx: decoding failed")
	ErrTelegramFailed      = errors.New("knx: telegram send failed")
	ErrInvalidTelegram     = errors.New("knx: invalid telegram")

	// ErrFeatureNotSupported is returned when a climate is asked to change
	// a feature it has no group address for.
	ErrFeatureNotSupported = errors.New("knx: feature not supported")

	// ErrInvalidMode is returned for an operation or fan mode name outside
	// the device's list.
	ErrInvalidMode = errors.New("knx: invalid mode")
)
