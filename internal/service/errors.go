package service

import "errors"

var (
	// ErrServiceNotFound is returned when no handler is registered and the
	// call cannot be forwarded over MQTT.
	ErrServiceNotFound = errors.New("service: not found")

	// ErrInvalidCall is returned for calls without a domain or service.
	ErrInvalidCall = errors.New("service: invalid call")
)
