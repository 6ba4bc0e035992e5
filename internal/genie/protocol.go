package genie

import (
	"encoding/json"
)

// Namespaces of the AliGenie smart-home protocol.
const (
	NamespaceDiscovery = "AliGenie.Iot.Device.Discovery"
	NamespaceControl   = "AliGenie.Iot.Device.Control"
	NamespaceQuery     = "AliGenie.Iot.Device.Query"
)

// Header is the message header shared by requests and responses.
type Header struct {
	Namespace      string `json:"namespace"`
	Name           string `json:"name"`
	MessageID      string `json:"messageId"`
	PayLoadVersion int    `json:"payLoadVersion,omitempty"`
}

// Payload is the request payload. Fields other than the known ones are kept
// in Extra, e.g. "value" on SetTemperature.
type Payload struct {
	AccessToken string
	DeviceID    string
	DeviceType  string
	Extra       map[string]any
}

var knownPayloadKeys = []string{"accessToken", "deviceId", "deviceType"}

// UnmarshalJSON decodes the known fields and collects the rest into Extra.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.AccessToken = stringValue(raw["accessToken"])
	p.DeviceID = stringValue(raw["deviceId"])
	p.DeviceType = stringValue(raw["deviceType"])
	for _, k := range knownPayloadKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		p.Extra = raw
	}
	return nil
}

// MarshalJSON writes the known fields alongside Extra.
func (p Payload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+3)
	for k, v := range p.Extra {
		out[k] = v
	}
	if p.AccessToken != "" {
		out["accessToken"] = p.AccessToken
	}
	if p.DeviceID != "" {
		out["deviceId"] = p.DeviceID
	}
	if p.DeviceType != "" {
		out["deviceType"] = p.DeviceType
	}
	return json.Marshal(out)
}

// Value returns the "value" field of the payload, if any.
func (p Payload) Value() (any, bool) {
	v, ok := p.Extra["value"]
	return v, ok
}

// Request is an inbound AliGenie message.
type Request struct {
	Header  Header  `json:"header"`
	Payload Payload `json:"payload"`
}

// Response is the envelope returned for every request.
//
// Payload carries the namespace result or an error object; Properties is
// only set on successful queries.
type Response struct {
	Header     Header         `json:"header"`
	Payload    map[string]any `json:"payload"`
	Properties []Property     `json:"properties,omitempty"`
}

// Property is a name/value pair reported by discovery and query.
type Property struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Device is one discovered device descriptor.
type Device struct {
	DeviceID   string     `json:"deviceId"`
	DeviceName string     `json:"deviceName"`
	DeviceType string     `json:"deviceType"`
	Zone       string     `json:"zone"`
	Model      string     `json:"model"`
	Brand      string     `json:"brand"`
	Icon       string     `json:"icon"`
	Properties []Property `json:"properties"`
	Actions    []string   `json:"actions"`
}

// ErrorCode is an AliGenie error code.
type ErrorCode string

// Error codes understood by the platform.
const (
	ErrInvalidateControlOrder ErrorCode = "INVALIDATE_CONTROL_ORDER"
	ErrServiceError           ErrorCode = "SERVICE_ERROR"
	ErrDeviceNotSupport       ErrorCode = "DEVICE_NOT_SUPPORT_FUNCTION"
	ErrInvalidateParams       ErrorCode = "INVALIDATE_PARAMS"
	ErrDeviceNotExist         ErrorCode = "DEVICE_IS_NOT_EXIST"
	ErrDeviceOffline          ErrorCode = "IOT_DEVICE_OFFLINE"
	ErrAccessTokenInvalidate  ErrorCode = "ACCESS_TOKEN_INVALIDATE"
)

// The ACCESS_TOKEN_INVALIDATE message starts with a space on the wire.
var errorMessages = map[ErrorCode]string{
	ErrInvalidateControlOrder: "invalidate control order",
	ErrServiceError:           "service error",
	ErrDeviceNotSupport:       "device not support",
	ErrInvalidateParams:       "invalidate params",
	ErrDeviceNotExist:         "device is not exist",
	ErrDeviceOffline:          "device is offline",
	ErrAccessTokenInvalidate:  " access_token is invalidate",
}

// Message returns the default message of the code.
func (c ErrorCode) Message() string {
	return errorMessages[c]
}

// ErrorPayload is the payload of an ErrorResponse.
type ErrorPayload struct {
	Code    ErrorCode `json:"errorCode"`
	Message string    `json:"message"`
}

// Error lets handlers return an ErrorPayload as a Go error.
func (e *ErrorPayload) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewError builds an error payload; an empty message uses the default.
func NewError(code ErrorCode, message string) *ErrorPayload {
	if message == "" {
		message = code.Message()
	}
	return &ErrorPayload{Code: code, Message: message}
}

func (e *ErrorPayload) asMap() map[string]any {
	return map[string]any{"errorCode": string(e.Code), "message": e.Message}
}

// Catch-all messages.
const (
	messageServiceException = "service exception"
	messageJSONError        = "json error"
)

// errorResponseName is the header name of every failed response.
const errorResponseName = "ErrorResponse"

// ExceptionResponse is returned when handling fails unexpectedly.
func ExceptionResponse(header Header) *Response {
	return &Response{
		Header:  Header{Namespace: header.Namespace, Name: errorResponseName, MessageID: header.MessageID},
		Payload: NewError(ErrServiceError, messageServiceException).asMap(),
	}
}

// MalformedResponse is returned for bodies that are not a valid request.
func MalformedResponse() *Response {
	return &Response{
		Header:  Header{Name: errorResponseName},
		Payload: NewError(ErrServiceError, messageJSONError).asMap(),
	}
}

// DecodeRequest parses a request body.
func DecodeRequest(body []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
