package genie

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/nerrad567/genie-bridge/internal/host"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/logging"
)

// Logger is the logging surface used by the handler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// resultOK labels successful requests in metrics.
const resultOK = "ok"

// Handler answers AliGenie requests against the host returned by its
// connector. It keeps no per-request state and is safe for concurrent use.
type Handler struct {
	connector host.Connector
	directory Directory
	branding  Branding
	logger    Logger
	metrics   *Metrics
}

// Options configure a Handler. Connector and Directory are required.
type Options struct {
	Connector host.Connector
	Directory Directory
	Branding  Branding
	Logger    Logger
	Metrics   *Metrics
}

// New creates a request handler.
func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Handler{
		connector: opts.Connector,
		directory: opts.Directory,
		branding:  opts.Branding,
		logger:    logger,
		metrics:   opts.Metrics,
	}
}

// Handle processes one request. It never returns nil; failures are reported
// in the response envelope.
func (h *Handler) Handle(ctx context.Context, req *Request) (resp *Response) {
	if req == nil {
		return MalformedResponse()
	}
	start := time.Now()
	header := req.Header

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("aligenie request panicked",
				"namespace", header.Namespace,
				"name", header.Name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			resp = ExceptionResponse(header)
		}
		h.metrics.observe(header.Namespace, resultLabel(resp), time.Since(start).Seconds())
	}()

	result, properties, err := h.dispatch(ctx, req)
	if err != nil {
		var perr *ErrorPayload
		if !errors.As(err, &perr) {
			h.logger.Error("aligenie request failed",
				"namespace", header.Namespace,
				"name", header.Name,
				"error", err,
			)
			return ExceptionResponse(header)
		}
		return h.respond(header, errorResponseName, req.Payload.DeviceID, perr.asMap(), nil)
	}
	return h.respond(header, header.Name+"Response", req.Payload.DeviceID, result, properties)
}

func (h *Handler) dispatch(ctx context.Context, req *Request) (map[string]any, []Property, error) {
	target, opts, err := h.connector.Connect(ctx, req.Payload.AccessToken)
	if err != nil {
		if errors.Is(err, host.ErrInvalidToken) {
			h.logger.Warn("rejected access token",
				"token", logging.Redact(req.Payload.AccessToken),
				"error", err,
			)
			return nil, nil, NewError(ErrAccessTokenInvalidate, "")
		}
		return nil, nil, err
	}

	switch req.Header.Namespace {
	case NamespaceDiscovery:
		devices, err := h.discover(ctx, target, opts)
		if err != nil {
			return nil, nil, err
		}
		return map[string]any{"devices": devices}, nil, nil

	case NamespaceControl:
		result, err := h.control(ctx, target, req.Header.Name, req.Payload)
		return result, nil, err

	case NamespaceQuery:
		props, err := h.query(ctx, target, req.Payload)
		if err != nil {
			return nil, nil, err
		}
		return map[string]any{}, props, nil

	default:
		h.logger.Warn("unknown aligenie namespace", "namespace", req.Header.Namespace)
		return nil, nil, NewError(ErrServiceError, "")
	}
}

func (h *Handler) discover(ctx context.Context, target host.Host, opts host.Options) ([]Device, error) {
	places, err := h.directory.Places(ctx)
	if err != nil {
		h.logger.Warn("place list unavailable", "error", err)
		return nil, NewError(ErrServiceError, "")
	}

	var aliases []Alias
	if opts.CheckAlias {
		if aliases, err = h.directory.Aliases(ctx); err != nil {
			h.logger.Warn("alias list unavailable", "error", err)
			return nil, NewError(ErrServiceError, "")
		}
	}

	states, err := target.States(ctx)
	if err != nil {
		h.logger.Warn("discovery failed to read states", "error", err)
		return nil, NewError(ErrDeviceOffline, "")
	}

	d := &discovery{places: places, aliases: aliases, branding: h.branding, logger: h.logger}
	devices := d.discover(states)
	h.metrics.setDiscovered(len(devices))
	h.logger.Info("discovery complete", "entities", len(states), "devices", len(devices))
	return devices, nil
}

// respond builds the envelope and echoes deviceId into the payload.
func (h *Handler) respond(header Header, name, deviceID string, payload map[string]any, properties []Property) *Response {
	if payload == nil {
		payload = map[string]any{}
	}
	if deviceID != "" {
		payload["deviceId"] = deviceID
	}
	header.Name = name
	return &Response{Header: header, Payload: payload, Properties: properties}
}

func resultLabel(resp *Response) string {
	if resp == nil {
		return string(ErrServiceError)
	}
	if resp.Header.Name != errorResponseName {
		return resultOK
	}
	if code, ok := resp.Payload["errorCode"].(string); ok {
		return code
	}
	return string(ErrServiceError)
}
