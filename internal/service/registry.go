package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/nerrad567/genie-bridge/internal/audit"
	"github.com/nerrad567/genie-bridge/internal/entity"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/mqtt"
)

// Call is one service invocation, e.g. light.turn_on with
// {"entity_id": "light.kitchen"}.
type Call struct {
	Domain  string         `json:"domain"`
	Service string         `json:"service"`
	Data    map[string]any `json:"data,omitempty"`

	// Source names the caller for the audit log (aligenie, api, script).
	Source string `json:"-"`
}

// Handler executes a call. The bool reports whether the target acted.
type Handler func(ctx context.Context, call Call) (bool, error)

// Publisher is the subset of the MQTT client used to forward calls.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Logger defines the logging interface used by the Registry.
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

type key struct{ domain, service string }

// Registry dispatches service calls to registered handlers. Calls without
// a handler are forwarded to MQTT when a publisher is set.
type Registry struct {
	handlers map[key]Handler
	mu       sync.RWMutex

	publisher Publisher
	auditor   audit.Repository
	logger    Logger
}

// NewRegistry creates an empty service registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[key]Handler),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger.
func (r *Registry) SetLogger(logger Logger) { r.logger = logger }

// SetPublisher enables forwarding of unregistered calls over MQTT.
func (r *Registry) SetPublisher(p Publisher) { r.publisher = p }

// SetAuditor records every call in repo.
func (r *Registry) SetAuditor(repo audit.Repository) { r.auditor = repo }

// Register installs a handler, replacing any previous one.
func (r *Registry) Register(domain, service string, h Handler) {
	r.mu.Lock()
	r.handlers[key{domain, service}] = h
	r.mu.Unlock()
	r.logger.Debug("service registered", "domain", domain, "service", service)
}

// Has reports whether a local handler exists.
func (r *Registry) Has(domain, service string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[key{domain, service}]
	return ok
}

// Services lists registered services per domain, sorted.
func (r *Registry) Services() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string)
	for k := range r.handlers {
		out[k.domain] = append(out[k.domain], k.service)
	}
	for _, services := range out {
		sort.Strings(services)
	}
	return out
}

// Call dispatches a service call and records it in the audit log.
func (r *Registry) Call(ctx context.Context, call Call) (bool, error) {
	if call.Domain == "" || call.Service == "" {
		return false, ErrInvalidCall
	}

	r.mu.RLock()
	h, ok := r.handlers[key{call.Domain, call.Service}]
	r.mu.RUnlock()

	var (
		result bool
		err    error
	)
	if ok {
		result, err = h(ctx, call)
	} else {
		result, err = r.forward(call)
	}

	r.record(ctx, call, result, err)
	return result, err
}

type forwardedCall struct {
	ID      string         `json:"id"`
	Service string         `json:"service"`
	Data    map[string]any `json:"data"`
	Source  string         `json:"source"`
	SentAt  time.Time      `json:"sent_at"`
}

// forward publishes the call once per target entity on
// geniebridge/command/<domain>/<object_id>.
func (r *Registry) forward(call Call) (bool, error) {
	if r.publisher == nil || !r.publisher.IsConnected() {
		return false, fmt.Errorf("%w: %s.%s", ErrServiceNotFound, call.Domain, call.Service)
	}

	targets := EntityIDs(call.Data)
	if len(targets) == 0 {
		targets = []string{""}
	}

	for _, id := range targets {
		data := make(map[string]any, len(call.Data))
		for k, v := range call.Data {
			data[k] = v
		}
		if id != "" {
			data[entity.AttrEntityID] = id
		}

		payload, err := json.Marshal(forwardedCall{
			ID:      uuid.NewString(),
			Service: call.Service,
			Data:    data,
			Source:  call.Source,
			SentAt:  time.Now().UTC(),
		})
		if err != nil {
			return false, fmt.Errorf("encoding forwarded call: %w", err)
		}

		topic := mqtt.Topics{}.Command(call.Domain, id)
		if err := r.publisher.Publish(topic, payload, 1, false); err != nil {
			return false, fmt.Errorf("forwarding %s.%s: %w", call.Domain, call.Service, err)
		}
		r.logger.Debug("service call forwarded", "topic", topic, "service", call.Service)
	}
	return true, nil
}

func (r *Registry) record(ctx context.Context, call Call, result bool, callErr error) {
	if r.auditor == nil {
		return
	}

	entry := &audit.Entry{
		Domain:  call.Domain,
		Service: call.Service,
		Data:    call.Data,
		Success: result && callErr == nil,
		Source:  call.Source,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}

	// The call already happened; a cancelled request context must not drop the record.
	if err := r.auditor.Create(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Warn("failed to record service call", "domain", call.Domain, "service", call.Service, "error", err)
	}
}

// EntityIDs extracts the entity_id field of service data, which may be a
// single id, a comma-separated string or a list.
func EntityIDs(data map[string]any) []string {
	switch v := data[entity.AttrEntityID].(type) {
	case string:
		return lo.Compact(splitComma(v))
	case []string:
		return lo.Compact(v)
	case []any:
		return lo.Compact(lo.Map(v, func(item any, _ int) string {
			s, _ := item.(string)
			return s
		}))
	default:
		return nil
	}
}
