package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/genie-bridge/internal/auth"
	"github.com/nerrad567/genie-bridge/internal/entity"
	"github.com/nerrad567/genie-bridge/internal/service"
)

// Local serves requests from the in-process entity and service registries.
type Local struct {
	entities *entity.Registry
	services *service.Registry
	source   string
}

// NewLocal creates a local host. source is recorded with every service call.
func NewLocal(entities *entity.Registry, services *service.Registry, source string) *Local {
	return &Local{entities: entities, services: services, source: source}
}

// States returns every entity sorted by id.
func (l *Local) States(ctx context.Context) ([]entity.State, error) {
	return l.entities.All(ctx), nil
}

// State returns one entity.
func (l *Local) State(ctx context.Context, entityID string) (*entity.State, error) {
	s, err := l.entities.Get(ctx, entityID)
	if errors.Is(err, entity.ErrEntityNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	return s, err
}

// CallService dispatches through the service registry.
func (l *Local) CallService(ctx context.Context, domain, svc string, data map[string]any) (bool, error) {
	return l.services.Call(ctx, service.Call{
		Domain:  domain,
		Service: svc,
		Data:    data,
		Source:  l.source,
	})
}

// TokenValidator checks voice-link tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// LocalConnector validates signed tokens and hands out the local host.
// With a fallback set, tokens in the REST descriptor form are passed to it.
type LocalConnector struct {
	host       Host
	validator  TokenValidator
	checkAlias bool
	fallback   Connector
}

// NewLocalConnector creates a connector for the local host.
func NewLocalConnector(h Host, validator TokenValidator, checkAlias bool) *LocalConnector {
	return &LocalConnector{host: h, validator: validator, checkAlias: checkAlias}
}

// WithRESTFallback accepts scheme_host_port_token descriptors as well.
func (c *LocalConnector) WithRESTFallback(rest Connector) *LocalConnector {
	c.fallback = rest
	return c
}

// Connect validates token.
func (c *LocalConnector) Connect(ctx context.Context, token string) (Host, Options, error) {
	if token == "" {
		return nil, Options{}, ErrInvalidToken
	}
	if c.fallback != nil && IsRESTToken(token) {
		return c.fallback.Connect(ctx, token)
	}

	if _, err := c.validator.Validate(token); err != nil {
		return nil, Options{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return c.host, Options{CheckAlias: c.checkAlias}, nil
}
