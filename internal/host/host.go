package host

import (
	"context"
	"errors"

	"github.com/nerrad567/genie-bridge/internal/entity"
)

// Host is the entity/state/service registry the voice endpoint talks to.
type Host interface {
	// States returns a snapshot of every entity state.
	States(ctx context.Context) ([]entity.State, error)

	// State returns one entity, or an error wrapping ErrNotFound.
	State(ctx context.Context, entityID string) (*entity.State, error)

	// CallService runs domain.service with data. The bool reports whether
	// the host acted on the call.
	CallService(ctx context.Context, domain, service string, data map[string]any) (bool, error)
}

// Options are per-request settings carried by the access token.
type Options struct {
	// CheckAlias makes discovery validate device names against the
	// platform's alias list.
	CheckAlias bool
}

// Connector turns an access token into a Host for one request.
type Connector interface {
	Connect(ctx context.Context, token string) (Host, Options, error)
}

var (
	// ErrInvalidToken is returned by connectors for rejected tokens.
	ErrInvalidToken = errors.New("host: invalid access token")

	// ErrNotFound is returned when an entity does not exist on the host.
	ErrNotFound = errors.New("host: entity not found")

	// ErrRequestFailed wraps transport and HTTP status failures of the REST host.
	ErrRequestFailed = errors.New("host: request failed")
)
