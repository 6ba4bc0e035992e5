package genie

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/genie-bridge/internal/entity"
	"github.com/nerrad567/genie-bridge/internal/host"
)

// fakeHost is an in-memory host.Host that records service calls.
type fakeHost struct {
	mu        sync.Mutex
	states    []entity.State
	calls     []fakeCall
	callOK    bool
	callErr   error
	statesErr error
}

type fakeCall struct {
	domain  string
	service string
	data    map[string]any
}

func newFakeHost(states ...entity.State) *fakeHost {
	return &fakeHost{states: states, callOK: true}
}

func (f *fakeHost) States(context.Context) ([]entity.State, error) {
	if f.statesErr != nil {
		return nil, f.statesErr
	}
	return f.states, nil
}

func (f *fakeHost) State(_ context.Context, id string) (*entity.State, error) {
	for i := range f.states {
		if f.states[i].EntityID == id {
			s := f.states[i]
			return &s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", host.ErrNotFound, id)
}

func (f *fakeHost) CallService(_ context.Context, domain, svc string, data map[string]any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{domain: domain, service: svc, data: data})
	return f.callOK, f.callErr
}

func (f *fakeHost) lastCall() (fakeCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return fakeCall{}, false
	}
	return f.calls[len(f.calls)-1], true
}

// fakeConnector accepts a single token.
type fakeConnector struct {
	token string
	host  host.Host
	opts  host.Options
}

func (c *fakeConnector) Connect(_ context.Context, token string) (host.Host, host.Options, error) {
	if token != c.token {
		return nil, host.Options{}, host.ErrInvalidToken
	}
	return c.host, c.opts, nil
}

func state(id, value string, attrs entity.Attributes) entity.State {
	return entity.State{EntityID: id, State: value, Attributes: attrs}
}
