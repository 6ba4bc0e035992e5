package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/genie-bridge/internal/auth"
	"github.com/nerrad567/genie-bridge/internal/entity"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/logging"
)

const testSecret = "test-secret-for-development-only-0123456789"

func writeConfig(t *testing.T, users string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
site:
  id: test-site

database:
  path: "` + filepath.Join(t.TempDir(), "geniebridge.db") + `"

security:
  jwt:
    secret: "` + testSecret + `"
  users:
` + users
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("GENIEBRIDGE_CONFIG", "")
	if got := resolveConfigPath(""); got != defaultConfigPath {
		t.Errorf("resolveConfigPath() = %q, want default", got)
	}

	t.Setenv("GENIEBRIDGE_CONFIG", "/etc/geniebridge.yaml")
	if got := resolveConfigPath(""); got != "/etc/geniebridge.yaml" {
		t.Errorf("resolveConfigPath() = %q, want env path", got)
	}
	if got := resolveConfigPath("local.yaml"); got != "local.yaml" {
		t.Errorf("resolveConfigPath(flag) = %q, want local.yaml", got)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.HasPrefix(out, "geniebridge "+version) {
		t.Errorf("version output = %q", out)
	}
}

func TestHashPasswordCommand(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{"argument", "", []string{"hash-password", "hunter2"}},
		{"stdin", "hunter2\n", []string{"hash-password"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.stdin, tt.args...)
			if err != nil {
				t.Fatalf("hash-password error: %v", err)
			}
			ok, err := auth.VerifyPassword("hunter2", strings.TrimSpace(out))
			if err != nil || !ok {
				t.Errorf("printed hash does not verify: %v", err)
			}
		})
	}

	if _, err := execute(t, "", "hash-password"); err == nil {
		t.Error("hash-password with empty stdin should fail")
	}
}

func TestIssueTokenCommand(t *testing.T) {
	hash, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, "    - username: alice\n      password_hash: \""+hash+"\"\n")

	out, err := execute(t, "", "issue-token", "--config", path, "alice")
	if err != nil {
		t.Fatalf("issue-token error: %v", err)
	}
	claims, err := auth.ParseToken(strings.TrimSpace(out), testSecret)
	if err != nil {
		t.Fatalf("printed token does not parse: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("subject = %q, want alice", claims.Subject)
	}

	if _, err := execute(t, "", "issue-token", "--config", path, "mallory"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v, want ErrInvalidCredentials", err)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

type fakeSetter struct {
	mu    sync.Mutex
	calls []entity.State
	err   error
}

func (f *fakeSetter) Set(_ context.Context, id, state string, attrs entity.Attributes) (*entity.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := entity.State{EntityID: id, State: state, Attributes: attrs}
	f.calls = append(f.calls, s)
	return &s, nil
}

func TestIngestHandler(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr bool
	}{
		{"state and attributes", "geniebridge/state/light.kitchen", `{"state":"on","attributes":{"brightness":200}}`, false},
		{"state only", "geniebridge/state/sensor.outside", `{"state":"12.5"}`, false},
		{"empty state", "geniebridge/state/light.kitchen", `{"attributes":{}}`, true},
		{"bad json", "geniebridge/state/light.kitchen", `on`, true},
		{"bad topic", "geniebridge/out/light.kitchen", `{"state":"on"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setter := &fakeSetter{}
			err := ingestHandler(setter, logging.Discard())(tt.topic, []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("handler error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if len(setter.calls) != 0 {
					t.Errorf("registry written on error: %v", setter.calls)
				}
				return
			}
			if len(setter.calls) != 1 || setter.calls[0].EntityID != strings.TrimPrefix(tt.topic, "geniebridge/state/") {
				t.Errorf("Set calls = %v", setter.calls)
			}
		})
	}

	setter := &fakeSetter{}
	_ = ingestHandler(setter, logging.Discard())("geniebridge/state/sensor.outside", []byte(`{"state":"12.5"}`))
	if setter.calls[0].Attributes != nil {
		t.Error("state-only payload should leave attributes nil so existing ones are kept")
	}
}

type fakeHub struct{ changes []entity.Change }

func (f *fakeHub) PublishChange(c entity.Change) { f.changes = append(f.changes, c) }

type published struct {
	topic    string
	payload  []byte
	value    any
	retained bool
}

type fakePublisher struct {
	mu      sync.Mutex
	msgs    []published
	blocked chan struct{}
}

func (f *fakePublisher) record(p published) {
	if f.blocked != nil {
		<-f.blocked
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, p)
}

func (f *fakePublisher) PublishJSON(topic string, v any, retained bool) error {
	f.record(published{topic: topic, value: v, retained: retained})
	return nil
}

func (f *fakePublisher) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.record(published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (f *fakePublisher) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestChangeFanout(t *testing.T) {
	hub := &fakeHub{}
	pub := &fakePublisher{}
	fanout := newChangeFanout(hub, pub, nil, logging.Discard())
	listener := fanout.Listener()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fanout.Run(ctx)

	listener(entity.Change{
		EntityID: "light.kitchen",
		New:      &entity.State{EntityID: "light.kitchen", State: "on"},
	})
	listener(entity.Change{
		EntityID: "light.kitchen",
		Old:      &entity.State{EntityID: "light.kitchen", State: "on"},
	})

	if len(hub.changes) != 2 {
		t.Errorf("hub changes = %d, want 2", len(hub.changes))
	}
	waitFor(t, func() bool { return len(pub.messages()) == 2 }, "expected 2 published messages")

	msgs := pub.messages()
	first := msgs[0]
	if first.topic != "geniebridge/out/light.kitchen" || !first.retained {
		t.Errorf("first message = %+v", first)
	}
	if p, ok := first.value.(statePayload); !ok || p.State != "on" {
		t.Errorf("first payload = %#v", first.value)
	}

	if cleared := msgs[1]; cleared.payload != nil || !cleared.retained {
		t.Errorf("removal should clear the retained message, got %+v", cleared)
	}
}

func TestChangeFanoutListenerDoesNotWaitForPublish(t *testing.T) {
	hub := &fakeHub{}
	pub := &fakePublisher{blocked: make(chan struct{})}
	fanout := newChangeFanout(hub, pub, nil, logging.Discard())
	listener := fanout.Listener()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fanout.Run(ctx)

	done := make(chan struct{})
	go func() {
		for i := range changeQueueSize + 10 {
			listener(entity.Change{
				EntityID: "sensor.outside",
				New:      &entity.State{EntityID: "sensor.outside", State: strconv.Itoa(i)},
			})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener blocked on a stalled publisher")
	}
	if len(hub.changes) != changeQueueSize+10 {
		t.Errorf("hub changes = %d, want every change", len(hub.changes))
	}

	close(pub.blocked)
	waitFor(t, func() bool { return len(pub.messages()) > 0 }, "queued changes should publish once the publisher recovers")
}
