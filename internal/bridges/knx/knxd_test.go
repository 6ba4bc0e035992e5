package knx

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

func TestParseConnectionURL(t *testing.T) {
	tests := []struct {
		url         string
		wantNetwork string
		wantAddress string
		wantErr     bool
	}{
		{"unix:///run/knxd", "unix", "/run/knxd", false},
		{"tcp://localhost:6720", "tcp", "localhost:6720", false},
		{"tcp://192.168.1.100:6720", "tcp", "192.168.1.100:6720", false},
		{"tcp://", "tcp", "localhost:6720", false},
		{"http://localhost:6720", "", "", true},
		{"://invalid", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			network, address, err := parseConnectionURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseConnectionURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if network != tt.wantNetwork || address != tt.wantAddress {
				t.Errorf("parseConnectionURL() = %q %q, want %q %q", network, address, tt.wantNetwork, tt.wantAddress)
			}
		})
	}
}

// mockKNXD is a knxd stand-in that answers EIB_OPEN_GROUPCON and records
// the group packets it receives.
type mockKNXD struct {
	t        *testing.T
	listener net.Listener

	mu       sync.Mutex
	conns    []net.Conn
	received []Telegram
	accepted chan struct{}
}

func newMockKNXD(t *testing.T) *mockKNXD {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	m := &mockKNXD{t: t, listener: ln, accepted: make(chan struct{}, 8)}
	go m.acceptLoop()
	t.Cleanup(m.close)
	return m
}

func (m *mockKNXD) acceptLoop() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		m.mu.Lock()
		m.conns = append(m.conns, conn)
		m.mu.Unlock()
		go m.serve(conn)
	}
}

func (m *mockKNXD) serve(conn net.Conn) {
	for {
		msgType, payload, err := readFrame(conn)
		if err != nil {
			return
		}

		switch msgType {
		case EIBOpenGroupCon:
			if _, err := conn.Write(EncodeKNXDMessage(EIBOpenGroupCon, nil)); err != nil {
				return
			}
			m.accepted <- struct{}{}
		case EIBGroupPacket:
			// Send format lacks the source address; prefix one to reuse ParseTelegram.
			tel, err := ParseTelegram(append([]byte{0x11, 0x01}, payload...))
			if err != nil {
				continue
			}
			m.mu.Lock()
			m.received = append(m.received, tel)
			m.mu.Unlock()
		}
	}
}

func (m *mockKNXD) url() string { return "tcp://" + m.listener.Addr().String() }

// send delivers a telegram to the client from source 1.1.5.
func (m *mockKNXD) send(tel Telegram) {
	m.t.Helper()

	m.mu.Lock()
	conn := m.conns[len(m.conns)-1]
	m.mu.Unlock()

	payload := append([]byte{0x11, 0x05}, tel.Encode()...)
	if _, err := conn.Write(EncodeKNXDMessage(EIBGroupPacket, payload)); err != nil {
		m.t.Fatalf("mock send: %v", err)
	}
}

// dropConnections closes every client connection.
func (m *mockKNXD) dropConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		c.Close()
	}
}

func (m *mockKNXD) sent() []Telegram {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Telegram(nil), m.received...)
}

func (m *mockKNXD) close() {
	m.listener.Close()
	m.dropConnections()
}

func (m *mockKNXD) waitAccepted(t *testing.T) {
	t.Helper()
	select {
	case <-m.accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for group socket handshake")
	}
}

func connectMock(t *testing.T, m *mockKNXD) *Client {
	t.Helper()

	c, err := Connect(context.Background(), ClientConfig{
		Connection:        m.url(),
		ConnectTimeout:    time.Second,
		ReconnectInterval: 20 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	m.waitAccepted(t)
	return c
}

func eventually(t *testing.T, cond func() bool, msg string) {
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

func TestClientConnectAndSend(t *testing.T) {
	m := newMockKNXD(t)
	c := connectMock(t, m)

	if !c.IsConnected() {
		t.Fatal("IsConnected() = false after Connect")
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	ga := GroupAddress{1, 2, 3}
	if err := c.Send(context.Background(), NewWriteTelegram(ga, EncodeDPT1(true), true)); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	eventually(t, func() bool { return len(m.sent()) == 1 }, "mock did not receive the telegram")
	got := m.sent()[0]
	if got.Destination != ga || got.APCI != APCIWrite || got.Data[0] != 0x01 {
		t.Errorf("received %v", got)
	}
	if c.Stats().TelegramsTx != 1 {
		t.Errorf("TelegramsTx = %d, want 1", c.Stats().TelegramsTx)
	}
}

func TestClientReceive(t *testing.T) {
	m := newMockKNXD(t)
	c := connectMock(t, m)

	received := make(chan Telegram, 1)
	c.OnTelegram(func(tel Telegram) { received <- tel })

	m.send(NewWriteTelegram(GroupAddress{5, 0, 1}, []byte{0x0C, 0x33}, false))

	select {
	case got := <-received:
		if got.Destination != (GroupAddress{5, 0, 1}) || got.Source != "1.1.5" {
			t.Errorf("received %v from %s", got, got.Source)
		}
		if v, err := DecodeDPT9(got.Data); err != nil || v != 21.5 {
			t.Errorf("payload = %v, %v; want 21.5", v, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for telegram")
	}

	if c.Stats().TelegramsRx != 1 {
		t.Errorf("TelegramsRx = %d, want 1", c.Stats().TelegramsRx)
	}
}

func TestClientReconnects(t *testing.T) {
	m := newMockKNXD(t)
	c := connectMock(t, m)

	var (
		mu     sync.Mutex
		events []bool
	)
	c.OnConnectionChange(func(up bool) {
		mu.Lock()
		events = append(events, up)
		mu.Unlock()
	})

	m.dropConnections()
	m.waitAccepted(t)

	eventually(t, c.IsConnected, "client did not reconnect")
	if c.Stats().ReconnectsTotal != 1 {
		t.Errorf("ReconnectsTotal = %d, want 1", c.Stats().ReconnectsTotal)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] || !events[1] {
		t.Errorf("connection events = %v, want [false true]", events)
	}
}

func TestClientSendErrors(t *testing.T) {
	m := newMockKNXD(t)
	c := connectMock(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Send(ctx, NewReadTelegram(GroupAddress{1, 2, 3})); !errors.Is(err, ErrTelegramFailed) {
		t.Errorf("Send(cancelled) error = %v, want ErrTelegramFailed", err)
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if err := c.Send(context.Background(), NewReadTelegram(GroupAddress{1, 2, 3})); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send(closed) error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func TestConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = Connect(context.Background(), ClientConfig{
		Connection:     "tcp://" + addr,
		ConnectTimeout: 500 * time.Millisecond,
	}, nil)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}
