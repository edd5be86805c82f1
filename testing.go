package zhe

import (
	"sync"
	"time"
)

// MockTransport provides an in-memory Transport for tests: Send appends
// to an outbox keyed by destination, Recv drains an inbox queue fed by
// Deliver. It tracks call counts for assertions.
type MockTransport struct {
	mu sync.Mutex

	mode      int
	broadcast Address

	inbox  []mockDatagram
	outbox map[Address][][]byte

	sendCalls int
	recvCalls int
	failSend  error
}

type mockDatagram struct {
	src Address
	b   []byte
}

// NewMockTransport constructs a MockTransport in the given mode
// (constants.TransportPacket or constants.TransportStream, passed as int
// to avoid importing internal/constants from test code outside the
// module).
func NewMockTransport(mode int) *MockTransport {
	return &MockTransport{
		mode:   mode,
		outbox: make(map[Address][][]byte),
	}
}

// Deliver queues b as if received from src; the next Recv call returns it.
func (m *MockTransport) Deliver(src Address, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), b...)
	m.inbox = append(m.inbox, mockDatagram{src: src, b: cp})
}

// FailNextSend makes the next Send call return err instead of succeeding,
// for exercising Engine.Loop's WrapFatal(CodeTransportSendFailed) path.
func (m *MockTransport) FailNextSend(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSend = err
}

func (m *MockTransport) Send(dst Address, b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls++
	if m.failSend != nil {
		err := m.failSend
		m.failSend = nil
		return 0, err
	}
	cp := append([]byte(nil), b...)
	m.outbox[dst] = append(m.outbox[dst], cp)
	return len(b), nil
}

func (m *MockTransport) Recv(buf []byte) (int, Address, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recvCalls++
	if len(m.inbox) == 0 {
		return 0, nil, false, nil
	}
	d := m.inbox[0]
	m.inbox = m.inbox[1:]
	n := copy(buf, d.b)
	return n, d.src, true, nil
}

func (m *MockTransport) Mode() int { return m.mode }

// SetBroadcast sets the Address returned by Broadcast.
func (m *MockTransport) SetBroadcast(a Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcast = a
}

func (m *MockTransport) Broadcast() Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcast
}

// Sent returns a copy of every datagram queued for dst via Send, for
// test assertions.
func (m *MockTransport) Sent(dst Address) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.outbox[dst]))
	copy(out, m.outbox[dst])
	return out
}

// SendCalls and RecvCalls report how many times each method was invoked.
func (m *MockTransport) SendCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendCalls
}

func (m *MockTransport) RecvCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recvCalls
}

var _ Transport = (*MockTransport)(nil)

// MockClock is a Clock whose Now() is set explicitly by tests via
// Advance/Set rather than tracking the wall clock.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock constructs a MockClock starting at t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the clock to t.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var _ Clock = (*MockClock)(nil)
