package zhe

import (
	"testing"
	"time"

	"github.com/topcatse/zhe-go/internal/vle"
	"github.com/topcatse/zhe-go/internal/wireproto"
)

func newTestEngine(t *testing.T) (*Engine, *MockTransport, *MockClock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PeerID = []byte("client1")
	transport := NewMockTransport(int(TransportPacket))
	transport.SetBroadcast("broker")
	clock := NewMockClock(time.Unix(0, 0))
	e, err := Init(cfg, transport, clock)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	e.LoopInit(clock.Now())
	return e, transport, clock
}

func firstSentMessage(t *testing.T, transport *MockTransport, dst Address) []byte {
	t.Helper()
	sent := transport.Sent(dst)
	if len(sent) == 0 {
		t.Fatalf("no messages sent to %v", dst)
	}
	return sent[len(sent)-1]
}

func TestEngineScoutsAfterWaitinputTimeout(t *testing.T) {
	e, transport, clock := newTestEngine(t)
	clock.Advance(6 * time.Second)
	e.Loop(clock.Now())

	buf := firstSentMessage(t, transport, transport.Broadcast())
	h := wireproto.DecodeHeader(buf[0])
	if h.Kind != wireproto.KindScout {
		t.Fatalf("Kind = %v, want KindScout", h.Kind)
	}
}

func TestEngineOpensAfterHelloAndDeclaresAfterAccept(t *testing.T) {
	e, transport, clock := newTestEngine(t)
	clock.Advance(6 * time.Second)
	e.Loop(clock.Now())

	hello := wireproto.EncodeHello(nil, 0, true, []byte("broker1"))
	transport.Deliver("broker", hello)
	clock.Advance(10 * time.Millisecond)
	e.Loop(clock.Now())

	openBuf := firstSentMessage(t, transport, transport.Broadcast())
	h := wireproto.DecodeHeader(openBuf[0])
	if h.Kind != wireproto.KindOpen {
		t.Fatalf("Kind = %v, want KindOpen", h.Kind)
	}

	_, ok := e.Subscribe(42, 1, func(prid uint64, payload []byte) {})
	if !ok {
		t.Fatal("Subscribe failed")
	}

	accept := wireproto.EncodeAccept(nil, 0, []byte("client1"), []byte("broker1"), 300)
	transport.Deliver("broker", accept)
	clock.Advance(10 * time.Millisecond)
	e.Loop(clock.Now())

	if !e.peer.IsEstablished() {
		t.Fatal("expected Engine to be OPERATIONAL after ACCEPT")
	}

	declareBuf := firstSentMessage(t, transport, transport.Broadcast())
	dh := wireproto.DecodeHeader(declareBuf[0])
	if dh.Kind != wireproto.KindDeclare {
		t.Fatalf("Kind = %v, want KindDeclare (pending subscribe declared on accept)", dh.Kind)
	}
}

func TestEnginePublishWriteSendsSData(t *testing.T) {
	e, transport, clock := newTestEngine(t)
	clock.Advance(6 * time.Second)
	e.Loop(clock.Now())
	hello := wireproto.EncodeHello(nil, 0, true, []byte("broker1"))
	transport.Deliver("broker", hello)
	clock.Advance(10 * time.Millisecond)
	e.Loop(clock.Now())
	accept := wireproto.EncodeAccept(nil, 0, []byte("client1"), []byte("broker1"), 300)
	transport.Deliver("broker", accept)
	clock.Advance(10 * time.Millisecond)
	e.Loop(clock.Now())

	pubidx, ok := e.Publish(7, true)
	if !ok {
		t.Fatal("Publish failed")
	}

	// The remote end (the broker) must declare a push subscription on our
	// rid before write() stops being vacuous (spec.md §4.7: write() checks
	// rsubs, populated only by a committed DSUB).
	decl := wireproto.EncodeDeclareEnvelope(nil, wireproto.FlagR, 0, 2)
	decl = append(decl, wireproto.EncodeDeclSub(nil, 7, wireproto.SubModePush)...)
	decl = append(decl, wireproto.EncodeDeclCommit(nil, 1)...)
	transport.Deliver("broker", decl)
	clock.Advance(10 * time.Millisecond)
	e.Loop(clock.Now())

	if !e.Write(pubidx, []byte("hello world")) {
		t.Fatal("Write returned false for a fresh reliable publication")
	}

	sent := transport.Sent(transport.Broadcast())
	last := sent[len(sent)-1]
	h := wireproto.DecodeHeader(last[0])
	if h.Kind != wireproto.KindSData {
		t.Fatalf("Kind = %v, want KindSData", h.Kind)
	}
	if !h.HasFlag(wireproto.FlagR) {
		t.Fatal("expected R flag set on a reliable write")
	}
}

func TestEngineDeliversReceivedSampleToSubscriber(t *testing.T) {
	e, transport, clock := newTestEngine(t)
	clock.Advance(6 * time.Second)
	e.Loop(clock.Now())
	hello := wireproto.EncodeHello(nil, 0, true, []byte("broker1"))
	transport.Deliver("broker", hello)
	clock.Advance(10 * time.Millisecond)
	e.Loop(clock.Now())

	var gotRid uint64
	var gotPayload []byte
	_, ok := e.Subscribe(99, 1, func(prid uint64, payload []byte) {
		gotRid = prid
		gotPayload = append([]byte(nil), payload...)
	})
	if !ok {
		t.Fatal("Subscribe failed")
	}

	accept := wireproto.EncodeAccept(nil, 0, []byte("client1"), []byte("broker1"), 300)
	transport.Deliver("broker", accept)
	clock.Advance(10 * time.Millisecond)
	e.Loop(clock.Now())

	msg := wireproto.EncodeSDataHeader(nil, 0, 99)
	msg = vle.AppendUint64(msg, 0)
	msg = vle.AppendVec(msg, []byte("payload-data"))
	transport.Deliver("broker", msg)
	clock.Advance(10 * time.Millisecond)
	e.Loop(clock.Now())

	if gotRid != 99 {
		t.Fatalf("gotRid = %d, want 99", gotRid)
	}
	if string(gotPayload) != "payload-data" {
		t.Fatalf("gotPayload = %q, want %q", gotPayload, "payload-data")
	}
}
