package zhe

import "time"

// Address identifies a transport-level peer endpoint (e.g. a UDP
// sockaddr, or a stream connection handle). The engine treats it as an
// opaque comparable value; transportudp supplies a concrete type.
type Address any

// Transport is the I/O collaborator the engine drives every Loop call.
// It owns socket/session lifecycle; the engine never blocks inside
// Transport methods for longer than the caller's budget allows — all
// methods are expected to be non-blocking (spec.md §6,
// "Transport interface (consumed)").
//
// In constants.TransportPacket mode, Recv returns one complete message
// per call. In constants.TransportStream mode, Recv may return partial
// or concatenated messages; Engine.Loop does not reassemble them and
// handles each Recv result as one whole packet.
type Transport interface {
	// Send writes b to dst, returning the number of bytes written and
	// any error. A short write (n < len(b)) is itself an error condition
	// the engine surfaces via WrapFatal(CodeTransportSendFailed).
	Send(dst Address, b []byte) (n int, err error)

	// Recv copies at most len(buf) bytes from the next available
	// message into buf, returning the byte count, the sender's Address,
	// and ok=false if nothing is currently available (not an error).
	Recv(buf []byte) (n int, src Address, ok bool, err error)

	// Mode reports whether this Transport delivers discrete packets or
	// a continuous byte stream.
	Mode() int // constants.TransportMode, kept as int to avoid an import cycle with internal/constants from user-facing code

	// Broadcast, if non-nil Address is returned, is the destination Send
	// should use to reach every currently-scouting peer at once (e.g. a
	// UDP multicast group). The engine sends every outgoing packet to
	// the Address Broadcast returns; it has no per-peer unicast fallback
	// when that Address is nil.
	Broadcast() Address
}

// DeadlineAware is an optional Transport extension for transports that
// can report their own idle/reconnect deadline. Engine.Loop does not
// consult it; its returned deadline comes from its own timers only.
type DeadlineAware interface {
	NextDeadline(now time.Time) time.Time
}
