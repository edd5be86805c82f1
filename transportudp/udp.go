// Package transportudp provides a packet-mode Transport over a raw,
// non-blocking UDP socket (spec.md §6 "Transport"). It is driven the
// same way the engine's core is: Recv never blocks, reporting ok=false
// when nothing is pending rather than parking a goroutine, so a host can
// poll it from inside its own Loop(now) call.
package transportudp

import (
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/topcatse/zhe-go/internal/constants"
)

// UDPTransport is a zhe.Transport backed by a raw AF_INET/AF_INET6 UDP
// socket. It is built directly on golang.org/x/sys/unix rather than
// net.UDPConn so Recv can use MSG_DONTWAIT and return immediately instead
// of relying on a read deadline and its associated timer churn — the
// same non-blocking-by-syscall-flag style the teacher's
// internal/uring/minimal.go uses for its io_uring submissions.
type UDPTransport struct {
	mu sync.Mutex

	fd        int
	broadcast unix.Sockaddr
	isV6      bool
}

// Dial opens a non-blocking UDP socket bound to localAddr (host:port; an
// empty host binds to all interfaces) with broadcastAddr as the default
// destination for SendScout's initial discovery traffic.
func Dial(localAddr, broadcastAddr string) (*UDPTransport, error) {
	local, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, err
	}
	remote, err := net.ResolveUDPAddr("udp", broadcastAddr)
	if err != nil {
		return nil, err
	}

	domain := unix.AF_INET
	isV6 := local.IP != nil && local.IP.To4() == nil
	if isV6 {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if remote.IP != nil && remote.IP.IsMulticast() {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
			unix.Close(fd)
			return nil, err
		}
	} else {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	}

	sa, err := sockaddrFromUDPAddr(local, isV6)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}

	bsa, err := sockaddrFromUDPAddr(remote, isV6)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &UDPTransport{fd: fd, broadcast: bsa, isV6: isV6}, nil
}

func sockaddrFromUDPAddr(a *net.UDPAddr, isV6 bool) (unix.Sockaddr, error) {
	if isV6 {
		var addr [16]byte
		if a.IP != nil {
			copy(addr[:], a.IP.To16())
		}
		return &unix.SockaddrInet6{Port: a.Port, Addr: addr}, nil
	}
	var addr [4]byte
	if a.IP != nil {
		ip4 := a.IP.To4()
		copy(addr[:], ip4)
	}
	return &unix.SockaddrInet4{Port: a.Port, Addr: addr}, nil
}

// Mode always reports constants.TransportPacket: every Recv returns
// exactly the bytes of one inbound datagram, never a partial or merged
// read (spec.md §6 distinguishes this from TransportStream).
func (t *UDPTransport) Mode() int { return int(constants.TransportPacket) }

// Broadcast returns the configured discovery destination as an
// unix.Sockaddr, satisfying zhe.Address (an opaque, comparable handle the
// engine never interprets itself).
func (t *UDPTransport) Broadcast() interface{} { return t.broadcast }

// Send transmits b to dst, which must be an unix.Sockaddr (typically one
// returned by Broadcast or previously observed via Recv's src).
func (t *UDPTransport) Send(dst interface{}, b []byte) (int, error) {
	sa, ok := dst.(unix.Sockaddr)
	if !ok {
		sa = t.broadcast
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := unix.Sendto(t.fd, b, 0, sa); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Recv attempts one non-blocking read into buf. ok is false (with a nil
// error) when no datagram is currently pending — the caller's Loop(now)
// is expected to poll again on its next deadline rather than park a
// reader goroutine.
func (t *UDPTransport) Recv(buf []byte) (n int, src interface{}, ok bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	nr, from, rerr := unix.Recvfrom(t.fd, buf, unix.MSG_DONTWAIT)
	if rerr != nil {
		if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
			return 0, nil, false, nil
		}
		return 0, nil, false, rerr
	}
	return nr, from, true, nil
}

// Close releases the underlying socket.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return unix.Close(t.fd)
}
