package wireproto

import (
	"github.com/topcatse/zhe-go/internal/vle"
)

// This file's message layouts fill in the field-level detail spec.md §6
// leaves unspecified beyond "VLE integers, 16-bit fields called out
// explicitly, vectors are VLE-length then bytes". Each Encode* function
// appends to buf (typically a packer's staged packet); each Decode*
// consumes from the front of buf and reports bytes consumed.

// EncodeScout appends a bare SCOUT body: the header byte only. A peer in
// SCOUT/SCOUT_SENT broadcasts this to discover a broker.
func EncodeScout(buf []byte, flags Flags) []byte {
	return append(buf, EncodeHeader(KindScout, flags))
}

// EncodeHello appends a HELLO: header, then a single byte whose low bit
// is the broker bit, then the sender's peer id as a vector.
func EncodeHello(buf []byte, flags Flags, brokerBit bool, peerID []byte) []byte {
	buf = append(buf, EncodeHeader(KindHello, flags))
	var b byte
	if brokerBit {
		b = 1
	}
	buf = append(buf, b)
	return vle.AppendVec(buf, peerID)
}

// DecodeHello parses a HELLO body (the header byte already consumed by
// the caller).
func DecodeHello(buf []byte) (brokerBit bool, peerID []byte, n int, err error) {
	if len(buf) < 1 {
		return false, nil, 0, vle.ErrTruncated
	}
	brokerBit = buf[0]&1 != 0
	rest, vn, err := vle.DecodeVec(buf[1:])
	if err != nil {
		return false, nil, 0, err
	}
	return brokerBit, rest, 1 + vn, nil
}

// EncodeOpen appends an OPEN: header, peer id vector, lease (VLE
// deciseconds).
func EncodeOpen(buf []byte, flags Flags, peerID []byte, leaseDeciseconds int) []byte {
	buf = append(buf, EncodeHeader(KindOpen, flags))
	buf = vle.AppendVec(buf, peerID)
	return vle.AppendUint64(buf, uint64(leaseDeciseconds))
}

// DecodeOpen parses an OPEN body.
func DecodeOpen(buf []byte) (peerID []byte, leaseDeciseconds int, n int, err error) {
	peerID, vn, err := vle.DecodeVec(buf)
	if err != nil {
		return nil, 0, 0, err
	}
	lease, ln, err := vle.DecodeUint64(buf[vn:])
	if err != nil {
		return nil, 0, 0, err
	}
	return peerID, int(lease), vn + ln, nil
}

// EncodeAccept appends an ACCEPT: header, opener's peer id vector (echoed
// back so a broker-mode listener can match it against a pending OPEN),
// broker's own peer id vector, lease (VLE deciseconds).
func EncodeAccept(buf []byte, flags Flags, openerPeerID, brokerID []byte, leaseDeciseconds int) []byte {
	buf = append(buf, EncodeHeader(KindAccept, flags))
	buf = vle.AppendVec(buf, openerPeerID)
	buf = vle.AppendVec(buf, brokerID)
	return vle.AppendUint64(buf, uint64(leaseDeciseconds))
}

// DecodeAccept parses an ACCEPT body.
func DecodeAccept(buf []byte) (openerPeerID, brokerID []byte, leaseDeciseconds int, n int, err error) {
	openerPeerID, n1, err := vle.DecodeVec(buf)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	brokerID, n2, err := vle.DecodeVec(buf[n1:])
	if err != nil {
		return nil, nil, 0, 0, err
	}
	lease, n3, err := vle.DecodeUint64(buf[n1+n2:])
	if err != nil {
		return nil, nil, 0, 0, err
	}
	return openerPeerID, brokerID, int(lease), n1 + n2 + n3, nil
}

// EncodeClose appends a CLOSE: header, peer id vector.
func EncodeClose(buf []byte, flags Flags, peerID []byte) []byte {
	buf = append(buf, EncodeHeader(KindClose, flags))
	return vle.AppendVec(buf, peerID)
}

// EncodeKeepalive appends a bare KEEPALIVE.
func EncodeKeepalive(buf []byte, flags Flags) []byte {
	return append(buf, EncodeHeader(KindKeepalive, flags))
}

// EncodeConduitSwitch appends a CONDUIT header selecting cid for
// subsequent messages in the same packet (spec.md §6: "CONDUIT messages
// switch the active conduit id... absent, cid is 0"). The header always
// carries the Z flag and is followed by cid as a VLE, whatever its value.
func EncodeConduitSwitch(buf []byte, cid int) []byte {
	buf = append(buf, EncodeHeader(KindConduit, FlagMZ))
	return vle.AppendUint64(buf, uint64(cid))
}

// DecodeConduitSwitch parses a CONDUIT body (header already consumed).
func DecodeConduitSwitch(buf []byte) (cid int, n int, err error) {
	v, vn, err := vle.DecodeUint64(buf)
	if err != nil {
		return 0, 0, err
	}
	return int(v), vn, nil
}

// EncodeSynch appends a SYNCH: header, seqbase (VLE), cnt (VLE).
func EncodeSynch(buf []byte, flags Flags, seqbase uint32, cnt uint32) []byte {
	buf = append(buf, EncodeHeader(KindSynch, flags))
	buf = vle.AppendUint64(buf, uint64(seqbase))
	return vle.AppendUint64(buf, uint64(cnt))
}

// DecodeSynch parses a SYNCH body.
func DecodeSynch(buf []byte) (seqbase uint32, cnt uint32, n int, err error) {
	a, n1, err := vle.DecodeUint64(buf)
	if err != nil {
		return 0, 0, 0, err
	}
	b, n2, err := vle.DecodeUint64(buf[n1:])
	if err != nil {
		return 0, 0, 0, err
	}
	return uint32(a), uint32(b), n1 + n2, nil
}

// EncodeAckNack appends an ACKNACK: header (with FlagMZ set iff mask != 0),
// ack seq (VLE), and the 4-byte little-endian mask iff nonzero.
func EncodeAckNack(buf []byte, flags Flags, ackSeq uint32, mask uint32) []byte {
	if mask != 0 {
		flags |= FlagMZ
	}
	buf = append(buf, EncodeHeader(KindAckNack, flags))
	buf = vle.AppendUint64(buf, uint64(ackSeq))
	if mask != 0 {
		buf = append(buf, byte(mask), byte(mask>>8), byte(mask>>16), byte(mask>>24))
	}
	return buf
}

// DecodeAckNack parses an ACKNACK body; hasMask tells the decoder
// whether the header carried FlagMZ.
func DecodeAckNack(buf []byte, hasMask bool) (ackSeq uint32, mask uint32, n int, err error) {
	a, an, err := vle.DecodeUint64(buf)
	if err != nil {
		return 0, 0, 0, err
	}
	n = an
	if hasMask {
		if len(buf) < n+4 {
			return 0, 0, 0, vle.ErrTruncated
		}
		m := buf[n:]
		mask = uint32(m[0]) | uint32(m[1])<<8 | uint32(m[2])<<16 | uint32(m[3])<<24
		n += 4
	}
	return uint32(a), mask, n, nil
}

// EncodeSDataHeader appends an SDATA header and resource id; seq is
// appended separately by the caller as a VLE since reliable SDATA
// mirrors both header and seq into the transmit window while unreliable
// SDATA does not mirror at all (spec.md §4.4 distinguishes reliable vs.
// unreliable sequencing).
func EncodeSDataHeader(buf []byte, flags Flags, rid uint64) []byte {
	buf = append(buf, EncodeHeader(KindSData, flags))
	return vle.AppendUint64(buf, rid)
}

// DecodeSDataHeader parses the rid following an SDATA header byte; the
// caller decodes the trailing seq and payload vector itself since their
// presence depends on the R flag.
func DecodeSDataHeader(buf []byte) (rid uint64, n int, err error) {
	return vle.DecodeUint64(buf)
}

// EncodeDeclareEnvelope appends a DECLARE header, the reliable sequence
// this DECLARE occupies on its conduit, and the declaration count; the
// caller appends each declaration body afterward. DECLARE travels on the
// reliable conduit like SDATA, so it carries a seq for the same in-order
// delivery and ACKNACK gap-tracking the incoming conduit applies to
// reliable samples.
func EncodeDeclareEnvelope(buf []byte, flags Flags, seq uint32, nDecls int) []byte {
	buf = append(buf, EncodeHeader(KindDeclare, flags))
	buf = vle.AppendUint64(buf, uint64(seq))
	return vle.AppendUint64(buf, uint64(nDecls))
}

// DecodeDeclareEnvelope parses a DECLARE envelope's seq and declaration
// count (the header byte already consumed by the caller).
func DecodeDeclareEnvelope(buf []byte) (seq uint32, nDecls uint64, n int, err error) {
	s, n1, err := vle.DecodeUint64(buf)
	if err != nil {
		return 0, 0, 0, err
	}
	nd, n2, err := vle.DecodeUint64(buf[n1:])
	if err != nil {
		return 0, 0, 0, err
	}
	return uint32(s), nd, n1 + n2, nil
}

// EncodeDeclResource appends a RESOURCE declaration: kind byte, rid (VLE),
// name (VLE length then bytes) binding rid to a human-readable name.
func EncodeDeclResource(buf []byte, rid uint64, name []byte) []byte {
	buf = append(buf, byte(DeclResource))
	buf = vle.AppendUint64(buf, rid)
	return vle.AppendVec(buf, name)
}

// DecodeDeclResource parses a RESOURCE body (the kind byte already
// consumed). name aliases buf and is only valid until buf is reused.
func DecodeDeclResource(buf []byte) (rid uint64, name []byte, n int, err error) {
	rid, rn, err := vle.DecodeUint64(buf)
	if err != nil {
		return 0, nil, 0, err
	}
	name, vn, err := vle.DecodeVec(buf[rn:])
	if err != nil {
		return 0, nil, 0, err
	}
	return rid, name, rn + vn, nil
}

// EncodeDeclSub appends a DSUB declaration: kind byte, rid (VLE), mode
// byte.
func EncodeDeclSub(buf []byte, rid uint64, mode SubMode) []byte {
	buf = append(buf, byte(DeclSub))
	buf = vle.AppendUint64(buf, rid)
	return append(buf, byte(mode))
}

// DecodeDecl parses one declaration's kind byte and reports it along with
// the remainder of buf for kind-specific decoding.
func DecodeDecl(buf []byte) (kind DeclKind, rest []byte, err error) {
	if len(buf) < 1 {
		return 0, nil, vle.ErrTruncated
	}
	return DeclKind(buf[0]), buf[1:], nil
}

// DecodeDeclSub parses a DSUB body (the kind byte already consumed).
func DecodeDeclSub(buf []byte) (rid uint64, mode SubMode, n int, err error) {
	rid, rn, err := vle.DecodeUint64(buf)
	if err != nil {
		return 0, 0, 0, err
	}
	if len(buf) < rn+1 {
		return 0, 0, 0, vle.ErrTruncated
	}
	return rid, SubMode(buf[rn]), rn + 1, nil
}

// EncodeDeclCommit appends a DCOMMIT declaration: kind byte, commit id
// (VLE).
func EncodeDeclCommit(buf []byte, commitID uint64) []byte {
	buf = append(buf, byte(DeclCommit))
	return vle.AppendUint64(buf, commitID)
}

// DecodeDeclCommit parses a DCOMMIT body.
func DecodeDeclCommit(buf []byte) (commitID uint64, n int, err error) {
	return vle.DecodeUint64(buf)
}

// EncodeDeclResult appends a DRESULT declaration: kind byte, commit id
// (VLE), status byte, error rid (VLE, 0 if status is 0).
func EncodeDeclResult(buf []byte, commitID uint64, status byte, errRid uint64) []byte {
	buf = append(buf, byte(DeclResult))
	buf = vle.AppendUint64(buf, commitID)
	buf = append(buf, status)
	return vle.AppendUint64(buf, errRid)
}

// DecodeDeclResult parses a DRESULT body.
func DecodeDeclResult(buf []byte) (commitID uint64, status byte, errRid uint64, n int, err error) {
	commitID, n1, err := vle.DecodeUint64(buf)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if len(buf) < n1+1 {
		return 0, 0, 0, 0, vle.ErrTruncated
	}
	status = buf[n1]
	errRid, n2, err := vle.DecodeUint64(buf[n1+1:])
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return commitID, status, errRid, n1 + 1 + n2, nil
}
