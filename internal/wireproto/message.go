// Package wireproto defines the on-wire message kinds, header flags, and
// worst-case size constants for the Zenoh-family protocol the engine speaks
// (spec.md §6 "Wire protocol"). This file holds the constants and small
// header encode/decode helpers; the codecs that build and parse full
// messages are in codec.go of this package.
package wireproto

import "github.com/topcatse/zhe-go/internal/vle"

// Kind is the low-bits message kind carried in every header byte.
type Kind byte

const (
	KindScout Kind = iota
	KindHello
	KindOpen
	KindAccept
	KindClose
	KindDeclare
	KindSData
	KindPing
	KindPong
	KindSynch
	KindAckNack
	KindKeepalive
	KindConduit
)

// kindMask isolates the low bits of a header byte that carry Kind; the
// remaining high bits carry flags.
const kindMask = 0x0f

// Flag bits occupy the header byte's high nibble. Only four bits remain
// above the kind nibble, so M and Z share a bit: the two never apply to
// the same message kind (M marks a mask on ACKNACK, Z marks an inline
// conduit id on CONDUIT) and are distinguished by the reader's context,
// not by a distinct bit.
type Flags byte

const (
	FlagR  Flags = 1 << 4 // Reliable
	FlagS  Flags = 1 << 5 // Synch-requested
	FlagP  Flags = 1 << 6 // Payload/properties present
	FlagMZ Flags = 1 << 7 // Mask present (ACKNACK) / conduit id inline (CONDUIT)
)

// Header is a decoded message header byte.
type Header struct {
	Kind  Kind
	Flags Flags
}

// HasFlag reports whether f is set in h.
func (h Header) HasFlag(f Flags) bool { return h.Flags&f != 0 }

// HasMask reports the M flag, valid when Kind == KindAckNack.
func (h Header) HasMask() bool { return h.HasFlag(FlagMZ) }

// HasInlineConduit reports the Z flag, valid when Kind == KindConduit.
func (h Header) HasInlineConduit() bool { return h.HasFlag(FlagMZ) }

// EncodeHeader packs kind and flags into a single wire byte.
func EncodeHeader(kind Kind, flags Flags) byte {
	return byte(kind)&kindMask | byte(flags)&^kindMask
}

// DecodeHeader unpacks a wire byte into Kind and Flags.
func DecodeHeader(b byte) Header {
	return Header{Kind: Kind(b & kindMask), Flags: Flags(b &^ kindMask)}
}

// DeclKind identifies the sub-message kind inside a DECLARE's VLE-counted
// declaration vector (spec.md §6, §4.5).
type DeclKind byte

const (
	DeclResource DeclKind = iota
	DeclPub
	DeclSub
	DeclSelection
	DeclBindID
	DeclCommit
	DeclResult
	DeclDeleteRes
)

// SubMode is the mode field of a DSUB declaration (spec.md §4.5
// rsub_register).
type SubMode byte

const (
	SubModePush SubMode = iota
	SubModePull
)

// Failure reason bits recorded by rsub_register when a DSUB cannot be
// honored (spec.md §4.5).
const (
	RsubFailUnknownRid   byte = 2
	RsubFailNonPushMode  byte = 1
	RsubFailSelections   byte = 4
	RsubFailBindings     byte = 8
	RsubFailDeleteRes    byte = 16
)

// Worst-case wire sizes, used by the reliable-window pre-check before
// committing a DCOMMIT reply (spec.md §4.5 "DCOMMIT... ensure the reliable
// window can fit a worst-case DRESULT").
const (
	// WCHeaderSize is the largest plausible header + conduit-switch
	// overhead a single message might carry.
	WCHeaderSize = 1 + 1 + vle.MaxVarintLen64 // header byte + cid byte + VLE seq
	// WCDResultSize is the worst-case encoded size of a DRESULT
	// declaration: header, commit id (VLE), status byte, error rid (VLE).
	WCDResultSize = WCHeaderSize + vle.MaxVarintLen64 + 1 + vle.MaxVarintLen64
	// WCDeclareEnvelope is the worst-case size of an empty DECLARE
	// envelope (header + declaration-count VLE), used when sizing staged
	// declaration buffers.
	WCDeclareEnvelope = WCHeaderSize + vle.MaxVarintLen64
)
