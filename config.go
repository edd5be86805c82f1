package zhe

import (
	"time"

	"github.com/topcatse/zhe-go/internal/constants"
)

// Config holds every compile-time-in-spirit configuration constant named
// by spec.md §6 ("Configuration constants"). Unlike the C original these
// are ordinary struct fields rather than preprocessor defines, set once
// at Engine construction and treated as immutable for the engine's
// lifetime.
type Config struct {
	TransportMode constants.TransportMode
	TransportMTU  int

	XmitWindowBytes int
	SeqnumLen       int // bit width of the sequence number; SeqnumUnit does not read it

	MaxPeers     int
	NInConduits  int
	NOutConduits int
	MaxPubs      int
	MaxSubs      int
	PeerIDSize   int
	PeerID       []byte

	// LatencyBudget: 0 flushes the packer after every write;
	// constants.LatencyBudgetInf (-1) disables time-based flushing.
	LatencyBudget time.Duration

	MSynchInterval time.Duration
	ScoutInterval  time.Duration
	OpenInterval   time.Duration
	OpenRetries    int

	LeaseDeciseconds int // wire-format lease unit (tenths of a second)
}

// DefaultConfig returns a Config populated from the internal/constants
// defaults (spec.md §6).
func DefaultConfig() Config {
	return Config{
		TransportMode:    constants.TransportPacket,
		TransportMTU:     constants.DefaultTransportMTU,
		XmitWindowBytes:  constants.DefaultXmitWindowBytes,
		SeqnumLen:        constants.DefaultSeqnumLen,
		MaxPeers:         constants.DefaultMaxPeers,
		NInConduits:      constants.DefaultNInConduits,
		NOutConduits:     constants.DefaultNOutConduits,
		MaxPubs:          constants.DefaultMaxPubs,
		MaxSubs:          constants.DefaultMaxSubs,
		PeerIDSize:       constants.DefaultPeerIDSize,
		PeerID:           append([]byte(nil), constants.DefaultPeerID...),
		LatencyBudget:    constants.LatencyBudgetFlushEveryWrite,
		MSynchInterval:   constants.DefaultMSynchInterval,
		ScoutInterval:    constants.DefaultScoutInterval,
		OpenInterval:     constants.DefaultOpenInterval,
		OpenRetries:      constants.DefaultOpenRetries,
		LeaseDeciseconds: constants.DefaultLeaseDeciseconds,
	}
}

// SeqnumUnit returns the sequence increment, always constants.SeqnumUnit
// (1 << constants.SeqnumShift) (spec.md §6 "SEQNUM_LEN and derived
// SEQNUM_UNIT/SHIFT"). It does not depend on SeqnumLen or any other
// Config field.
func (c Config) SeqnumUnit() uint32 { return constants.SeqnumUnit }

// Validate reports a non-nil error if the configuration violates a
// spec.md §6 bound (e.g. TRANSPORT_MTU's [16..65534] range) or an
// internally inconsistent combination this implementation does not
// support.
func (c Config) Validate() error {
	if c.TransportMTU < 16 || c.TransportMTU > 65534 {
		return NewError("config_validate", CodeMalformedMessage, "TransportMTU out of [16,65534]")
	}
	if c.XmitWindowBytes <= 0 {
		return NewError("config_validate", CodeMalformedMessage, "XmitWindowBytes must be positive")
	}
	if c.NInConduits <= 0 || c.NOutConduits <= 0 {
		return NewError("config_validate", CodeMalformedMessage, "conduit counts must be positive")
	}
	if c.MaxPubs <= 0 || c.MaxSubs <= 0 {
		return NewError("config_validate", CodeMalformedMessage, "MaxPubs/MaxSubs must be positive")
	}
	if len(c.PeerID) == 0 || len(c.PeerID) > c.PeerIDSize {
		return NewError("config_validate", CodePeerIDInvalid, "PeerID empty or exceeds PeerIDSize")
	}
	return nil
}
