package zhe

import "github.com/topcatse/zhe-go/internal/constants"

// Re-exported so callers configuring an Engine don't need to import
// internal/constants directly.
const (
	TransportPacket = constants.TransportPacket
	TransportStream = constants.TransportStream

	SeqnumShift = constants.SeqnumShift
	SeqnumUnit  = constants.SeqnumUnit

	LatencyBudgetFlushEveryWrite = constants.LatencyBudgetFlushEveryWrite
	LatencyBudgetInf             = constants.LatencyBudgetInf
)
