package reputation

import (
	"encoding/hex"
	"strconv"

	"gigchain/core/types"
)

const (
	// EventTypeProfileCompleted is emitted when completion credit is applied to
	// a profile pair.
	EventTypeProfileCompleted = "reputation.completion"
	// EventTypeDisputeOutcome is emitted when a dispute outcome adjusts two
	// profiles.
	EventTypeDisputeOutcome = "reputation.disputeOutcome"
)

// NewCompletionEvent returns the canonical payload recorded when completion
// credit is applied.
func NewCompletionEvent(client, freelancer [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeProfileCompleted,
		Attributes: map[string]string{
			"client":     hex.EncodeToString(client[:]),
			"freelancer": hex.EncodeToString(freelancer[:]),
		},
	}
}

// NewDisputeOutcomeEvent returns the canonical payload recorded when a dispute
// outcome is scored.
func NewDisputeOutcomeEvent(winner, loser [20]byte, winnerScore, loserScore uint64) *types.Event {
	return &types.Event{
		Type: EventTypeDisputeOutcome,
		Attributes: map[string]string{
			"winner":      hex.EncodeToString(winner[:]),
			"loser":       hex.EncodeToString(loser[:]),
			"winnerScore": strconv.FormatUint(winnerScore, 10),
			"loserScore":  strconv.FormatUint(loserScore, 10),
		},
	}
}
