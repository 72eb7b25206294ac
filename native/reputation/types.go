package reputation

import (
	"errors"
	"math/big"
)

const (
	// ScoreInitial is the neutral score assigned when a profile is first
	// created.
	ScoreInitial uint64 = 5
	// ScoreFloor bounds the score from below. Penalties never push a profile
	// beneath the floor.
	ScoreFloor uint64 = 1

	completionClientCredit     uint64 = 1
	completionFreelancerCredit uint64 = 2
	disputeWinCredit           uint64 = 3
	disputeLossPenalty         uint64 = 3
)

// ErrProfileNotFound marks lookups for accounts that never interacted with the
// marketplace.
var ErrProfileNotFound = errors.New("reputation: profile not found")

// Profile aggregates the per-account marketplace counters. Profiles are created
// lazily on first interaction and never deleted; the score moves only through
// discrete event deltas.
type Profile struct {
	Address       [20]byte
	JobsCompleted uint64
	JobsPosted    uint64
	TotalEarned   *big.Int
	TotalPaid     *big.Int
	DisputesWon   uint64
	DisputesLost  uint64
	Score         uint64
	CreatedAt     int64
}

// Clone returns a deep copy of the profile so callers cannot mutate stored
// counters.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TotalEarned = big.NewInt(0)
	clone.TotalPaid = big.NewInt(0)
	if p.TotalEarned != nil {
		clone.TotalEarned.Set(p.TotalEarned)
	}
	if p.TotalPaid != nil {
		clone.TotalPaid.Set(p.TotalPaid)
	}
	return &clone
}

func newProfile(addr [20]byte, now int64) *Profile {
	return &Profile{
		Address:     addr,
		TotalEarned: big.NewInt(0),
		TotalPaid:   big.NewInt(0),
		Score:       ScoreInitial,
		CreatedAt:   now,
	}
}

func (p *Profile) credit(delta uint64) {
	p.Score += delta
}

func (p *Profile) penalize(delta uint64) {
	if p.Score < ScoreFloor+delta {
		p.Score = ScoreFloor
		return
	}
	p.Score -= delta
}
