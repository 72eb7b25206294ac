package reputation

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"gigchain/core/events"
	"gigchain/core/types"
)

// storage abstracts the subset of state manager functionality required by the
// reputation ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var profilePrefix = []byte("reputation/profile/")

func profileKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", profilePrefix, addr))
}

type storedProfile struct {
	Address       [20]byte
	JobsCompleted uint64
	JobsPosted    uint64
	TotalEarned   *big.Int
	TotalPaid     *big.Int
	DisputesWon   uint64
	DisputesLost  uint64
	Score         uint64
	CreatedAt     uint64
}

type reputationEvent struct {
	evt *types.Event
}

func (e reputationEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e reputationEvent) Event() *types.Event { return e.evt }

// Ledger persists per-account marketplace profiles and applies the discrete
// score deltas triggered by job completion and dispute outcomes.
type Ledger struct {
	store   storage
	emitter events.Emitter
	nowFn   func() int64
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{
		store:   store,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter used by the ledger. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(event *types.Event) {
	if l == nil || l.emitter == nil || event == nil {
		return
	}
	l.emitter.Emit(reputationEvent{evt: event})
}

// SetNowFunc overrides the wall clock used when profiles are created lazily.
// Primarily leveraged in tests to provide deterministic timestamps.
func (l *Ledger) SetNowFunc(now func() int64) {
	if l == nil {
		return
	}
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

func (l *Ledger) ready() error {
	if l == nil {
		return errors.New("reputation: ledger not initialised")
	}
	if l.store == nil {
		return errors.New("reputation: storage unavailable")
	}
	return nil
}

func (l *Ledger) load(addr [20]byte) (*Profile, bool, error) {
	var stored storedProfile
	ok, err := l.store.KVGet(profileKey(addr), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	profile := &Profile{
		Address:       stored.Address,
		JobsCompleted: stored.JobsCompleted,
		JobsPosted:    stored.JobsPosted,
		TotalEarned:   big.NewInt(0),
		TotalPaid:     big.NewInt(0),
		DisputesWon:   stored.DisputesWon,
		DisputesLost:  stored.DisputesLost,
		Score:         stored.Score,
		CreatedAt:     int64(stored.CreatedAt),
	}
	if stored.TotalEarned != nil {
		profile.TotalEarned.Set(stored.TotalEarned)
	}
	if stored.TotalPaid != nil {
		profile.TotalPaid.Set(stored.TotalPaid)
	}
	return profile, true, nil
}

func (l *Ledger) save(profile *Profile) error {
	stored := storedProfile{
		Address:       profile.Address,
		JobsCompleted: profile.JobsCompleted,
		JobsPosted:    profile.JobsPosted,
		TotalEarned:   profile.TotalEarned,
		TotalPaid:     profile.TotalPaid,
		DisputesWon:   profile.DisputesWon,
		DisputesLost:  profile.DisputesLost,
		Score:         profile.Score,
	}
	if profile.CreatedAt > 0 {
		stored.CreatedAt = uint64(profile.CreatedAt)
	}
	if stored.TotalEarned == nil {
		stored.TotalEarned = big.NewInt(0)
	}
	if stored.TotalPaid == nil {
		stored.TotalPaid = big.NewInt(0)
	}
	return l.store.KVPut(profileKey(profile.Address), &stored)
}

// Touch ensures a profile exists for the account, creating it with the neutral
// score on first interaction.
func (l *Ledger) Touch(addr [20]byte) (*Profile, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	profile, ok, err := l.load(addr)
	if err != nil {
		return nil, err
	}
	if ok {
		return profile, nil
	}
	profile = newProfile(addr, l.now())
	if err := l.save(profile); err != nil {
		return nil, err
	}
	return profile.Clone(), nil
}

// Get fetches the profile for the account. The boolean reports existence.
func (l *Ledger) Get(addr [20]byte) (*Profile, bool, error) {
	if err := l.ready(); err != nil {
		return nil, false, err
	}
	profile, ok, err := l.load(addr)
	if err != nil || !ok {
		return nil, ok, err
	}
	return profile.Clone(), true, nil
}

// RecordCompletion applies the counter and score updates owed to both parties
// when a job completes: the client is credited for the posting, the freelancer
// for the delivery.
func (l *Ledger) RecordCompletion(client, freelancer [20]byte, total *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	amount := big.NewInt(0)
	if total != nil {
		if total.Sign() < 0 {
			return errors.New("reputation: completion amount must be non-negative")
		}
		amount.Set(total)
	}
	clientProfile, err := l.Touch(client)
	if err != nil {
		return err
	}
	clientProfile.JobsPosted++
	clientProfile.TotalPaid = new(big.Int).Add(clientProfile.TotalPaid, amount)
	clientProfile.credit(completionClientCredit)
	if err := l.save(clientProfile); err != nil {
		return err
	}
	freelancerProfile, err := l.Touch(freelancer)
	if err != nil {
		return err
	}
	freelancerProfile.JobsCompleted++
	freelancerProfile.TotalEarned = new(big.Int).Add(freelancerProfile.TotalEarned, amount)
	freelancerProfile.credit(completionFreelancerCredit)
	if err := l.save(freelancerProfile); err != nil {
		return err
	}
	l.emit(NewCompletionEvent(client, freelancer))
	return nil
}

// RecordDisputeOutcome credits the winner and penalises the loser. The loser's
// score never drops beneath the floor.
func (l *Ledger) RecordDisputeOutcome(winner, loser [20]byte) error {
	if err := l.ready(); err != nil {
		return err
	}
	winnerProfile, err := l.Touch(winner)
	if err != nil {
		return err
	}
	winnerProfile.DisputesWon++
	winnerProfile.credit(disputeWinCredit)
	if err := l.save(winnerProfile); err != nil {
		return err
	}
	loserProfile, err := l.Touch(loser)
	if err != nil {
		return err
	}
	loserProfile.DisputesLost++
	loserProfile.penalize(disputeLossPenalty)
	if err := l.save(loserProfile); err != nil {
		return err
	}
	l.emit(NewDisputeOutcomeEvent(winner, loser, winnerProfile.Score, loserProfile.Score))
	return nil
}
