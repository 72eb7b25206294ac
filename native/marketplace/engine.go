package marketplace

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"gigchain/core/events"
	"gigchain/core/types"
	nativecommon "gigchain/native/common"
	"gigchain/native/fees"
	"gigchain/native/reputation"
)

var (
	errNilState      = errors.New("marketplace engine: state not configured")
	errNilReputation = errors.New("marketplace engine: reputation ledger not configured")
	errNilVault      = errors.New("marketplace engine: escrow vault not configured")
	errNilCollector  = errors.New("marketplace engine: fee collector not configured")
)

const moduleName = "marketplace"

// engineState is the subset of state manager functionality the engine mutates.
// Writes are staged by the backing manager and committed by the host as one
// unit of work per operation.
type engineState interface {
	JobPut(*Job) error
	JobGet(id uint64) (*Job, bool, error)
	NextJobID() (uint64, error)
	ProposalPut(*Proposal) error
	ProposalGet(jobID uint64, freelancer [20]byte) (*Proposal, bool, error)
	MilestonePut(*Milestone) error
	MilestoneGet(jobID, milestoneID uint64) (*Milestone, bool, error)
	NextMilestoneID(jobID uint64) (uint64, error)
	DisputePut(*Dispute) error
	DisputeGet(jobID uint64) (*Dispute, bool, error)
	ArbiterApproved(addr [20]byte) (bool, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// reputationLedger is the slice of the reputation module consumed by job
// completion and dispute resolution.
type reputationLedger interface {
	Touch(addr [20]byte) (*reputation.Profile, error)
	RecordCompletion(client, freelancer [20]byte, total *big.Int) error
	RecordDisputeOutcome(winner, loser [20]byte) error
}

type marketplaceEvent struct {
	evt *types.Event
}

func (e marketplaceEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketplaceEvent) Event() *types.Event { return e.evt }

// Engine wires the marketplace business logic with external state, the
// reputation ledger and event emission. Caller identity and the clock are
// threaded explicitly so hosts can inject deterministic values.
type Engine struct {
	state       engineState
	reputation  reputationLedger
	emitter     events.Emitter
	nowFn       func() int64
	feePolicy   fees.Policy
	escrowVault [20]byte
	pauses      nativecommon.PauseView
}

// NewEngine creates a marketplace engine with a no-op emitter and the default
// fee policy. Callers override collaborators via the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
		feePolicy: fees.Policy{Bps: fees.DefaultPlatformBps},
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetReputation configures the reputation ledger consumed on completion and
// dispute outcomes.
func (e *Engine) SetReputation(ledger reputationLedger) { e.reputation = ledger }

// SetEscrowVault configures the account that holds undisbursed job funds.
func (e *Engine) SetEscrowVault(addr [20]byte) { e.escrowVault = addr }

// SetFeePolicy configures the platform fee applied to payouts.
func (e *Engine) SetFeePolicy(policy fees.Policy) { e.feePolicy = policy }

// SetPauses wires the module pause switch consulted by every operation.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketplaceEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.reputation == nil {
		return errNilReputation
	}
	if e.escrowVault == ([20]byte{}) {
		return errNilVault
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func (e *Engine) loadJob(id uint64) (*Job, error) {
	job, ok, err := e.state.JobGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrJobNotFound, id)
	}
	return SanitizeJob(job)
}

// transfer moves value between two accounts, failing with ErrInsufficientFunds
// when the source balance cannot cover the amount.
func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer", ErrInvalidAmount)
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// hasBalance reports whether the account can cover the amount without moving
// funds. Operations use it to surface ErrInsufficientFunds before any write.
func (e *Engine) hasBalance(addr [20]byte, amount *big.Int) (bool, error) {
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return true, nil
	}
	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return false, err
	}
	acc = ensureAccount(acc)
	return acc.Balance.Cmp(amt) >= 0, nil
}

// payoutWithFee disburses the gross amount from the escrow vault, splitting it
// between the recipient and the configured fee collector.
func (e *Engine) payoutWithFee(recipient [20]byte, gross *big.Int) (fees.Result, error) {
	result := fees.Apply(e.feePolicy, gross)
	if result.Fee.Sign() > 0 && e.feePolicy.Collector == ([20]byte{}) {
		return result, errNilCollector
	}
	if result.Net.Sign() > 0 {
		if err := e.transfer(e.escrowVault, recipient, result.Net); err != nil {
			return result, err
		}
	}
	if result.Fee.Sign() > 0 {
		if err := e.transfer(e.escrowVault, e.feePolicy.Collector, result.Fee); err != nil {
			return result, err
		}
	}
	return result, nil
}

// PostJob escrows the full budget and records a new open posting. The client
// profile is created lazily on first interaction.
func (e *Engine) PostJob(client [20]byte, title, description string, total *big.Int, deadline int64) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	amount := cloneBigInt(total)
	if amount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: job total must be positive", ErrInvalidAmount)
	}
	now := e.now()
	if deadline <= now {
		return 0, fmt.Errorf("%w: job deadline %d", ErrDeadlinePassed, deadline)
	}
	ok, err := e.hasBalance(client, amount)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrInsufficientFunds
	}
	if _, err := e.reputation.Touch(client); err != nil {
		return 0, err
	}
	id, err := e.state.NextJobID()
	if err != nil {
		return 0, err
	}
	if err := e.transfer(client, e.escrowVault, amount); err != nil {
		return 0, err
	}
	job := &Job{
		ID:          id,
		Client:      client,
		Title:       title,
		Description: description,
		Total:       amount,
		Remaining:   new(big.Int).Set(amount),
		Deadline:    deadline,
		Status:      JobOpen,
		CreatedAt:   now,
	}
	if err := e.state.JobPut(job); err != nil {
		return 0, err
	}
	e.emit(NewJobPostedEvent(job))
	return id, nil
}

// CancelJob refunds the full escrowed budget to the client. Only open jobs can
// be cancelled.
func (e *Engine) CancelJob(caller [20]byte, jobID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != JobOpen {
		return fmt.Errorf("%w: cannot cancel in status %s", ErrInvalidStatus, job.Status)
	}
	if caller != job.Client {
		return ErrNotClient
	}
	if err := e.transfer(e.escrowVault, job.Client, job.Total); err != nil {
		return err
	}
	job.Status = JobCancelled
	job.Remaining = big.NewInt(0)
	if err := e.state.JobPut(job); err != nil {
		return err
	}
	e.emit(NewJobCancelledEvent(job))
	return nil
}

// SubmitProposal records a freelancer pitch against an open job. At most one
// proposal per freelancer per job; proposals are immutable once stored.
func (e *Engine) SubmitProposal(freelancer [20]byte, jobID uint64, text string, amount *big.Int, deadline int64) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != JobOpen {
		return fmt.Errorf("%w: job %d is %s", ErrJobClosed, jobID, job.Status)
	}
	proposed := cloneBigInt(amount)
	if proposed.Sign() <= 0 || proposed.Cmp(job.Total) > 0 {
		return fmt.Errorf("%w: proposal amount out of range", ErrInvalidAmount)
	}
	if deadline <= e.now() {
		return fmt.Errorf("%w: proposal deadline %d", ErrDeadlinePassed, deadline)
	}
	if _, ok, err := e.state.ProposalGet(jobID, freelancer); err != nil {
		return err
	} else if ok {
		return ErrProposalAlreadySubmitted
	}
	if _, err := e.reputation.Touch(freelancer); err != nil {
		return err
	}
	proposal := &Proposal{
		JobID:       jobID,
		Freelancer:  freelancer,
		Text:        text,
		Amount:      proposed,
		Deadline:    deadline,
		SubmittedAt: e.now(),
	}
	if err := e.state.ProposalPut(proposal); err != nil {
		return err
	}
	e.emit(NewProposalSubmittedEvent(proposal))
	return nil
}

// AcceptProposal assigns the job to the chosen freelancer. The accepted
// proposal's terms supersede the original posting, so the job deadline is
// overwritten with the proposed one.
func (e *Engine) AcceptProposal(caller [20]byte, jobID uint64, freelancer [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != JobOpen {
		return fmt.Errorf("%w: cannot assign in status %s", ErrInvalidStatus, job.Status)
	}
	if caller != job.Client {
		return ErrNotClient
	}
	proposal, ok, err := e.state.ProposalGet(jobID, freelancer)
	if err != nil {
		return err
	}
	if !ok {
		return ErrProposalNotFound
	}
	job.Status = JobAssigned
	job.Assignee = freelancer
	job.HasAssignee = true
	job.Deadline = proposal.Deadline
	if err := e.state.JobPut(job); err != nil {
		return err
	}
	e.emit(NewJobAssignedEvent(job))
	return nil
}

// AddBonus escrows an additional amount on top of the original budget,
// increasing both total and remaining.
func (e *Engine) AddBonus(caller [20]byte, jobID uint64, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != JobAssigned && job.Status != JobCompleted {
		return fmt.Errorf("%w: cannot add bonus in status %s", ErrInvalidStatus, job.Status)
	}
	// A job settled by dispute resolution is final: nothing can disburse a
	// late bonus, so the escrow would trap it.
	if _, ok, err := e.state.DisputeGet(jobID); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: job settled by dispute resolution", ErrInvalidStatus)
	}
	if caller != job.Client {
		return ErrNotClient
	}
	bonus := cloneBigInt(amount)
	if bonus.Sign() <= 0 {
		return fmt.Errorf("%w: bonus must be positive", ErrInvalidAmount)
	}
	if err := e.transfer(job.Client, e.escrowVault, bonus); err != nil {
		return err
	}
	job.Total = new(big.Int).Add(job.Total, bonus)
	job.Remaining = new(big.Int).Add(job.Remaining, bonus)
	if err := e.state.JobPut(job); err != nil {
		return err
	}
	e.emit(NewBonusAddedEvent(job, bonus))
	return nil
}

// GetJob returns a copy of the stored job.
func (e *Engine) GetJob(jobID uint64) (*Job, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadJob(jobID)
}

// GetDispute returns a copy of the dispute raised against the job, if any.
func (e *Engine) GetDispute(jobID uint64) (*Dispute, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	dispute, ok, err := e.state.DisputeGet(jobID)
	if err != nil || !ok {
		return nil, ok, err
	}
	return dispute.Clone(), true, nil
}
