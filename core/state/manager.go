package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"gigchain/core/types"
	"gigchain/native/marketplace"
	"gigchain/storage"
)

var errNilDatabase = errors.New("state: database not configured")

const (
	jobKeyFormat          = "marketplace/job/%020d"
	jobSeqKey             = "marketplace/seq/job"
	milestoneKeyFormat    = "marketplace/milestone/%020d/%010d"
	milestoneSeqKeyFormat = "marketplace/seq/milestone/%020d"
	proposalKeyFormat     = "marketplace/proposal/%020d/%x"
	disputeKeyFormat      = "marketplace/dispute/%020d"
	accountKeyFormat      = "accounts/%x"
	arbiterKeyFormat      = "marketplace/arbiter/%x"
	pauseKeyFormat        = "system/pause/%s"
)

// Manager stages all writes of a single operation in memory and flushes them
// to the backing key-value store on Commit. Discard drops the staged writes,
// which is how a failed operation leaves storage and balances untouched.
type Manager struct {
	db    storage.Database
	mu    sync.Mutex
	dirty map[string][]byte
}

// NewManager constructs a manager over the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string][]byte)}
}

// Commit flushes all staged writes to the backing store.
func (m *Manager) Commit() error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range m.dirty {
		if err := m.db.Put([]byte(key), value); err != nil {
			return err
		}
	}
	m.dirty = make(map[string][]byte)
	return nil
}

// Discard drops all staged writes.
func (m *Manager) Discard() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = make(map[string][]byte)
}

func (m *Manager) rawGet(key []byte) ([]byte, bool, error) {
	if m == nil || m.db == nil {
		return nil, false, errNilDatabase
	}
	m.mu.Lock()
	if value, ok := m.dirty[string(key)]; ok {
		m.mu.Unlock()
		return value, true, nil
	}
	m.mu.Unlock()
	ok, err := m.db.Has(key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	value, err := m.db.Get(key)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) rawPut(key, value []byte) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty[string(key)] = value
	return nil
}

// KVGet decodes the RLP value stored under key into out. The boolean reports
// whether the key exists.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	value, ok, err := m.rawGet(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(value, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut RLP-encodes value and stages it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.rawPut(key, encoded)
}

func (m *Manager) nextSequence(key []byte) (uint64, error) {
	var current uint64
	if _, err := m.KVGet(key, &current); err != nil {
		return 0, err
	}
	next := current + 1
	if err := m.KVPut(key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// --- accounts ---

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// GetAccount loads the account for the address, returning a zero-balance
// account when none is stored yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	key := []byte(fmt.Sprintf(accountKeyFormat, addr))
	var stored storedAccount
	ok, err := m.KVGet(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	account := &types.Account{Nonce: stored.Nonce, Balance: big.NewInt(0)}
	if stored.Balance != nil {
		account.Balance.Set(stored.Balance)
	}
	return account, nil
}

// PutAccount stages the account under the address key.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return errors.New("state: nil account")
	}
	stored := storedAccount{Nonce: account.Nonce, Balance: account.Balance}
	if stored.Balance == nil {
		stored.Balance = big.NewInt(0)
	}
	if stored.Balance.Sign() < 0 {
		return errors.New("state: negative account balance")
	}
	return m.KVPut([]byte(fmt.Sprintf(accountKeyFormat, addr)), &stored)
}

// --- jobs ---

type storedJob struct {
	ID          uint64
	Client      [20]byte
	Title       string
	Description string
	Total       *big.Int
	Remaining   *big.Int
	Deadline    uint64
	Status      uint8
	Assignee    [20]byte
	HasAssignee bool
	CreatedAt   uint64
}

// JobPut sanitizes and stages the job.
func (m *Manager) JobPut(job *marketplace.Job) error {
	sanitized, err := marketplace.SanitizeJob(job)
	if err != nil {
		return err
	}
	stored := storedJob{
		ID:          sanitized.ID,
		Client:      sanitized.Client,
		Title:       sanitized.Title,
		Description: sanitized.Description,
		Total:       sanitized.Total,
		Remaining:   sanitized.Remaining,
		Status:      uint8(sanitized.Status),
		Assignee:    sanitized.Assignee,
		HasAssignee: sanitized.HasAssignee,
	}
	if sanitized.Deadline > 0 {
		stored.Deadline = uint64(sanitized.Deadline)
	}
	if sanitized.CreatedAt > 0 {
		stored.CreatedAt = uint64(sanitized.CreatedAt)
	}
	return m.KVPut([]byte(fmt.Sprintf(jobKeyFormat, sanitized.ID)), &stored)
}

// JobGet loads the job by id.
func (m *Manager) JobGet(id uint64) (*marketplace.Job, bool, error) {
	var stored storedJob
	ok, err := m.KVGet([]byte(fmt.Sprintf(jobKeyFormat, id)), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	job := &marketplace.Job{
		ID:          stored.ID,
		Client:      stored.Client,
		Title:       stored.Title,
		Description: stored.Description,
		Total:       big.NewInt(0),
		Remaining:   big.NewInt(0),
		Deadline:    int64(stored.Deadline),
		Status:      marketplace.JobStatus(stored.Status),
		Assignee:    stored.Assignee,
		HasAssignee: stored.HasAssignee,
		CreatedAt:   int64(stored.CreatedAt),
	}
	if stored.Total != nil {
		job.Total.Set(stored.Total)
	}
	if stored.Remaining != nil {
		job.Remaining.Set(stored.Remaining)
	}
	return job, true, nil
}

// NextJobID allocates the next monotonically increasing job identifier.
func (m *Manager) NextJobID() (uint64, error) {
	return m.nextSequence([]byte(jobSeqKey))
}

// --- proposals ---

type storedProposal struct {
	JobID       uint64
	Freelancer  [20]byte
	Text        string
	Amount      *big.Int
	Deadline    uint64
	SubmittedAt uint64
}

// ProposalPut stages the proposal under its composite key.
func (m *Manager) ProposalPut(proposal *marketplace.Proposal) error {
	if proposal == nil {
		return errors.New("state: nil proposal")
	}
	clone := proposal.Clone()
	stored := storedProposal{
		JobID:      clone.JobID,
		Freelancer: clone.Freelancer,
		Text:       clone.Text,
		Amount:     clone.Amount,
	}
	if clone.Deadline > 0 {
		stored.Deadline = uint64(clone.Deadline)
	}
	if clone.SubmittedAt > 0 {
		stored.SubmittedAt = uint64(clone.SubmittedAt)
	}
	key := []byte(fmt.Sprintf(proposalKeyFormat, clone.JobID, clone.Freelancer))
	return m.KVPut(key, &stored)
}

// ProposalGet loads the proposal for (job, freelancer).
func (m *Manager) ProposalGet(jobID uint64, freelancer [20]byte) (*marketplace.Proposal, bool, error) {
	var stored storedProposal
	key := []byte(fmt.Sprintf(proposalKeyFormat, jobID, freelancer))
	ok, err := m.KVGet(key, &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	proposal := &marketplace.Proposal{
		JobID:       stored.JobID,
		Freelancer:  stored.Freelancer,
		Text:        stored.Text,
		Amount:      big.NewInt(0),
		Deadline:    int64(stored.Deadline),
		SubmittedAt: int64(stored.SubmittedAt),
	}
	if stored.Amount != nil {
		proposal.Amount.Set(stored.Amount)
	}
	return proposal, true, nil
}

// --- milestones ---

type storedMilestone struct {
	JobID       uint64
	ID          uint64
	Description string
	Amount      *big.Int
	Paid        bool
	CompletedAt uint64
}

// MilestonePut stages the milestone under its composite key.
func (m *Manager) MilestonePut(milestone *marketplace.Milestone) error {
	if milestone == nil {
		return errors.New("state: nil milestone")
	}
	clone := milestone.Clone()
	stored := storedMilestone{
		JobID:       clone.JobID,
		ID:          clone.ID,
		Description: clone.Description,
		Amount:      clone.Amount,
		Paid:        clone.Paid,
	}
	if clone.CompletedAt > 0 {
		stored.CompletedAt = uint64(clone.CompletedAt)
	}
	key := []byte(fmt.Sprintf(milestoneKeyFormat, clone.JobID, clone.ID))
	return m.KVPut(key, &stored)
}

// MilestoneGet loads the milestone for (job, milestone id).
func (m *Manager) MilestoneGet(jobID, milestoneID uint64) (*marketplace.Milestone, bool, error) {
	var stored storedMilestone
	key := []byte(fmt.Sprintf(milestoneKeyFormat, jobID, milestoneID))
	ok, err := m.KVGet(key, &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	milestone := &marketplace.Milestone{
		JobID:       stored.JobID,
		ID:          stored.ID,
		Description: stored.Description,
		Amount:      big.NewInt(0),
		Paid:        stored.Paid,
		CompletedAt: int64(stored.CompletedAt),
	}
	if stored.Amount != nil {
		milestone.Amount.Set(stored.Amount)
	}
	return milestone, true, nil
}

// NextMilestoneID allocates the next milestone identifier from a counter
// scoped to the job, so ids never collide across milestones of one job.
func (m *Manager) NextMilestoneID(jobID uint64) (uint64, error) {
	return m.nextSequence([]byte(fmt.Sprintf(milestoneSeqKeyFormat, jobID)))
}

// --- disputes ---

type storedDispute struct {
	JobID              uint64
	Initiator          [20]byte
	Reason             string
	ClientEvidence     string
	FreelancerEvidence string
	Arbiter            [20]byte
	HasArbiter         bool
	Resolved           bool
	Resolution         string
	CreatedAt          uint64
}

// DisputePut stages the dispute under its job key.
func (m *Manager) DisputePut(dispute *marketplace.Dispute) error {
	if dispute == nil {
		return errors.New("state: nil dispute")
	}
	stored := storedDispute{
		JobID:              dispute.JobID,
		Initiator:          dispute.Initiator,
		Reason:             dispute.Reason,
		ClientEvidence:     dispute.ClientEvidence,
		FreelancerEvidence: dispute.FreelancerEvidence,
		Arbiter:            dispute.Arbiter,
		HasArbiter:         dispute.HasArbiter,
		Resolved:           dispute.Resolved,
		Resolution:         dispute.Resolution,
	}
	if dispute.CreatedAt > 0 {
		stored.CreatedAt = uint64(dispute.CreatedAt)
	}
	return m.KVPut([]byte(fmt.Sprintf(disputeKeyFormat, dispute.JobID)), &stored)
}

// DisputeGet loads the dispute raised against the job, if any.
func (m *Manager) DisputeGet(jobID uint64) (*marketplace.Dispute, bool, error) {
	var stored storedDispute
	ok, err := m.KVGet([]byte(fmt.Sprintf(disputeKeyFormat, jobID)), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &marketplace.Dispute{
		JobID:              stored.JobID,
		Initiator:          stored.Initiator,
		Reason:             stored.Reason,
		ClientEvidence:     stored.ClientEvidence,
		FreelancerEvidence: stored.FreelancerEvidence,
		Arbiter:            stored.Arbiter,
		HasArbiter:         stored.HasArbiter,
		Resolved:           stored.Resolved,
		Resolution:         stored.Resolution,
		CreatedAt:          int64(stored.CreatedAt),
	}, true, nil
}

// --- arbiters ---

// ArbiterSet records or clears the approved flag for an account. The allow
// list is administered outside the core flows, guarded by the configured
// owner at the gateway.
func (m *Manager) ArbiterSet(addr [20]byte, approved bool) error {
	return m.KVPut([]byte(fmt.Sprintf(arbiterKeyFormat, addr)), approved)
}

// ArbiterApproved reports whether the account is on the allow list.
func (m *Manager) ArbiterApproved(addr [20]byte) (bool, error) {
	var approved bool
	ok, err := m.KVGet([]byte(fmt.Sprintf(arbiterKeyFormat, addr)), &approved)
	if err != nil || !ok {
		return false, err
	}
	return approved, nil
}

// --- pauses ---

// SetPaused toggles the pause switch for a module.
func (m *Manager) SetPaused(module string, paused bool) error {
	return m.KVPut([]byte(fmt.Sprintf(pauseKeyFormat, module)), paused)
}

// IsPaused implements the pause view consulted by engine guards. Lookup
// failures read as not paused.
func (m *Manager) IsPaused(module string) bool {
	var paused bool
	ok, err := m.KVGet([]byte(fmt.Sprintf(pauseKeyFormat, module)), &paused)
	if err != nil || !ok {
		return false
	}
	return paused
}

// Mint credits an account balance directly. Intended for genesis provisioning
// and tests; core flows only move existing funds.
func (m *Manager) Mint(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("state: mint amount must be non-negative")
	}
	account, err := m.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return m.PutAccount(addr[:], account)
}
