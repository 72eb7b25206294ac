package marketplace

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"

	"gigchain/core/types"
	nativecommon "gigchain/native/common"
	"gigchain/native/fees"
	"gigchain/native/reputation"
)

type mockState struct {
	jobs         map[uint64]*Job
	proposals    map[string]*Proposal
	milestones   map[string]*Milestone
	disputes     map[uint64]*Dispute
	accounts     map[[20]byte]*types.Account
	arbiters     map[[20]byte]bool
	jobSeq       uint64
	milestoneSeq map[uint64]uint64
}

func newMockState() *mockState {
	return &mockState{
		jobs:         make(map[uint64]*Job),
		proposals:    make(map[string]*Proposal),
		milestones:   make(map[string]*Milestone),
		disputes:     make(map[uint64]*Dispute),
		accounts:     make(map[[20]byte]*types.Account),
		arbiters:     make(map[[20]byte]bool),
		milestoneSeq: make(map[uint64]uint64),
	}
}

func proposalTestKey(jobID uint64, freelancer [20]byte) string {
	return fmt.Sprintf("%d/%x", jobID, freelancer)
}

func milestoneTestKey(jobID, milestoneID uint64) string {
	return fmt.Sprintf("%d/%d", jobID, milestoneID)
}

func (m *mockState) JobPut(job *Job) error {
	if job == nil {
		return errors.New("nil job")
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *mockState) JobGet(id uint64) (*Job, bool, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, false, nil
	}
	return job.Clone(), true, nil
}

func (m *mockState) NextJobID() (uint64, error) {
	m.jobSeq++
	return m.jobSeq, nil
}

func (m *mockState) ProposalPut(p *Proposal) error {
	if p == nil {
		return errors.New("nil proposal")
	}
	m.proposals[proposalTestKey(p.JobID, p.Freelancer)] = p.Clone()
	return nil
}

func (m *mockState) ProposalGet(jobID uint64, freelancer [20]byte) (*Proposal, bool, error) {
	p, ok := m.proposals[proposalTestKey(jobID, freelancer)]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (m *mockState) MilestonePut(ms *Milestone) error {
	if ms == nil {
		return errors.New("nil milestone")
	}
	m.milestones[milestoneTestKey(ms.JobID, ms.ID)] = ms.Clone()
	return nil
}

func (m *mockState) MilestoneGet(jobID, milestoneID uint64) (*Milestone, bool, error) {
	ms, ok := m.milestones[milestoneTestKey(jobID, milestoneID)]
	if !ok {
		return nil, false, nil
	}
	return ms.Clone(), true, nil
}

func (m *mockState) NextMilestoneID(jobID uint64) (uint64, error) {
	m.milestoneSeq[jobID]++
	return m.milestoneSeq[jobID], nil
}

func (m *mockState) DisputePut(d *Dispute) error {
	if d == nil {
		return errors.New("nil dispute")
	}
	m.disputes[d.JobID] = d.Clone()
	return nil
}

func (m *mockState) DisputeGet(jobID uint64) (*Dispute, bool, error) {
	d, ok := m.disputes[jobID]
	if !ok {
		return nil, false, nil
	}
	return d.Clone(), true, nil
}

func (m *mockState) ArbiterApproved(addr [20]byte) (bool, error) {
	return m.arbiters[addr], nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	acc, ok := m.accounts[key]
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return errors.New("nil account")
	}
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = account.Clone()
	return nil
}

func (m *mockState) fund(addr [20]byte, amount int64) {
	m.accounts[addr] = &types.Account{Balance: big.NewInt(amount)}
}

func (m *mockState) balance(addr [20]byte) *big.Int {
	acc, ok := m.accounts[addr]
	if !ok || acc.Balance == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(acc.Balance)
}

type kvStore struct {
	data map[string][]byte
}

func newKVStore() *kvStore {
	return &kvStore{data: make(map[string][]byte)}
}

func (s *kvStore) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	s.data[string(key)] = encoded
	return nil
}

func (s *kvStore) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := s.data[string(key)]
	if !ok {
		return false, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

const testNow int64 = 1_000_000

var (
	testClient     = newTestAddress(0x01)
	testFreelancer = newTestAddress(0x02)
	testOutsider   = newTestAddress(0x99)
	testArbiter    = newTestAddress(0xAB)
	testVault      = newTestAddress(0xEE)
	testCollector  = newTestAddress(0xFC)
)

type fixture struct {
	engine   *Engine
	state    *mockState
	profiles *reputation.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := newMockState()
	profiles := reputation.NewLedger(newKVStore())
	profiles.SetNowFunc(func() int64 { return testNow })
	engine := NewEngine()
	engine.SetState(state)
	engine.SetReputation(profiles)
	engine.SetEscrowVault(testVault)
	engine.SetFeePolicy(fees.Policy{Bps: fees.DefaultPlatformBps, Collector: testCollector})
	engine.SetNowFunc(func() int64 { return testNow })
	return &fixture{engine: engine, state: state, profiles: profiles}
}

func (f *fixture) postJob(t *testing.T, total int64) uint64 {
	t.Helper()
	f.state.fund(testClient, total*2)
	id, err := f.engine.PostJob(testClient, "build a widget", "detailed brief", big.NewInt(total), testNow+1_000)
	if err != nil {
		t.Fatalf("post job: %v", err)
	}
	return id
}

func (f *fixture) assignJob(t *testing.T, total int64) uint64 {
	t.Helper()
	id := f.postJob(t, total)
	if err := f.engine.SubmitProposal(testFreelancer, id, "I can do it", big.NewInt(total), testNow+500); err != nil {
		t.Fatalf("submit proposal: %v", err)
	}
	if err := f.engine.AcceptProposal(testClient, id, testFreelancer); err != nil {
		t.Fatalf("accept proposal: %v", err)
	}
	return id
}

func requireBalance(t *testing.T, f *fixture, addr [20]byte, want int64) {
	t.Helper()
	got := f.state.balance(addr)
	if got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("balance = %s, want %d", got, want)
	}
}

func TestPostJobEscrowsFullBudget(t *testing.T) {
	f := newFixture(t)
	f.state.fund(testClient, 1_500)

	id, err := f.engine.PostJob(testClient, "build a widget", "brief", big.NewInt(1_000), testNow+1_000)
	if err != nil {
		t.Fatalf("post job: %v", err)
	}
	requireBalance(t, f, testClient, 500)
	requireBalance(t, f, testVault, 1_000)

	job, err := f.engine.GetJob(id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != JobOpen {
		t.Fatalf("status = %s, want open", job.Status)
	}
	if job.Remaining.Cmp(job.Total) != 0 {
		t.Fatalf("remaining %s != total %s", job.Remaining, job.Total)
	}
	if _, ok, err := f.profiles.Get(testClient); err != nil || !ok {
		t.Fatalf("client profile not created: ok=%v err=%v", ok, err)
	}
}

func TestPostJobValidation(t *testing.T) {
	f := newFixture(t)
	f.state.fund(testClient, 10)

	if _, err := f.engine.PostJob(testClient, "t", "d", big.NewInt(0), testNow+10); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero total err = %v, want ErrInvalidAmount", err)
	}
	if _, err := f.engine.PostJob(testClient, "t", "d", big.NewInt(5), testNow); !errors.Is(err, ErrDeadlinePassed) {
		t.Fatalf("stale deadline err = %v, want ErrDeadlinePassed", err)
	}
	if _, err := f.engine.PostJob(testClient, "t", "d", big.NewInt(1_000), testNow+10); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("underfunded err = %v, want ErrInsufficientFunds", err)
	}
	// Nothing escrowed when the operation fails.
	requireBalance(t, f, testVault, 0)
	requireBalance(t, f, testClient, 10)
}

func TestCancelJobRefundsEscrow(t *testing.T) {
	f := newFixture(t)
	id := f.postJob(t, 1_000)

	if err := f.engine.CancelJob(testOutsider, id); !errors.Is(err, ErrNotClient) {
		t.Fatalf("outsider cancel err = %v, want ErrNotClient", err)
	}
	if err := f.engine.CancelJob(testClient, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireBalance(t, f, testClient, 2_000)
	requireBalance(t, f, testVault, 0)

	job, err := f.engine.GetJob(id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != JobCancelled || job.Remaining.Sign() != 0 {
		t.Fatalf("job = %s remaining %s", job.Status, job.Remaining)
	}
	if err := f.engine.CancelJob(testClient, id); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("double cancel err = %v, want ErrInvalidStatus", err)
	}
}

func TestSubmitProposalValidation(t *testing.T) {
	f := newFixture(t)
	id := f.postJob(t, 1_000)

	if err := f.engine.SubmitProposal(testFreelancer, id, "pitch", big.NewInt(1_500), testNow+500); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("over-budget proposal err = %v, want ErrInvalidAmount", err)
	}
	if err := f.engine.SubmitProposal(testFreelancer, id, "pitch", big.NewInt(900), testNow-1); !errors.Is(err, ErrDeadlinePassed) {
		t.Fatalf("stale proposal err = %v, want ErrDeadlinePassed", err)
	}
	if err := f.engine.SubmitProposal(testFreelancer, id, "pitch", big.NewInt(900), testNow+500); err != nil {
		t.Fatalf("submit proposal: %v", err)
	}
	if err := f.engine.SubmitProposal(testFreelancer, id, "revised", big.NewInt(800), testNow+500); !errors.Is(err, ErrProposalAlreadySubmitted) {
		t.Fatalf("duplicate proposal err = %v, want ErrProposalAlreadySubmitted", err)
	}

	if err := f.engine.CancelJob(testClient, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := f.engine.SubmitProposal(testOutsider, id, "late", big.NewInt(100), testNow+500); !errors.Is(err, ErrJobClosed) {
		t.Fatalf("closed job proposal err = %v, want ErrJobClosed", err)
	}
}

func TestAcceptProposalAdoptsProposedDeadline(t *testing.T) {
	f := newFixture(t)
	id := f.postJob(t, 1_000)

	if err := f.engine.AcceptProposal(testClient, id, testFreelancer); !errors.Is(err, ErrProposalNotFound) {
		t.Fatalf("missing proposal err = %v, want ErrProposalNotFound", err)
	}
	if err := f.engine.SubmitProposal(testFreelancer, id, "pitch", big.NewInt(900), testNow+500); err != nil {
		t.Fatalf("submit proposal: %v", err)
	}
	if err := f.engine.AcceptProposal(testOutsider, id, testFreelancer); !errors.Is(err, ErrNotClient) {
		t.Fatalf("outsider accept err = %v, want ErrNotClient", err)
	}
	if err := f.engine.AcceptProposal(testClient, id, testFreelancer); err != nil {
		t.Fatalf("accept: %v", err)
	}

	job, err := f.engine.GetJob(id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != JobAssigned || !job.HasAssignee || job.Assignee != testFreelancer {
		t.Fatalf("assignment not recorded: %+v", job)
	}
	if job.Deadline != testNow+500 {
		t.Fatalf("deadline = %d, want proposal deadline %d", job.Deadline, testNow+500)
	}
	if err := f.engine.AcceptProposal(testClient, id, testFreelancer); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("double accept err = %v, want ErrInvalidStatus", err)
	}
}

func TestMilestoneReleasePaysNetOfFee(t *testing.T) {
	f := newFixture(t)
	id := f.assignJob(t, 1_000)

	msID, err := f.engine.AddMilestone(testClient, id, "first deliverable", big.NewInt(400))
	if err != nil {
		t.Fatalf("add milestone: %v", err)
	}
	if err := f.engine.ReleaseMilestone(testOutsider, id, msID); !errors.Is(err, ErrNotClient) {
		t.Fatalf("outsider release err = %v, want ErrNotClient", err)
	}
	if err := f.engine.ReleaseMilestone(testClient, id, msID); err != nil {
		t.Fatalf("release: %v", err)
	}

	// 400 gross at 25 per-mille is a 10 fee, 390 net.
	requireBalance(t, f, testFreelancer, 390)
	requireBalance(t, f, testCollector, 10)
	requireBalance(t, f, testVault, 600)

	job, err := f.engine.GetJob(id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Remaining.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("remaining = %s, want 600", job.Remaining)
	}

	if err := f.engine.ReleaseMilestone(testClient, id, msID); !errors.Is(err, ErrMilestoneAlreadyPaid) {
		t.Fatalf("double release err = %v, want ErrMilestoneAlreadyPaid", err)
	}
	requireBalance(t, f, testFreelancer, 390)
}

func TestMilestoneBudgetBounds(t *testing.T) {
	f := newFixture(t)
	id := f.assignJob(t, 1_000)

	if _, err := f.engine.AddMilestone(testClient, id, "too big", big.NewInt(1_500)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("oversized milestone err = %v, want ErrInsufficientFunds", err)
	}
	if _, err := f.engine.AddMilestone(testClient, id, "empty", big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero milestone err = %v, want ErrInvalidAmount", err)
	}
	if err := f.engine.ReleaseMilestone(testClient, id, 77); !errors.Is(err, ErrMilestoneNotFound) {
		t.Fatalf("missing milestone err = %v, want ErrMilestoneNotFound", err)
	}
	if _, err := f.engine.AddMilestone(testOutsider, id, "x", big.NewInt(10)); !errors.Is(err, ErrNotClient) {
		t.Fatalf("outsider milestone err = %v, want ErrNotClient", err)
	}

	first, err := f.engine.AddMilestone(testClient, id, "a", big.NewInt(600))
	if err != nil {
		t.Fatalf("add first: %v", err)
	}
	second, err := f.engine.AddMilestone(testClient, id, "b", big.NewInt(600))
	if err != nil {
		t.Fatalf("add second: %v", err)
	}
	if first == second {
		t.Fatalf("milestone ids collide: %d", first)
	}
	if err := f.engine.ReleaseMilestone(testClient, id, first); err != nil {
		t.Fatalf("release first: %v", err)
	}
	// Remaining dropped to 400, so the second milestone no longer fits.
	if err := f.engine.ReleaseMilestone(testClient, id, second); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("over-remaining release err = %v, want ErrInsufficientFunds", err)
	}
}

func TestAddBonusGrowsBudget(t *testing.T) {
	f := newFixture(t)
	id := f.assignJob(t, 1_000)

	if err := f.engine.AddBonus(testOutsider, id, big.NewInt(200)); !errors.Is(err, ErrNotClient) {
		t.Fatalf("outsider bonus err = %v, want ErrNotClient", err)
	}
	if err := f.engine.AddBonus(testClient, id, big.NewInt(200)); err != nil {
		t.Fatalf("add bonus: %v", err)
	}

	job, err := f.engine.GetJob(id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Total.Cmp(big.NewInt(1_200)) != 0 || job.Remaining.Cmp(big.NewInt(1_200)) != 0 {
		t.Fatalf("budget = %s/%s, want 1200/1200", job.Remaining, job.Total)
	}
	requireBalance(t, f, testVault, 1_200)
	requireBalance(t, f, testClient, 800)
}

func TestCompletionFlowPaysRemainingAndCreditsProfiles(t *testing.T) {
	f := newFixture(t)
	id := f.assignJob(t, 1_000)

	if err := f.engine.SubmitCompletion(testOutsider, id); !errors.Is(err, ErrNotAssignee) {
		t.Fatalf("outsider completion err = %v, want ErrNotAssignee", err)
	}
	if err := f.engine.ApproveCompletion(testClient, id); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("premature approve err = %v, want ErrInvalidStatus", err)
	}
	if err := f.engine.SubmitCompletion(testFreelancer, id); err != nil {
		t.Fatalf("submit completion: %v", err)
	}
	if err := f.engine.ApproveCompletion(testFreelancer, id); !errors.Is(err, ErrNotClient) {
		t.Fatalf("freelancer approve err = %v, want ErrNotClient", err)
	}
	if err := f.engine.ApproveCompletion(testClient, id); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// 1000 gross at 25 per-mille is a 25 fee, 975 net.
	requireBalance(t, f, testFreelancer, 975)
	requireBalance(t, f, testCollector, 25)
	requireBalance(t, f, testVault, 0)

	job, err := f.engine.GetJob(id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != JobCompleted || job.Remaining.Sign() != 0 {
		t.Fatalf("job = %s remaining %s", job.Status, job.Remaining)
	}

	clientProfile, _, err := f.profiles.Get(testClient)
	if err != nil {
		t.Fatalf("get client profile: %v", err)
	}
	if clientProfile.Score != reputation.ScoreInitial+1 || clientProfile.JobsPosted != 1 {
		t.Fatalf("client profile = score %d posted %d", clientProfile.Score, clientProfile.JobsPosted)
	}
	freelancerProfile, _, err := f.profiles.Get(testFreelancer)
	if err != nil {
		t.Fatalf("get freelancer profile: %v", err)
	}
	if freelancerProfile.Score != reputation.ScoreInitial+2 || freelancerProfile.JobsCompleted != 1 {
		t.Fatalf("freelancer profile = score %d completed %d", freelancerProfile.Score, freelancerProfile.JobsCompleted)
	}
	if freelancerProfile.TotalEarned.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("totalEarned = %s, want 1000", freelancerProfile.TotalEarned)
	}
}

func TestDisputeLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.assignJob(t, 1_000)
	f.state.arbiters[testArbiter] = true

	msID, err := f.engine.AddMilestone(testClient, id, "partial", big.NewInt(400))
	if err != nil {
		t.Fatalf("add milestone: %v", err)
	}
	if err := f.engine.ReleaseMilestone(testClient, id, msID); err != nil {
		t.Fatalf("release: %v", err)
	}

	if err := f.engine.InitiateDispute(testOutsider, id, "not involved"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("outsider dispute err = %v, want ErrNotAuthorized", err)
	}
	if err := f.engine.InitiateDispute(testFreelancer, id, "client unresponsive"); err != nil {
		t.Fatalf("initiate dispute: %v", err)
	}
	if err := f.engine.InitiateDispute(testClient, id, "again"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second dispute err = %v, want ErrAlreadyExists", err)
	}

	job, err := f.engine.GetJob(id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != JobDisputed {
		t.Fatalf("status = %s, want disputed", job.Status)
	}

	if err := f.engine.SubmitEvidence(testOutsider, id, "hearsay"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("outsider evidence err = %v, want ErrNotAuthorized", err)
	}
	if err := f.engine.SubmitEvidence(testClient, id, "work was late"); err != nil {
		t.Fatalf("client evidence: %v", err)
	}
	if err := f.engine.SubmitEvidence(testFreelancer, id, "scope changed"); err != nil {
		t.Fatalf("freelancer evidence: %v", err)
	}
	dispute, ok, err := f.engine.GetDispute(id)
	if err != nil || !ok {
		t.Fatalf("get dispute: ok=%v err=%v", ok, err)
	}
	if dispute.ClientEvidence != "work was late" || dispute.FreelancerEvidence != "scope changed" {
		t.Fatalf("evidence not stored per party: %+v", dispute)
	}

	if err := f.engine.TakeArbiter(testOutsider, id); !errors.Is(err, ErrNotArbiter) {
		t.Fatalf("unapproved arbiter err = %v, want ErrNotArbiter", err)
	}
	if err := f.engine.TakeArbiter(testArbiter, id); err != nil {
		t.Fatalf("take arbiter: %v", err)
	}
	if err := f.engine.TakeArbiter(testArbiter, id); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("seat already taken err = %v, want ErrAlreadyExists", err)
	}

	if err := f.engine.ResolveDispute(testClient, id, 70, 30, "split"); !errors.Is(err, ErrNotArbiter) {
		t.Fatalf("non-arbiter resolve err = %v, want ErrNotArbiter", err)
	}
	if err := f.engine.ResolveDispute(testArbiter, id, 70, 40, "bad sum"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("bad split err = %v, want ErrInvalidAmount", err)
	}
	if err := f.engine.ResolveDispute(testArbiter, id, 70, 30, "late delivery, partial refund"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Remaining 600 at 25 per-mille is a 15 fee. The client keeps 70% of the
	// pot (420) minus 70% of the fee (10); the freelancer keeps 180 minus 5.
	requireBalance(t, f, testClient, 1_000+410)
	requireBalance(t, f, testFreelancer, 390+175)
	requireBalance(t, f, testCollector, 10+15)
	requireBalance(t, f, testVault, 0)

	job, err = f.engine.GetJob(id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != JobCompleted || job.Remaining.Sign() != 0 {
		t.Fatalf("job = %s remaining %s", job.Status, job.Remaining)
	}
	dispute, _, err = f.engine.GetDispute(id)
	if err != nil {
		t.Fatalf("get dispute: %v", err)
	}
	if !dispute.Resolved || dispute.Resolution == "" {
		t.Fatalf("dispute not finalised: %+v", dispute)
	}

	clientProfile, _, err := f.profiles.Get(testClient)
	if err != nil {
		t.Fatalf("get client profile: %v", err)
	}
	if clientProfile.DisputesWon != 1 {
		t.Fatalf("client disputesWon = %d, want 1", clientProfile.DisputesWon)
	}
	freelancerProfile, _, err := f.profiles.Get(testFreelancer)
	if err != nil {
		t.Fatalf("get freelancer profile: %v", err)
	}
	if freelancerProfile.DisputesLost != 1 {
		t.Fatalf("freelancer disputesLost = %d, want 1", freelancerProfile.DisputesLost)
	}

	// The dispute settled the job; a late approval must not pay out again.
	if err := f.engine.ApproveCompletion(testClient, id); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("approve after resolution err = %v, want ErrInvalidStatus", err)
	}
	if err := f.engine.ResolveDispute(testArbiter, id, 70, 30, "again"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("double resolve err = %v, want ErrInvalidStatus", err)
	}
}

func TestResolveDisputeRejectsOversizedSplit(t *testing.T) {
	f := newFixture(t)
	id := f.assignJob(t, 1_000)
	f.state.arbiters[testArbiter] = true

	if err := f.engine.InitiateDispute(testClient, id, "stalled"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := f.engine.TakeArbiter(testArbiter, id); err != nil {
		t.Fatalf("take arbiter: %v", err)
	}

	// Each pair sums to 100 only after a 32-bit wraparound and must be
	// rejected before any funds move or reputation changes.
	cases := [][2]uint32{
		{101, math.MaxUint32},
		{math.MaxUint32, 101},
		{math.MaxUint32/2 + 51, math.MaxUint32/2 + 51},
	}
	for _, split := range cases {
		if err := f.engine.ResolveDispute(testArbiter, id, split[0], split[1], "wrap"); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("split %d/%d err = %v, want ErrInvalidAmount", split[0], split[1], err)
		}
	}

	requireBalance(t, f, testVault, 1_000)
	requireBalance(t, f, testClient, 1_000)
	requireBalance(t, f, testFreelancer, 0)

	job, err := f.engine.GetJob(id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != JobDisputed {
		t.Fatalf("status = %s, want disputed", job.Status)
	}
	dispute, _, err := f.engine.GetDispute(id)
	if err != nil {
		t.Fatalf("get dispute: %v", err)
	}
	if dispute.Resolved {
		t.Fatal("dispute must stay unresolved")
	}
	freelancerProfile, _, err := f.profiles.Get(testFreelancer)
	if err != nil {
		t.Fatalf("get freelancer profile: %v", err)
	}
	if freelancerProfile.DisputesWon != 0 || freelancerProfile.Score != reputation.ScoreInitial {
		t.Fatalf("freelancer profile changed: won %d score %d", freelancerProfile.DisputesWon, freelancerProfile.Score)
	}

	// A legitimate split still goes through afterwards.
	if err := f.engine.ResolveDispute(testArbiter, id, 70, 30, "late delivery"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
}

func TestAddBonusRejectedAfterDisputeResolution(t *testing.T) {
	f := newFixture(t)
	id := f.assignJob(t, 1_000)
	f.state.arbiters[testArbiter] = true

	if err := f.engine.InitiateDispute(testClient, id, "stalled"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := f.engine.TakeArbiter(testArbiter, id); err != nil {
		t.Fatalf("take arbiter: %v", err)
	}
	if err := f.engine.ResolveDispute(testArbiter, id, 50, 50, "split"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// The resolution is final; a late bonus would sit in escrow with no
	// disbursement or refund path left.
	clientBefore := f.state.balance(testClient)
	if err := f.engine.AddBonus(testClient, id, big.NewInt(500)); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("bonus after resolution err = %v, want ErrInvalidStatus", err)
	}
	if got := f.state.balance(testClient); got.Cmp(clientBefore) != 0 {
		t.Fatalf("client balance moved: %s -> %s", clientBefore, got)
	}
	requireBalance(t, f, testVault, 0)

	job, err := f.engine.GetJob(id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Remaining.Sign() != 0 || job.Total.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("budget changed: remaining %s total %s", job.Remaining, job.Total)
	}
}

func TestResolveDisputeEvenSplitFavoursClient(t *testing.T) {
	f := newFixture(t)
	id := f.assignJob(t, 1_000)
	f.state.arbiters[testArbiter] = true

	if err := f.engine.InitiateDispute(testClient, id, "stalled"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := f.engine.TakeArbiter(testArbiter, id); err != nil {
		t.Fatalf("take arbiter: %v", err)
	}
	if err := f.engine.ResolveDispute(testArbiter, id, 50, 50, "split down the middle"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	clientProfile, _, err := f.profiles.Get(testClient)
	if err != nil {
		t.Fatalf("get client profile: %v", err)
	}
	if clientProfile.DisputesWon != 1 {
		t.Fatalf("even split should count as a client win, disputesWon = %d", clientProfile.DisputesWon)
	}
}

func TestResolveDisputeFreelancerMajorityWins(t *testing.T) {
	f := newFixture(t)
	id := f.assignJob(t, 1_000)
	f.state.arbiters[testArbiter] = true

	if err := f.engine.InitiateDispute(testFreelancer, id, "client ghosted"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := f.engine.TakeArbiter(testArbiter, id); err != nil {
		t.Fatalf("take arbiter: %v", err)
	}
	if err := f.engine.ResolveDispute(testArbiter, id, 0, 100, "pay the freelancer"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// 1000 at 25 per-mille is a 25 fee, all netted from the freelancer side.
	requireBalance(t, f, testFreelancer, 975)
	requireBalance(t, f, testCollector, 25)

	freelancerProfile, _, err := f.profiles.Get(testFreelancer)
	if err != nil {
		t.Fatalf("get freelancer profile: %v", err)
	}
	if freelancerProfile.DisputesWon != 1 {
		t.Fatalf("freelancer disputesWon = %d, want 1", freelancerProfile.DisputesWon)
	}
}

type stubPauses struct {
	paused bool
}

func (s stubPauses) IsPaused(string) bool { return s.paused }

func TestPauseSwitchBlocksOperations(t *testing.T) {
	f := newFixture(t)
	id := f.postJob(t, 1_000)
	f.engine.SetPauses(stubPauses{paused: true})

	if _, err := f.engine.PostJob(testClient, "t", "d", big.NewInt(10), testNow+10); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("post while paused err = %v, want ErrModulePaused", err)
	}
	if err := f.engine.CancelJob(testClient, id); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("cancel while paused err = %v, want ErrModulePaused", err)
	}

	f.engine.SetPauses(stubPauses{})
	if err := f.engine.CancelJob(testClient, id); err != nil {
		t.Fatalf("cancel after unpause: %v", err)
	}
}

func TestEngineRequiresCollaborators(t *testing.T) {
	engine := NewEngine()
	if _, err := engine.PostJob(testClient, "t", "d", big.NewInt(1), testNow+1); err == nil {
		t.Fatal("expected error from unconfigured engine")
	}
	engine.SetState(newMockState())
	if _, err := engine.PostJob(testClient, "t", "d", big.NewInt(1), testNow+1); err == nil {
		t.Fatal("expected error without reputation ledger")
	}
}
