package marketplace

import (
	"fmt"
	"math/big"
)

// JobStatus represents the lifecycle states of a posted job.
type JobStatus uint8

const (
	JobOpen JobStatus = iota
	JobAssigned
	JobCompleted
	JobCancelled
	JobDisputed
)

// Valid reports whether the status value is within the supported range.
func (s JobStatus) Valid() bool {
	switch s {
	case JobOpen, JobAssigned, JobCompleted, JobCancelled, JobDisputed:
		return true
	default:
		return false
	}
}

// String renders the status for event payloads and logs.
func (s JobStatus) String() string {
	switch s {
	case JobOpen:
		return "open"
	case JobAssigned:
		return "assigned"
	case JobCompleted:
		return "completed"
	case JobCancelled:
		return "cancelled"
	case JobDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Job captures the runtime state of a single posting. Remaining tracks the
// undisbursed portion of the escrowed total and must always satisfy
// 0 <= Remaining <= Total.
type Job struct {
	ID          uint64
	Client      [20]byte
	Title       string
	Description string
	Total       *big.Int
	Remaining   *big.Int
	Deadline    int64
	Status      JobStatus
	Assignee    [20]byte
	HasAssignee bool
	CreatedAt   int64
}

// Clone returns a deep copy of the job so callers can safely mutate the copy
// without affecting the stored instance.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.Total = big.NewInt(0)
	clone.Remaining = big.NewInt(0)
	if j.Total != nil {
		clone.Total.Set(j.Total)
	}
	if j.Remaining != nil {
		clone.Remaining.Set(j.Remaining)
	}
	return &clone
}

// SanitizeJob validates the supplied job, returning a cloned instance with
// non-nil amounts. The function does not mutate the original value.
func SanitizeJob(j *Job) (*Job, error) {
	if j == nil {
		return nil, fmt.Errorf("marketplace: nil job")
	}
	clone := j.Clone()
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("marketplace: invalid job status: %d", clone.Status)
	}
	if clone.Total.Sign() < 0 {
		return nil, fmt.Errorf("marketplace: job total must be non-negative")
	}
	if clone.Remaining.Sign() < 0 {
		return nil, fmt.Errorf("marketplace: job remaining must be non-negative")
	}
	if clone.Remaining.Cmp(clone.Total) > 0 {
		return nil, fmt.Errorf("marketplace: job remaining exceeds total")
	}
	return clone, nil
}

// Proposal records a freelancer's pitch against an open job. Proposals are
// keyed by (job id, freelancer) and immutable once stored.
type Proposal struct {
	JobID       uint64
	Freelancer  [20]byte
	Text        string
	Amount      *big.Int
	Deadline    int64
	SubmittedAt int64
}

// Clone returns a deep copy of the proposal.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Amount = big.NewInt(0)
	if p.Amount != nil {
		clone.Amount.Set(p.Amount)
	}
	return &clone
}

// Milestone tracks a sub-portion of a job's payment. Paid flips exactly once,
// monotonically false to true.
type Milestone struct {
	JobID       uint64
	ID          uint64
	Description string
	Amount      *big.Int
	Paid        bool
	CompletedAt int64
}

// Clone returns a deep copy of the milestone.
func (m *Milestone) Clone() *Milestone {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Amount = big.NewInt(0)
	if m.Amount != nil {
		clone.Amount.Set(m.Amount)
	}
	return &clone
}

// Dispute drives the arbitration sub-state-machine for a job. At most one
// dispute exists per job; the arbiter seat is claimed once and the dispute is
// resolved exactly once.
type Dispute struct {
	JobID              uint64
	Initiator          [20]byte
	Reason             string
	ClientEvidence     string
	FreelancerEvidence string
	Arbiter            [20]byte
	HasArbiter         bool
	Resolved           bool
	Resolution         string
	CreatedAt          int64
}

// Clone returns a copy safe for modification.
func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	return &clone
}
