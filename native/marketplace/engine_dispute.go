package marketplace

import (
	"fmt"
	"math/big"

	"gigchain/native/fees"
)

// InitiateDispute opens the arbitration sub-state-machine for a job. Only the
// client or the assignee may dispute, and only while the job is assigned or
// awaiting approval.
func (e *Engine) InitiateDispute(caller [20]byte, jobID uint64, reason string) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != JobAssigned && job.Status != JobCompleted {
		return fmt.Errorf("%w: cannot dispute in status %s", ErrInvalidStatus, job.Status)
	}
	if caller != job.Client && (!job.HasAssignee || caller != job.Assignee) {
		return ErrNotAuthorized
	}
	if _, ok, err := e.state.DisputeGet(jobID); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: dispute for job %d", ErrAlreadyExists, jobID)
	}
	dispute := &Dispute{
		JobID:     jobID,
		Initiator: caller,
		Reason:    reason,
		CreatedAt: e.now(),
	}
	if err := e.state.DisputePut(dispute); err != nil {
		return err
	}
	job.Status = JobDisputed
	if err := e.state.JobPut(job); err != nil {
		return err
	}
	e.emit(NewDisputeInitiatedEvent(dispute))
	return nil
}

// SubmitEvidence records the caller's side of the story. Client evidence and
// freelancer evidence are stored separately; any other caller is rejected.
func (e *Engine) SubmitEvidence(caller [20]byte, jobID uint64, text string) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != JobDisputed {
		return fmt.Errorf("%w: cannot submit evidence in status %s", ErrInvalidStatus, job.Status)
	}
	dispute, ok, err := e.state.DisputeGet(jobID)
	if err != nil {
		return err
	}
	if !ok || dispute.Resolved {
		return ErrNoActiveDispute
	}
	switch {
	case caller == job.Client:
		dispute.ClientEvidence = text
	case job.HasAssignee && caller == job.Assignee:
		dispute.FreelancerEvidence = text
	default:
		return ErrNotAuthorized
	}
	if err := e.state.DisputePut(dispute); err != nil {
		return err
	}
	e.emit(NewEvidenceSubmittedEvent(dispute, caller))
	return nil
}

// TakeArbiter claims the arbiter seat for the dispute. The first approved
// claimant wins; the seat is never reassigned.
func (e *Engine) TakeArbiter(caller [20]byte, jobID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if _, err := e.loadJob(jobID); err != nil {
		return err
	}
	dispute, ok, err := e.state.DisputeGet(jobID)
	if err != nil {
		return err
	}
	if !ok || dispute.Resolved {
		return ErrNoActiveDispute
	}
	if dispute.HasArbiter {
		return fmt.Errorf("%w: arbiter already assigned", ErrAlreadyExists)
	}
	approved, err := e.state.ArbiterApproved(caller)
	if err != nil {
		return err
	}
	if !approved {
		return ErrNotArbiter
	}
	dispute.Arbiter = caller
	dispute.HasArbiter = true
	if err := e.state.DisputePut(dispute); err != nil {
		return err
	}
	e.emit(NewArbiterAssignedEvent(dispute))
	return nil
}

// ResolveDispute settles the dispute by splitting the undisbursed budget
// between the parties. The platform fee is computed once on the full remaining
// amount and netted proportionally from each side. Splits at or below 50% for
// the freelancer count as a client win.
func (e *Engine) ResolveDispute(caller [20]byte, jobID uint64, clientPct, freelancerPct uint32, resolution string) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != JobDisputed {
		return fmt.Errorf("%w: cannot resolve in status %s", ErrInvalidStatus, job.Status)
	}
	dispute, ok, err := e.state.DisputeGet(jobID)
	if err != nil {
		return err
	}
	if !ok || dispute.Resolved {
		return ErrNoActiveDispute
	}
	if !dispute.HasArbiter || caller != dispute.Arbiter {
		return ErrNotArbiter
	}
	// Sum in uint64 so oversized percentages cannot wrap around to 100.
	if uint64(clientPct)+uint64(freelancerPct) != 100 {
		return fmt.Errorf("%w: split must sum to 100", ErrInvalidAmount)
	}
	if !job.HasAssignee {
		return ErrNotAssignee
	}
	remaining := cloneBigInt(job.Remaining)
	if remaining.Sign() > 0 {
		feeResult := fees.Apply(e.feePolicy, remaining)
		clientShare := new(big.Int).Mul(remaining, big.NewInt(int64(clientPct)))
		clientShare.Div(clientShare, big.NewInt(100))
		freelancerShare := new(big.Int).Sub(remaining, clientShare)
		clientFee := new(big.Int).Mul(feeResult.Fee, big.NewInt(int64(clientPct)))
		clientFee.Div(clientFee, big.NewInt(100))
		freelancerFee := new(big.Int).Sub(feeResult.Fee, clientFee)
		clientPayout := new(big.Int).Sub(clientShare, clientFee)
		freelancerPayout := new(big.Int).Sub(freelancerShare, freelancerFee)
		if err := e.transfer(e.escrowVault, job.Client, clientPayout); err != nil {
			return err
		}
		if err := e.transfer(e.escrowVault, job.Assignee, freelancerPayout); err != nil {
			return err
		}
		if feeResult.Fee.Sign() > 0 {
			if e.feePolicy.Collector == ([20]byte{}) {
				return errNilCollector
			}
			if err := e.transfer(e.escrowVault, e.feePolicy.Collector, feeResult.Fee); err != nil {
				return err
			}
		}
	}
	job.Remaining = big.NewInt(0)
	job.Status = JobCompleted
	if err := e.state.JobPut(job); err != nil {
		return err
	}
	dispute.Resolved = true
	dispute.Resolution = resolution
	if err := e.state.DisputePut(dispute); err != nil {
		return err
	}
	winner, loser := job.Client, job.Assignee
	if freelancerPct > 50 {
		winner, loser = job.Assignee, job.Client
	}
	if err := e.reputation.RecordDisputeOutcome(winner, loser); err != nil {
		return err
	}
	e.emit(NewDisputeResolvedEvent(dispute, clientPct, freelancerPct))
	return nil
}
