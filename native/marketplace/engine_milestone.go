package marketplace

import (
	"fmt"
	"math/big"
)

// AddMilestone carves a sub-portion of the job budget into an unpaid milestone.
// Identifiers come from a per-job monotonic counter, so multiple milestones on
// one job never collide.
func (e *Engine) AddMilestone(caller [20]byte, jobID uint64, description string, amount *big.Int) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return 0, err
	}
	if job.Status != JobOpen && job.Status != JobAssigned {
		return 0, fmt.Errorf("%w: cannot add milestone in status %s", ErrInvalidStatus, job.Status)
	}
	if caller != job.Client {
		return 0, ErrNotClient
	}
	carved := cloneBigInt(amount)
	if carved.Sign() <= 0 {
		return 0, fmt.Errorf("%w: milestone amount must be positive", ErrInvalidAmount)
	}
	if carved.Cmp(job.Remaining) > 0 {
		return 0, fmt.Errorf("%w: milestone exceeds remaining budget", ErrInsufficientFunds)
	}
	id, err := e.state.NextMilestoneID(jobID)
	if err != nil {
		return 0, err
	}
	milestone := &Milestone{
		JobID:       jobID,
		ID:          id,
		Description: description,
		Amount:      carved,
	}
	if err := e.state.MilestonePut(milestone); err != nil {
		return 0, err
	}
	e.emit(NewMilestoneAddedEvent(milestone))
	return id, nil
}

// ReleaseMilestone pays an unpaid milestone out of escrow to the assignee,
// netting the platform fee. The milestone flips to paid exactly once.
func (e *Engine) ReleaseMilestone(caller [20]byte, jobID, milestoneID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != JobAssigned {
		return fmt.Errorf("%w: cannot release in status %s", ErrInvalidStatus, job.Status)
	}
	if caller != job.Client {
		return ErrNotClient
	}
	milestone, ok, err := e.state.MilestoneGet(jobID, milestoneID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: job %d milestone %d", ErrMilestoneNotFound, jobID, milestoneID)
	}
	if milestone.Paid {
		return ErrMilestoneAlreadyPaid
	}
	amount := cloneBigInt(milestone.Amount)
	if amount.Cmp(job.Remaining) > 0 {
		return fmt.Errorf("%w: milestone exceeds remaining budget", ErrInsufficientFunds)
	}
	result, err := e.payoutWithFee(job.Assignee, amount)
	if err != nil {
		return err
	}
	job.Remaining = new(big.Int).Sub(job.Remaining, amount)
	if err := e.state.JobPut(job); err != nil {
		return err
	}
	paid := milestone.Clone()
	paid.Paid = true
	paid.CompletedAt = e.now()
	if err := e.state.MilestonePut(paid); err != nil {
		return err
	}
	e.emit(NewMilestoneReleasedEvent(paid, result.Net, result.Fee))
	return nil
}
