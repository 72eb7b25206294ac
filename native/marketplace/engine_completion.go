package marketplace

import (
	"fmt"
	"math/big"
)

// SubmitCompletion marks the work delivered. Only the assignee may submit and
// no funds move until the client approves.
func (e *Engine) SubmitCompletion(caller [20]byte, jobID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != JobAssigned {
		return fmt.Errorf("%w: cannot submit completion in status %s", ErrInvalidStatus, job.Status)
	}
	if !job.HasAssignee || caller != job.Assignee {
		return ErrNotAssignee
	}
	job.Status = JobCompleted
	if err := e.state.JobPut(job); err != nil {
		return err
	}
	e.emit(NewCompletionSubmittedEvent(job))
	return nil
}

// ApproveCompletion pays out the undisbursed budget (fee-split) and credits
// both profiles. Jobs settled through dispute resolution are final and cannot
// be approved a second time.
func (e *Engine) ApproveCompletion(caller [20]byte, jobID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != JobCompleted {
		return fmt.Errorf("%w: cannot approve in status %s", ErrInvalidStatus, job.Status)
	}
	if caller != job.Client {
		return ErrNotClient
	}
	if !job.HasAssignee {
		return ErrNotAssignee
	}
	if _, ok, err := e.state.DisputeGet(jobID); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: job settled by dispute resolution", ErrInvalidStatus)
	}
	if job.Remaining.Sign() > 0 {
		if _, err := e.payoutWithFee(job.Assignee, job.Remaining); err != nil {
			return err
		}
		job.Remaining = big.NewInt(0)
	}
	if err := e.state.JobPut(job); err != nil {
		return err
	}
	if err := e.reputation.RecordCompletion(job.Client, job.Assignee, job.Total); err != nil {
		return err
	}
	e.emit(NewJobCompletedEvent(job))
	return nil
}
