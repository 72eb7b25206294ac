package marketplace

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"gigchain/core/types"
)

const (
	EventTypeJobPosted           = "marketplace.job.posted"
	EventTypeJobCancelled        = "marketplace.job.cancelled"
	EventTypeJobAssigned         = "marketplace.job.assigned"
	EventTypeJobBonusAdded       = "marketplace.job.bonusAdded"
	EventTypeJobCompleted        = "marketplace.job.completed"
	EventTypeCompletionSubmitted = "marketplace.job.completionSubmitted"
	EventTypeProposalSubmitted   = "marketplace.proposal.submitted"
	EventTypeMilestoneAdded      = "marketplace.milestone.added"
	EventTypeMilestoneReleased   = "marketplace.milestone.released"
	EventTypeDisputeInitiated    = "marketplace.dispute.initiated"
	EventTypeEvidenceSubmitted   = "marketplace.dispute.evidence"
	EventTypeArbiterAssigned     = "marketplace.dispute.arbiterAssigned"
	EventTypeDisputeResolved     = "marketplace.dispute.resolved"
)

// NewJobPostedEvent returns the canonical payload for a newly posted job.
func NewJobPostedEvent(j *Job) *types.Event { return newJobEvent(EventTypeJobPosted, j, nil) }

// NewJobCancelledEvent returns the payload emitted when an open job is
// cancelled and refunded.
func NewJobCancelledEvent(j *Job) *types.Event { return newJobEvent(EventTypeJobCancelled, j, nil) }

// NewJobAssignedEvent returns the payload emitted when a proposal is accepted.
func NewJobAssignedEvent(j *Job) *types.Event { return newJobEvent(EventTypeJobAssigned, j, nil) }

// NewBonusAddedEvent returns the payload emitted when the client tops up the
// escrowed budget.
func NewBonusAddedEvent(j *Job, bonus *big.Int) *types.Event {
	extra := map[string]string{"bonus": formatAmount(bonus)}
	return newJobEvent(EventTypeJobBonusAdded, j, extra)
}

// NewCompletionSubmittedEvent returns the payload emitted when the assignee
// marks the work delivered.
func NewCompletionSubmittedEvent(j *Job) *types.Event {
	return newJobEvent(EventTypeCompletionSubmitted, j, nil)
}

// NewJobCompletedEvent returns the payload emitted when the client approves
// completion and the residual budget is paid out.
func NewJobCompletedEvent(j *Job) *types.Event { return newJobEvent(EventTypeJobCompleted, j, nil) }

// NewProposalSubmittedEvent returns the payload emitted for a recorded
// proposal.
func NewProposalSubmittedEvent(p *Proposal) *types.Event {
	attrs := make(map[string]string)
	if p != nil {
		attrs["jobId"] = strconv.FormatUint(p.JobID, 10)
		attrs["freelancer"] = hex.EncodeToString(p.Freelancer[:])
		attrs["amount"] = formatAmount(p.Amount)
		attrs["deadline"] = strconv.FormatInt(p.Deadline, 10)
		attrs["submittedAt"] = strconv.FormatInt(p.SubmittedAt, 10)
	}
	return &types.Event{Type: EventTypeProposalSubmitted, Attributes: attrs}
}

// NewMilestoneAddedEvent returns the payload emitted when a milestone is
// carved out of the job budget.
func NewMilestoneAddedEvent(m *Milestone) *types.Event {
	return newMilestoneEvent(EventTypeMilestoneAdded, m, nil)
}

// NewMilestoneReleasedEvent returns the payload emitted when a milestone is
// paid, including the fee split.
func NewMilestoneReleasedEvent(m *Milestone, net, fee *big.Int) *types.Event {
	extra := map[string]string{
		"net": formatAmount(net),
		"fee": formatAmount(fee),
	}
	return newMilestoneEvent(EventTypeMilestoneReleased, m, extra)
}

// NewDisputeInitiatedEvent returns the payload emitted when a dispute opens.
func NewDisputeInitiatedEvent(d *Dispute) *types.Event {
	return newDisputeEvent(EventTypeDisputeInitiated, d, nil)
}

// NewEvidenceSubmittedEvent returns the payload emitted when a party files
// evidence.
func NewEvidenceSubmittedEvent(d *Dispute, party [20]byte) *types.Event {
	extra := map[string]string{"party": hex.EncodeToString(party[:])}
	return newDisputeEvent(EventTypeEvidenceSubmitted, d, extra)
}

// NewArbiterAssignedEvent returns the payload emitted when the arbiter seat is
// claimed.
func NewArbiterAssignedEvent(d *Dispute) *types.Event {
	return newDisputeEvent(EventTypeArbiterAssigned, d, nil)
}

// NewDisputeResolvedEvent returns the payload emitted when the arbiter settles
// the dispute.
func NewDisputeResolvedEvent(d *Dispute, clientPct, freelancerPct uint32) *types.Event {
	extra := map[string]string{
		"clientPct":     strconv.FormatUint(uint64(clientPct), 10),
		"freelancerPct": strconv.FormatUint(uint64(freelancerPct), 10),
	}
	return newDisputeEvent(EventTypeDisputeResolved, d, extra)
}

func newJobEvent(eventType string, j *Job, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if j != nil {
		attrs["id"] = strconv.FormatUint(j.ID, 10)
		attrs["client"] = hex.EncodeToString(j.Client[:])
		attrs["total"] = formatAmount(j.Total)
		attrs["remaining"] = formatAmount(j.Remaining)
		attrs["deadline"] = strconv.FormatInt(j.Deadline, 10)
		attrs["status"] = j.Status.String()
		if j.HasAssignee {
			attrs["assignee"] = hex.EncodeToString(j.Assignee[:])
		}
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newMilestoneEvent(eventType string, m *Milestone, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if m != nil {
		attrs["jobId"] = strconv.FormatUint(m.JobID, 10)
		attrs["milestoneId"] = strconv.FormatUint(m.ID, 10)
		attrs["amount"] = formatAmount(m.Amount)
		attrs["paid"] = strconv.FormatBool(m.Paid)
		if m.CompletedAt > 0 {
			attrs["completedAt"] = strconv.FormatInt(m.CompletedAt, 10)
		}
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newDisputeEvent(eventType string, d *Dispute, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if d != nil {
		attrs["jobId"] = strconv.FormatUint(d.JobID, 10)
		attrs["initiator"] = hex.EncodeToString(d.Initiator[:])
		attrs["resolved"] = strconv.FormatBool(d.Resolved)
		attrs["createdAt"] = strconv.FormatInt(d.CreatedAt, 10)
		if d.HasArbiter {
			attrs["arbiter"] = hex.EncodeToString(d.Arbiter[:])
		}
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
