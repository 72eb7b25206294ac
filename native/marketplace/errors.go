package marketplace

import "errors"

// Every precondition failure maps to one of these sentinels. Operations check
// all preconditions before the first state mutation, so a returned error means
// no state or balance changed.
var (
	ErrNotAuthorized            = errors.New("marketplace: caller not authorized")
	ErrJobNotFound              = errors.New("marketplace: job not found")
	ErrInvalidStatus            = errors.New("marketplace: job status does not permit operation")
	ErrInvalidAmount            = errors.New("marketplace: amount invalid")
	ErrInsufficientFunds        = errors.New("marketplace: insufficient funds")
	ErrProposalNotFound         = errors.New("marketplace: proposal not found")
	ErrProposalAlreadySubmitted = errors.New("marketplace: proposal already submitted")
	ErrAlreadyExists            = errors.New("marketplace: record already exists")
	ErrJobClosed                = errors.New("marketplace: job closed to proposals")
	ErrNotClient                = errors.New("marketplace: caller is not the job client")
	ErrNotAssignee              = errors.New("marketplace: caller is not the job assignee")
	ErrNoActiveDispute          = errors.New("marketplace: no active dispute")
	ErrNotArbiter               = errors.New("marketplace: caller is not the dispute arbiter")
	ErrMilestoneNotFound        = errors.New("marketplace: milestone not found")
	ErrMilestoneAlreadyPaid     = errors.New("marketplace: milestone already paid")
	ErrDeadlinePassed           = errors.New("marketplace: deadline not in the future")
)
