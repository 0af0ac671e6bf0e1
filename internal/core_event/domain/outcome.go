package domain

// OutcomeKind classifies the result of one publish attempt. The relay's retry
// logic is a plain transition over this value rather than error unwinding.
type OutcomeKind int

const (
	OutcomePublished OutcomeKind = iota
	OutcomeRetryable
	OutcomePermanent
)

// PublishOutcome is the result of a single publish attempt for one record.
type PublishOutcome struct {
	Kind   OutcomeKind
	Reason string
}

func Published() PublishOutcome {
	return PublishOutcome{Kind: OutcomePublished}
}

func Retryable(reason string) PublishOutcome {
	return PublishOutcome{Kind: OutcomeRetryable, Reason: reason}
}

func Permanent(reason string) PublishOutcome {
	return PublishOutcome{Kind: OutcomePermanent, Reason: reason}
}
