// Package verify implements the email verification pipeline: classification of
// primary provider results, routing of ambiguous emails to the disambiguation
// providers, and the checkpointed driver that moves a job through its stages.
package verify

// Category is a terminal classification of an email.
type Category string

const (
	CategoryValid         Category = "valid"
	CategoryCatchAllValid Category = "catch_all_valid"
	CategoryInvalid       Category = "invalid"
	CategoryUnknown       Category = "unknown"
)

// Queue names the disambiguation provider an ambiguous email waits for.
type Queue int

const (
	QueueNone Queue = iota
	QueueGeneric
	QueueWorkspace
)

func (q Queue) String() string {
	switch q {
	case QueueGeneric:
		return "generic"
	case QueueWorkspace:
		return "workspace"
	default:
		return "none"
	}
}

// Raw primary provider results that need disambiguation.
const (
	ResultDeliverable = "deliverable"
	ResultUnknown     = "unknown"
	ResultCatchAll    = "catch_all"
	ResultRisky       = "risky"
)

// WorkspaceProvider is the mailbox provider hint that routes ambiguous emails
// straight to the Workspace disambiguator.
const WorkspaceProvider = "googleworkspace"

// Verdict is the outcome of one classification step. Exactly one of Category
// and Queue is set.
type Verdict struct {
	Category Category
	Queue    Queue
}

// Pending reports whether the email still waits for a disambiguation provider.
func (v Verdict) Pending() bool {
	return v.Queue != QueueNone
}

// Classify maps a primary provider result to a terminal category or a
// disambiguation queue. Both inputs are matched exactly as the provider sent
// them; any other result, including a differently cased one, is Invalid.
func Classify(result, mailboxProvider string) Verdict {
	switch result {
	case ResultDeliverable:
		return Verdict{Category: CategoryValid}
	case ResultUnknown, ResultCatchAll, ResultRisky:
		if mailboxProvider == WorkspaceProvider {
			return Verdict{Queue: QueueWorkspace}
		}
		return Verdict{Queue: QueueGeneric}
	default:
		return Verdict{Category: CategoryInvalid}
	}
}

// AfterDisambiguation classifies an email once the provider for queue has
// answered. A valid answer is CatchAllValid when the raw result was catch_all
// or risky. A non-valid answer from the generic provider escalates to the
// Workspace queue; from the Workspace provider it is Unknown.
func AfterDisambiguation(result string, valid bool, from Queue) Verdict {
	if valid {
		switch result {
		case ResultCatchAll, ResultRisky:
			return Verdict{Category: CategoryCatchAllValid}
		default:
			return Verdict{Category: CategoryValid}
		}
	}
	if from == QueueGeneric {
		return Verdict{Queue: QueueWorkspace}
	}
	return Verdict{Category: CategoryUnknown}
}
