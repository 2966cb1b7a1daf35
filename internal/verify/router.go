package verify

import "github.com/minionlabs/minion-api/internal/types"

// Router picks the disambiguation provider for a queue.
type Router struct {
	Generic   Disambiguator
	Workspace Disambiguator
}

// For returns the provider serving q, or nil for QueueNone.
func (r Router) For(q Queue) Disambiguator {
	switch q {
	case QueueGeneric:
		return r.Generic
	case QueueWorkspace:
		return r.Workspace
	default:
		return nil
	}
}

// queueName is the value stored on pending checkpoint emails.
func queueName(q Queue) string {
	switch q {
	case QueueGeneric:
		return types.QueueGeneric
	case QueueWorkspace:
		return types.QueueWorkspace
	default:
		return ""
	}
}

// queueFromRecord recovers the queue of a pending email. Records written
// without a queue are re-routed by classification.
func queueFromRecord(rec types.EmailRecord, stageCode int) Queue {
	switch rec.Queue {
	case types.QueueGeneric:
		return QueueGeneric
	case types.QueueWorkspace:
		return QueueWorkspace
	}
	if stageCode == types.CodeTertiary {
		return QueueWorkspace
	}
	if v := Classify(rec.Result, rec.MailboxProvider); v.Pending() {
		return v.Queue
	}
	return QueueGeneric
}
