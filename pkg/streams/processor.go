package streams

import (
	"context"
	"fmt"
)

// Outcome tells the orchestrator what to do with the stream entry after a
// processor ran
type Outcome int

const (
	// OutcomeAcked acknowledges the entry: the processor handled it (or
	// deliberately skipped it)
	OutcomeAcked Outcome = iota

	// OutcomeRejected acknowledges the entry but flags it as a data
	// problem; redelivery would not help
	OutcomeRejected

	// OutcomeRollbackForRedelivery leaves the entry in the pending list so
	// the group redelivers it
	OutcomeRollbackForRedelivery
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAcked:
		return "acked"
	case OutcomeRejected:
		return "rejected"
	case OutcomeRollbackForRedelivery:
		return "rollback"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result pairs an outcome with the error that produced it
type Result struct {
	Outcome Outcome
	Err     error
}

// Acked is the success result
func Acked() Result {
	return Result{Outcome: OutcomeAcked}
}

// Rejected flags a data problem; the entry is still acknowledged
func Rejected(err error) Result {
	return Result{Outcome: OutcomeRejected, Err: err}
}

// Rollback leaves the entry pending for redelivery
func Rollback(err error) Result {
	return Result{Outcome: OutcomeRollbackForRedelivery, Err: err}
}

// Processor consumes decoded records from one stream via one consumer group
type Processor interface {
	// StreamKey is the stream this processor reads
	StreamKey() string

	// ConsumerGroup names the group sharing progress on the stream
	ConsumerGroup() string

	// ProcessorName identifies the processor in logs and metrics
	ProcessorName() string

	// Process handles one decoded record
	Process(ctx context.Context, fields map[string]string) Result
}
