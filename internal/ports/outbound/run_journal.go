package outbound

import (
	"context"
	"time"
)

// RunRecord describes one workflow run.
type RunRecord struct {
	RunID      string
	ChainID    uint64
	Account    string
	Collateral string
	Debt       string

	// DepositAmount and BorrowAmount are decimal strings of smallest units.
	DepositAmount string
	BorrowAmount  string

	StartedAt  time.Time
	FinishedAt *time.Time
	FinalState string
	Error      string
}

// StepRecord describes one state transition inside a run.
type StepRecord struct {
	RunID     string
	Seq       int
	FromState string
	ToState   string
	Action    string
	TxHashes  []string
	Duration  time.Duration
	Error     string
	At        time.Time
}

// RunJournal is a write-only audit trail of workflow runs. Nothing in the
// workflow reads it back.
type RunJournal interface {
	StartRun(ctx context.Context, run RunRecord) error
	RecordStep(ctx context.Context, step StepRecord) error
	FinishRun(ctx context.Context, run RunRecord) error
}
