package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/archon-research/stl-lend/internal/ports/outbound"
)

// Compile-time check that RunJournal implements outbound.RunJournal
var _ outbound.RunJournal = (*RunJournal)(nil)

// RunJournal keeps the audit trail in memory.
type RunJournal struct {
	mu    sync.RWMutex
	runs  map[string]outbound.RunRecord
	steps map[string][]outbound.StepRecord
}

// NewRunJournal creates a new in-memory run journal.
func NewRunJournal() *RunJournal {
	return &RunJournal{
		runs:  make(map[string]outbound.RunRecord),
		steps: make(map[string][]outbound.StepRecord),
	}
}

// StartRun records a new run.
func (j *RunJournal) StartRun(ctx context.Context, run outbound.RunRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.runs[run.RunID]; ok {
		return fmt.Errorf("run %s already started", run.RunID)
	}
	j.runs[run.RunID] = run
	return nil
}

// RecordStep appends a step to its run.
func (j *RunJournal) RecordStep(ctx context.Context, step outbound.StepRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.runs[step.RunID]; !ok {
		return fmt.Errorf("run %s not started", step.RunID)
	}
	j.steps[step.RunID] = append(j.steps[step.RunID], step)
	return nil
}

// FinishRun stores the final state of a run.
func (j *RunJournal) FinishRun(ctx context.Context, run outbound.RunRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.runs[run.RunID]; !ok {
		return fmt.Errorf("run %s not started", run.RunID)
	}
	j.runs[run.RunID] = run
	return nil
}

// Run returns a stored run.
func (j *RunJournal) Run(runID string) (outbound.RunRecord, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	run, ok := j.runs[runID]
	return run, ok
}

// Steps returns the steps of a run in record order.
func (j *RunJournal) Steps(runID string) []outbound.StepRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	result := make([]outbound.StepRecord, len(j.steps[runID]))
	copy(result, j.steps[runID])
	return result
}
