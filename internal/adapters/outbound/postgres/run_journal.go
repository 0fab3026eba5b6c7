package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/stl-lend/internal/ports/outbound"
)

// Compile-time check that RunJournal implements outbound.RunJournal
var _ outbound.RunJournal = (*RunJournal)(nil)

// RunJournal writes workflow runs and steps to PostgreSQL.
type RunJournal struct {
	pool     *pgxpool.Pool
	ownsPool bool
	logger   *slog.Logger
}

// NewRunJournal creates a new RunJournal.
func NewRunJournal(pool *pgxpool.Pool, logger *slog.Logger) (*RunJournal, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RunJournal{
		pool:   pool,
		logger: logger.With("component", "run-journal"),
	}, nil
}

// Close releases the pool if the journal opened it. A pool passed to
// NewRunJournal stays with its caller.
func (j *RunJournal) Close() {
	if j.ownsPool {
		j.pool.Close()
	}
}

// StartRun inserts a new run row.
func (j *RunJournal) StartRun(ctx context.Context, run outbound.RunRecord) error {
	deposit, err := numeric(run.DepositAmount)
	if err != nil {
		return fmt.Errorf("deposit amount: %w", err)
	}

	_, err = j.pool.Exec(ctx, `
		INSERT INTO workflow_runs (
			run_id, chain_id, account, collateral_asset, debt_asset,
			deposit_amount, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.RunID, int64(run.ChainID), run.Account, run.Collateral, run.Debt,
		deposit, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.RunID, err)
	}
	return nil
}

// RecordStep inserts one transition of a run.
func (j *RunJournal) RecordStep(ctx context.Context, step outbound.StepRecord) error {
	txHashes := step.TxHashes
	if txHashes == nil {
		txHashes = []string{}
	}

	_, err := j.pool.Exec(ctx, `
		INSERT INTO workflow_steps (
			run_id, seq, from_state, to_state, action, tx_hashes,
			duration_ms, error, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		step.RunID, step.Seq, step.FromState, step.ToState, step.Action, txHashes,
		step.Duration.Milliseconds(), nullable(step.Error), step.At)
	if err != nil {
		return fmt.Errorf("failed to insert step %d of run %s: %w", step.Seq, step.RunID, err)
	}
	return nil
}

// FinishRun stores the outcome of a run.
func (j *RunJournal) FinishRun(ctx context.Context, run outbound.RunRecord) error {
	var borrow any
	if run.BorrowAmount != "" {
		b, err := numeric(run.BorrowAmount)
		if err != nil {
			return fmt.Errorf("borrow amount: %w", err)
		}
		borrow = b
	}

	tag, err := j.pool.Exec(ctx, `
		UPDATE workflow_runs
		SET final_state = $2, borrow_amount = $3, error = $4, finished_at = $5
		WHERE run_id = $1`,
		run.RunID, run.FinalState, borrow, nullable(run.Error), run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", run.RunID)
	}
	return nil
}

// numeric validates a decimal integer string for a NUMERIC column.
func numeric(s string) (string, error) {
	if _, ok := new(big.Int).SetString(s, 10); !ok {
		return "", fmt.Errorf("invalid integer %q", s)
	}
	return s, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
