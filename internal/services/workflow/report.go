package workflow

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-lend/internal/domain/entity"
)

// Step records one transition of a run.
type Step struct {
	From     State         `json:"from"`
	To       State         `json:"to"`
	Action   Action        `json:"action"`
	TxHashes []common.Hash `json:"tx_hashes,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Report is the outcome of one workflow run.
type Report struct {
	RunID   string         `json:"run_id"`
	ChainID uint64         `json:"chain_id"`
	Account common.Address `json:"account"`

	// FinalState is StateCompleted or StateFailed.
	FinalState State `json:"final_state"`

	// FailedAction is the action that moved the run to StateFailed.
	FailedAction Action `json:"failed_action,omitempty"`
	Err          error  `json:"-"`

	Receipts  []*entity.Receipt         `json:"receipts"`
	Snapshots []*entity.AccountSnapshot `json:"snapshots"`
	Steps     []Step                    `json:"steps"`

	// BorrowQuote and BorrowAmount are set once the borrow amount is computed.
	BorrowQuote  *entity.PriceQuote `json:"borrow_quote,omitempty"`
	BorrowAmount *big.Int           `json:"borrow_amount,omitempty"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
}

func newReport(runID string, chainID uint64, account common.Address, start time.Time) *Report {
	return &Report{
		RunID:      runID,
		ChainID:    chainID,
		Account:    account,
		FinalState: StateStart,
		Receipts:   make([]*entity.Receipt, 0, 5),
		Snapshots:  make([]*entity.AccountSnapshot, 0, 3),
		StartTime:  start,
	}
}

// Succeeded reports whether the run reached StateCompleted.
func (r *Report) Succeeded() bool {
	return r.FinalState == StateCompleted
}

// LastSnapshot returns the most recent snapshot, or nil before the first read.
func (r *Report) LastSnapshot() *entity.AccountSnapshot {
	if len(r.Snapshots) == 0 {
		return nil
	}
	return r.Snapshots[len(r.Snapshots)-1]
}

func (r *Report) finalize(end time.Time) {
	r.EndTime = end
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// Summary renders a short human-readable description of the run.
func (r *Report) Summary(unit UnitOfAccount, debt *entity.Asset) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "run %s on chain %d for %s: %s in %s\n",
		r.RunID, r.ChainID, r.Account.Hex(), r.FinalState, r.Duration.Round(time.Millisecond))

	for _, rc := range r.Receipts {
		fmt.Fprintf(&sb, "  %-8s %s block %d gas %d\n", rc.Method, rc.TxHash.Hex(), rc.BlockNumber, rc.GasUsed)
	}
	if r.BorrowAmount != nil && debt != nil {
		fmt.Fprintf(&sb, "  borrowed %s %s\n", debt.Format(r.BorrowAmount), debt.Symbol)
	}
	if s := r.LastSnapshot(); s != nil {
		fmt.Fprintf(&sb, "  final collateral %s %s, debt %s %s\n",
			entity.FormatUnits(s.TotalCollateral, unit.Decimals), unit.Symbol,
			entity.FormatUnits(s.TotalDebt, unit.Decimals), unit.Symbol)
	}
	if r.Err != nil {
		fmt.Fprintf(&sb, "  failed during %s: %v\n", r.FailedAction, r.Err)
	}
	return sb.String()
}
