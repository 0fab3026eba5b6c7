// Package workflow drives the collateralized-lending sequence:
// deposit, read capacity, borrow, read capacity, repay, read capacity.
//
// Sequencing lives in the pure Transition function. The Driver only
// executes the action Transition asks for and feeds the outcome back, so
// no step can start before the previous one has returned.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/stl-lend/internal/domain/entity"
	"github.com/archon-research/stl-lend/internal/ports/outbound"
	"github.com/archon-research/stl-lend/internal/services/lending"
)

const tracerName = "github.com/archon-research/stl-lend/internal/services/workflow"

// AllowanceGranter sets and reads ERC20 allowances.
type AllowanceGranter interface {
	GrantAllowance(ctx context.Context, asset, spender common.Address, amount *big.Int, account common.Address) (*entity.Receipt, error)
	Allowance(ctx context.Context, asset, owner, spender common.Address) (*entity.Allowance, error)
}

// PositionManager changes the account's position in the lending pool.
type PositionManager interface {
	Pool() common.Address
	Deposit(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) (*entity.Receipt, error)
	Borrow(ctx context.Context, asset common.Address, amount *big.Int, mode entity.InterestRateMode, referralCode uint16, account common.Address) (*entity.Receipt, error)
	Repay(ctx context.Context, asset common.Address, amount *big.Int, mode entity.InterestRateMode, account common.Address) (*entity.Receipt, error)
}

// SnapshotReader reads the account's aggregate position.
type SnapshotReader interface {
	GetSnapshot(ctx context.Context, account common.Address) (*entity.AccountSnapshot, error)
}

// PriceQuoter reads oracle prices.
type PriceQuoter interface {
	QuotePrice(ctx context.Context, asset common.Address) (*entity.PriceQuote, error)
}

// UnitOfAccount is the denomination of snapshots and prices.
type UnitOfAccount struct {
	Symbol   string
	Decimals uint8
}

// Config holds configuration for a workflow run.
type Config struct {
	// ChainID tags events, journal rows and the account lock.
	ChainID uint64

	// Account signs every transaction and owns the position.
	Account common.Address

	// Collateral is deposited; Debt is borrowed and repaid.
	Collateral *entity.Asset
	Debt       *entity.Asset

	// DepositAmount is in smallest units of Collateral.
	DepositAmount *big.Int

	// RateMode is the interest rate mode for borrow and repay.
	RateMode entity.InterestRateMode

	ReferralCode uint16

	// BorrowBps is the share of available capacity to borrow (10000 = all of it).
	BorrowBps uint32

	// Conversion selects how capacity is converted into Debt units.
	Conversion lending.ConversionMode

	UnitOfAccount UnitOfAccount

	// Logger is the structured logger.
	Logger *slog.Logger
}

// ConfigDefaults returns the defaults applied to unset fields.
func ConfigDefaults() Config {
	return Config{
		RateMode:      entity.RateModeStable,
		BorrowBps:     lending.MaxBps,
		Conversion:    lending.ConversionPrecise,
		UnitOfAccount: UnitOfAccount{Symbol: "ETH", Decimals: 18},
		Logger:        slog.Default(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Account == (common.Address{}) {
		return fmt.Errorf("account is required")
	}
	if c.Collateral == nil {
		return fmt.Errorf("collateral asset is required")
	}
	if c.Debt == nil {
		return fmt.Errorf("debt asset is required")
	}
	if err := entity.ValidateAmount(c.DepositAmount); err != nil {
		return fmt.Errorf("deposit amount: %w", err)
	}
	if c.DepositAmount.Sign() == 0 {
		return fmt.Errorf("deposit amount must be positive")
	}
	if err := c.RateMode.Validate(); err != nil {
		return err
	}
	if c.BorrowBps == 0 || c.BorrowBps > lending.MaxBps {
		return fmt.Errorf("borrow bps must be in (0, %d], got %d", lending.MaxBps, c.BorrowBps)
	}
	return nil
}

// Dependencies are the collaborators of a Driver. The first four are
// required; the rest are optional and skipped when nil.
type Dependencies struct {
	Granter   AllowanceGranter
	Positions PositionManager
	Reader    SnapshotReader
	Quoter    PriceQuoter

	Sinks   []outbound.EventSink
	Journal outbound.RunJournal
	Lock    outbound.AccountLock
	Metrics outbound.MetricsRecorder
}

// Driver runs the lending workflow for one account.
type Driver struct {
	config Config
	deps   Dependencies
	tracer trace.Tracer
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewDriver creates a new Driver.
func NewDriver(config Config, deps Dependencies) (*Driver, error) {
	defaults := ConfigDefaults()
	if config.RateMode == 0 {
		config.RateMode = defaults.RateMode
	}
	if config.BorrowBps == 0 {
		config.BorrowBps = defaults.BorrowBps
	}
	if config.UnitOfAccount.Symbol == "" {
		config.UnitOfAccount = defaults.UnitOfAccount
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if deps.Granter == nil {
		return nil, fmt.Errorf("allowance granter is required")
	}
	if deps.Positions == nil {
		return nil, fmt.Errorf("position manager is required")
	}
	if deps.Reader == nil {
		return nil, fmt.Errorf("snapshot reader is required")
	}
	if deps.Quoter == nil {
		return nil, fmt.Errorf("price quoter is required")
	}

	return &Driver{
		config: config,
		deps:   deps,
		tracer: otel.Tracer(tracerName),
		logger: config.Logger.With("component", "workflow-driver", "account", config.Account.Hex()),
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// run is the mutable state of one execution.
type run struct {
	report *Report
	seq    int
	repaid bool
}

// Run executes the workflow until it completes or fails. On failure the
// returned error wraps the component error and the report describes how far
// the run got; partially applied on-chain state is left as is.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	runID := d.newID()
	logger := d.logger.With("runId", runID)

	if d.deps.Lock != nil {
		release, err := d.deps.Lock.Acquire(ctx, d.config.ChainID, d.config.Account, runID)
		if err != nil {
			return nil, fmt.Errorf("acquiring account lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("failed to release account lock", "error", err)
			}
		}()
	}

	ctx, span := d.tracer.Start(ctx, "workflow.Run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int64("chain.id", int64(d.config.ChainID)),
		attribute.String("account", d.config.Account.Hex()),
		attribute.String("collateral", d.config.Collateral.Symbol),
		attribute.String("debt", d.config.Debt.Symbol),
	))
	defer span.End()

	r := &run{report: newReport(runID, d.config.ChainID, d.config.Account, d.now())}
	d.startJournal(ctx, logger, r.report)

	logger.Info("starting workflow",
		"collateral", d.config.Collateral.String(),
		"debt", d.config.Debt.String(),
		"depositAmount", d.config.Collateral.Format(d.config.DepositAmount),
		"rateMode", d.config.RateMode.String(),
		"conversion", d.config.Conversion.String())

	state, action := StateStart, Expected(StateStart)
	for !state.Terminal() {
		start := d.now()
		receiptsBefore := len(r.report.Receipts)

		err := d.execute(ctx, logger, r, action)

		next, nextAction := Transition(state, Result{Action: action, Err: err})
		if next == StateFailed && err == nil {
			err = fmt.Errorf("action %s not valid in state %s", action, state)
		}

		d.recordStep(ctx, logger, r, Step{
			From:     state,
			To:       next,
			Action:   action,
			TxHashes: txHashes(r.report.Receipts[receiptsBefore:]),
			Duration: d.now().Sub(start),
			Error:    errorString(err),
		}, err)

		if next == StateFailed {
			r.report.FailedAction = action
			r.report.Err = err
		}
		state, action = next, nextAction
	}

	r.report.FinalState = state
	r.report.finalize(d.now())
	d.finishJournal(ctx, logger, r.report)
	if d.deps.Metrics != nil {
		d.deps.Metrics.RecordRun(ctx, string(state))
	}

	if r.report.Err != nil {
		span.RecordError(r.report.Err)
		span.SetStatus(codes.Error, "workflow failed")
		logger.Error("workflow failed",
			"action", r.report.FailedAction,
			"duration", r.report.Duration,
			"error", r.report.Err)
		return r.report, fmt.Errorf("workflow %s failed during %s: %w", runID, r.report.FailedAction, r.report.Err)
	}

	logger.Info("workflow completed", "duration", r.report.Duration, "transactions", len(r.report.Receipts))
	return r.report, nil
}

// execute performs one action inside its own span.
func (d *Driver) execute(ctx context.Context, logger *slog.Logger, r *run, action Action) error {
	ctx, span := d.tracer.Start(ctx, "workflow."+string(action))
	defer span.End()

	start := d.now()
	var err error
	switch action {
	case ActionDeposit:
		err = d.deposit(ctx, logger, r)
	case ActionReadSnapshot:
		err = d.readSnapshot(ctx, logger, r)
	case ActionBorrow:
		err = d.borrow(ctx, logger, r)
	case ActionRepay:
		err = d.repay(ctx, logger, r)
	case ActionFinish:
	default:
		err = fmt.Errorf("unknown action %q", action)
	}

	if d.deps.Metrics != nil {
		d.deps.Metrics.RecordStep(ctx, string(action), d.now().Sub(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// approve grants the pool an allowance of amount and reads it back. A
// confirmed approve that leaves the allowance short fails the step.
func (d *Driver) approve(ctx context.Context, logger *slog.Logger, r *run, asset *entity.Asset, amount *big.Int) error {
	pool := d.deps.Positions.Pool()

	receipt, err := d.deps.Granter.GrantAllowance(ctx, asset.Address, pool, amount, d.config.Account)
	d.addReceipt(ctx, r, receipt)
	if err != nil {
		return err
	}

	allowance, err := d.deps.Granter.Allowance(ctx, asset.Address, d.config.Account, pool)
	if err != nil {
		return fmt.Errorf("reading allowance: %w", err)
	}
	logger.Info("allowance",
		"asset", asset.Symbol,
		"spender", pool.Hex(),
		"allowance", asset.Format(allowance.Amount))
	if !allowance.Covers(amount) {
		return fmt.Errorf("allowance %s %s does not cover %s", asset.Format(allowance.Amount), asset.Symbol, asset.Format(amount))
	}
	return nil
}

func (d *Driver) deposit(ctx context.Context, logger *slog.Logger, r *run) error {
	asset := d.config.Collateral.Address
	amount := d.config.DepositAmount

	if err := d.approve(ctx, logger, r, d.config.Collateral, amount); err != nil {
		return fmt.Errorf("approving %s for deposit: %w", d.config.Collateral.Symbol, err)
	}

	receipt, err := d.deps.Positions.Deposit(ctx, asset, amount, d.config.Account, d.config.ReferralCode)
	d.addReceipt(ctx, r, receipt)
	if err != nil {
		return fmt.Errorf("depositing %s: %w", d.config.Collateral.Symbol, err)
	}
	return nil
}

func (d *Driver) readSnapshot(ctx context.Context, logger *slog.Logger, r *run) error {
	snapshot, err := d.deps.Reader.GetSnapshot(ctx, d.config.Account)
	if err != nil {
		return fmt.Errorf("reading account data: %w", err)
	}
	r.report.Snapshots = append(r.report.Snapshots, snapshot)

	unit := d.config.UnitOfAccount
	logger.Info("account snapshot",
		"read", len(r.report.Snapshots),
		"totalCollateral", entity.FormatUnits(snapshot.TotalCollateral, unit.Decimals),
		"totalDebt", entity.FormatUnits(snapshot.TotalDebt, unit.Decimals),
		"availableBorrows", entity.FormatUnits(snapshot.AvailableBorrows, unit.Decimals),
		"unit", unit.Symbol,
		"healthFactor", entity.FormatUnits(snapshot.HealthFactor, 18))

	// Interest accrued between borrow and repay stays behind as dust.
	if r.repaid && snapshot.HasDebt() {
		logger.Warn("debt remains after repay",
			"totalDebt", entity.FormatUnits(snapshot.TotalDebt, unit.Decimals),
			"unit", unit.Symbol)
	}
	return nil
}

func (d *Driver) borrow(ctx context.Context, logger *slog.Logger, r *run) error {
	snapshot := r.report.LastSnapshot()
	if snapshot == nil {
		return fmt.Errorf("no account snapshot to size the borrow")
	}

	quote, err := d.deps.Quoter.QuotePrice(ctx, d.config.Debt.Address)
	if err != nil {
		return fmt.Errorf("quoting %s: %w", d.config.Debt.Symbol, err)
	}
	r.report.BorrowQuote = quote

	amount, err := lending.BorrowAmount(snapshot.AvailableBorrows, quote, d.config.Debt.Decimals, d.config.BorrowBps, d.config.Conversion)
	if err != nil {
		return fmt.Errorf("converting capacity to %s: %w", d.config.Debt.Symbol, err)
	}
	if amount.Sign() == 0 {
		return fmt.Errorf("available capacity converts to zero %s", d.config.Debt.Symbol)
	}
	r.report.BorrowAmount = amount

	logger.Info("borrowing",
		"asset", d.config.Debt.Symbol,
		"amount", d.config.Debt.Format(amount),
		"price", entity.FormatUnits(quote.Price, d.config.UnitOfAccount.Decimals))

	receipt, err := d.deps.Positions.Borrow(ctx, d.config.Debt.Address, amount, d.config.RateMode, d.config.ReferralCode, d.config.Account)
	d.addReceipt(ctx, r, receipt)
	if err != nil {
		return fmt.Errorf("borrowing %s: %w", d.config.Debt.Symbol, err)
	}
	return nil
}

func (d *Driver) repay(ctx context.Context, logger *slog.Logger, r *run) error {
	amount := r.report.BorrowAmount
	if amount == nil {
		return fmt.Errorf("nothing borrowed to repay")
	}
	asset := d.config.Debt.Address

	if err := d.approve(ctx, logger, r, d.config.Debt, amount); err != nil {
		return fmt.Errorf("approving %s for repay: %w", d.config.Debt.Symbol, err)
	}

	receipt, err := d.deps.Positions.Repay(ctx, asset, amount, d.config.RateMode, d.config.Account)
	d.addReceipt(ctx, r, receipt)
	if err != nil {
		return fmt.Errorf("repaying %s: %w", d.config.Debt.Symbol, err)
	}
	r.repaid = true
	return nil
}

// addReceipt keeps every receipt the chain produced, reverted ones included.
func (d *Driver) addReceipt(ctx context.Context, r *run, receipt *entity.Receipt) {
	if receipt == nil {
		return
	}
	r.report.Receipts = append(r.report.Receipts, receipt)
	if d.deps.Metrics != nil {
		d.deps.Metrics.RecordTransaction(ctx, receipt.Method, receipt.Succeeded())
	}
}

// recordStep appends the step to the report and fans it out to the journal
// and event sinks. Audit failures are logged and never fail the run.
func (d *Driver) recordStep(ctx context.Context, logger *slog.Logger, r *run, step Step, stepErr error) {
	r.seq++
	r.report.Steps = append(r.report.Steps, step)

	hashes := make([]string, len(step.TxHashes))
	for i, h := range step.TxHashes {
		hashes[i] = h.Hex()
	}
	at := d.now().UTC()

	logger.Debug("state transition",
		"from", step.From,
		"to", step.To,
		"action", step.Action,
		"duration", step.Duration,
		"error", stepErr)

	if d.deps.Journal != nil {
		err := d.deps.Journal.RecordStep(ctx, outbound.StepRecord{
			RunID:     r.report.RunID,
			Seq:       r.seq,
			FromState: string(step.From),
			ToState:   string(step.To),
			Action:    string(step.Action),
			TxHashes:  hashes,
			Duration:  step.Duration,
			Error:     step.Error,
			At:        at,
		})
		if err != nil {
			logger.Warn("failed to journal step", "seq", r.seq, "error", err)
		}
	}

	event := outbound.WorkflowEvent{
		RunID:     r.report.RunID,
		ChainID:   d.config.ChainID,
		Account:   d.config.Account.Hex(),
		FromState: string(step.From),
		ToState:   string(step.To),
		Action:    string(step.Action),
		TxHashes:  hashes,
		Error:     step.Error,
		At:        at,
	}
	for _, sink := range d.deps.Sinks {
		if err := sink.Publish(ctx, event); err != nil {
			logger.Warn("failed to publish workflow event", "toState", event.ToState, "error", err)
		}
	}
}

func (d *Driver) runRecord(report *Report) outbound.RunRecord {
	record := outbound.RunRecord{
		RunID:         report.RunID,
		ChainID:       report.ChainID,
		Account:       report.Account.Hex(),
		Collateral:    d.config.Collateral.Symbol,
		Debt:          d.config.Debt.Symbol,
		DepositAmount: d.config.DepositAmount.String(),
		StartedAt:     report.StartTime.UTC(),
		Error:         errorString(report.Err),
	}
	if report.BorrowAmount != nil {
		record.BorrowAmount = report.BorrowAmount.String()
	}
	if report.FinalState.Terminal() {
		finished := report.EndTime.UTC()
		record.FinishedAt = &finished
		record.FinalState = string(report.FinalState)
	}
	return record
}

func (d *Driver) startJournal(ctx context.Context, logger *slog.Logger, report *Report) {
	if d.deps.Journal == nil {
		return
	}
	if err := d.deps.Journal.StartRun(ctx, d.runRecord(report)); err != nil {
		logger.Warn("failed to journal run start", "error", err)
	}
}

func (d *Driver) finishJournal(ctx context.Context, logger *slog.Logger, report *Report) {
	if d.deps.Journal == nil {
		return
	}
	if err := d.deps.Journal.FinishRun(context.WithoutCancel(ctx), d.runRecord(report)); err != nil {
		logger.Warn("failed to journal run finish", "error", err)
	}
}

func txHashes(receipts []*entity.Receipt) []common.Hash {
	if len(receipts) == 0 {
		return nil
	}
	hashes := make([]common.Hash, len(receipts))
	for i, rc := range receipts {
		hashes[i] = rc.TxHash
	}
	return hashes
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsLocked reports whether err means another run holds the account.
func IsLocked(err error) bool {
	return errors.Is(err, outbound.ErrAccountLocked)
}
