package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/prabhuswaminathan/nifty-condor-bot/internal/broker"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/chain"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/expiry"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/models"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/payoff"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/positions"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/strategy"
)

// Action identifies the outcome of a decision cycle.
type Action string

const (
	// ActionExistingPositions means open strategies were found; no new trade.
	ActionExistingPositions Action = "existing_positions_found"
	// ActionCondorCreated means a new iron condor was assembled and placed.
	ActionCondorCreated Action = "iron_condor_created"
	// ActionError means the cycle terminated with an error.
	ActionError Action = "error"
)

// Strikes reports the four condor strikes of a created strategy.
type Strikes struct {
	ShortCall float64 `json:"short_call"`
	LongCall  float64 `json:"long_call"`
	ShortPut  float64 `json:"short_put"`
	LongPut   float64 `json:"long_put"`
}

// Outcome is the structured report of one decision cycle. Every terminal
// error carries both a machine-readable reason and a human-readable message.
type Outcome struct {
	Action   Action               `json:"action"`
	State    CycleState           `json:"state"`
	Tags     []string             `json:"tags,omitempty"`
	TradeID  string               `json:"trade_id,omitempty"`
	Strikes  *Strikes             `json:"strikes,omitempty"`
	Payoff   *models.PayoffResult `json:"payoff,omitempty"`
	Reason   string               `json:"reason,omitempty"`
	Message  string               `json:"message,omitempty"`
	Finished time.Time            `json:"finished"`
}

// Config holds the decision cycle parameters.
type Config struct {
	IndexKey         string
	Selection        strategy.Params
	Holidays         expiry.Holidays
	PayoffStep       float64       // price grid step for payoff evaluation
	PositionsTimeout time.Duration // per-call timeout for the position snapshot
	SpotTimeout      time.Duration // per-call timeout for the spot quote
	OrderTimeout     time.Duration // per-call timeout for order placement
}

// Manager sequences one decision cycle: reconcile positions, and when no
// strategy is open, assemble a condor around spot and place it. The cycle is
// strictly sequential; correctness depends on reading positions before
// committing to a new strategy.
type Manager struct {
	broker broker.Broker
	cache  *chain.Cache
	cfg    Config
	logger *logrus.Logger

	// now is replaced in tests for deterministic expiry selection.
	now func() time.Time
	// newTag generates the strategy tag attached to every leg at placement
	// time; reconciliation in later cycles groups legs by this tag.
	newTag func() string
}

// New creates a strategy manager.
func New(b broker.Broker, cache *chain.Cache, cfg Config, logger *logrus.Logger) *Manager {
	if cfg.PayoffStep <= 0 {
		cfg.PayoffStep = cfg.Selection.StrikeInterval
	}
	return &Manager{
		broker: b,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newTag: func() string { return "condor-" + uuid.New().String() },
	}
}

// RunCycle executes one decision cycle and reports a structured outcome.
// The cycle is abortable between steps via ctx; once order placement has
// been invoked, cancellation is a logged no-op — a partially-placed
// multi-leg order is never rolled back automatically.
func (m *Manager) RunCycle(ctx context.Context) Outcome {
	sm := newCycleMachine()
	m.logger.Info("cycle: starting decision cycle")

	// Fresh cycle, fresh chains. Stale strikes risk mispriced strategies.
	m.cache.Invalidate()

	open, reconciled, err := m.checkPositions(ctx)
	if err != nil {
		m.mustTransition(sm, StateError, "position_fetch_failed")
		return m.errorOutcome(sm, "position_fetch_failed", err)
	}

	if len(open) > 0 {
		m.mustTransition(sm, StateOpenExists, "positions_found")
		m.logger.WithField("tags", open).Info("cycle: open strategies found, standing down")
		return Outcome{
			Action:   ActionExistingPositions,
			State:    sm.State(),
			Tags:     open,
			Message:  fmt.Sprintf("%d open strategy tag(s) across %d position(s)", len(open), len(reconciled)),
			Finished: m.now(),
		}
	}

	m.mustTransition(sm, StateBuildingStrategy, "no_open_strategy")

	outcome, buildErr := m.buildStrategy(ctx, sm)
	if buildErr != nil {
		m.mustTransition(sm, StateError, "build_failed")
		return m.errorOutcome(sm, reasonFor(buildErr), buildErr)
	}
	return outcome
}

// checkPositions fetches and reconciles a fresh position snapshot.
func (m *Manager) checkPositions(ctx context.Context) ([]string, []models.Position, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.PositionsTimeout)
	defer cancel()

	raw, err := m.broker.GetPositions(callCtx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching positions: %w", err)
	}

	reconciled := positions.Reconcile(raw)
	open := positions.OpenTags(reconciled)
	m.logger.Infof("cycle: reconciled %d position(s), %d open strategy tag(s)", len(reconciled), len(open))
	return open, reconciled, nil
}

// buildStrategy runs the BUILDING_STRATEGY path: spot, expiry, chain,
// selection, payoff, placement.
func (m *Manager) buildStrategy(ctx context.Context, sm *cycleMachine) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, fmt.Errorf("cycle aborted: %w", err)
	}

	spotCtx, cancelSpot := context.WithTimeout(ctx, m.cfg.SpotTimeout)
	spot, err := m.broker.GetSpotPrice(spotCtx, m.cfg.IndexKey)
	cancelSpot()
	if err != nil {
		return Outcome{}, fmt.Errorf("fetching spot price: %w", err)
	}
	m.logger.Infof("cycle: spot %s = %.2f", m.cfg.IndexKey, spot)

	if err := ctx.Err(); err != nil {
		return Outcome{}, fmt.Errorf("cycle aborted: %w", err)
	}

	exp := expiry.NextExpiry(0, m.now(), m.cfg.Holidays)
	snap, err := m.cache.Get(ctx, exp)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetching option chain: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return Outcome{}, fmt.Errorf("cycle aborted: %w", err)
	}

	cond, err := strategy.Select(spot, snap, m.cfg.Selection)
	if err != nil {
		return Outcome{}, fmt.Errorf("selecting strikes: %w", err)
	}

	premiums, err := strategy.Premiums(cond, snap)
	if err != nil {
		return Outcome{}, fmt.Errorf("reading leg premiums: %w", err)
	}

	result, err := payoff.Evaluate(cond, premiums,
		payoff.RangeAround(cond, m.cfg.Selection.WingWidth, m.cfg.PayoffStep))
	if err != nil {
		return Outcome{}, fmt.Errorf("evaluating payoff: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return Outcome{}, fmt.Errorf("cycle aborted before placement: %w", err)
	}

	// One uuid tag per strategy, attached to every leg's order so later
	// cycles can reconcile the condor as one unit.
	tag := m.newTag()
	cond.Tag = tag

	orderCtx, cancelOrder := context.WithTimeout(ctx, m.cfg.OrderTimeout)
	tradeID, err := m.broker.PlaceMultiLegOrder(orderCtx, cond, tag)
	cancelOrder()
	if err != nil {
		// Never re-submit: a second basket risks duplicate legs. Manual
		// reconciliation handles partial fills.
		return Outcome{}, err
	}
	if ctx.Err() != nil {
		m.logger.Warn("cycle: canceled after order placement; order stands, no automatic rollback")
	}

	shortCall, longCall, shortPut, longPut, err := cond.CondorStrikes()
	if err != nil {
		return Outcome{}, fmt.Errorf("reporting strikes: %w", err)
	}

	m.mustTransition(sm, StateDone, "order_placed")
	m.logger.WithFields(logrus.Fields{
		"tag":      tag,
		"trade_id": tradeID,
	}).Info("cycle: iron condor created")

	return Outcome{
		Action:  ActionCondorCreated,
		State:   sm.State(),
		TradeID: tradeID,
		Tags:    []string{tag},
		Strikes: &Strikes{
			ShortCall: shortCall,
			LongCall:  longCall,
			ShortPut:  shortPut,
			LongPut:   longPut,
		},
		Payoff:   &result,
		Message:  fmt.Sprintf("condor %s placed at %s", tag, exp.Format("2006-01-02")),
		Finished: m.now(),
	}, nil
}

// errorOutcome builds the terminal ERROR report. No error inside a cycle is
// ever logged and dropped; everything funnels through here.
func (m *Manager) errorOutcome(sm *cycleMachine, reason string, err error) Outcome {
	m.logger.WithError(err).Errorf("cycle: terminal error (%s)", reason)
	return Outcome{
		Action:   ActionError,
		State:    sm.State(),
		Reason:   reason,
		Message:  err.Error(),
		Finished: m.now(),
	}
}

// mustTransition applies a transition that is valid by construction; a
// failure here is a programming error worth surfacing loudly.
func (m *Manager) mustTransition(sm *cycleMachine, to CycleState, condition string) {
	if err := sm.Transition(to, condition); err != nil {
		m.logger.WithError(err).Error("cycle: state machine violation")
	}
}

// reasonFor maps component errors onto machine-readable terminal reasons.
func reasonFor(err error) string {
	switch {
	case isSelectionError(err):
		return "strike_not_found"
	case isOrderError(err):
		return "order_failed"
	case broker.IsTransient(err):
		return "fetch_exhausted"
	case isAuthError(err):
		return "auth_failed"
	case isNotFoundError(err):
		return "data_not_found"
	default:
		return "cycle_failed"
	}
}
