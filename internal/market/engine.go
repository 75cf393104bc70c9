// Package market implements the market lifecycle state machine and its
// settlement arithmetic. One Engine owns every market's pooled collateral and
// drives the claim-unit ledger; all pool and payout math is integer
// micro-units with prices and fees in basis points.
package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whetherfun/weathermark/internal/domain"
	"github.com/whetherfun/weathermark/internal/ledger"
)

// Default economic parameters.
const (
	// DefaultFeeBps is the protocol fee taken from the total pool at
	// settlement, in basis points.
	DefaultFeeBps int64 = 150

	// DefaultCreatorShareBps is the creator's share of the fee, in basis
	// points of the fee itself. The platform keeps the rest (60/40).
	DefaultCreatorShareBps int64 = 4000

	// DefaultDisputeWindow is how long claims stay deferred after settlement.
	DefaultDisputeWindow = time.Hour

	// DefaultMinBet is the smallest accepted bet, in micro-units.
	DefaultMinBet = 1 * domain.Micro
)

// Config tunes the engine's economic parameters.
type Config struct {
	FeeBps          int64
	CreatorShareBps int64
	DisputeWindow   time.Duration
	MinBet          int64
}

// DefaultConfig returns the production parameter set.
func DefaultConfig() Config {
	return Config{
		FeeBps:          DefaultFeeBps,
		CreatorShareBps: DefaultCreatorShareBps,
		DisputeWindow:   DefaultDisputeWindow,
		MinBet:          DefaultMinBet,
	}
}

// Engine is the single-writer owner of all market state. Every mutating call
// validates against the current state under the engine lock and applies
// atomically; value moves happen inside the same locked transition as the
// state change that justifies them.
type Engine struct {
	mu    sync.Mutex
	owner string
	nowFn func() time.Time
	cfg   Config

	tokens      *ledger.Ledger
	markets     map[string]*domain.Market
	bettors     map[string]map[string]struct{}
	settlements map[string]*settlement

	platformFees int64
	creatorFees  map[string]int64
}

// New creates an Engine. The owner address gates pause/cancel and registry
// style administration.
func New(owner string, tokens *ledger.Ledger, cfg Config) *Engine {
	if cfg.FeeBps == 0 && cfg.CreatorShareBps == 0 && cfg.DisputeWindow == 0 && cfg.MinBet == 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		owner:       owner,
		nowFn:       time.Now,
		cfg:         cfg,
		tokens:      tokens,
		markets:     make(map[string]*domain.Market),
		bettors:     make(map[string]map[string]struct{}),
		settlements: make(map[string]*settlement),
		creatorFees: make(map[string]int64),
	}
}

// WithClock overrides the engine clock. Intended for tests and replay.
func (e *Engine) WithClock(nowFn func() time.Time) *Engine {
	e.nowFn = nowFn
	return e
}

// Tokens exposes the claim-unit ledger for read-only callers.
func (e *Engine) Tokens() *ledger.Ledger { return e.tokens }

// transitions is the single legality table for market status changes. Every
// status change funnels through transition; nothing mutates Status directly.
var transitions = map[domain.MarketStatus][]domain.MarketStatus{
	domain.MarketStatusPending:   {domain.MarketStatusActive, domain.MarketStatusCancelled},
	domain.MarketStatusActive:    {domain.MarketStatusExpired, domain.MarketStatusCancelled},
	domain.MarketStatusExpired:   {domain.MarketStatusResolving, domain.MarketStatusCancelled},
	domain.MarketStatusResolving: {domain.MarketStatusSettled, domain.MarketStatusCancelled},
	domain.MarketStatusSettled:   {domain.MarketStatusDisputed},
	domain.MarketStatusDisputed:  {domain.MarketStatusResolving},
	domain.MarketStatusCancelled: {},
}

func transition(m *domain.Market, to domain.MarketStatus) error {
	for _, allowed := range transitions[m.Status] {
		if allowed == to {
			m.Status = to
			return nil
		}
	}
	return fmt.Errorf("market %s: transition %s -> %s: %w", m.ID, m.Status, to, domain.ErrInvalidState)
}

// CreateParams describes a new market.
type CreateParams struct {
	Creator     string
	Description string
	LocationID  string
	Type        domain.MarketType
	Criteria    string
	Oracle      string
	Expiry      time.Time
	Brackets    []domain.Bracket
	Scalar      *domain.ScalarRange
	Activate    bool
}

// CreateMarket registers a market and, when Activate is set, opens it for
// betting. Activation also performs the one-time claim-ledger setup.
func (e *Engine) CreateMarket(p CreateParams) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.nowFn()
	if !p.Expiry.After(now) {
		return domain.Market{}, fmt.Errorf("market: expiry %s not in the future: %w", p.Expiry, domain.ErrValidation)
	}
	if p.Oracle == "" || p.Creator == "" {
		return domain.Market{}, fmt.Errorf("market: oracle and creator required: %w", domain.ErrValidation)
	}

	m := &domain.Market{
		ID:          uuid.New().String(),
		Description: p.Description,
		LocationID:  p.LocationID,
		Type:        p.Type,
		Criteria:    p.Criteria,
		Creator:     p.Creator,
		Oracle:      p.Oracle,
		Expiry:      p.Expiry,
		Status:      domain.MarketStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	switch p.Type {
	case domain.MarketTypeBinary:
	case domain.MarketTypeBracket:
		if len(p.Brackets) < 2 {
			return domain.Market{}, fmt.Errorf("market: bracket market needs at least 2 brackets: %w", domain.ErrValidation)
		}
		for i, b := range p.Brackets {
			if b.Lo >= b.Hi {
				return domain.Market{}, fmt.Errorf("market: bracket %d empty range [%d,%d): %w", i, b.Lo, b.Hi, domain.ErrValidation)
			}
		}
		m.Brackets = append([]domain.Bracket(nil), p.Brackets...)
		m.BracketPools = make([]int64, len(p.Brackets))
	case domain.MarketTypeScalar:
		if p.Scalar == nil || p.Scalar.Lo >= p.Scalar.Hi {
			return domain.Market{}, fmt.Errorf("market: scalar market needs a non-empty reference range: %w", domain.ErrValidation)
		}
		r := *p.Scalar
		m.Scalar = &r
	default:
		return domain.Market{}, fmt.Errorf("market: unknown type %q: %w", p.Type, domain.ErrValidation)
	}

	e.markets[m.ID] = m
	e.bettors[m.ID] = make(map[string]struct{})

	if p.Activate {
		if err := e.activateLocked(m); err != nil {
			delete(e.markets, m.ID)
			delete(e.bettors, m.ID)
			return domain.Market{}, err
		}
	}
	return cloneMarket(*m), nil
}

// ActivateMarket opens a pending market for betting. Only the creator or the
// owner may activate.
func (e *Engine) ActivateMarket(caller, marketID string) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.get(marketID)
	if err != nil {
		return domain.Market{}, err
	}
	if caller != m.Creator && caller != e.owner {
		return domain.Market{}, fmt.Errorf("market %s: activate: caller %q: %w", marketID, caller, domain.ErrUnauthorized)
	}
	if err := e.activateLocked(m); err != nil {
		return domain.Market{}, err
	}
	return cloneMarket(*m), nil
}

func (e *Engine) activateLocked(m *domain.Market) error {
	if err := transition(m, domain.MarketStatusActive); err != nil {
		return err
	}
	if err := e.tokens.InitMarket(m.ID, marketSides(m)); err != nil {
		return fmt.Errorf("market %s: init claim ledger: %w", m.ID, err)
	}
	m.UpdatedAt = e.nowFn()
	return nil
}

func marketSides(m *domain.Market) []domain.Side {
	if m.Type == domain.MarketTypeBracket {
		sides := make([]domain.Side, len(m.Brackets))
		for i := range m.Brackets {
			sides[i] = domain.BracketSide(i)
		}
		return sides
	}
	return []domain.Side{domain.SideYes, domain.SideNo}
}

// BetReceipt records the effect of one accepted bet.
type BetReceipt struct {
	MarketID string
	Bettor   string
	Side     domain.Side
	Amount   int64
	Minted   int64
	Pool     int64
}

// PlaceBet credits a side's pool and mints claim units 1:1 to the bettor.
// Valid only while the market is active, unpaused, and before expiry, all
// judged against the engine clock at the instant of the call.
func (e *Engine) PlaceBet(bettor, marketID string, side domain.Side, amount int64) (BetReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.get(marketID)
	if err != nil {
		return BetReceipt{}, err
	}
	if m.Paused {
		return BetReceipt{}, fmt.Errorf("market %s: paused: %w", marketID, domain.ErrInvalidState)
	}
	if m.Status != domain.MarketStatusActive {
		return BetReceipt{}, fmt.Errorf("market %s: status %s: %w", marketID, m.Status, domain.ErrInvalidState)
	}
	if now := e.nowFn(); !now.Before(m.Expiry) {
		return BetReceipt{}, fmt.Errorf("market %s: expired at %s: %w", marketID, m.Expiry, domain.ErrInvalidState)
	}
	if amount < e.cfg.MinBet {
		return BetReceipt{}, fmt.Errorf("market %s: bet %d below minimum %d: %w", marketID, amount, e.cfg.MinBet, domain.ErrInsufficient)
	}

	pool, err := e.creditPool(m, side, amount)
	if err != nil {
		return BetReceipt{}, err
	}
	if err := e.tokens.Mint(marketID, side, bettor, amount); err != nil {
		// Undo the pool credit so a failed mint leaves no partial state.
		_, _ = e.creditPool(m, side, -amount)
		return BetReceipt{}, fmt.Errorf("market %s: mint: %w", marketID, err)
	}

	m.Volume += amount
	if _, seen := e.bettors[marketID][bettor]; !seen {
		e.bettors[marketID][bettor] = struct{}{}
		m.UniqueBettors++
	}
	m.UpdatedAt = e.nowFn()

	return BetReceipt{
		MarketID: marketID,
		Bettor:   bettor,
		Side:     side,
		Amount:   amount,
		Minted:   amount,
		Pool:     pool,
	}, nil
}

func (e *Engine) creditPool(m *domain.Market, side domain.Side, amount int64) (int64, error) {
	switch m.Type {
	case domain.MarketTypeBinary, domain.MarketTypeScalar:
		switch side {
		case domain.SideYes:
			m.YesPool += amount
			return m.YesPool, nil
		case domain.SideNo:
			m.NoPool += amount
			return m.NoPool, nil
		}
	case domain.MarketTypeBracket:
		if i, ok := side.BracketIndex(); ok && i < len(m.BracketPools) {
			m.BracketPools[i] += amount
			return m.BracketPools[i], nil
		}
	}
	return 0, fmt.Errorf("market %s: side %q invalid for %s market: %w", m.ID, side, m.Type, domain.ErrValidation)
}

// PauseMarket blocks every mutating entry point except administrative ones.
func (e *Engine) PauseMarket(caller, marketID string) (domain.Market, error) {
	return e.setPaused(caller, marketID, true)
}

// UnpauseMarket lifts an emergency pause.
func (e *Engine) UnpauseMarket(caller, marketID string) (domain.Market, error) {
	return e.setPaused(caller, marketID, false)
}

func (e *Engine) setPaused(caller, marketID string, paused bool) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return domain.Market{}, fmt.Errorf("market %s: pause: caller %q is not owner: %w", marketID, caller, domain.ErrUnauthorized)
	}
	m, err := e.get(marketID)
	if err != nil {
		return domain.Market{}, err
	}
	m.Paused = paused
	m.UpdatedAt = e.nowFn()
	return cloneMarket(*m), nil
}

// CancelMarket voids an unsettled market. Bettors reclaim their contributed
// collateral 1:1 through the claim path; no fee is taken.
func (e *Engine) CancelMarket(caller, marketID string) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return domain.Market{}, fmt.Errorf("market %s: cancel: caller %q is not owner: %w", marketID, caller, domain.ErrUnauthorized)
	}
	m, err := e.get(marketID)
	if err != nil {
		return domain.Market{}, err
	}
	if err := transition(m, domain.MarketStatusCancelled); err != nil {
		return domain.Market{}, err
	}
	m.UpdatedAt = e.nowFn()
	return cloneMarket(*m), nil
}

// GetMarket returns a copy of the market.
func (e *Engine) GetMarket(marketID string) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.get(marketID)
	if err != nil {
		return domain.Market{}, err
	}
	return cloneMarket(*m), nil
}

// Stats returns the pool summary for a market.
func (e *Engine) Stats(marketID string) (domain.MarketStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.get(marketID)
	if err != nil {
		return domain.MarketStats{}, err
	}
	return domain.MarketStats{
		MarketID:      m.ID,
		Status:        m.Status,
		Paused:        m.Paused,
		TotalPool:     m.TotalPool(),
		YesPool:       m.YesPool,
		NoPool:        m.NoPool,
		BracketPools:  append([]int64(nil), m.BracketPools...),
		Volume:        m.Volume,
		UniqueBettors: m.UniqueBettors,
		FeePlatform:   m.FeePlatform,
		FeeCreator:    m.FeeCreator,
		DustRetained:  m.DustRetained,
	}, nil
}

// PlatformFees returns accumulated platform fee revenue across markets.
func (e *Engine) PlatformFees() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.platformFees
}

// CreatorFees returns accumulated fee revenue for one creator.
func (e *Engine) CreatorFees(creator string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.creatorFees[creator]
}

// CanAcceptOrders is the gate the order book consults before escrowing a new
// resting order.
func (e *Engine) CanAcceptOrders(marketID string, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.get(marketID)
	if err != nil {
		return err
	}
	if m.Paused {
		return fmt.Errorf("market %s: paused: %w", marketID, domain.ErrInvalidState)
	}
	if m.Status != domain.MarketStatusActive {
		return fmt.Errorf("market %s: status %s: %w", marketID, m.Status, domain.ErrInvalidState)
	}
	if !now.Before(m.Expiry) {
		return fmt.Errorf("market %s: expired: %w", marketID, domain.ErrInvalidState)
	}
	return nil
}

func (e *Engine) get(marketID string) (*domain.Market, error) {
	m, ok := e.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", marketID, domain.ErrNotFound)
	}
	return m, nil
}

func cloneMarket(m domain.Market) domain.Market {
	m.BracketPools = append([]int64(nil), m.BracketPools...)
	m.Brackets = append([]domain.Bracket(nil), m.Brackets...)
	if m.Scalar != nil {
		r := *m.Scalar
		m.Scalar = &r
	}
	for _, p := range []**time.Time{&m.SettledAt, &m.DisputeWindowEnd} {
		if *p != nil {
			ts := **p
			*p = &ts
		}
	}
	if m.Outcome != nil {
		o := *m.Outcome
		m.Outcome = &o
	}
	if m.WinningBracket != nil {
		w := *m.WinningBracket
		m.WinningBracket = &w
	}
	if m.SettlementValue != nil {
		v := *m.SettlementValue
		m.SettlementValue = &v
	}
	return m
}
