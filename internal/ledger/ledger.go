// Package ledger implements the redeemable claim-unit ledger: per market and
// side a fungible token supply with per-holder balances. The market engine is
// the only caller that mints and burns; the ledger itself enforces the
// conservation invariant that supply always equals the sum of balances.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/whetherfun/weathermark/internal/domain"
)

type sideKey struct {
	marketID string
	side     domain.Side
}

type sideLedger struct {
	totalSupply int64
	balances    map[string]int64
	winning     *bool
}

// Ledger holds claim-unit state for all markets.
type Ledger struct {
	mu          sync.Mutex
	sides       map[sideKey]*sideLedger
	initialized map[string][]domain.Side
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{
		sides:       make(map[sideKey]*sideLedger),
		initialized: make(map[string][]domain.Side),
	}
}

// InitMarket creates the side ledgers for a market exactly once. A second
// call for the same market fails, which makes first-use initialization an
// explicit, idempotency-guarded transition rather than an implicit side
// effect.
func (l *Ledger) InitMarket(marketID string, sides []domain.Side) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.initialized[marketID]; ok {
		return fmt.Errorf("ledger: market %s: %w", marketID, domain.ErrAlreadyExists)
	}
	if len(sides) < 2 {
		return fmt.Errorf("ledger: market %s needs at least two sides: %w", marketID, domain.ErrValidation)
	}
	for _, s := range sides {
		if !s.Valid() {
			return fmt.Errorf("ledger: market %s: bad side %q: %w", marketID, s, domain.ErrValidation)
		}
		l.sides[sideKey{marketID, s}] = &sideLedger{balances: make(map[string]int64)}
	}
	l.initialized[marketID] = append([]domain.Side(nil), sides...)
	return nil
}

// Initialized reports whether the market's side ledgers exist.
func (l *Ledger) Initialized(marketID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.initialized[marketID]
	return ok
}

// Mint credits newly created units to a holder and grows total supply.
func (l *Ledger) Mint(marketID string, side domain.Side, holder string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sl, err := l.side(marketID, side)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("ledger: mint %d on %s/%s: %w", amount, marketID, side, domain.ErrValidation)
	}
	sl.totalSupply += amount
	sl.balances[holder] += amount
	return nil
}

// Transfer moves units between holders. Supply is unchanged.
func (l *Ledger) Transfer(marketID string, side domain.Side, from, to string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sl, err := l.side(marketID, side)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("ledger: transfer %d on %s/%s: %w", amount, marketID, side, domain.ErrValidation)
	}
	if from == to {
		return fmt.Errorf("ledger: transfer to self on %s/%s: %w", marketID, side, domain.ErrValidation)
	}
	if sl.balances[from] < amount {
		return fmt.Errorf("ledger: transfer %d on %s/%s: balance %d: %w", amount, marketID, side, sl.balances[from], domain.ErrInsufficient)
	}
	sl.balances[from] -= amount
	if sl.balances[from] == 0 {
		delete(sl.balances, from)
	}
	sl.balances[to] += amount
	return nil
}

// Burn destroys units from a holder's balance and shrinks supply. The market
// engine pairs every burn with its redemption payout inside one transition.
func (l *Ledger) Burn(marketID string, side domain.Side, holder string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sl, err := l.side(marketID, side)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("ledger: burn %d on %s/%s: %w", amount, marketID, side, domain.ErrValidation)
	}
	if sl.balances[holder] < amount {
		return fmt.Errorf("ledger: burn %d on %s/%s: balance %d: %w", amount, marketID, side, sl.balances[holder], domain.ErrInsufficient)
	}
	sl.balances[holder] -= amount
	if sl.balances[holder] == 0 {
		delete(sl.balances, holder)
	}
	sl.totalSupply -= amount
	return nil
}

// MarkOutcome fixes the winning flag for a side at settlement time.
func (l *Ledger) MarkOutcome(marketID string, side domain.Side, winning bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sl, err := l.side(marketID, side)
	if err != nil {
		return err
	}
	w := winning
	sl.winning = &w
	return nil
}

// Balance returns a holder's units on one side.
func (l *Ledger) Balance(marketID string, side domain.Side, holder string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	sl, err := l.side(marketID, side)
	if err != nil {
		return 0
	}
	return sl.balances[holder]
}

// Supply returns total supply for one side.
func (l *Ledger) Supply(marketID string, side domain.Side) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	sl, err := l.side(marketID, side)
	if err != nil {
		return 0
	}
	return sl.totalSupply
}

// SideInfo returns the summary record for one side.
func (l *Ledger) SideInfo(marketID string, side domain.Side) (domain.TokenSide, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sl, err := l.side(marketID, side)
	if err != nil {
		return domain.TokenSide{}, err
	}
	info := domain.TokenSide{
		MarketID:    marketID,
		Side:        side,
		TotalSupply: sl.totalSupply,
	}
	if sl.winning != nil {
		w := *sl.winning
		info.Winning = &w
	}
	return info, nil
}

// Sides returns the sides a market was initialized with.
func (l *Ledger) Sides(marketID string) []domain.Side {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Side(nil), l.initialized[marketID]...)
}

// Balances returns every holder balance for a market, for persistence.
func (l *Ledger) Balances(marketID string, now time.Time) []domain.PositionBalance {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.PositionBalance
	for _, s := range l.initialized[marketID] {
		sl := l.sides[sideKey{marketID, s}]
		for holder, amount := range sl.balances {
			out = append(out, domain.PositionBalance{
				MarketID:  marketID,
				Side:      s,
				Holder:    holder,
				Amount:    amount,
				UpdatedAt: now,
			})
		}
	}
	return out
}

// CheckSupply verifies supply == sum(balances) for every side of the market.
// A failure is an invariant violation, not a runtime condition to tolerate.
func (l *Ledger) CheckSupply(marketID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, s := range l.initialized[marketID] {
		sl := l.sides[sideKey{marketID, s}]
		var sum int64
		for _, b := range sl.balances {
			sum += b
		}
		if sum != sl.totalSupply {
			return fmt.Errorf("ledger: market %s side %s: supply %d != balance sum %d", marketID, s, sl.totalSupply, sum)
		}
	}
	return nil
}

// Hydrate restores persisted balances into an empty ledger.
func (l *Ledger) Hydrate(marketID string, sides []domain.TokenSide, balances []domain.PositionBalance) error {
	if len(sides) == 0 {
		return fmt.Errorf("ledger: hydrate %s: no sides: %w", marketID, domain.ErrValidation)
	}
	names := make([]domain.Side, 0, len(sides))
	for _, s := range sides {
		names = append(names, s.Side)
	}
	if err := l.InitMarket(marketID, names); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range sides {
		sl := l.sides[sideKey{marketID, s.Side}]
		sl.totalSupply = s.TotalSupply
		if s.Winning != nil {
			w := *s.Winning
			sl.winning = &w
		}
	}
	for _, b := range balances {
		sl, ok := l.sides[sideKey{b.MarketID, b.Side}]
		if !ok {
			return fmt.Errorf("ledger: hydrate %s: balance on unknown side %q: %w", marketID, b.Side, domain.ErrValidation)
		}
		sl.balances[b.Holder] = b.Amount
	}
	return nil
}

func (l *Ledger) side(marketID string, side domain.Side) (*sideLedger, error) {
	sl, ok := l.sides[sideKey{marketID, side}]
	if !ok {
		return nil, fmt.Errorf("ledger: market %s side %q: %w", marketID, side, domain.ErrNotFound)
	}
	return sl, nil
}
