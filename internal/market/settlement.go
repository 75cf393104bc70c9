package market

import (
	"fmt"
	"math/big"

	"github.com/whetherfun/weathermark/internal/domain"
)

// Settlement carries the oracle's final observation for a market.
type Settlement struct {
	// Value is the observed measurement in fixed-point tenths. Bracket and
	// scalar markets settle on it; binary markets record it for audit.
	Value int64

	// Outcome is the binary verdict. Ignored for bracket and scalar markets.
	Outcome bool

	// DataHash fingerprints the oracle data the settlement was derived from.
	DataHash string
}

// settlement (lowercase) is the engine's per-market payout bookkeeping,
// snapshotted at settle time so later mints or transfers cannot change what a
// unit is worth.
type settlement struct {
	perSide map[domain.Side]*sideAlloc
}

type sideAlloc struct {
	alloc  int64 // post-fee pool assigned to this side
	supply int64 // claim-unit supply at settlement, the fixed payout denominator

	paidOut int64
	// dustNumer accumulates bal*alloc mod supply across claims. Retained dust
	// in micro-units is dustNumer/supply; the division is exact once every
	// unit has been redeemed.
	dustNumer *big.Int
}

// SettleMarket finalizes a market against the oracle's observation. Only the
// market's designated oracle may settle, only after expiry, and only once;
// re-settlement is reachable solely through the dispute path. Claims stay
// deferred until the dispute window closes.
func (e *Engine) SettleMarket(caller, marketID string, s Settlement) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.get(marketID)
	if err != nil {
		return domain.Market{}, err
	}
	if caller != m.Oracle {
		return domain.Market{}, fmt.Errorf("market %s: settle: caller %q is not the oracle: %w", marketID, caller, domain.ErrUnauthorized)
	}
	if m.Paused {
		return domain.Market{}, fmt.Errorf("market %s: paused: %w", marketID, domain.ErrInvalidState)
	}
	if now := e.nowFn(); now.Before(m.Expiry) {
		return domain.Market{}, fmt.Errorf("market %s: settle before expiry %s: %w", marketID, m.Expiry, domain.ErrInvalidState)
	}

	// Walk the lifecycle to settled through the legality table. A market that
	// cannot reach resolving from here (settled, cancelled) is rejected by
	// the table itself, which keeps "settle exactly once" in one place.
	switch m.Status {
	case domain.MarketStatusActive:
		if err := transition(m, domain.MarketStatusExpired); err != nil {
			return domain.Market{}, err
		}
		fallthrough
	case domain.MarketStatusExpired, domain.MarketStatusDisputed:
		if err := transition(m, domain.MarketStatusResolving); err != nil {
			return domain.Market{}, err
		}
	}
	if err := transition(m, domain.MarketStatusSettled); err != nil {
		return domain.Market{}, err
	}

	// A dispute re-settlement replaces the prior verdict wholesale. No claims
	// can have paid out yet: claims open only after the window, and the
	// dispute flag is only accepted inside it.
	e.platformFees -= m.FeePlatform
	e.creatorFees[m.Creator] -= m.FeeCreator

	total := m.TotalPool()
	fee := total * e.cfg.FeeBps / domain.BpsDenom
	creatorFee := fee * e.cfg.CreatorShareBps / domain.BpsDenom
	platformFee := fee - creatorFee
	postFee := total - fee

	st := &settlement{perSide: make(map[domain.Side]*sideAlloc)}
	switch m.Type {
	case domain.MarketTypeBinary:
		winner, loser := domain.SideNo, domain.SideYes
		if s.Outcome {
			winner, loser = domain.SideYes, domain.SideNo
		}
		st.perSide[winner] = &sideAlloc{alloc: postFee, dustNumer: new(big.Int)}
		st.perSide[loser] = &sideAlloc{dustNumer: new(big.Int)}
		outcome := s.Outcome
		m.Outcome = &outcome
	case domain.MarketTypeBracket:
		win := winningBracket(m.Brackets, s.Value)
		for i := range m.Brackets {
			sa := &sideAlloc{dustNumer: new(big.Int)}
			if i == win {
				sa.alloc = postFee
			}
			st.perSide[domain.BracketSide(i)] = sa
		}
		m.WinningBracket = &win
	case domain.MarketTypeScalar:
		w := scalarWeight(*m.Scalar, s.Value)
		yesAlloc := mulDiv(postFee, w, domain.BpsDenom)
		st.perSide[domain.SideYes] = &sideAlloc{alloc: yesAlloc, dustNumer: new(big.Int)}
		st.perSide[domain.SideNo] = &sideAlloc{alloc: postFee - yesAlloc, dustNumer: new(big.Int)}
		outcome := w*2 >= domain.BpsDenom
		m.Outcome = &outcome
	}

	m.DustRetained = 0
	for side, sa := range st.perSide {
		sa.supply = e.tokens.Supply(marketID, side)
		if err := e.tokens.MarkOutcome(marketID, side, sa.alloc > 0); err != nil {
			return domain.Market{}, fmt.Errorf("market %s: mark outcome: %w", marketID, err)
		}
		// An allocation with nobody holding the side has no claimants; it is
		// retained in the pool as dust rather than silently lost.
		if sa.supply == 0 && sa.alloc > 0 {
			m.DustRetained += sa.alloc
			sa.alloc = 0
		}
	}
	e.settlements[marketID] = st

	now := e.nowFn()
	windowEnd := now.Add(e.cfg.DisputeWindow)
	value := s.Value
	m.SettlementValue = &value
	m.DataHash = s.DataHash
	m.Attestation = ""
	m.AttestedBy = ""
	m.FeePlatform = platformFee
	m.FeeCreator = creatorFee
	m.SettledAt = &now
	m.DisputeWindowEnd = &windowEnd
	m.UpdatedAt = now

	e.platformFees += platformFee
	e.creatorFees[m.Creator] += creatorFee

	return cloneMarket(*m), nil
}

// winningBracket picks the bracket containing v. Values outside every bracket
// settle to the nearest edge bracket.
func winningBracket(brackets []domain.Bracket, v int64) int {
	for i, b := range brackets {
		if b.Contains(v) {
			return i
		}
	}
	if v < brackets[0].Lo {
		return 0
	}
	return len(brackets) - 1
}

// scalarWeight maps an observed value to the yes side's pool share in basis
// points, linear over the reference range and clamped at its edges.
func scalarWeight(r domain.ScalarRange, v int64) int64 {
	if v <= r.Lo {
		return 0
	}
	if v >= r.Hi {
		return domain.BpsDenom
	}
	return mulDiv(v-r.Lo, domain.BpsDenom, r.Hi-r.Lo)
}

// mulDiv computes floor(a*b/d) without intermediate overflow.
func mulDiv(a, b, d int64) int64 {
	var p big.Int
	p.Mul(big.NewInt(a), big.NewInt(b))
	p.Quo(&p, big.NewInt(d))
	return p.Int64()
}

// FlagDisputed moves a settled market into the disputed state so the oracle
// can re-settle it with corrected data. Accepted only inside the dispute
// window, from the market's oracle or the owner.
func (e *Engine) FlagDisputed(caller, marketID string) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.get(marketID)
	if err != nil {
		return domain.Market{}, err
	}
	if caller != m.Oracle && caller != e.owner {
		return domain.Market{}, fmt.Errorf("market %s: dispute flag: caller %q: %w", marketID, caller, domain.ErrUnauthorized)
	}
	if m.DisputeWindowEnd == nil || !e.nowFn().Before(*m.DisputeWindowEnd) {
		return domain.Market{}, fmt.Errorf("market %s: dispute window closed: %w", marketID, domain.ErrInvalidState)
	}
	if err := transition(m, domain.MarketStatusDisputed); err != nil {
		return domain.Market{}, err
	}
	m.UpdatedAt = e.nowFn()
	return cloneMarket(*m), nil
}

// Payout is the result of a redemption.
type Payout struct {
	MarketID string
	Holder   string
	Amount   int64 // micro-units paid to the holder
	Burned   int64 // claim units destroyed across sides
}

// ClaimWinnings redeems every claim unit the holder has in the market. On a
// settled market it pays the fixed-denominator share of each side's
// allocation; on a cancelled market it refunds contributed collateral 1:1.
// Losing units burn for zero, so the call also serves as position cleanup.
func (e *Engine) ClaimWinnings(holder, marketID string) (Payout, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.get(marketID)
	if err != nil {
		return Payout{}, err
	}
	p := Payout{MarketID: marketID, Holder: holder}
	for _, side := range e.tokens.Sides(marketID) {
		bal := e.tokens.Balance(marketID, side, holder)
		if bal == 0 {
			continue
		}
		paid, err := e.redeemLocked(m, holder, side, bal)
		if err != nil {
			return Payout{}, err
		}
		p.Amount += paid
		p.Burned += bal
	}
	if p.Burned == 0 {
		return Payout{}, fmt.Errorf("market %s: holder %q has no position: %w", marketID, holder, domain.ErrNotFound)
	}
	return p, nil
}

// Redeem burns part of a position and pays its redemption value. The market
// must be cancelled or settled with a closed dispute window.
func (e *Engine) Redeem(holder, marketID string, side domain.Side, amount int64) (Payout, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.get(marketID)
	if err != nil {
		return Payout{}, err
	}
	if amount <= 0 {
		return Payout{}, fmt.Errorf("market %s: redeem amount %d: %w", marketID, amount, domain.ErrValidation)
	}
	paid, err := e.redeemLocked(m, holder, side, amount)
	if err != nil {
		return Payout{}, err
	}
	return Payout{MarketID: marketID, Holder: holder, Amount: paid, Burned: amount}, nil
}

func (e *Engine) redeemLocked(m *domain.Market, holder string, side domain.Side, amount int64) (int64, error) {
	if m.Paused {
		return 0, fmt.Errorf("market %s: paused: %w", m.ID, domain.ErrInvalidState)
	}
	switch m.Status {
	case domain.MarketStatusCancelled:
		if err := e.tokens.Burn(m.ID, side, holder, amount); err != nil {
			return 0, err
		}
		return amount, nil
	case domain.MarketStatusSettled:
		if m.DisputeWindowEnd != nil && e.nowFn().Before(*m.DisputeWindowEnd) {
			return 0, fmt.Errorf("market %s: dispute window open until %s: %w", m.ID, m.DisputeWindowEnd, domain.ErrInvalidState)
		}
	default:
		return 0, fmt.Errorf("market %s: redeem in status %s: %w", m.ID, m.Status, domain.ErrInvalidState)
	}

	st := e.settlements[m.ID]
	sa, ok := st.perSide[side]
	if !ok {
		return 0, fmt.Errorf("market %s: side %q not settled: %w", m.ID, side, domain.ErrValidation)
	}
	if err := e.tokens.Burn(m.ID, side, holder, amount); err != nil {
		return 0, err
	}
	if sa.alloc == 0 {
		return 0, nil
	}

	var num big.Int
	num.Mul(big.NewInt(amount), big.NewInt(sa.alloc))
	var paid, rem big.Int
	paid.QuoRem(&num, big.NewInt(sa.supply), &rem)

	sa.paidOut += paid.Int64()
	sa.dustNumer.Add(sa.dustNumer, &rem)
	m.DustRetained = e.retainedDust(m)
	m.UpdatedAt = e.nowFn()
	return paid.Int64(), nil
}

func (e *Engine) retainedDust(m *domain.Market) int64 {
	st := e.settlements[m.ID]
	var dust int64
	for _, sa := range st.perSide {
		if sa.supply == 0 {
			continue
		}
		var q big.Int
		q.Quo(sa.dustNumer, big.NewInt(sa.supply))
		dust += q.Int64()
	}
	// Allocations stranded on zero-supply sides were folded in at settle
	// time; they live outside the per-side accumulators.
	return dust + e.strandedDust(m)
}

// strandedDust reconstructs allocations that were folded into dust at settle
// time because their side had zero supply: post-fee pool minus what remains
// allocated across sides.
func (e *Engine) strandedDust(m *domain.Market) int64 {
	total := m.TotalPool() - m.FeePlatform - m.FeeCreator
	for _, sa := range e.settlements[m.ID].perSide {
		total -= sa.alloc
	}
	return total
}

// RedemptionValue computes what burning amount units of side would pay right
// now, without mutating anything. Zero before settlement.
func (e *Engine) RedemptionValue(marketID string, side domain.Side, amount int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.get(marketID)
	if err != nil {
		return 0, err
	}
	if amount < 0 {
		return 0, fmt.Errorf("market %s: amount %d: %w", marketID, amount, domain.ErrValidation)
	}
	switch m.Status {
	case domain.MarketStatusCancelled:
		return amount, nil
	case domain.MarketStatusSettled:
	default:
		return 0, nil
	}
	sa, ok := e.settlements[marketID].perSide[side]
	if !ok || sa.alloc == 0 || sa.supply == 0 {
		return 0, nil
	}
	return mulDiv(amount, sa.alloc, sa.supply), nil
}

// TransferPosition moves claim units between holders. Balance-conserving and
// allowed in any state except while paused; what changes across the lifecycle
// is what the units redeem for, not whether they can move.
func (e *Engine) TransferPosition(marketID string, side domain.Side, from, to string, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.get(marketID)
	if err != nil {
		return err
	}
	if m.Paused {
		return fmt.Errorf("market %s: paused: %w", marketID, domain.ErrInvalidState)
	}
	return e.tokens.Transfer(marketID, side, from, to, amount)
}

// Positions returns every non-zero claim balance in the market.
func (e *Engine) Positions(marketID string) ([]domain.PositionBalance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.get(marketID); err != nil {
		return nil, err
	}
	return e.tokens.Balances(marketID, e.nowFn()), nil
}

// SetAttestation records the operator's settlement signature on a settled
// market. A dispute re-settlement clears it until the new verdict is signed.
func (e *Engine) SetAttestation(marketID, signature, signer string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.get(marketID)
	if err != nil {
		return err
	}
	if m.Status != domain.MarketStatusSettled {
		return fmt.Errorf("market %s: attest in status %s: %w", marketID, m.Status, domain.ErrInvalidState)
	}
	m.Attestation = signature
	m.AttestedBy = signer
	m.UpdatedAt = e.nowFn()
	return nil
}

// SideStates merges each side's ledger summary with its settlement payout
// schedule. The result round-trips through Hydrate.
func (e *Engine) SideStates(marketID string) ([]domain.TokenSide, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.get(marketID); err != nil {
		return nil, err
	}

	st := e.settlements[marketID]
	sides := e.tokens.Sides(marketID)
	out := make([]domain.TokenSide, 0, len(sides))
	for _, side := range sides {
		info, err := e.tokens.SideInfo(marketID, side)
		if err != nil {
			return nil, err
		}
		if st != nil {
			if sa, ok := st.perSide[side]; ok {
				info.Alloc = sa.alloc
				info.SettleSupply = sa.supply
				info.PaidOut = sa.paidOut
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// Hydrate loads one persisted market, its ledger state, and, for settled
// markets, the payout schedule back into the engine. Intended for startup
// restore before any traffic.
func (e *Engine) Hydrate(m domain.Market, sides []domain.TokenSide, balances []domain.PositionBalance) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.markets[m.ID]; exists {
		return fmt.Errorf("market %s: hydrate: %w", m.ID, domain.ErrAlreadyExists)
	}

	mm := cloneMarket(m)
	e.markets[m.ID] = &mm

	holders := make(map[string]struct{})
	for _, b := range balances {
		holders[b.Holder] = struct{}{}
	}
	e.bettors[m.ID] = holders

	if len(sides) > 0 {
		if err := e.tokens.Hydrate(m.ID, sides, balances); err != nil {
			return fmt.Errorf("market %s: hydrate ledger: %w", m.ID, err)
		}
	}

	switch m.Status {
	case domain.MarketStatusSettled, domain.MarketStatusDisputed:
		st := &settlement{perSide: make(map[domain.Side]*sideAlloc)}
		for _, s := range sides {
			sa := &sideAlloc{
				alloc:     s.Alloc,
				supply:    s.SettleSupply,
				paidOut:   s.PaidOut,
				dustNumer: new(big.Int),
			}
			// burned*alloc - paidOut*supply reconstructs the exact claim
			// remainder accumulator: every redemption contributes its floor
			// to paidOut and its remainder here.
			if s.SettleSupply > 0 {
				burned := s.SettleSupply - s.TotalSupply
				sa.dustNumer.Mul(big.NewInt(burned), big.NewInt(s.Alloc))
				sa.dustNumer.Sub(sa.dustNumer, new(big.Int).Mul(big.NewInt(s.PaidOut), big.NewInt(s.SettleSupply)))
			}
			st.perSide[s.Side] = sa
		}
		e.settlements[m.ID] = st
		e.platformFees += m.FeePlatform
		e.creatorFees[m.Creator] += m.FeeCreator
	}
	return nil
}

// ListMarkets returns copies of every market in the given status, or all
// markets when status is empty.
func (e *Engine) ListMarkets(status domain.MarketStatus) []domain.Market {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Market, 0, len(e.markets))
	for _, m := range e.markets {
		if status != "" && m.Status != status {
			continue
		}
		out = append(out, cloneMarket(*m))
	}
	return out
}
