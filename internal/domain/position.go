package domain

import "time"

// PositionBalance is one holder's claim-unit balance on one side of a market.
type PositionBalance struct {
	MarketID  string
	Side      Side
	Holder    string
	Amount    int64
	UpdatedAt time.Time
}

// TokenSide summarizes one side's claim-unit ledger. Winning is nil until the
// market settles, then fixed. Invariant: TotalSupply equals the sum of all
// holder balances on this side.
type TokenSide struct {
	MarketID    string
	Side        Side
	TotalSupply int64
	Winning     *bool

	// Settlement snapshot, zero until the market settles. Alloc is the
	// post-fee pool assigned to this side, SettleSupply the claim-unit
	// supply at settlement (the fixed payout denominator), and PaidOut the
	// micro-units already redeemed against the allocation.
	Alloc        int64
	SettleSupply int64
	PaidOut      int64
}
