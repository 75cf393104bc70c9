package domain

// All monetary amounts are integer micro-units (1 unit = 1e6 micro) and all
// prices are basis points of a full unit. Floating point never touches pool
// or payout arithmetic.
const (
	// Micro is the number of micro-units per whole collateral unit.
	Micro int64 = 1_000_000

	// BpsDenom is the basis-point denominator for prices and fee rates.
	BpsDenom int64 = 10_000
)

// Units converts whole collateral units to micro-units.
func Units(n int64) int64 { return n * Micro }
