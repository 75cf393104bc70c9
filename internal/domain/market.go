package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MarketType selects the settlement shape of a market.
type MarketType string

const (
	MarketTypeBinary  MarketType = "binary"
	MarketTypeBracket MarketType = "bracket"
	MarketTypeScalar  MarketType = "scalar"
)

// MarketStatus is the lifecycle state of a market. Paused is deliberately not
// a status: it is an orthogonal flag that blocks mutation in any state.
type MarketStatus string

const (
	MarketStatusPending   MarketStatus = "pending"
	MarketStatusActive    MarketStatus = "active"
	MarketStatusExpired   MarketStatus = "expired"
	MarketStatusResolving MarketStatus = "resolving"
	MarketStatusSettled   MarketStatus = "settled"
	MarketStatusDisputed  MarketStatus = "disputed"
	MarketStatusCancelled MarketStatus = "cancelled"
)

// Side identifies one outcome pool of a market. Binary and scalar markets use
// SideYes/SideNo; bracket markets use BracketSide(i).
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// BracketSide returns the Side for bracket index i.
func BracketSide(i int) Side {
	return Side("bracket:" + strconv.Itoa(i))
}

// BracketIndex parses a bracket Side back to its index. ok is false for
// yes/no or malformed sides.
func (s Side) BracketIndex() (int, bool) {
	rest, found := strings.CutPrefix(string(s), "bracket:")
	if !found {
		return 0, false
	}
	i, err := strconv.Atoi(rest)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// Valid reports whether the side is a recognized form.
func (s Side) Valid() bool {
	if s == SideYes || s == SideNo {
		return true
	}
	_, ok := s.BracketIndex()
	return ok
}

// Bracket is a half-open observed-value range [Lo, Hi) in fixed-point tenths.
type Bracket struct {
	Lo int64
	Hi int64
}

// Contains reports whether v falls inside the bracket.
func (b Bracket) Contains(v int64) bool { return v >= b.Lo && v < b.Hi }

// ScalarRange is the reference range for scalar settlement. The yes side's
// share of the pool is linear in where the observed value lands in [Lo, Hi].
type ScalarRange struct {
	Lo int64
	Hi int64
}

// Market is one prediction market and its pooled collateral. Pools, Volume,
// and fee fields are micro-units.
type Market struct {
	ID          string
	Description string
	LocationID  string
	Type        MarketType
	Criteria    string
	Creator     string
	Oracle      string
	Expiry      time.Time
	Status      MarketStatus
	Paused      bool

	YesPool      int64
	NoPool       int64
	BracketPools []int64
	Brackets     []Bracket
	Scalar       *ScalarRange

	UniqueBettors int
	Volume        int64

	Outcome          *bool
	WinningBracket   *int
	SettlementValue  *int64
	DataHash         string
	Attestation      string
	AttestedBy       string
	SettledAt        *time.Time
	DisputeWindowEnd *time.Time

	// DustRetained accumulates floor-division remainders left in the pool by
	// claims. It is reported, never silently lost.
	DustRetained int64
	FeePlatform  int64
	FeeCreator   int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TotalPool returns the summed collateral across all outcome pools.
func (m Market) TotalPool() int64 {
	total := m.YesPool + m.NoPool
	for _, p := range m.BracketPools {
		total += p
	}
	return total
}

// Pool returns the collateral pool for one side.
func (m Market) Pool(side Side) (int64, error) {
	switch side {
	case SideYes:
		return m.YesPool, nil
	case SideNo:
		return m.NoPool, nil
	}
	i, ok := side.BracketIndex()
	if !ok || i >= len(m.BracketPools) {
		return 0, fmt.Errorf("market %s: no pool for side %q: %w", m.ID, side, ErrValidation)
	}
	return m.BracketPools[i], nil
}

// MarketStats is the read-only pool summary returned by stats queries.
type MarketStats struct {
	MarketID      string
	Status        MarketStatus
	Paused        bool
	TotalPool     int64
	YesPool       int64
	NoPool        int64
	BracketPools  []int64
	Volume        int64
	UniqueBettors int
	FeePlatform   int64
	FeeCreator    int64
	DustRetained  int64
}
