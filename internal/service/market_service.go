package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/whetherfun/weathermark/internal/crypto"
	"github.com/whetherfun/weathermark/internal/domain"
	"github.com/whetherfun/weathermark/internal/market"
	"github.com/whetherfun/weathermark/internal/notify"
	"github.com/whetherfun/weathermark/internal/oracle"
)

// Attestor signs settlement attestations so downstream consumers can verify
// which operator key authorized a payout schedule.
type Attestor interface {
	SignSettlement(marketID string, key domain.ReportKey, value int64, outcome bool) (string, error)
	Address() string
}

// settleLockTTL bounds how long a settlement worker may hold the per-market
// lock before it expires on its own.
const settleLockTTL = 30 * time.Second

// MarketService wraps the market engine with persistence, caching, locking,
// and settlement attestation.
type MarketService struct {
	engine    *market.Engine
	oracle    *oracle.Engine
	markets   domain.MarketStore
	positions domain.PositionStore
	cache     domain.MarketCache
	locks     domain.LockManager
	bus       domain.SignalBus
	audit     domain.AuditStore
	notifier  *notify.Notifier
	attestor  Attestor
	logger    *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	engine *market.Engine,
	oracleEngine *oracle.Engine,
	markets domain.MarketStore,
	positions domain.PositionStore,
	cache domain.MarketCache,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		engine:    engine,
		oracle:    oracleEngine,
		markets:   markets,
		positions: positions,
		cache:     cache,
		locks:     locks,
		bus:       bus,
		audit:     audit,
		notifier:  notifier,
		logger:    logger,
	}
}

// WithAttestor attaches a settlement signer. Without one, settlements are
// recorded without an operator attestation.
func (s *MarketService) WithAttestor(a Attestor) *MarketService {
	s.attestor = a
	return s
}

// Engine exposes the underlying market engine, which also serves as the
// order book's market gate.
func (s *MarketService) Engine() *market.Engine { return s.engine }

// Hydrate rebuilds the engine and its ledger from persisted state. Call once
// at startup before serving requests.
func (s *MarketService) Hydrate(ctx context.Context) error {
	markets, err := s.markets.ListByStatus(ctx, "", domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("market_service: hydrate markets: %w", err)
	}

	for _, m := range markets {
		sides, err := s.positions.ListSides(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("market_service: hydrate sides %s: %w", m.ID, err)
		}
		balances, err := s.positions.ListByMarket(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("market_service: hydrate balances %s: %w", m.ID, err)
		}
		if err := s.engine.Hydrate(m, sides, balances); err != nil {
			return fmt.Errorf("market_service: hydrate market %s: %w", m.ID, err)
		}
	}

	s.logger.InfoContext(ctx, "market_service: hydrated",
		slog.Int("markets", len(markets)),
	)
	return nil
}

// CreateMarket validates and creates a market, persisting it and priming the
// cache.
func (s *MarketService) CreateMarket(ctx context.Context, p market.CreateParams) (domain.Market, error) {
	m, err := s.engine.CreateMarket(p)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	if err := s.persistMarket(ctx, m); err != nil {
		return domain.Market{}, err
	}

	s.publishMarket(ctx, "market_created", m)
	s.auditMarket(ctx, "market_created", m, map[string]any{
		"creator": m.Creator,
		"type":    string(m.Type),
	})

	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", m.ID),
		slog.String("type", string(m.Type)),
		slog.String("location", m.LocationID),
	)
	return m, nil
}

// ActivateMarket opens a pending market for betting.
func (s *MarketService) ActivateMarket(ctx context.Context, caller, marketID string) (domain.Market, error) {
	m, err := s.engine.ActivateMarket(caller, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: activate %s: %w", marketID, err)
	}
	if err := s.persistMarket(ctx, m); err != nil {
		return domain.Market{}, err
	}
	s.publishMarket(ctx, "market_activated", m)
	return m, nil
}

// PlaceBet stakes into a pool, minting claim units. The updated market and
// the bettor's balance are written through.
func (s *MarketService) PlaceBet(ctx context.Context, bettor, marketID string, side domain.Side, amount int64) (market.BetReceipt, error) {
	receipt, err := s.engine.PlaceBet(bettor, marketID, side, amount)
	if err != nil {
		return market.BetReceipt{}, fmt.Errorf("market_service: bet on %s: %w", marketID, err)
	}

	m, err := s.engine.GetMarket(marketID)
	if err != nil {
		return market.BetReceipt{}, fmt.Errorf("market_service: bet on %s: %w", marketID, err)
	}
	if err := s.persistMarket(ctx, m); err != nil {
		return market.BetReceipt{}, err
	}
	s.persistPosition(ctx, marketID, side, bettor)
	s.persistSides(ctx, marketID)

	s.auditMarket(ctx, "bet_placed", m, map[string]any{
		"bettor": bettor,
		"side":   string(side),
		"amount": amount,
		"minted": receipt.Minted,
	})
	return receipt, nil
}

// PauseMarket freezes all mutating operations on a market.
func (s *MarketService) PauseMarket(ctx context.Context, caller, marketID string) (domain.Market, error) {
	m, err := s.engine.PauseMarket(caller, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: pause %s: %w", marketID, err)
	}
	if err := s.persistMarket(ctx, m); err != nil {
		return domain.Market{}, err
	}
	s.publishMarket(ctx, "market_paused", m)
	return m, nil
}

// UnpauseMarket lifts a pause.
func (s *MarketService) UnpauseMarket(ctx context.Context, caller, marketID string) (domain.Market, error) {
	m, err := s.engine.UnpauseMarket(caller, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: unpause %s: %w", marketID, err)
	}
	if err := s.persistMarket(ctx, m); err != nil {
		return domain.Market{}, err
	}
	s.publishMarket(ctx, "market_unpaused", m)
	return m, nil
}

// CancelMarket voids a market so stakes become 1:1 refunds.
func (s *MarketService) CancelMarket(ctx context.Context, caller, marketID string) (domain.Market, error) {
	m, err := s.engine.CancelMarket(caller, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: cancel %s: %w", marketID, err)
	}
	if err := s.persistMarket(ctx, m); err != nil {
		return domain.Market{}, err
	}
	s.publishMarket(ctx, "market_cancelled", m)
	s.auditMarket(ctx, "market_cancelled", m, nil)
	return m, nil
}

// SettleMarket settles an expired market against its finalized oracle report.
// A distributed lock keeps concurrent settlement workers from racing on the
// same market.
func (s *MarketService) SettleMarket(ctx context.Context, caller, marketID string) (domain.Market, error) {
	unlock, err := s.locks.Acquire(ctx, "settle:"+marketID, settleLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.Market{}, fmt.Errorf("market_service: settle %s: %w", marketID, domain.ErrInvalidState)
		}
		return domain.Market{}, fmt.Errorf("market_service: settle %s: lock: %w", marketID, err)
	}
	defer unlock()

	m, err := s.engine.GetMarket(marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: settle %s: %w", marketID, err)
	}

	key := domain.ReportKey{LocationID: m.LocationID, DateKey: m.Expiry.UTC().Format("2006-01-02")}
	report, err := s.oracle.GetReport(key)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: settle %s: report %s: %w", marketID, key, err)
	}
	if !report.Finalized {
		return domain.Market{}, fmt.Errorf("market_service: settle %s: report %s not finalized: %w", marketID, key, domain.ErrInvalidState)
	}
	if s.oracle.HasActiveDispute(key) {
		return domain.Market{}, fmt.Errorf("market_service: settle %s: report %s disputed: %w", marketID, key, domain.ErrInvalidState)
	}

	settled, err := s.engine.SettleMarket(caller, marketID, market.Settlement{
		Value:    report.Value,
		Outcome:  report.Outcome,
		DataHash: crypto.ReportHash(report),
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: settle %s: %w", marketID, err)
	}

	if s.attestor != nil {
		sig, sigErr := s.attestor.SignSettlement(marketID, key, report.Value, settled.Outcome != nil && *settled.Outcome)
		if sigErr != nil {
			s.logger.WarnContext(ctx, "market_service: attestation failed",
				slog.String("market_id", marketID),
				slog.String("error", sigErr.Error()),
			)
		} else if aErr := s.engine.SetAttestation(marketID, sig, s.attestor.Address()); aErr != nil {
			s.logger.WarnContext(ctx, "market_service: record attestation failed",
				slog.String("market_id", marketID),
				slog.String("error", aErr.Error()),
			)
		} else {
			settled.Attestation = sig
			settled.AttestedBy = s.attestor.Address()
		}
	}

	if err := s.persistMarket(ctx, settled); err != nil {
		return domain.Market{}, err
	}
	s.persistSides(ctx, marketID)

	s.publishMarket(ctx, "market_settled", settled)
	s.auditMarket(ctx, "market_settled", settled, map[string]any{
		"value":        report.Value,
		"fee_platform": settled.FeePlatform,
		"fee_creator":  settled.FeeCreator,
	})

	if s.notifier != nil {
		title := fmt.Sprintf("Market settled: %s", settled.Description)
		msg := fmt.Sprintf("Settled at %d with a %d pool.", report.Value, settled.TotalPool())
		if nErr := s.notifier.Notify(ctx, "market_settled", title, msg); nErr != nil {
			s.logger.WarnContext(ctx, "market_service: notify failed",
				slog.String("error", nErr.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "market_service: market settled",
		slog.String("market_id", marketID),
		slog.Int64("value", report.Value),
		slog.Int64("pool", settled.TotalPool()),
	)
	return settled, nil
}

// FlagDisputed reopens a settled market inside its dispute window.
func (s *MarketService) FlagDisputed(ctx context.Context, caller, marketID string) (domain.Market, error) {
	m, err := s.engine.FlagDisputed(caller, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: flag disputed %s: %w", marketID, err)
	}
	if err := s.persistMarket(ctx, m); err != nil {
		return domain.Market{}, err
	}
	s.publishMarket(ctx, "market_disputed", m)
	s.auditMarket(ctx, "market_disputed", m, nil)
	return m, nil
}

// ClaimWinnings redeems a holder's full position across every side.
func (s *MarketService) ClaimWinnings(ctx context.Context, holder, marketID string) (market.Payout, error) {
	p, err := s.engine.ClaimWinnings(holder, marketID)
	if err != nil {
		return market.Payout{}, fmt.Errorf("market_service: claim %s: %w", marketID, err)
	}
	if err := s.persistAfterRedeem(ctx, marketID, holder); err != nil {
		return market.Payout{}, err
	}
	s.auditClaim(ctx, p)
	return p, nil
}

// Redeem burns part of one side's position for its settlement value.
func (s *MarketService) Redeem(ctx context.Context, holder, marketID string, side domain.Side, amount int64) (market.Payout, error) {
	p, err := s.engine.Redeem(holder, marketID, side, amount)
	if err != nil {
		return market.Payout{}, fmt.Errorf("market_service: redeem %s: %w", marketID, err)
	}
	if err := s.persistAfterRedeem(ctx, marketID, holder); err != nil {
		return market.Payout{}, err
	}
	s.auditClaim(ctx, p)
	return p, nil
}

// TransferPosition moves claim units between holders.
func (s *MarketService) TransferPosition(ctx context.Context, marketID string, side domain.Side, from, to string, amount int64) error {
	if err := s.engine.TransferPosition(marketID, side, from, to, amount); err != nil {
		return fmt.Errorf("market_service: transfer %s: %w", marketID, err)
	}
	s.persistPosition(ctx, marketID, side, from)
	s.persistPosition(ctx, marketID, side, to)
	return nil
}

// GetMarket retrieves a market by ID, checking the cache first and falling
// back to the engine.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	m, err := s.cache.Get(ctx, id)
	if err == nil {
		return m, nil
	}

	m, err = s.engine.GetMarket(id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %s: %w", id, err)
	}

	if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.String("market_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}
	return m, nil
}

// ListMarkets returns markets filtered by status; an empty status lists all.
func (s *MarketService) ListMarkets(status domain.MarketStatus) []domain.Market {
	return s.engine.ListMarkets(status)
}

// Stats returns the aggregate counters for one market.
func (s *MarketService) Stats(marketID string) (domain.MarketStats, error) {
	stats, err := s.engine.Stats(marketID)
	if err != nil {
		return domain.MarketStats{}, fmt.Errorf("market_service: stats %s: %w", marketID, err)
	}
	return stats, nil
}

// Positions returns every live claim-unit balance for a market.
func (s *MarketService) Positions(marketID string) ([]domain.PositionBalance, error) {
	positions, err := s.engine.Positions(marketID)
	if err != nil {
		return nil, fmt.Errorf("market_service: positions %s: %w", marketID, err)
	}
	return positions, nil
}

// RedemptionValue quotes the payout for redeeming amount units of side
// without mutating anything.
func (s *MarketService) RedemptionValue(marketID string, side domain.Side, amount int64) (int64, error) {
	v, err := s.engine.RedemptionValue(marketID, side, amount)
	if err != nil {
		return 0, fmt.Errorf("market_service: redemption value %s: %w", marketID, err)
	}
	return v, nil
}

// PlatformFees returns accumulated platform fees across all settlements.
func (s *MarketService) PlatformFees() int64 { return s.engine.PlatformFees() }

// persistMarket writes a market through to the store and refreshes the cache.
// Cache failures are non-fatal; the entry expires on its own.
func (s *MarketService) persistMarket(ctx context.Context, m domain.Market) error {
	if err := s.markets.Upsert(ctx, m); err != nil {
		return fmt.Errorf("market_service: persist %s: %w", m.ID, err)
	}
	if err := s.cache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// persistPosition writes one holder's balance on one side through to the
// store. Failures are logged, not returned: the engine remains the source of
// truth and Hydrate-time divergence is preferable to failing the trade.
func (s *MarketService) persistPosition(ctx context.Context, marketID string, side domain.Side, holder string) {
	bal := s.engine.Tokens().Balance(marketID, side, holder)
	if err := s.positions.UpsertBalance(ctx, domain.PositionBalance{
		MarketID:  marketID,
		Side:      side,
		Holder:    holder,
		Amount:    bal,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		s.logger.ErrorContext(ctx, "market_service: persist position failed",
			slog.String("market_id", marketID),
			slog.String("holder", holder),
			slog.String("error", err.Error()),
		)
	}
}

// persistSides writes every side's supply and payout schedule for a market.
func (s *MarketService) persistSides(ctx context.Context, marketID string) {
	sides, err := s.engine.SideStates(marketID)
	if err != nil {
		s.logger.ErrorContext(ctx, "market_service: side states failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, info := range sides {
		if err := s.positions.UpsertSide(ctx, info); err != nil {
			s.logger.ErrorContext(ctx, "market_service: persist side failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// persistAfterRedeem writes the market (dust counters changed), the holder's
// remaining balances, and the side supplies.
func (s *MarketService) persistAfterRedeem(ctx context.Context, marketID, holder string) error {
	m, err := s.engine.GetMarket(marketID)
	if err != nil {
		return fmt.Errorf("market_service: persist after redeem %s: %w", marketID, err)
	}
	if err := s.persistMarket(ctx, m); err != nil {
		return err
	}
	for _, side := range s.engine.Tokens().Sides(marketID) {
		s.persistPosition(ctx, marketID, side, holder)
	}
	s.persistSides(ctx, marketID)
	return nil
}

func (s *MarketService) publishMarket(ctx context.Context, event string, m domain.Market) {
	evt, _ := json.Marshal(map[string]any{
		"event":     event,
		"market_id": m.ID,
		"status":    string(m.Status),
		"location":  m.LocationID,
	})
	if err := s.bus.Publish(ctx, "markets", evt); err != nil {
		s.logger.WarnContext(ctx, "market_service: publish event failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) auditMarket(ctx context.Context, event string, m domain.Market, extra map[string]any) {
	detail := map[string]any{
		"market_id": m.ID,
		"status":    string(m.Status),
	}
	for k, v := range extra {
		detail[k] = v
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) auditClaim(ctx context.Context, p market.Payout) {
	if err := s.audit.Log(ctx, "winnings_claimed", map[string]any{
		"market_id": p.MarketID,
		"holder":    p.Holder,
		"amount":    p.Amount,
		"burned":    p.Burned,
	}); err != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("market_id", p.MarketID),
			slog.String("error", err.Error()),
		)
	}
}
