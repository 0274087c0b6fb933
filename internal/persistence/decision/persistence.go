// Package decision mirrors the durable JSONL decision log into Postgres so
// finalized decisions, closed trades, and equity snapshots can be queried
// without scanning log files. All writes are idempotent on their natural
// keys and cache refreshes are best-effort.
package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/logx"
	gocache "github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	cachekeys "tradewind/internal/cache"
	"tradewind/pkg/decisionlog"
	"tradewind/pkg/portfolio"
)

const defaultCacheTTL = time.Minute

// recentTradesLimit bounds the cached recent-trade list per symbol.
const recentTradesLimit = 100

// Service wires the Postgres and Redis collaborators used to mirror
// decision state.
type Service struct {
	sqlConn sqlx.SqlConn
	cache   gocache.Cache
	ttl     cachekeys.TTLSet
}

// Config enumerates the dependencies needed to persist decision events.
type Config struct {
	SQLConn sqlx.SqlConn
	Cache   gocache.Cache
	TTL     cachekeys.TTLSet
}

// NewService returns a persistence service, or nil when no database is
// configured. Callers treat a nil service as a no-op sink.
func NewService(cfg Config) *Service {
	if cfg.SQLConn == nil {
		return nil
	}
	return &Service{
		sqlConn: cfg.SQLConn,
		cache:   cfg.Cache,
		ttl:     cfg.TTL,
	}
}

// RecordDecision upserts one decision log record. Unresolved records are
// inserted on first sight and patched in place once resolved.
func (s *Service) RecordDecision(ctx context.Context, rec decisionlog.Record) error {
	if s == nil || s.sqlConn == nil {
		return nil
	}
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return nil
	}
	stateJSON, err := json.Marshal(rec.MarketState)
	if err != nil {
		return err
	}
	actionJSON, err := json.Marshal(rec.ActionTaken)
	if err != nil {
		return err
	}
	var outcomeJSON sql.NullString
	if rec.Outcome != nil {
		raw, err := json.Marshal(rec.Outcome)
		if err != nil {
			return err
		}
		outcomeJSON = sql.NullString{String: string(raw), Valid: true}
	}
	statement := `
INSERT INTO public.decisions (
    id, recorded_at, symbol, strategy, direction, market_state,
    action_taken, reward, resolved, outcome, repetition_count,
    mode, created_at, updated_at
) VALUES (
    $1, $2, $3, $4, $5, $6,
    $7, $8, $9, $10, $11,
    $12, NOW(), NOW()
)
ON CONFLICT (id) DO UPDATE SET
    reward = EXCLUDED.reward,
    resolved = EXCLUDED.resolved,
    outcome = EXCLUDED.outcome,
    updated_at = NOW();
`
	_, err = s.sqlConn.ExecCtx(
		ctx,
		statement,
		id,
		rec.Timestamp,
		strings.ToUpper(strings.TrimSpace(rec.MarketState.Symbol)),
		string(rec.ActionTaken.Strategy),
		string(rec.ActionTaken.Direction),
		string(stateJSON),
		string(actionJSON),
		rec.Reward,
		rec.Resolved,
		nullStringValue(outcomeJSON),
		rec.RepetitionCount,
		rec.Metadata.Mode,
	)
	if err != nil {
		return err
	}
	s.cacheLastDecision(ctx, rec)
	return nil
}

// RecordTrade inserts one closed trade. Replays of the same decision ID
// are silently dropped.
func (s *Service) RecordTrade(ctx context.Context, tr portfolio.ClosedTrade) error {
	if s == nil || s.sqlConn == nil {
		return nil
	}
	symbol := strings.ToUpper(strings.TrimSpace(tr.Symbol))
	if symbol == "" {
		return nil
	}
	statement := `
INSERT INTO public.trades (
    decision_id, symbol, direction, strategy, entry_price, exit_price,
    size_usd, leverage, realized_pnl_usd, realized_pnl_pct, funding_paid,
    exit_reason, loss_category, entry_regime, exit_regime,
    opened_at, closed_at, created_at
) VALUES (
    $1, $2, $3, $4, $5, $6,
    $7, $8, $9, $10, $11,
    $12, $13, $14, $15,
    $16, $17, NOW()
);
`
	_, err := s.sqlConn.ExecCtx(
		ctx,
		statement,
		tr.DecisionID,
		symbol,
		tr.Direction,
		tr.Strategy,
		tr.EntryPrice,
		tr.ExitPrice,
		tr.SizeUSD,
		tr.Leverage,
		tr.RealizedPnLUSD,
		tr.RealizedPnLPct,
		tr.FundingPaid,
		tr.ExitReason,
		nullString(tr.LossCategory),
		nullString(tr.EntryRegime),
		nullString(tr.ExitRegime),
		nullString(tr.OpenedAt),
		time.Now().UTC(),
	)
	if isUniqueViolation(err) {
		return nil
	}
	if err != nil {
		return err
	}
	s.appendRecentTrade(ctx, symbol, tr)
	return nil
}

// RecordEquitySnapshot captures periodic balance and drawdown metrics.
func (s *Service) RecordEquitySnapshot(ctx context.Context, sum portfolio.Summary) error {
	if s == nil || s.sqlConn == nil {
		return nil
	}
	ts := time.Now().UTC()
	statement := `
INSERT INTO public.equity_snapshots (
    ts_ms, balance, equity, drawdown_pct, daily_loss_pct, active_positions, created_at
) VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (ts_ms) DO UPDATE SET
    balance = EXCLUDED.balance,
    equity = EXCLUDED.equity,
    drawdown_pct = EXCLUDED.drawdown_pct,
    daily_loss_pct = EXCLUDED.daily_loss_pct,
    active_positions = EXCLUDED.active_positions;
`
	_, err := s.sqlConn.ExecCtx(
		ctx,
		statement,
		ts.UnixMilli(),
		sum.Balance,
		sum.Equity,
		sum.DrawdownPct,
		sum.DailyLossPct,
		sum.ActiveCount,
	)
	if err != nil {
		return err
	}
	s.cacheSummary(ctx, sum)
	return nil
}

type decisionCacheEntry struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol"`
	Strategy   string  `json:"strategy"`
	Direction  string  `json:"direction"`
	Resolved   bool    `json:"resolved"`
	Reward     float64 `json:"reward"`
	Timestamp  string  `json:"timestamp"`
	Confidence float64 `json:"confidence,omitempty"`
}

func (s *Service) cacheLastDecision(ctx context.Context, rec decisionlog.Record) {
	if s == nil || s.cache == nil {
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(rec.MarketState.Symbol))
	if symbol == "" {
		return
	}
	key := cachekeys.DecisionLastKey(symbol)
	entry := decisionCacheEntry{
		ID:         rec.ID,
		Symbol:     symbol,
		Strategy:   string(rec.ActionTaken.Strategy),
		Direction:  string(rec.ActionTaken.Direction),
		Resolved:   rec.Resolved,
		Reward:     rec.Reward,
		Timestamp:  rec.Timestamp,
		Confidence: rec.Metadata.MLConfidence,
	}
	ttl := s.ttlDuration(cachekeys.DecisionLastTTL(s.ttl))
	if ttl <= 0 {
		return
	}
	if err := s.cache.SetWithExpireCtx(ctx, key, entry, ttl); err != nil {
		logx.WithContext(ctx).Errorf("decisionpersist: set decision cache key=%s err=%v", key, err)
	}
}

func (s *Service) appendRecentTrade(ctx context.Context, symbol string, tr portfolio.ClosedTrade) {
	if s == nil || s.cache == nil {
		return
	}
	key := cachekeys.TradesRecentKey(symbol)
	var payload []portfolio.ClosedTrade
	if err := s.cache.GetCtx(ctx, key, &payload); err != nil && !s.cache.IsNotFound(err) {
		logx.WithContext(ctx).Errorf("decisionpersist: load trades cache key=%s err=%v", key, err)
		return
	}
	payload = append([]portfolio.ClosedTrade{tr}, payload...)
	if len(payload) > recentTradesLimit {
		payload = payload[:recentTradesLimit]
	}
	ttl := s.ttlDuration(cachekeys.TradesRecentTTL(s.ttl))
	if ttl <= 0 {
		return
	}
	if err := s.cache.SetWithExpireCtx(ctx, key, payload, ttl); err != nil {
		logx.WithContext(ctx).Errorf("decisionpersist: set trades cache key=%s err=%v", key, err)
	}
}

func (s *Service) cacheSummary(ctx context.Context, sum portfolio.Summary) {
	if s == nil || s.cache == nil {
		return
	}
	key := cachekeys.PortfolioSummaryKey()
	ttl := s.ttlDuration(cachekeys.PortfolioSummaryTTL(s.ttl))
	if ttl <= 0 {
		return
	}
	if err := s.cache.SetWithExpireCtx(ctx, key, sum, ttl); err != nil {
		logx.WithContext(ctx).Errorf("decisionpersist: set summary cache key=%s err=%v", key, err)
	}
}

func (s *Service) ttlDuration(value time.Duration) time.Duration {
	if value <= 0 {
		return defaultCacheTTL
	}
	return value
}

func isUniqueViolation(err error) bool {
	pgErr, ok := err.(*pq.Error)
	return ok && pgErr.Code == "23505"
}

func nullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullStringValue(value sql.NullString) interface{} {
	if value.Valid {
		return value.String
	}
	return nil
}
