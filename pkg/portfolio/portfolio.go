// Package portfolio simulates margin accounting for the paper book: open
// and close positions, track unrealized PnL and equity, enforce position
// caps and entry cooldowns, and classify losses for post-mortems. The same
// book backs live paper trading and backtests.
package portfolio

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
)

// Loss categories recorded on losing trades, checked in this order.
const (
	LossRegimeShift     = "REGIME_SHIFT"
	LossVolatilitySpike = "VOLATILITY_SPIKE"
	LossBadTiming       = "BAD_TIMING"
	LossMarketMove      = "MARKET_MOVE"
)

// RegimeUnknown marks positions opened without regime context.
const RegimeUnknown = "UNKNOWN"

// historyKeep bounds the trade history persisted in the state file.
const historyKeep = 100

// Options configure a Portfolio.
type Options struct {
	InitialCapital float64
	FeeRate        float64
	MaxPerSymbol   int
	MaxConcurrent  int
	EntryCooldown  time.Duration
	StateFile      string           // empty disables persistence
	Now            func() time.Time // nil means time.Now
}

func (o *Options) applyDefaults() {
	if o.InitialCapital <= 0 {
		o.InitialCapital = 10000
	}
	if o.FeeRate <= 0 {
		o.FeeRate = 0.0004
	}
	if o.MaxPerSymbol <= 0 {
		o.MaxPerSymbol = 1
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 5
	}
	if o.EntryCooldown <= 0 {
		o.EntryCooldown = 30 * time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Position is one open trade with the margin locked against it.
type Position struct {
	Symbol           string  `json:"symbol"`
	Direction        string  `json:"direction"`
	EntryPrice       float64 `json:"entry_price"`
	SizeUSD          float64 `json:"size_usd"`
	Leverage         int     `json:"leverage"`
	MarginUsed       float64 `json:"margin_used"`
	TP               float64 `json:"tp"`
	SL               float64 `json:"sl"`
	DecisionID       string  `json:"decision_id"`
	Strategy         string  `json:"strategy,omitempty"`
	EntryFee         float64 `json:"entry_fee"`
	UnrealizedPnLUSD float64 `json:"unrealized_pnl_usd"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
	EntryRegime      string  `json:"entry_regime"`
	EntryATR         float64 `json:"entry_atr"`
	FundingPaid      float64 `json:"funding_paid"`
	OpenedAt         string  `json:"opened_at,omitempty"`
}

// ClosedTrade is a finished position plus its exit accounting.
type ClosedTrade struct {
	Position
	ExitPrice      float64 `json:"exit_price"`
	ExitReason     string  `json:"exit_reason"`
	ExitFee        float64 `json:"exit_fee"`
	RealizedPnLUSD float64 `json:"realized_pnl_usd"`
	RealizedPnLPct float64 `json:"realized_pnl_pct"`
	ExitRegime     string  `json:"exit_regime"`
	ExitATR        float64 `json:"exit_atr"`
	LossCategory   string  `json:"loss_category,omitempty"`
}

// Summary is a point-in-time snapshot of book health.
type Summary struct {
	InitialCapital float64 `json:"initial_capital"`
	Balance        float64 `json:"balance"`
	Equity         float64 `json:"equity"`
	TotalPnL       float64 `json:"total_pnl"`
	ROIPct         float64 `json:"roi_pct"`
	DrawdownPct    float64 `json:"drawdown_pct"`
	DailyLossPct   float64 `json:"daily_loss_pct"`
	ActiveCount    int     `json:"active_count"`
	HistoryCount   int     `json:"history_count"`
}

// Portfolio is the paper trading book. Balance holds free margin; equity
// is balance plus the margin and unrealized PnL of every open position.
type Portfolio struct {
	mu   sync.Mutex
	opts Options

	balance   float64
	equity    float64
	positions map[string][]*Position
	history   []ClosedTrade

	lastEntry  map[string]time.Time
	equityPeak float64
	dayStart   float64
	dayDate    string
}

// New builds a Portfolio, restoring persisted state when a state file is
// configured and readable.
func New(opts Options) *Portfolio {
	opts.applyDefaults()
	p := &Portfolio{
		opts:       opts,
		balance:    opts.InitialCapital,
		equity:     opts.InitialCapital,
		positions:  map[string][]*Position{},
		lastEntry:  map[string]time.Time{},
		equityPeak: opts.InitialCapital,
		dayStart:   opts.InitialCapital,
		dayDate:    opts.Now().UTC().Format("2006-01-02"),
	}
	if opts.StateFile != "" && p.loadState() {
		logx.Infof("portfolio: restored from %s, balance=%.2f active=%d", opts.StateFile, p.balance, p.activeCountLocked())
	}
	return p
}

// CanOpen reports whether a new position on symbol is currently allowed
// and, when it is not, why.
func (p *Portfolio) CanOpen(symbol string) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.positions[symbol]) >= p.opts.MaxPerSymbol {
		return false, fmt.Sprintf("max %d positions per symbol", p.opts.MaxPerSymbol)
	}
	if last, ok := p.lastEntry[symbol]; ok {
		if elapsed := p.opts.Now().Sub(last); elapsed < p.opts.EntryCooldown {
			return false, fmt.Sprintf("cooldown: %s remaining", (p.opts.EntryCooldown - elapsed).Round(time.Minute))
		}
	}
	if p.activeCountLocked() >= p.opts.MaxConcurrent {
		return false, fmt.Sprintf("max %d total positions", p.opts.MaxConcurrent)
	}
	return true, "OK"
}

// Open locks margin and the entry fee for a new position. It fails when
// margin exceeds free balance or the symbol is at its position cap.
func (p *Portfolio) Open(pos Position) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pos.Leverage <= 0 {
		pos.Leverage = 1
	}
	pos.MarginUsed = pos.SizeUSD / float64(pos.Leverage)
	if pos.MarginUsed > p.balance {
		return fmt.Errorf("portfolio: insufficient margin for %s: need %.2f, have %.2f", pos.Symbol, pos.MarginUsed, p.balance)
	}
	if len(p.positions[pos.Symbol]) >= p.opts.MaxPerSymbol {
		return fmt.Errorf("portfolio: %s at max %d positions", pos.Symbol, p.opts.MaxPerSymbol)
	}
	if pos.EntryRegime == "" {
		pos.EntryRegime = RegimeUnknown
	}

	pos.EntryFee = pos.SizeUSD * p.opts.FeeRate
	p.balance -= pos.EntryFee + pos.MarginUsed
	pos.OpenedAt = p.opts.Now().UTC().Format(time.RFC3339)

	stored := pos
	p.positions[pos.Symbol] = append(p.positions[pos.Symbol], &stored)
	p.lastEntry[pos.Symbol] = p.opts.Now()
	p.refreshEquityLocked()

	logx.Infof("portfolio: open %s %s @ %.2f size=%.2f margin=%.2f (%dx) regime=%s",
		pos.Direction, pos.Symbol, pos.EntryPrice, pos.SizeUSD, pos.MarginUsed, pos.Leverage, pos.EntryRegime)
	p.saveStateLocked()
	return nil
}

// UpdateMetrics marks all positions on symbol to the current price and
// refreshes total equity.
func (p *Portfolio) UpdateMetrics(symbol string, currentPrice float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pos := range p.positions[symbol] {
		pnlPct := (currentPrice - pos.EntryPrice) / pos.EntryPrice
		if pos.Direction != "LONG" {
			pnlPct = -pnlPct
		}
		pos.UnrealizedPnLPct = pnlPct * 100
		pos.UnrealizedPnLUSD = pos.SizeUSD * pnlPct
	}
	p.refreshEquityLocked()
}

// ApplyFunding accrues a funding payment against a position: positive
// amounts are a cost, negative a credit. Accrued funding settles into
// realized PnL when the position closes.
func (p *Portfolio) ApplyFunding(symbol, decisionID string, amountUSD float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pos := range p.positions[symbol] {
		if decisionID != "" && pos.DecisionID != decisionID {
			continue
		}
		pos.FundingPaid += amountUSD
		break
	}
}

// CloseOpts carry exit context for Close.
type CloseOpts struct {
	ExitPrice  float64
	Reason     string
	ExitRegime string
	ExitATR    float64
	DecisionID string // empty closes the oldest position on the symbol
}

// Close settles one position on symbol: exit fee on current value, margin
// and realized PnL back to balance, loss category attached when the trade
// lost money. It returns nil when no matching position exists.
func (p *Portfolio) Close(symbol string, opts CloseOpts) *ClosedTrade {
	p.mu.Lock()
	defer p.mu.Unlock()

	positions := p.positions[symbol]
	if len(positions) == 0 {
		return nil
	}
	idx := 0
	if opts.DecisionID != "" {
		idx = -1
		for i, pos := range positions {
			if pos.DecisionID == opts.DecisionID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil
		}
	}
	pos := positions[idx]
	p.positions[symbol] = append(positions[:idx], positions[idx+1:]...)
	if len(p.positions[symbol]) == 0 {
		delete(p.positions, symbol)
	}

	currentValue := pos.SizeUSD + pos.UnrealizedPnLUSD
	exitFee := currentValue * p.opts.FeeRate
	realized := pos.UnrealizedPnLUSD - pos.EntryFee - exitFee - pos.FundingPaid
	p.balance += pos.MarginUsed + realized

	exitRegime := opts.ExitRegime
	if exitRegime == "" {
		exitRegime = RegimeUnknown
	}
	lossCategory := ""
	if realized < 0 {
		lossCategory = classifyLoss(pos, exitRegime, opts.ExitATR, opts.Reason)
	}

	trade := ClosedTrade{
		Position:       *pos,
		ExitPrice:      opts.ExitPrice,
		ExitReason:     opts.Reason,
		ExitFee:        exitFee,
		RealizedPnLUSD: realized,
		RealizedPnLPct: realized / pos.SizeUSD * 100,
		ExitRegime:     exitRegime,
		ExitATR:        opts.ExitATR,
		LossCategory:   lossCategory,
	}
	p.history = append(p.history, trade)
	p.refreshEquityLocked()

	if lossCategory != "" {
		logx.Infof("portfolio: loss forensics %s category=%s regime %s -> %s", symbol, lossCategory, pos.EntryRegime, exitRegime)
	}
	logx.Infof("portfolio: close %s pnl=%.2f (%.2f%%) reason=%s", symbol, realized, trade.RealizedPnLPct, opts.Reason)
	p.saveStateLocked()
	return &trade
}

// classifyLoss orders the forensic checks: a regime flip explains the loss
// before a volatility spike, which explains it before a plain stop-out.
func classifyLoss(pos *Position, exitRegime string, exitATR float64, reason string) string {
	switch {
	case pos.EntryRegime != exitRegime && pos.EntryRegime != RegimeUnknown:
		return LossRegimeShift
	case pos.EntryATR > 0 && exitATR > pos.EntryATR*1.5:
		return LossVolatilitySpike
	case reason == "SL":
		return LossBadTiming
	default:
		return LossMarketMove
	}
}

// Positions returns copies of all open positions on symbol.
func (p *Portfolio) Positions(symbol string) []Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Position, 0, len(p.positions[symbol]))
	for _, pos := range p.positions[symbol] {
		out = append(out, *pos)
	}
	return out
}

// AllPositions returns copies of every open position across symbols.
func (p *Portfolio) AllPositions() []Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Position
	for _, positions := range p.positions {
		for _, pos := range positions {
			out = append(out, *pos)
		}
	}
	return out
}

// History returns a copy of the closed-trade history.
func (p *Portfolio) History() []ClosedTrade {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ClosedTrade(nil), p.history...)
}

// Balance returns free margin.
func (p *Portfolio) Balance() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

// Equity returns free balance plus the unrealized PnL of open positions.
func (p *Portfolio) Equity() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.equity
}

// GetSummary rolls the book up into a Summary, advancing the daily
// baseline on UTC day changes.
func (p *Portfolio) GetSummary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.equity > p.equityPeak {
		p.equityPeak = p.equity
	}
	today := p.opts.Now().UTC().Format("2006-01-02")
	if today != p.dayDate {
		p.dayDate = today
		p.dayStart = p.equity
	}
	peak := p.equityPeak
	if peak < 1e-9 {
		peak = 1e-9
	}
	dayStart := p.dayStart
	if dayStart < 1e-9 {
		dayStart = 1e-9
	}
	return Summary{
		InitialCapital: p.opts.InitialCapital,
		Balance:        p.balance,
		Equity:         p.equity,
		TotalPnL:       p.equity - p.opts.InitialCapital,
		ROIPct:         (p.equity - p.opts.InitialCapital) / p.opts.InitialCapital * 100,
		DrawdownPct:    (p.equityPeak - p.equity) / peak * 100,
		DailyLossPct:   (p.dayStart - p.equity) / dayStart * 100,
		ActiveCount:    p.activeCountLocked(),
		HistoryCount:   len(p.history),
	}
}

func (p *Portfolio) activeCountLocked() int {
	n := 0
	for _, positions := range p.positions {
		n += len(positions)
	}
	return n
}

// Equity is free balance plus the unrealized PnL of every open position;
// locked margin comes back through balance when a position closes.
func (p *Portfolio) refreshEquityLocked() {
	total := 0.0
	for _, positions := range p.positions {
		for _, pos := range positions {
			total += pos.UnrealizedPnLUSD
		}
	}
	p.equity = p.balance + total
}

type persistedState struct {
	Balance         float64                `json:"balance"`
	Equity          float64                `json:"equity"`
	InitialCapital  float64                `json:"initial_capital"`
	EquityPeak      float64                `json:"equity_peak"`
	DayStart        float64                `json:"day_start"`
	DayDate         string                 `json:"day_date"`
	ActivePositions map[string][]*Position `json:"active_positions"`
	TradeHistory    []ClosedTrade          `json:"trade_history"`
}

func (p *Portfolio) loadState() bool {
	data, err := os.ReadFile(p.opts.StateFile)
	if err != nil {
		return false
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		logx.Errorf("portfolio: discarding corrupt state %s: %v", p.opts.StateFile, err)
		return false
	}
	p.balance = state.Balance
	p.equity = state.Equity
	if state.ActivePositions != nil {
		p.positions = state.ActivePositions
	}
	p.history = state.TradeHistory

	// The drawdown baseline must survive a restart, or a halted book could
	// resume trading by rebooting.
	p.equityPeak = math.Max(p.opts.InitialCapital, p.equity)
	if state.EquityPeak > p.equityPeak {
		p.equityPeak = state.EquityPeak
	}
	if state.DayDate == p.dayDate && state.DayStart > 0 {
		p.dayStart = state.DayStart
	} else {
		p.dayStart = p.equity
	}

	// Cooldowns restart from each open position's entry time.
	for symbol, positions := range p.positions {
		for _, pos := range positions {
			opened, err := time.Parse(time.RFC3339, pos.OpenedAt)
			if err != nil {
				continue
			}
			if last, ok := p.lastEntry[symbol]; !ok || opened.After(last) {
				p.lastEntry[symbol] = opened
			}
		}
	}
	return true
}

func (p *Portfolio) saveStateLocked() {
	if p.opts.StateFile == "" {
		return
	}
	history := p.history
	if len(history) > historyKeep {
		history = history[len(history)-historyKeep:]
	}
	state := persistedState{
		Balance:         p.balance,
		Equity:          p.equity,
		InitialCapital:  p.opts.InitialCapital,
		EquityPeak:      p.equityPeak,
		DayStart:        p.dayStart,
		DayDate:         p.dayDate,
		ActivePositions: p.positions,
		TradeHistory:    history,
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		logx.Errorf("portfolio: marshal state: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.opts.StateFile), 0o755); err != nil {
		logx.Errorf("portfolio: create state dir: %v", err)
		return
	}
	tmp := p.opts.StateFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logx.Errorf("portfolio: write state: %v", err)
		return
	}
	if err := os.Rename(tmp, p.opts.StateFile); err != nil {
		logx.Errorf("portfolio: replace state: %v", err)
	}
}
