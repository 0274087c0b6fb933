// Package backtest replays historical OHLCV bars through the full
// decision stack: feeder-derived observations, the engine's gating and
// risk pipeline, and the portfolio's margin accounting, with execution
// latency, slippage, and funding modeled per bar.
package backtest

import (
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"tradewind/pkg/decision"
	"tradewind/pkg/decisionlog"
	"tradewind/pkg/engine"
	"tradewind/pkg/indicators"
	"tradewind/pkg/perf"
	"tradewind/pkg/portfolio"
)

// progressEvery controls the step interval for progress logging.
const progressEvery = 1000

type pendingOrder struct {
	action      decision.Action
	decisionID  string
	createdStep int
	atr         float64
	regime      decision.Regime
	mode        decision.TradeMode
}

// Result is the outcome of a completed run.
type Result struct {
	FinalBalance float64                 `json:"final_balance"`
	FinalEquity  float64                 `json:"final_equity"`
	Trades       []portfolio.ClosedTrade `json:"trades"`
	TradeCount   int                     `json:"trade_count"`

	EquityCurve []float64 `json:"-"`
}

// Simulator drives one backtest run. Build it with New, run it once.
type Simulator struct {
	cfg     *Config
	eng     *engine.Engine
	feeder  *Feeder
	book    *portfolio.Portfolio
	riskMgr *portfolio.RiskManager
	tracker *perf.Tracker
	rewards decision.RewardCalculator

	pending    []pendingOrder
	entrySteps map[string]int
}

// New assembles a simulator. The engine should share tracker so realized
// performance feeds back into strategy weights, and its store should be a
// BufferedStore so the run does not thrash the log file.
func New(cfg *Config, eng *engine.Engine, tracker *perf.Tracker, feeder *Feeder) *Simulator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	book := portfolio.New(portfolio.Options{
		InitialCapital: cfg.InitialCapital,
		FeeRate:        cfg.FeeRate,
		MaxPerSymbol:   cfg.MaxPositionsPerSymbol,
		MaxConcurrent:  cfg.MaxConcurrent,
		// Bars stand in for wall-clock time here, so the live cooldown
		// window does not apply.
		EntryCooldown: time.Nanosecond,
	})
	return &Simulator{
		cfg:        cfg,
		eng:        eng,
		feeder:     feeder,
		book:       book,
		riskMgr:    portfolio.NewRiskManager(cfg.InitialCapital, portfolio.RiskOptions{}),
		tracker:    tracker,
		entrySteps: map[string]int{},
	}
}

// Run executes the replay to exhaustion and flushes the decision log.
func (s *Simulator) Run() (*Result, error) {
	result := &Result{}
	step := 0
	for {
		obs, ok := s.feeder.Next()
		if !ok {
			break
		}
		bar, ok := s.feeder.LatestBar()
		if !ok {
			break
		}

		s.executePending(step, bar.Open, obs)
		s.applyFunding(step)
		s.book.UpdateMetrics(s.cfg.Symbol, bar.Close)
		result.EquityCurve = append(result.EquityCurve, s.book.Equity())

		s.checkBarriers(step, bar, obs)
		s.book.UpdateMetrics(s.cfg.Symbol, bar.Close)

		s.decide(step, obs)

		if step%progressEvery == 0 {
			logx.Infof("backtest: step %d equity=%.2f", step, s.book.Equity())
		}
		step++
	}

	if err := s.eng.Store().Flush(); err != nil {
		return nil, fmt.Errorf("backtest: flush decision log: %w", err)
	}

	result.FinalBalance = s.book.Balance()
	result.FinalEquity = s.book.Equity()
	result.Trades = s.book.History()
	result.TradeCount = len(result.Trades)
	return result, nil
}

// executePending fills orders whose latency has elapsed at the bar's open,
// with entry slippage applied.
func (s *Simulator) executePending(step int, openPrice float64, obs decision.MarketObservation) {
	var remaining []pendingOrder
	for _, ord := range s.pending {
		if step-ord.createdStep < s.cfg.LatencyCandles {
			remaining = append(remaining, ord)
			continue
		}
		if ord.action.IsWait() {
			continue
		}
		entry := applySlippage(openPrice, ord.action.Direction, true, s.cfg.SlippageBps)
		tp, sl := decision.CalcTPSL(entry, ord.atr, ord.mode, ord.action.Direction)
		size := s.book.Balance() * s.cfg.MaxPositionPct
		err := s.book.Open(portfolio.Position{
			Symbol:      s.cfg.Symbol,
			Direction:   string(ord.action.Direction),
			EntryPrice:  entry,
			SizeUSD:     size,
			Leverage:    s.cfg.Leverage,
			TP:          tp,
			SL:          sl,
			DecisionID:  ord.decisionID,
			Strategy:    string(ord.action.Strategy),
			EntryRegime: string(ord.regime),
			EntryATR:    ord.atr,
		})
		if err != nil {
			logx.Infof("backtest: order skipped at step %d: %v", step, err)
			continue
		}
		s.entrySteps[ord.decisionID] = step
	}
	s.pending = remaining
}

func (s *Simulator) applyFunding(step int) {
	if s.cfg.FundingRatePerInterval == 0 || step%s.cfg.FundingIntervalCandles != 0 {
		return
	}
	rate := s.cfg.FundingRatePerInterval / 100
	for _, pos := range s.book.Positions(s.cfg.Symbol) {
		fee := pos.SizeUSD * rate
		if pos.Direction != string(decision.DirectionLong) {
			fee = -fee
		}
		s.book.ApplyFunding(s.cfg.Symbol, pos.DecisionID, fee)
	}
}

// checkBarriers closes positions whose TP or SL was touched inside the
// bar. The stop is checked first and the target second, so a bar that
// touches both fills at the target. That is the optimistic reading of an
// ambiguous bar; intra-bar data would be needed to resolve it properly.
func (s *Simulator) checkBarriers(step int, bar indicators.Bar, obs decision.MarketObservation) {
	for _, pos := range s.book.Positions(s.cfg.Symbol) {
		exitPrice := 0.0
		reason := ""
		if pos.Direction == string(decision.DirectionLong) {
			if bar.Low <= pos.SL {
				exitPrice, reason = pos.SL, decision.ExitReasonSL
			}
			if bar.High >= pos.TP {
				exitPrice, reason = pos.TP, decision.ExitReasonTP
			}
		} else {
			if bar.High >= pos.SL {
				exitPrice, reason = pos.SL, decision.ExitReasonSL
			}
			if bar.Low <= pos.TP {
				exitPrice, reason = pos.TP, decision.ExitReasonTP
			}
		}
		if reason == "" {
			continue
		}
		fill := applySlippage(exitPrice, decision.Direction(pos.Direction), false, s.cfg.SlippageBps)
		s.book.UpdateMetrics(s.cfg.Symbol, fill)
		trade := s.book.Close(s.cfg.Symbol, portfolio.CloseOpts{
			ExitPrice:  fill,
			Reason:     reason,
			ExitRegime: string(obs.MarketRegime),
			ExitATR:    obs.ATR,
			DecisionID: pos.DecisionID,
		})
		if trade == nil {
			continue
		}
		duration := step - s.entrySteps[pos.DecisionID]
		delete(s.entrySteps, pos.DecisionID)

		reward := s.rewards.TradeReward(trade.RealizedPnLPct, reason, duration, 0)
		if s.tracker != nil && trade.Strategy != "" {
			s.tracker.Record(trade.Strategy, trade.RealizedPnLPct)
			s.tracker.Record(perf.Key(decision.Strategy(trade.Strategy), decision.Regime(trade.EntryRegime)), trade.RealizedPnLPct)
		}
		if err := s.eng.Resolve(pos.DecisionID, reward, decisionlog.Outcome{
			PnLPct:          trade.RealizedPnLPct,
			PnLUSD:          trade.RealizedPnLUSD,
			ExitReason:      reason,
			DurationCandles: duration,
			LossCategory:    trade.LossCategory,
		}); err != nil {
			logx.Errorf("backtest: resolve decision %s: %v", pos.DecisionID, err)
		}
	}
}

// decide patches portfolio context into the observation, runs the engine,
// and queues any resulting trade behind the latency window. Book-level
// limit breaches suppress new entries for the bar.
func (s *Simulator) decide(step int, obs decision.MarketObservation) {
	summary := s.book.GetSummary()
	obs.CurrentOpenPositions = summary.ActiveCount
	obs.CurrentDrawdownPercent = -summary.DrawdownPct

	halted, reason := s.riskMgr.CheckLimits(summary.Equity)
	if halted {
		obs.CurrentRiskState = decision.RiskStateDanger
	}

	dec, err := s.eng.RunAnalysis(obs)
	if err != nil {
		logx.Errorf("backtest: analysis failed at step %d: %v", step, err)
		return
	}
	if halted {
		if !dec.Action.IsWait() {
			logx.Infof("backtest: entry suppressed at step %d: %s", step, reason)
		}
		return
	}
	if dec.Action.IsWait() {
		return
	}
	if ok, _ := s.book.CanOpen(s.cfg.Symbol); !ok {
		return
	}
	s.pending = append(s.pending, pendingOrder{
		action:      dec.Action,
		decisionID:  dec.ID,
		createdStep: step,
		atr:         obs.ATR,
		regime:      obs.MarketRegime,
		mode:        decision.ModeFor(obs),
	})
}

// applySlippage moves a fill price against the trade: entries pay up,
// exits give back.
func applySlippage(price float64, dir decision.Direction, entry bool, slippageBps float64) float64 {
	if slippageBps <= 0 {
		return price
	}
	slip := slippageBps / 10000
	long := dir == decision.DirectionLong
	if entry == long {
		return price * (1 + slip)
	}
	return price * (1 - slip)
}
