// Command paper runs a live-mode paper trading session: candles stream in
// from a CSV feed, the decision engine places simulated orders against the
// portfolio book, and the background scheduler keeps snapshots, the
// database mirror, and retrain markers current.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"tradewind/internal/cli"
	"tradewind/internal/config"
	"tradewind/internal/sched"
	"tradewind/internal/svc"
	backtestpkg "tradewind/pkg/backtest"
	decisionpkg "tradewind/pkg/decision"
	"tradewind/pkg/decisionlog"
	"tradewind/pkg/perf"
	"tradewind/pkg/portfolio"
)

const portfolioStateFile = "portfolio_state.json"

var (
	configFile   = flag.String("f", "etc/tradewind.yaml", "application config file")
	csvFile      = flag.String("csv", "", "OHLCV candles CSV (timestamp,open,high,low,close,volume)")
	barInterval = flag.Duration("interval", time.Second, "pacing between candles")
	maintEvery  = flag.Duration("maintenance", 5*time.Minute, "scheduler tick interval")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if *csvFile == "" {
		log.Fatal("[main] -csv is required")
	}

	appCfg, err := config.Load(*configFile)
	if err != nil {
		log.Printf("[main] Warning: failed to load app config: %v", err)
		log.Printf("[main] Using default configuration")
		appCfg = &config.Config{Env: "test", DataPath: "data"}
	}
	cli.LogConfigSummary(appCfg)

	if err := os.MkdirAll(appCfg.DataPath, 0o755); err != nil {
		log.Fatalf("[main] Failed to create data path: %v", err)
	}

	svcCtx := svc.NewServiceContext(*appCfg)
	btCfg := svcCtx.BacktestConfig

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler, err := sched.New(sched.Options{
		Store:        svcCtx.Store,
		Tracker:      svcCtx.Tracker,
		SnapshotPath: svcCtx.PerfSnapshotPath(),
		DataPath:     appCfg.DataPath,
		Persister:    svcCtx.Persister,
		Interval:     *maintEvery,
	})
	if err != nil {
		log.Fatalf("[main] Failed to build scheduler: %v", err)
	}
	scheduler.Run(ctx)
	defer scheduler.Stop()

	feeder, err := backtestpkg.NewFeederFromCSV(*csvFile, btCfg.Symbol, btCfg.WindowSize)
	if err != nil {
		log.Fatalf("[main] Failed to load candles: %v", err)
	}

	book := portfolio.New(portfolio.Options{
		InitialCapital: btCfg.InitialCapital,
		FeeRate:        btCfg.FeeRate,
		MaxPerSymbol:   btCfg.MaxPositionsPerSymbol,
		MaxConcurrent:  btCfg.MaxConcurrent,
		StateFile:      filepath.Join(appCfg.DataPath, portfolioStateFile),
	})

	session := &paperSession{
		svc:        svcCtx,
		cfg:        btCfg,
		feeder:     feeder,
		book:       book,
		riskMgr:    portfolio.NewRiskManager(btCfg.InitialCapital, portfolio.RiskOptions{}),
		entrySteps: map[string]int{},
	}
	session.run(ctx, *barInterval)

	if err := svcCtx.Store.Flush(); err != nil {
		logx.Errorf("paper: flush decision log: %v", err)
	}
	if err := svcCtx.Tracker.Save(svcCtx.PerfSnapshotPath()); err != nil {
		logx.Errorf("paper: save perf snapshot: %v", err)
	}
	logx.Infof("paper: session over, equity=%.2f trades=%d", book.Equity(), len(book.History()))
}

// paperSession drives the candle-by-candle loop. Fills are immediate at
// the bar close; latency and slippage stay a backtest concern.
type paperSession struct {
	svc     *svc.ServiceContext
	cfg     *backtestpkg.Config
	feeder  *backtestpkg.Feeder
	book    *portfolio.Portfolio
	riskMgr *portfolio.RiskManager
	rewards decisionpkg.RewardCalculator

	entrySteps map[string]int
}

func (p *paperSession) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	step := 0
	for {
		select {
		case <-ctx.Done():
			logx.Info("paper: shutdown requested")
			return
		case <-ticker.C:
		}

		obs, ok := p.feeder.Next()
		if !ok {
			logx.Info("paper: candle feed exhausted")
			return
		}
		bar, ok := p.feeder.LatestBar()
		if !ok {
			return
		}

		p.book.UpdateMetrics(p.cfg.Symbol, bar.Close)
		p.checkBarriers(ctx, step, bar.High, bar.Low, obs)
		p.book.UpdateMetrics(p.cfg.Symbol, bar.Close)

		summary := p.book.GetSummary()
		if err := p.svc.Persister.RecordEquitySnapshot(ctx, summary); err != nil {
			logx.Errorf("paper: record equity snapshot: %v", err)
		}

		p.decide(step, obs, summary, bar.Close)
		step++
	}
}

func (p *paperSession) checkBarriers(ctx context.Context, step int, high, low float64, obs decisionpkg.MarketObservation) {
	for _, pos := range p.book.Positions(p.cfg.Symbol) {
		exitPrice := 0.0
		reason := ""
		if pos.Direction == string(decisionpkg.DirectionLong) {
			if low <= pos.SL {
				exitPrice, reason = pos.SL, decisionpkg.ExitReasonSL
			}
			if high >= pos.TP {
				exitPrice, reason = pos.TP, decisionpkg.ExitReasonTP
			}
		} else {
			if high >= pos.SL {
				exitPrice, reason = pos.SL, decisionpkg.ExitReasonSL
			}
			if low <= pos.TP {
				exitPrice, reason = pos.TP, decisionpkg.ExitReasonTP
			}
		}
		if reason == "" {
			continue
		}
		p.book.UpdateMetrics(p.cfg.Symbol, exitPrice)
		trade := p.book.Close(p.cfg.Symbol, portfolio.CloseOpts{
			ExitPrice:  exitPrice,
			Reason:     reason,
			ExitRegime: string(obs.MarketRegime),
			ExitATR:    obs.ATR,
			DecisionID: pos.DecisionID,
		})
		if trade == nil {
			continue
		}
		duration := step - p.entrySteps[pos.DecisionID]
		delete(p.entrySteps, pos.DecisionID)

		reward := p.rewards.TradeReward(trade.RealizedPnLPct, reason, duration, 0)
		if trade.Strategy != "" {
			p.svc.Tracker.Record(trade.Strategy, trade.RealizedPnLPct)
			p.svc.Tracker.Record(perf.Key(decisionpkg.Strategy(trade.Strategy), decisionpkg.Regime(trade.EntryRegime)), trade.RealizedPnLPct)
		}
		if err := p.svc.Engine.Resolve(pos.DecisionID, reward, decisionlog.Outcome{
			PnLPct:          trade.RealizedPnLPct,
			PnLUSD:          trade.RealizedPnLUSD,
			ExitReason:      reason,
			DurationCandles: duration,
			LossCategory:    trade.LossCategory,
		}); err != nil {
			logx.Errorf("paper: resolve decision %s: %v", pos.DecisionID, err)
		}
		if err := p.svc.Persister.RecordTrade(ctx, *trade); err != nil {
			logx.Errorf("paper: record trade %s: %v", pos.DecisionID, err)
		}
	}
}

func (p *paperSession) decide(step int, obs decisionpkg.MarketObservation, summary portfolio.Summary, price float64) {
	obs.CurrentOpenPositions = summary.ActiveCount
	obs.CurrentDrawdownPercent = -summary.DrawdownPct

	halted, haltReason := p.riskMgr.CheckLimits(summary.Equity)
	if halted {
		obs.CurrentRiskState = decisionpkg.RiskStateDanger
	}

	dec, err := p.svc.Engine.RunAnalysis(obs)
	if err != nil {
		logx.Errorf("paper: analysis failed at step %d: %v", step, err)
		return
	}
	if halted {
		if !dec.Action.IsWait() {
			logx.Infof("paper: entry suppressed at step %d: %s", step, haltReason)
		}
		return
	}
	if dec.Action.IsWait() {
		return
	}
	if ok, reason := p.book.CanOpen(p.cfg.Symbol); !ok {
		logx.Infof("paper: entry blocked at step %d: %s", step, reason)
		return
	}

	tp, sl := decisionpkg.CalcTPSL(price, obs.ATR, decisionpkg.ModeFor(obs), dec.Action.Direction)
	size := p.book.Balance() * p.cfg.MaxPositionPct
	err = p.book.Open(portfolio.Position{
		Symbol:      p.cfg.Symbol,
		Direction:   string(dec.Action.Direction),
		EntryPrice:  price,
		SizeUSD:     size,
		Leverage:    p.cfg.Leverage,
		TP:          tp,
		SL:          sl,
		DecisionID:  dec.ID,
		Strategy:    string(dec.Action.Strategy),
		EntryRegime: string(obs.MarketRegime),
		EntryATR:    obs.ATR,
	})
	if err != nil {
		logx.Infof("paper: order rejected at step %d: %v", step, err)
		return
	}
	p.entrySteps[dec.ID] = step
}
