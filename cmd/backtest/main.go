package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"tradewind/internal/cli"
	"tradewind/internal/config"
	backtestpkg "tradewind/pkg/backtest"
	decisionpkg "tradewind/pkg/decision"
	"tradewind/pkg/decisionlog"
	enginepkg "tradewind/pkg/engine"
	"tradewind/pkg/perf"
)

var (
	configFile = flag.String("f", "etc/tradewind.yaml", "application config file")
	csvFile    = flag.String("csv", "", "OHLCV candles CSV (timestamp,open,high,low,close,volume)")
	reportFile = flag.String("report", "", "report output path, overrides config")
	seed       = flag.Int64("seed", 0, "RNG seed, 0 means time-seeded")
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

	btCfg := appCfg.Backtest.Value
	if btCfg == nil {
		btCfg = backtestpkg.DefaultConfig()
	}
	decCfg := appCfg.Decision.Value
	if decCfg == nil {
		decCfg = decisionpkg.DefaultConfig()
	}

	if err := os.MkdirAll(appCfg.DataPath, 0o755); err != nil {
		log.Fatalf("[main] Failed to create data path: %v", err)
	}

	fileStore, err := decisionlog.NewFileStore(filepath.Join(appCfg.DataPath, "backtest_decisions.jsonl"))
	if err != nil {
		log.Fatalf("[main] Failed to open decision log: %v", err)
	}
	store := decisionlog.NewBufferedStore(fileStore)
	defer store.Close()

	tracker := perf.NewTracker(perf.Options{})
	adapter := decisionpkg.NewThresholdAdapter("", decCfg.BaseConfidenceThreshold)

	var rng *rand.Rand
	if *seed != 0 {
		rng = rand.New(rand.NewSource(*seed))
	}
	eng, err := enginepkg.New(enginepkg.Options{
		Config:         decCfg,
		Store:          store,
		Adapter:        adapter,
		Tracker:        tracker,
		Rand:           rng,
		Mode:           "backtest",
		DataSource:     "csv",
		MarketPeriodID: filepath.Base(*csvFile),
	})
	if err != nil {
		log.Fatalf("[main] Failed to build engine: %v", err)
	}

	feeder, err := backtestpkg.NewFeederFromCSV(*csvFile, btCfg.Symbol, btCfg.WindowSize)
	if err != nil {
		log.Fatalf("[main] Failed to load candles: %v", err)
	}

	sim := backtestpkg.New(btCfg, eng, tracker, feeder)
	result, err := sim.Run()
	if err != nil {
		log.Fatalf("[main] Backtest failed: %v", err)
	}

	report := backtestpkg.BuildReport(btCfg, result)
	printReport(report)

	outPath := *reportFile
	if outPath == "" {
		outPath = btCfg.ReportPath
	}
	if outPath != "" {
		if err := backtestpkg.WriteReport(outPath, report); err != nil {
			log.Fatalf("[main] Failed to write report: %v", err)
		}
		log.Printf("[main] Report written to %s", outPath)
	}
}

func printReport(rep *backtestpkg.Report) {
	fmt.Printf("\n=== Backtest Report: %s ===\n", rep.Symbol)
	fmt.Printf("Capital:      %.2f -> %.2f (%.2f%%)\n", rep.InitialCapital, rep.FinalEquity, rep.ReturnPct)
	fmt.Printf("Max drawdown: %.2f%%\n", rep.MaxDrawdownPct)
	fmt.Printf("Sharpe:       %.2f\n", rep.Sharpe)
	fmt.Printf("Trades:       %d (win rate %.1f%%, avg %.2f%%)\n", rep.TradeCount, rep.WinRatePct, rep.AvgTradePct)
	for strategy, n := range rep.ByStrategy {
		fmt.Printf("  %-18s %d\n", strategy, n)
	}
	if len(rep.LossCategories) > 0 {
		fmt.Println("Loss categories:")
		for category, n := range rep.LossCategories {
			fmt.Printf("  %-18s %d\n", category, n)
		}
	}
}
