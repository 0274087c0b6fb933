package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"tradewind/pkg/decisionlog"
)

var (
	logFile   = flag.String("f", "data/decision_log.jsonl", "decision log file")
	recentN   = flag.Int("n", 10, "number of recent records to show")
	showStats = flag.Bool("stats", false, "print aggregate statistics instead of records")
	asJSON    = flag.Bool("json", false, "emit full records as JSON")
)

func main() {
	flag.Parse()
	log.SetFlags(0)

	store, err := decisionlog.NewFileStore(*logFile)
	if err != nil {
		log.Fatalf("open decision log: %v", err)
	}
	defer store.Close()

	if *showStats {
		printStats(store)
		return
	}

	recs, err := store.Recent(*recentN)
	if err != nil {
		log.Fatalf("read recent records: %v", err)
	}
	if len(recs) == 0 {
		fmt.Println("log is empty")
		return
	}
	for _, rec := range recs {
		if *asJSON {
			data, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				log.Fatalf("marshal record %s: %v", rec.ID, err)
			}
			os.Stdout.Write(data)
			fmt.Println()
			continue
		}
		printRecord(rec)
	}
}

func printRecord(rec decisionlog.Record) {
	status := "open"
	outcome := ""
	if rec.Resolved {
		status = "resolved"
		if rec.Outcome != nil {
			outcome = fmt.Sprintf(" pnl=%.2f%% exit=%s", rec.Outcome.PnLPct, rec.Outcome.ExitReason)
		}
	}
	fmt.Printf("%s  %s  %-18s %-5s conf=%.2f reward=%+.4f [%s]%s\n",
		rec.Timestamp,
		rec.MarketState.Symbol,
		rec.ActionTaken.Strategy,
		rec.ActionTaken.Direction,
		rec.Metadata.MLConfidence,
		rec.Reward,
		status,
		outcome,
	)
}

func printStats(store *decisionlog.FileStore) {
	stats := store.Stats()
	fmt.Printf("total records: %d\n", stats.Total)

	fmt.Println("by strategy:")
	for _, k := range sortedKeys(stats.ByStrategy) {
		fmt.Printf("  %-18s %d\n", k, stats.ByStrategy[k])
	}
	fmt.Println("by regime:")
	for _, k := range sortedKeys(stats.ByRegime) {
		fmt.Printf("  %-18s %d\n", k, stats.ByRegime[k])
	}
	fmt.Println("by direction:")
	for _, k := range sortedKeys(stats.ByDirection) {
		fmt.Printf("  %-18s %d\n", k, stats.ByDirection[k])
	}
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
