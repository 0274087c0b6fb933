package backtest

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Report summarizes a finished run for humans and downstream analysis.
type Report struct {
	Symbol         string  `json:"symbol"`
	InitialCapital float64 `json:"initial_capital"`
	FinalBalance   float64 `json:"final_balance"`
	FinalEquity    float64 `json:"final_equity"`
	ReturnPct      float64 `json:"return_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Sharpe         float64 `json:"sharpe"`
	TradeCount     int     `json:"trade_count"`
	WinCount       int     `json:"win_count"`
	WinRatePct     float64 `json:"win_rate_pct"`
	AvgTradePct    float64 `json:"avg_trade_pct"`

	ByStrategy     map[string]int `json:"trades_by_strategy"`
	LossCategories map[string]int `json:"loss_categories"`
}

// BuildReport derives the summary metrics from a run result.
func BuildReport(cfg *Config, res *Result) *Report {
	rep := &Report{
		Symbol:         cfg.Symbol,
		InitialCapital: cfg.InitialCapital,
		FinalBalance:   res.FinalBalance,
		FinalEquity:    res.FinalEquity,
		ReturnPct:      (res.FinalEquity - cfg.InitialCapital) / cfg.InitialCapital * 100,
		MaxDrawdownPct: maxDrawdownPct(res.EquityCurve),
		Sharpe:         sharpe(res.EquityCurve),
		TradeCount:     res.TradeCount,
		ByStrategy:     map[string]int{},
		LossCategories: map[string]int{},
	}
	sum := 0.0
	for _, tr := range res.Trades {
		if tr.RealizedPnLUSD > 0 {
			rep.WinCount++
		}
		sum += tr.RealizedPnLPct
		rep.ByStrategy[tr.Strategy]++
		if tr.LossCategory != "" {
			rep.LossCategories[tr.LossCategory]++
		}
	}
	if res.TradeCount > 0 {
		rep.WinRatePct = float64(rep.WinCount) / float64(res.TradeCount) * 100
		rep.AvgTradePct = sum / float64(res.TradeCount)
	}
	return rep
}

// WriteReport persists the report as indented JSON.
func WriteReport(path string, rep *Report) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("backtest: marshal report: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("backtest: write report: %w", err)
	}
	return nil
}

func maxDrawdownPct(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	peak := series[0]
	mdd := 0.0
	for _, v := range series {
		if v > peak {
			peak = v
		}
		dd := (peak - v) / peak
		if dd > mdd {
			mdd = dd
		}
	}
	return mdd * 100
}

func sharpe(equity []float64) float64 {
	if len(equity) < 2 {
		return 0
	}
	rets := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		rets = append(rets, equity[i]/equity[i-1]-1)
	}
	if len(rets) == 0 {
		return 0
	}
	m := 0.0
	for _, r := range rets {
		m += r
	}
	m /= float64(len(rets))
	v := 0.0
	for _, r := range rets {
		d := r - m
		v += d * d
	}
	v /= float64(len(rets))
	sd := math.Sqrt(v)
	if sd == 0 {
		return 0
	}
	return m / sd * math.Sqrt(float64(len(rets)))
}
