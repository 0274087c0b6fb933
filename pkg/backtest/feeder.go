package backtest

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"tradewind/pkg/decision"
	"tradewind/pkg/indicators"
)

// htfDownsample is the candle stride used to approximate a higher
// timeframe from the base series.
const htfDownsample = 4

// minWindow is the smallest window the derivation can run on: the
// 20-bar lookbacks need headroom past their seed period.
const minWindow = 30

// LoadBarsCSV reads OHLCV bars from a CSV with columns
// timestamp,open,high,low,close,volume. A header row and malformed rows
// are skipped.
func LoadBarsCSV(path string) ([]indicators.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backtest: open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("backtest: read csv: %w", err)
	}

	var bars []indicators.Bar
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		ts, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			// Header or junk row.
			continue
		}
		open, err1 := strconv.ParseFloat(row[1], 64)
		high, err2 := strconv.ParseFloat(row[2], 64)
		low, err3 := strconv.ParseFloat(row[3], 64)
		cls, err4 := strconv.ParseFloat(row[4], 64)
		vol, err5 := strconv.ParseFloat(row[5], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}
		bars = append(bars, indicators.Bar{
			Timestamp: int64(ts),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     cls,
			Volume:    vol,
		})
	}
	logx.Infof("backtest: loaded %d candles from %s", len(bars), path)
	return bars, nil
}

// Feeder replays historical bars as observations. Each call to Next slides
// the window one bar forward, so the simulator only ever sees data up to
// its decision point.
type Feeder struct {
	bars   []indicators.Bar
	symbol string
	window int
	idx    int
}

// NewFeeder builds a replay feeder over bars.
func NewFeeder(bars []indicators.Bar, symbol string, window int) *Feeder {
	if window <= 0 {
		window = 50
	} else if window < minWindow {
		window = minWindow
	}
	return &Feeder{bars: bars, symbol: symbol, window: window}
}

// NewFeederFromCSV loads bars from path and builds a feeder over them.
func NewFeederFromCSV(path, symbol string, window int) (*Feeder, error) {
	bars, err := LoadBarsCSV(path)
	if err != nil {
		return nil, err
	}
	return NewFeeder(bars, symbol, window), nil
}

// Reset rewinds the feeder to the first window.
func (f *Feeder) Reset() { f.idx = 0 }

// Next returns the observation for the next window, or false when the
// series is exhausted.
func (f *Feeder) Next() (decision.MarketObservation, bool) {
	if f.idx+f.window > len(f.bars) {
		return decision.MarketObservation{}, false
	}
	win := f.bars[f.idx : f.idx+f.window]
	full := f.bars[:f.idx+f.window]
	obs := f.derive(win, full)
	f.idx++
	return obs, true
}

// LatestBar returns the newest bar of the most recently returned window:
// the bar the current decision is acting on.
func (f *Feeder) LatestBar() (indicators.Bar, bool) {
	idx := f.idx - 1 + f.window - 1
	if f.idx == 0 || idx >= len(f.bars) {
		return indicators.Bar{}, false
	}
	return f.bars[idx], true
}

func (f *Feeder) derive(win, full []indicators.Bar) decision.MarketObservation {
	closes := make([]float64, len(win))
	volumes := make([]float64, len(win))
	for i, b := range win {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}
	last := win[len(win)-1]
	lastClose := last.Close

	sma20 := mean(closes[len(closes)-20:])
	sma50 := mean(closes)
	trendSpread := (sma20 - sma50) / sma50 * 100

	rsi := lastValid(indicators.RSI(closes, 14), 50)
	macd, macdSig, macdHist := lastMACD(closes)
	bbUpper, bbMid, bbLower := lastBollinger(closes)
	atr := lastValid(indicators.ATR(win, 14), 0)

	high := lastValid(indicators.RollingHigh(win, len(win)), lastClose)
	low := lastValid(indicators.RollingLow(win, len(win)), lastClose)
	distToHigh := (high - lastClose) / lastClose * 100
	distToLow := (lastClose - low) / lastClose * 100

	vol := decision.VolNormal
	switch {
	case atr < lastClose*0.005:
		vol = decision.VolLow
	case atr > lastClose*0.02:
		vol = decision.VolHigh
	}

	var regime decision.Regime
	switch {
	case lastClose > sma20 && sma20 > sma50:
		regime = decision.RegimeBullTrend
	case lastClose < sma20 && sma20 < sma50:
		regime = decision.RegimeBearTrend
	case vol == decision.VolHigh:
		regime = decision.RegimeSidewaysHighVol
	default:
		regime = decision.RegimeSidewaysLowVol
	}

	strength := decision.TrendWeak
	switch {
	case math.Abs(trendSpread) > 2.0:
		strength = decision.TrendStrong
	case math.Abs(trendSpread) > 0.5:
		strength = decision.TrendModerate
	}

	t := time.UnixMilli(last.Timestamp).UTC()
	session := "OTHER"
	switch hour := t.Hour(); {
	case hour < 8:
		session = "ASIA"
	case hour < 13:
		session = "LONDON"
	case hour < 16:
		session = "OVERLAP"
	case hour < 21:
		session = "NY"
	}
	dayType := "WEEKDAY"
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		dayType = "WEEKEND"
	}

	regimeConfidence := regimeConfidence(lastClose, sma20, sma50, macdHist)
	momentumShift := momentumShift(closes, macdHist, rsi)

	bodyPct := math.Abs(last.Close-last.Open) / last.Open * 100
	gapPct := 0.0
	if len(full) >= 2 {
		prevClose := full[len(full)-2].Close
		gapPct = (last.Open - prevClose) / prevClose * 100
	}
	volumeZ := lastValid(indicators.VolumeZScore(volumes, 20), 0)

	htfSpread, htfRSI, htfATR := f.higherTimeframe(full)

	return decision.MarketObservation{
		Symbol:                 f.symbol,
		MarketRegime:           regime,
		VolatilityLevel:        vol,
		TrendStrength:          strength,
		TimeOfDay:              strconv.Itoa(t.Hour()),
		TradingSession:         session,
		DayType:                dayType,
		WeekPhase:              "MID",
		TimeRemainingDays:      30.0,
		CurrentPrice:           lastClose,
		RSI:                    rsi,
		TrendSpread:            trendSpread,
		DistToHigh:             distToHigh,
		DistToLow:              distToLow,
		MACD:                   macd,
		MACDSignal:             macdSig,
		MACDHist:               macdHist,
		BBUpper:                bbUpper,
		BBLower:                bbLower,
		BBMid:                  bbMid,
		ATR:                    atr,
		SpreadPct:              0,
		BodyPct:                bodyPct,
		GapPct:                 gapPct,
		VolumeZScore:           volumeZ,
		LiquidityProxy:         lastClose * last.Volume,
		RawTimestamp:           last.Timestamp,
		CurrentRiskState:       "SAFE",
		RegimeConfidence:       regimeConfidence,
		RegimeStable:           math.Abs(momentumShift) < 0.5,
		MomentumShiftScore:     momentumShift,
		HTFTrendSpread:         htfSpread,
		HTFRSI:                 htfRSI,
		HTFATR:                 htfATR,
		CurrentDrawdownPercent: 0,
	}
}

// higherTimeframe approximates a slower chart by striding over the full
// history available so far.
func (f *Feeder) higherTimeframe(full []indicators.Bar) (spread, rsi, atr float64) {
	var htf []indicators.Bar
	for i := len(full) - 1; i >= 0; i -= htfDownsample {
		htf = append([]indicators.Bar{full[i]}, htf...)
	}
	if len(htf) < 50 {
		return 0, 50, 0
	}
	htf = htf[len(htf)-50:]
	closes := make([]float64, len(htf))
	for i, b := range htf {
		closes[i] = b.Close
	}
	sma20 := mean(closes[len(closes)-20:])
	sma50 := mean(closes)
	spread = (sma20 - sma50) / sma50 * 100
	rsi = lastValid(indicators.RSI(closes, 14), 50)
	atr = lastValid(indicators.ATR(htf, 14), 0)
	return spread, rsi, atr
}

func regimeConfidence(lastClose, sma20, sma50, macdHist float64) float64 {
	distFrom20 := 0.0
	if sma20 > 0 {
		distFrom20 = math.Abs(lastClose-sma20) / sma20
	}
	distFrom50 := 0.0
	if sma50 > 0 {
		distFrom50 = math.Abs(lastClose-sma50) / sma50
	}
	distanceScore := math.Min((distFrom20+distFrom50)*10, 1.0)

	smaAligned := 0.5
	if (sma20 > sma50 && lastClose > sma20) || (sma20 < sma50 && lastClose < sma20) {
		smaAligned = 1.0
	}

	macdStrength := 0.5
	if macdHist != 0 {
		macdStrength = math.Min(math.Abs(macdHist)/100, 1.0)
	}

	conf := distanceScore*0.3 + smaAligned*0.4 + macdStrength*0.3
	return math.Round(conf*1000) / 1000
}

func momentumShift(closes []float64, macdHist, rsi float64) float64 {
	if len(closes) < 10 {
		return 0
	}
	short := 0.0
	if p := closes[len(closes)-5]; p > 0 {
		short = (closes[len(closes)-1] - p) / p
	}
	long := 0.0
	if p := closes[len(closes)-10]; p > 0 {
		long = (closes[len(closes)-1] - p) / p
	}

	divergence := 0.0
	if long > 0 && short < 0 {
		divergence = -0.5
	} else if long < 0 && short > 0 {
		divergence = 0.5
	}

	rsiSignal := 0.0
	if rsi > 70 {
		rsiSignal = -0.3
	} else if rsi < 30 {
		rsiSignal = 0.3
	}

	macdSignal := 0.0
	if macdHist > 50 {
		macdSignal = 0.2
	} else if macdHist < -50 {
		macdSignal = -0.2
	}

	shift := divergence + rsiSignal + macdSignal
	shift = math.Max(-1, math.Min(1, shift))
	return math.Round(shift*1000) / 1000
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func lastValid(series []float64, fallback float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) {
			return series[i]
		}
	}
	return fallback
}

func lastMACD(closes []float64) (macd, signal, hist float64) {
	m, s, h := indicators.MACD(closes)
	return lastValid(m, 0), lastValid(s, 0), lastValid(h, 0)
}

func lastBollinger(closes []float64) (upper, mid, lower float64) {
	u, m, l := indicators.Bollinger(closes, 20, 2)
	return lastValid(u, 0), lastValid(m, 0), lastValid(l, 0)
}
