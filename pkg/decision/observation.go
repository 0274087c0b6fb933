package decision

// MarketObservation is the full snapshot of market and portfolio state fed
// into one analysis cycle. Field names match the persisted log format, so
// renaming a field is a log-schema change.
type MarketObservation struct {
	Symbol string `json:"symbol"`

	MarketRegime    Regime        `json:"market_regime"`
	VolatilityLevel Volatility    `json:"volatility_level"`
	TrendStrength   TrendStrength `json:"trend_strength"`

	TimeOfDay         string  `json:"time_of_day"`
	TradingSession    string  `json:"trading_session"`
	DayType           string  `json:"day_type"`
	WeekPhase         string  `json:"week_phase"`
	TimeRemainingDays float64 `json:"time_remaining_days"`

	CurrentPrice float64 `json:"current_price"`
	RSI          float64 `json:"rsi"`
	TrendSpread  float64 `json:"trend_spread"`
	DistToHigh   float64 `json:"dist_to_high"`
	DistToLow    float64 `json:"dist_to_low"`
	MACD         float64 `json:"macd"`
	MACDSignal   float64 `json:"macd_signal"`
	MACDHist     float64 `json:"macd_hist"`
	BBUpper      float64 `json:"bb_upper"`
	BBLower      float64 `json:"bb_lower"`
	BBMid        float64 `json:"bb_mid"`
	ATR          float64 `json:"atr"`

	VolumeDelta    float64 `json:"volume_delta"`
	SpreadPct      float64 `json:"spread_pct"`
	BodyPct        float64 `json:"body_pct"`
	GapPct         float64 `json:"gap_pct"`
	VolumeZScore   float64 `json:"volume_zscore"`
	LiquidityProxy float64 `json:"liquidity_proxy"`

	FundingRate    float64 `json:"funding_rate"`
	FundingExtreme bool    `json:"funding_extreme"`

	RawTimestamp int64 `json:"raw_timestamp"`

	CurrentRiskState       string  `json:"current_risk_state"`
	CurrentDrawdownPercent float64 `json:"current_drawdown_percent"`
	CurrentOpenPositions   int     `json:"current_open_positions"`

	RegimeConfidence   float64 `json:"regime_confidence"`
	RegimeStable       bool    `json:"regime_stable"`
	MomentumShiftScore float64 `json:"momentum_shift_score"`

	HTFTrendSpread float64 `json:"htf_trend_spread"`
	HTFRSI         float64 `json:"htf_rsi"`
	HTFATR         float64 `json:"htf_atr"`
}
