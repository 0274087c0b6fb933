package decision

import "math"

// Exit reasons attached to closed trades and fed back into rewards.
const (
	ExitReasonTP       = "TP"
	ExitReasonSL       = "SL"
	ExitReasonTime     = "TIME"
	ExitReasonTimeExit = "TIME_EXIT"
)

// Candle count under which a take-profit exit earns the fast-win bonus.
const fastWinCandles = 5

// RewardCalculator scores resolved decisions. Positive rewards decay with
// the repetition count recorded at decision time, so a strategy cannot
// farm credit by repeating itself; losses are never discounted.
type RewardCalculator struct{}

// WaitReward scores a WAIT decision against what the market did next.
// Dodging a drop pays well, missing a rally costs a little, and sitting
// through chop earns a token amount for patience.
func (RewardCalculator) WaitReward(priceChangePct float64, repeats int) float64 {
	var reward float64
	switch {
	case priceChangePct < -1.0:
		reward = 1.0
	case priceChangePct > 2.0:
		reward = -0.5
	default:
		reward = 0.05
	}
	return finishReward(reward, repeats)
}

// TradeReward scores a closed trade from its realized PnL percentage, exit
// reason, and holding duration in candles.
func (RewardCalculator) TradeReward(pnlPct float64, exitReason string, durationCandles, repeats int) float64 {
	reward := pnlPct
	if exitReason == ExitReasonTP && durationCandles < fastWinCandles {
		reward += 0.5
	}
	if exitReason == ExitReasonTime || exitReason == ExitReasonTimeExit {
		reward -= 0.1
	}
	return finishReward(reward, repeats)
}

func finishReward(reward float64, repeats int) float64 {
	if reward > 0 {
		reward *= diminishingFactor(repeats)
	}
	return math.Round(reward*10000) / 10000
}

// diminishingFactor maps the repetition count to a payout multiplier.
func diminishingFactor(repeats int) float64 {
	switch {
	case repeats <= 0:
		return 1.0
	case repeats == 1:
		return 0.8
	case repeats == 2:
		return 0.5
	default:
		return 0.2
	}
}
