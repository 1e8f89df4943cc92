package strategy

import "math"

// Indicator primitives over full series. All functions return a slice the
// same length as the input so callers can index bars positionally.

// EMA computes the exponential moving average with alpha = 2/(span+1),
// seeded with the first value (pandas ewm adjust=false semantics).
func EMA(series []float64, span int) []float64 {
	if len(series) == 0 {
		return nil
	}
	alpha := 2.0 / float64(span+1)
	ema := make([]float64, len(series))
	ema[0] = series[0]
	for i := 1; i < len(series); i++ {
		ema[i] = alpha*series[i] + (1-alpha)*ema[i-1]
	}
	return ema
}

// MACD returns the MACD line (fast EMA - slow EMA) and its signal line
// (EMA of the MACD line).
func MACD(series []float64, fast, slow, signal int) (macdLine, signalLine []float64) {
	emaFast := EMA(series, fast)
	emaSlow := EMA(series, slow)

	macdLine = make([]float64, len(series))
	for i := range series {
		macdLine[i] = emaFast[i] - emaSlow[i]
	}
	signalLine = EMA(macdLine, signal)
	return macdLine, signalLine
}

// RSI computes the relative strength index with Wilder smoothing. The first
// period deltas seed the average gain/loss; bars before the seed carry the
// seed value. When the smoothed loss is zero the ratio is treated as zero
// and RSI reports 0 for that bar, matching the reference series used for
// the historical audit records.
func RSI(series []float64, period int) []float64 {
	n := len(series)
	if n == 0 {
		return nil
	}
	rsi := make([]float64, n)
	if n <= period {
		return rsi
	}

	var up, down float64
	for i := 1; i <= period; i++ {
		delta := series[i] - series[i-1]
		if delta >= 0 {
			up += delta
		} else {
			down -= delta
		}
	}
	up /= float64(period)
	down /= float64(period)

	rs := 0.0
	if down != 0 {
		rs = up / down
	}
	seed := 100.0 - 100.0/(1.0+rs)
	for i := 0; i < period && i < n; i++ {
		rsi[i] = seed
	}

	for i := period; i < n; i++ {
		delta := series[i] - series[i-1]
		upval, downval := 0.0, 0.0
		if delta > 0 {
			upval = delta
		} else {
			downval = -delta
		}

		up = (up*float64(period-1) + upval) / float64(period)
		down = (down*float64(period-1) + downval) / float64(period)

		rs = 0.0
		if down != 0 {
			rs = up / down
		}
		rsi[i] = 100.0 - 100.0/(1.0+rs)
	}
	return rsi
}

// ATR computes the Wilder-smoothed average true range. The value at index
// period-1 seeds with the simple mean of the first period true ranges;
// earlier indices are zero.
func ATR(high, low, close []float64, period int) []float64 {
	n := len(close)
	if n == 0 || period < 1 {
		return nil
	}

	tr := make([]float64, n)
	tr[0] = high[0] - low[0]
	for i := 1; i < n; i++ {
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	atr := make([]float64, n)
	if n < period {
		return atr
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	atr[period-1] = sum / float64(period)
	for i := period; i < n; i++ {
		atr[i] = (atr[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return atr
}
