// Package indicators implements the technical indicators the bot strategies
// consume.
package indicators

// RSI computes the Relative Strength Index over the last period deltas of
// the series. With fewer than period+1 samples there is no meaningful
// momentum signal yet, so it returns the neutral midpoint 50.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 50
	}

	var gains, losses float64
	start := len(values) - period
	for i := start; i < len(values); i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}
