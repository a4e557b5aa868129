// Package features extracts the fixed-order behavioral feature vector a
// wallet's risk models are trained and scored on. Extraction is pure:
// the same histories and reference time always produce the same vector,
// and every feature is well-defined for any input, including empty
// histories.
package features

import (
	"math"
	"sort"
	"time"

	"github.com/MIRACULOUS65/sentinel-risk/internal/history"
)

// DustThreshold is the amount at or below which a transfer counts as
// dust, in native asset units.
const DustThreshold = 0.01

// Names lists the features in their fixed order. The order is part of
// the trained-artifact contract: training and inference must agree on
// it exactly.
var Names = []string{
	"tx_count_1m",
	"tx_count_10m",
	"tx_count_1h",
	"tx_velocity",
	"mean_amount",
	"std_amount",
	"max_amount",
	"amount_range",
	"unique_recipients_1h",
	"same_recipient_ratio",
	"fan_out_score",
	"burstiness_index",
	"dust_tx_ratio",
	"self_transfer_ratio",
	"return_ratio",
	"avg_interval",
}

// Vector positions, in Names order.
const (
	IdxTxCount1m = iota
	IdxTxCount10m
	IdxTxCount1h
	IdxTxVelocity
	IdxMeanAmount
	IdxStdAmount
	IdxMaxAmount
	IdxAmountRange
	IdxUniqueRecipients1h
	IdxSameRecipientRatio
	IdxFanOutScore
	IdxBurstinessIndex
	IdxDustTxRatio
	IdxSelfTransferRatio
	IdxReturnRatio
	IdxAvgInterval

	Count // number of features
)

// Vector is a feature vector in Names order.
type Vector []float64

// Map returns the vector keyed by feature name.
func (v Vector) Map() map[string]float64 {
	out := make(map[string]float64, len(v))
	for i, val := range v {
		if i < len(Names) {
			out[Names[i]] = val
		}
	}
	return out
}

// Extract computes all 16 features for a wallet from its sender-role and
// receiver-role histories, windowed relative to ref. A zero ref means now.
func Extract(sent, received []history.Transaction, ref time.Time) Vector {
	if ref.IsZero() {
		ref = time.Now()
	}
	v := make(Vector, Count)

	sent1m := window(sent, history.WindowMinute, ref)
	sent10m := window(sent, history.Window10Min, ref)
	sent1h := window(sent, history.WindowHour, ref)
	sent24h := window(sent, history.WindowDay, ref)
	recv24h := window(received, history.WindowDay, ref)

	// Frequency
	v[IdxTxCount1m] = float64(len(sent1m))
	v[IdxTxCount10m] = float64(len(sent10m))
	v[IdxTxCount1h] = float64(len(sent1h))

	// Velocity: 10-minute rate relative to the hourly rate. The hourly
	// denominator floors at 0.001 so a burst against a quiet hour still
	// registers.
	rate10m := 0.0
	if len(sent10m) > 0 {
		rate10m = float64(len(sent10m)) / 10
	}
	rate1h := 0.001
	if len(sent1h) > 0 {
		rate1h = float64(len(sent1h)) / 60
	}
	if rate1h > 0 {
		v[IdxTxVelocity] = rate10m / rate1h
	}

	// Amounts over the trailing hour. An empty window contributes a
	// single zero sample rather than no data.
	amounts := make([]float64, 0, len(sent1h))
	for _, tx := range sent1h {
		amounts = append(amounts, tx.Amount)
	}
	if len(amounts) == 0 {
		amounts = []float64{0}
	}
	v[IdxMeanAmount] = mean(amounts)
	if len(amounts) > 1 {
		v[IdxStdAmount] = stddev(amounts)
	}
	v[IdxMaxAmount] = maxOf(amounts)
	if len(amounts) > 1 {
		v[IdxAmountRange] = maxOf(amounts) - minOf(amounts)
	}

	// Recipient diversity over the trailing hour.
	recipientCounts := make(map[string]int)
	for _, tx := range sent1h {
		recipientCounts[tx.ToWallet]++
	}
	unique := len(recipientCounts)
	v[IdxUniqueRecipients1h] = float64(unique)
	if len(sent1h) > 0 {
		mostCommon := 0
		for _, n := range recipientCounts {
			if n > mostCommon {
				mostCommon = n
			}
		}
		v[IdxSameRecipientRatio] = float64(mostCommon) / float64(len(sent1h))
		v[IdxFanOutScore] = float64(unique) / float64(len(sent1h))
	}

	// Timing over the trailing hour.
	if len(sent1h) >= 2 {
		intervals := sortedIntervals(sent1h)
		meanIv := mean(intervals)
		v[IdxBurstinessIndex] = stddev(intervals) / (meanIv + 1)
		v[IdxAvgInterval] = meanIv
	} else {
		v[IdxAvgInterval] = 3600
	}

	// Dust
	if len(sent1h) > 0 {
		dust := 0
		for _, tx := range sent1h {
			if tx.Amount <= DustThreshold {
				dust++
			}
		}
		v[IdxDustTxRatio] = float64(dust) / float64(len(sent1h))
	}

	// Round-trip flow over 24 hours: wallets this one paid that also
	// paid it back.
	sentTo := make(map[string]struct{})
	for _, tx := range sent24h {
		sentTo[tx.ToWallet] = struct{}{}
	}
	recvFrom := make(map[string]struct{})
	for _, tx := range recv24h {
		recvFrom[tx.FromWallet] = struct{}{}
	}
	overlap := 0
	for w := range sentTo {
		if _, ok := recvFrom[w]; ok {
			overlap++
		}
	}
	if len(sentTo) > 0 {
		v[IdxSelfTransferRatio] = float64(overlap) / float64(len(sentTo))
	}
	if len(sent24h) > 0 && len(recv24h) > 0 && len(sentTo) > 0 {
		v[IdxReturnRatio] = float64(overlap) / float64(len(sentTo))
	}

	return v
}

func window(txs []history.Transaction, w time.Duration, ref time.Time) []history.Transaction {
	cutoff := ref.Add(-w)
	out := make([]history.Transaction, 0, len(txs))
	for _, tx := range txs {
		if !tx.Timestamp.Before(cutoff) {
			out = append(out, tx)
		}
	}
	return out
}

// sortedIntervals returns the gaps in seconds between consecutive
// timestamps after sorting.
func sortedIntervals(txs []history.Transaction) []float64 {
	ts := make([]time.Time, len(txs))
	for i, tx := range txs {
		ts[i] = tx.Timestamp
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })

	intervals := make([]float64, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		intervals[i-1] = ts[i].Sub(ts[i-1]).Seconds()
	}
	return intervals
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}
