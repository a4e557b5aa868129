package features

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MIRACULOUS65/sentinel-risk/internal/history"
)

var ref = time.Unix(1_700_000_000, 0)

func sentTx(to string, ts time.Time, amount float64) history.Transaction {
	return history.Transaction{
		Hash:       fmt.Sprintf("h-%s-%d", to, ts.UnixNano()),
		Timestamp:  ts,
		FromWallet: "w",
		ToWallet:   to,
		Amount:     amount,
	}
}

func recvTx(from string, ts time.Time, amount float64) history.Transaction {
	return history.Transaction{
		Hash:       fmt.Sprintf("h-%s-%d", from, ts.UnixNano()),
		Timestamp:  ts,
		FromWallet: from,
		ToWallet:   "w",
		Amount:     amount,
	}
}

func TestEmptyHistories(t *testing.T) {
	v := Extract(nil, nil, ref)

	require.Len(t, v, Count)
	for i, val := range v {
		if i == IdxAvgInterval {
			assert.Equal(t, 3600.0, val, "avg_interval default")
			continue
		}
		assert.Zero(t, val, "feature %s", Names[i])
	}
}

func TestDustSpray(t *testing.T) {
	// Ten dust transfers to ten distinct recipients, one second apart.
	var sent []history.Transaction
	for i := 0; i < 10; i++ {
		sent = append(sent, sentTx(fmt.Sprintf("r%d", i), ref.Add(-time.Duration(9-i)*time.Second), 0.001))
	}

	v := Extract(sent, nil, ref)

	assert.Equal(t, 1.0, v[IdxDustTxRatio])
	assert.Equal(t, 1.0, v[IdxFanOutScore])
	assert.Equal(t, 0.1, v[IdxSameRecipientRatio])
	assert.Equal(t, 10.0, v[IdxTxCount1m])
	assert.Equal(t, 10.0, v[IdxUniqueRecipients1h])
}

func TestSteadyBotStream(t *testing.T) {
	// Twenty identical transfers to one recipient, sixty seconds apart.
	var sent []history.Transaction
	for i := 0; i < 20; i++ {
		sent = append(sent, sentTx("bot-sink", ref.Add(-time.Duration(19-i)*time.Minute), 50.0))
	}

	v := Extract(sent, nil, ref)

	assert.Equal(t, 1.0, v[IdxSameRecipientRatio])
	assert.Equal(t, 1.0, v[IdxUniqueRecipients1h])
	assert.Equal(t, 0.05, v[IdxFanOutScore])
	assert.Equal(t, 20.0, v[IdxTxCount1h])
	assert.Equal(t, 50.0, v[IdxMeanAmount])
	assert.Zero(t, v[IdxStdAmount], "identical amounts")
	assert.Zero(t, v[IdxBurstinessIndex], "perfectly regular timing")
	assert.Equal(t, 60.0, v[IdxAvgInterval])
}

func TestExtractionIsPure(t *testing.T) {
	sent := []history.Transaction{
		sentTx("a", ref.Add(-30*time.Minute), 5),
		sentTx("b", ref.Add(-10*time.Minute), 7),
		sentTx("a", ref.Add(-time.Minute), 9),
	}
	recv := []history.Transaction{
		recvTx("a", ref.Add(-20*time.Minute), 2),
	}

	first := Extract(sent, recv, ref)
	second := Extract(sent, recv, ref)
	assert.Equal(t, first, second)
}

func TestOldTransactionDoesNotMoveHourFeatures(t *testing.T) {
	sent := []history.Transaction{
		sentTx("a", ref.Add(-30*time.Minute), 5),
		sentTx("b", ref.Add(-10*time.Minute), 7),
	}
	base := Extract(sent, nil, ref)

	// Two hours old: outside the 1h window but inside 24h.
	extended := append([]history.Transaction{sentTx("c", ref.Add(-2*time.Hour), 100)}, sent...)
	got := Extract(extended, nil, ref)

	hourFeatures := []int{
		IdxTxCount1m, IdxTxCount10m, IdxTxCount1h, IdxTxVelocity,
		IdxMeanAmount, IdxStdAmount, IdxMaxAmount, IdxAmountRange,
		IdxUniqueRecipients1h, IdxSameRecipientRatio, IdxFanOutScore,
		IdxBurstinessIndex, IdxDustTxRatio, IdxAvgInterval,
	}
	for _, idx := range hourFeatures {
		assert.Equal(t, base[idx], got[idx], "feature %s", Names[idx])
	}
}

func TestVelocity(t *testing.T) {
	// Five transactions in the last ten minutes, ten in the last hour:
	// rate10 = 0.5/min, rate1h = 10/60 per min.
	var sent []history.Transaction
	for i := 0; i < 5; i++ {
		sent = append(sent, sentTx("x", ref.Add(-time.Duration(i+1)*time.Minute), 1))
	}
	for i := 0; i < 5; i++ {
		sent = append(sent, sentTx("x", ref.Add(-time.Duration(20+i)*time.Minute), 1))
	}

	v := Extract(sent, nil, ref)
	assert.InDelta(t, 3.0, v[IdxTxVelocity], 1e-9)
}

func TestAmountStats(t *testing.T) {
	sent := []history.Transaction{
		sentTx("a", ref.Add(-2*time.Minute), 1),
		sentTx("b", ref.Add(-time.Minute), 3),
	}
	v := Extract(sent, nil, ref)

	assert.Equal(t, 2.0, v[IdxMeanAmount])
	assert.Equal(t, 1.0, v[IdxStdAmount], "population std of [1,3]")
	assert.Equal(t, 3.0, v[IdxMaxAmount])
	assert.Equal(t, 2.0, v[IdxAmountRange])
}

func TestSingleTransactionAmountDefaults(t *testing.T) {
	sent := []history.Transaction{sentTx("a", ref.Add(-time.Minute), 7)}
	v := Extract(sent, nil, ref)

	assert.Equal(t, 7.0, v[IdxMeanAmount])
	assert.Zero(t, v[IdxStdAmount])
	assert.Zero(t, v[IdxAmountRange])
	assert.Equal(t, 3600.0, v[IdxAvgInterval])
}

func TestRoundTripRatios(t *testing.T) {
	sent := []history.Transaction{
		sentTx("a", ref.Add(-2*time.Hour), 10),
		sentTx("b", ref.Add(-3*time.Hour), 10),
	}

	t.Run("no incoming", func(t *testing.T) {
		v := Extract(sent, nil, ref)
		assert.Zero(t, v[IdxSelfTransferRatio])
		assert.Zero(t, v[IdxReturnRatio])
	})

	t.Run("one recipient pays back", func(t *testing.T) {
		recv := []history.Transaction{recvTx("a", ref.Add(-time.Hour), 9)}
		v := Extract(sent, recv, ref)
		assert.Equal(t, 0.5, v[IdxSelfTransferRatio])
		assert.Equal(t, 0.5, v[IdxReturnRatio])
	})

	t.Run("unrelated incoming", func(t *testing.T) {
		recv := []history.Transaction{recvTx("stranger", ref.Add(-time.Hour), 9)}
		v := Extract(sent, recv, ref)
		assert.Zero(t, v[IdxSelfTransferRatio])
		assert.Zero(t, v[IdxReturnRatio])
	})
}

func TestWindowBoundaryInclusive(t *testing.T) {
	sent := []history.Transaction{sentTx("edge", ref.Add(-history.WindowHour), 1)}
	v := Extract(sent, nil, ref)
	assert.Equal(t, 1.0, v[IdxTxCount1h])
}

func TestRatiosStayInRange(t *testing.T) {
	cases := []struct {
		name string
		sent []history.Transaction
		recv []history.Transaction
	}{
		{"empty", nil, nil},
		{"single dust", []history.Transaction{sentTx("a", ref, 0.0001)}, nil},
		{"dense mixed", func() []history.Transaction {
			var txs []history.Transaction
			for i := 0; i < 200; i++ {
				amt := 0.001
				if i%3 == 0 {
					amt = 500
				}
				txs = append(txs, sentTx(fmt.Sprintf("r%d", i%7), ref.Add(-time.Duration(i)*10*time.Second), amt))
			}
			return txs
		}(), []history.Transaction{recvTx("r1", ref.Add(-time.Hour), 3)}},
	}

	ratioIdx := []int{IdxSameRecipientRatio, IdxFanOutScore, IdxDustTxRatio, IdxSelfTransferRatio, IdxReturnRatio}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := Extract(tc.sent, tc.recv, ref)
			for _, idx := range ratioIdx {
				assert.GreaterOrEqual(t, v[idx], 0.0, Names[idx])
				assert.LessOrEqual(t, v[idx], 1.0, Names[idx])
			}
			for i, val := range v {
				assert.False(t, val != val, "NaN in %s", Names[i])
			}
		})
	}
}

func TestVectorMap(t *testing.T) {
	sent := []history.Transaction{sentTx("a", ref.Add(-time.Minute), 2)}
	m := Extract(sent, nil, ref).Map()

	require.Len(t, m, Count)
	assert.Equal(t, 1.0, m["tx_count_1h"])
	assert.Equal(t, 2.0, m["mean_amount"])
}
