package testutil

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/MIRACULOUS65/sentinel-risk/internal/history"
)

// Behaviors generates deterministic transaction fixtures mimicking
// distinct on-chain behavior profiles: routine retail activity plus the
// abuse patterns the scorer is built to catch. All randomness comes
// from one seeded generator, so a fixed seed yields a fixed dataset.
type Behaviors struct {
	rng  *rand.Rand
	base time.Time
	seq  int
}

// NewBehaviors returns a generator anchored at a fixed base timestamp.
func NewBehaviors(seed uint64) *Behaviors {
	return &Behaviors{
		rng:  rand.New(rand.NewPCG(seed, seed)),
		base: time.Unix(1_700_000_000, 0),
	}
}

// Base returns the timestamp all generated activity starts from.
func (b *Behaviors) Base() time.Time {
	return b.base
}

func (b *Behaviors) tx(at time.Time, from, to string, amount float64) history.Transaction {
	b.seq++
	return history.Transaction{
		Hash:       fmt.Sprintf("tx%06d", b.seq),
		Timestamp:  at,
		FromWallet: from,
		ToWallet:   to,
		Amount:     amount,
		AssetType:  "native",
	}
}

func (b *Behaviors) peer() string {
	return fmt.Sprintf("0xpeer%03d", b.rng.IntN(300))
}

// Normal emits a few transfers per day with log-normal amounts and
// varied recipients.
func (b *Behaviors) Normal(wallet string, hours int) []history.Transaction {
	perDay := 3 + b.rng.IntN(6)
	n := perDay * hours / 24
	if n < 1 {
		n = 1
	}
	avgGap := float64(hours) * 3600 / float64(n)

	var txs []history.Transaction
	at := b.base
	for i := 0; i < n; i++ {
		at = at.Add(time.Duration(b.rng.ExpFloat64() * avgGap * float64(time.Second)))
		amount := math.Exp(3.9 + b.rng.NormFloat64())
		if amount < 1 {
			amount = 1
		} else if amount > 500 {
			amount = 500
		}
		txs = append(txs, b.tx(at, wallet, b.peer(), amount))
	}
	return txs
}

// Whale emits one to three very large transfers per day.
func (b *Behaviors) Whale(wallet string, hours int) []history.Transaction {
	perDay := 1 + b.rng.IntN(3)
	n := perDay * hours / 24
	if n < 1 {
		n = 1
	}
	gap := time.Duration(hours) * time.Hour / time.Duration(n)

	var txs []history.Transaction
	at := b.base
	for i := 0; i < n; i++ {
		at = at.Add(gap)
		txs = append(txs, b.tx(at, wallet, b.peer(), 10000+b.rng.Float64()*490000))
	}
	return txs
}

// Circular emits full ring traffic (wallet -> r1 -> r2 -> r3 -> wallet)
// so the wallet both sends to and receives from its ring.
func (b *Behaviors) Circular(wallet string, hours int) []history.Transaction {
	ring := []string{wallet}
	for i := 1; i < 4; i++ {
		ring = append(ring, fmt.Sprintf("%s_ring%d", wallet, i))
	}
	cycleGap := time.Duration(1800+b.rng.IntN(5400)) * time.Second
	base := 100 + b.rng.Float64()*900

	var txs []history.Transaction
	at := b.base
	end := b.base.Add(time.Duration(hours) * time.Hour)
	for at.Before(end) {
		for i := range ring {
			amount := base * (1 + (b.rng.Float64()-0.5)*0.1)
			txs = append(txs, b.tx(at, ring[i], ring[(i+1)%len(ring)], amount))
			at = at.Add(time.Duration(10+b.rng.IntN(50)) * time.Second)
		}
		at = at.Add(cycleGap)
	}
	return txs
}

// Bot emits the same amount to the same recipient on a near-fixed clock.
func (b *Behaviors) Bot(wallet string, hours int) []history.Transaction {
	target := b.peer()
	amount := 10 + b.rng.Float64()*90
	gap := 30 + b.rng.IntN(150)

	var txs []history.Transaction
	at := b.base
	end := b.base.Add(time.Duration(hours) * time.Hour)
	for at.Before(end) {
		txs = append(txs, b.tx(at, wallet, target, amount))
		at = at.Add(time.Duration(gap+b.rng.IntN(11)-5) * time.Second)
	}
	return txs
}

// Burst emits sparse background activity followed by a ten-minute spike
// of rapid transfers.
func (b *Behaviors) Burst(wallet string, hours int) []history.Transaction {
	var txs []history.Transaction

	// Background: every 6-12 hours.
	at := b.base
	end := b.base.Add(time.Duration(hours) * time.Hour)
	for at.Before(end) {
		txs = append(txs, b.tx(at, wallet, b.peer(), 30+b.rng.Float64()*70))
		at = at.Add(time.Duration(6+b.rng.IntN(7)) * time.Hour)
	}

	// Spike in the middle of the window.
	burstAt := b.base.Add(time.Duration(hours) * time.Hour / 2)
	burstEnd := burstAt.Add(10 * time.Minute)
	for burstAt.Before(burstEnd) {
		txs = append(txs, b.tx(burstAt, wallet, b.peer(), 50+b.rng.Float64()*450))
		burstAt = burstAt.Add(time.Duration(5+b.rng.IntN(26)) * time.Second)
	}
	return txs
}

// FanOut emits similar amounts to dozens of unique recipients.
func (b *Behaviors) FanOut(wallet string, hours int) []history.Transaction {
	n := 50 + b.rng.IntN(30)
	base := 10 + b.rng.Float64()*90
	gap := time.Duration(hours) * time.Hour / time.Duration(n)

	var txs []history.Transaction
	at := b.base
	for i := 0; i < n; i++ {
		amount := base * (1 + (b.rng.Float64()-0.5)*0.2)
		txs = append(txs, b.tx(at, wallet, fmt.Sprintf("%s_out%03d", wallet, i), amount))
		at = at.Add(gap)
	}
	return txs
}

// Layering emits rapid multi-hop chains started by the wallet, with the
// amount decaying at each hop.
func (b *Behaviors) Layering(wallet string, hours int) []history.Transaction {
	var txs []history.Transaction
	at := b.base
	end := b.base.Add(time.Duration(hours) * time.Hour)
	chain := 0
	for at.Before(end) {
		hops := 4 + b.rng.IntN(5)
		amount := 500 + b.rng.Float64()*4500
		from := wallet
		for i := 0; i < hops; i++ {
			to := fmt.Sprintf("%s_hop%d_%d", wallet, chain, i)
			txs = append(txs, b.tx(at, from, to, amount))
			amount *= 0.95
			from = to
			at = at.Add(time.Duration(5+b.rng.IntN(26)) * time.Second)
		}
		chain++
		at = at.Add(time.Duration(30+b.rng.IntN(60)) * time.Minute)
	}
	return txs
}

// Dust emits a relentless stream of near-zero transfers.
func (b *Behaviors) Dust(wallet string, hours int) []history.Transaction {
	var txs []history.Transaction
	at := b.base
	end := b.base.Add(time.Duration(hours) * time.Hour)
	for at.Before(end) {
		txs = append(txs, b.tx(at, wallet, b.peer(), 0.0001+b.rng.Float64()*0.0099))
		at = at.Add(time.Duration(10+b.rng.IntN(51)) * time.Second)
	}
	return txs
}

// Mixed builds a population dataset: nNormal routine wallets, two
// whales, and one wallet per abuse profile, sorted by timestamp.
func (b *Behaviors) Mixed(nNormal int) []history.Transaction {
	var txs []history.Transaction
	for i := 0; i < nNormal; i++ {
		txs = append(txs, b.Normal(fmt.Sprintf("0xnorm%02d", i), 48)...)
	}
	txs = append(txs, b.Whale("0xwhale00", 48)...)
	txs = append(txs, b.Whale("0xwhale01", 48)...)
	txs = append(txs, b.Circular("0xcirc", 48)...)
	txs = append(txs, b.Bot("0xbot", 48)...)
	txs = append(txs, b.Burst("0xburst", 48)...)
	txs = append(txs, b.FanOut("0xfan", 2)...)
	txs = append(txs, b.Layering("0xlayer", 48)...)
	txs = append(txs, b.Dust("0xdust", 48)...)

	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Timestamp.Before(txs[j].Timestamp)
	})
	return txs
}

// WriteJSONL writes the transactions to a line-delimited JSON file under
// a test temp dir and returns its path.
func WriteJSONL(t *testing.T, txs []history.Transaction) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dataset.jsonl")
	f, err := os.Create(path) // #nosec G304 -- path rooted in t.TempDir
	if err != nil {
		t.Fatalf("testutil: create dataset: %v", err)
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	for _, tx := range txs {
		if err := enc.Encode(tx); err != nil {
			t.Fatalf("testutil: encode transaction: %v", err)
		}
	}
	return path
}
