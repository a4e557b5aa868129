// Sentinel - behavioral risk scoring for blockchain wallets
//
// Usage:
//
//	sentinel train -dataset txs.jsonl [-model-dir models] [-labels pattern] [-neural]
//	sentinel score -dataset txs.jsonl [-model-dir models] [-wallet 0x...] [-top 20]
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/MIRACULOUS65/sentinel-risk/internal/config"
	"github.com/MIRACULOUS65/sentinel-risk/internal/history"
	"github.com/MIRACULOUS65/sentinel-risk/internal/ingest"
	"github.com/MIRACULOUS65/sentinel-risk/internal/logging"
	"github.com/MIRACULOUS65/sentinel-risk/internal/risk"
	"github.com/MIRACULOUS65/sentinel-risk/internal/traces"
	"github.com/MIRACULOUS65/sentinel-risk/internal/train"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := logging.New("info", "text")
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting sentinel",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	switch os.Args[1] {
	case "train":
		runTrain(ctx, cfg, logger, os.Args[2:])
	case "score":
		runScore(ctx, cfg, logger, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: sentinel <command> [flags]")
	fmt.Println("Commands:")
	fmt.Println("  train    Fit the risk model from a transaction dataset")
	fmt.Println("  score    Score wallets against a trained model")
	fmt.Println("Run 'sentinel <command> -h' for command flags.")
}

func runTrain(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	dataset := fs.String("dataset", "", "path to the JSONL transaction dataset (required)")
	modelDir := fs.String("model-dir", cfg.ModelDir, "directory for model artifacts")
	labels := fs.String("labels", train.LabelsPattern, "neural label source: pattern or heuristic")
	neural := fs.Bool("neural", cfg.NeuralEnabled, "train the neural scorer")
	_ = fs.Parse(args)
	if *dataset == "" {
		fs.Usage()
		os.Exit(1)
	}

	store := history.NewStore().
		WithMaxHistory(cfg.MaxHistory).
		WithCompactInterval(cfg.CompactInterval)
	engine := risk.NewEngine().
		WithLogger(logger).
		WithWeights(cfg.PatternWeight, cfg.NeuralWeight)

	pipeline := train.New(train.Config{
		MinWalletTxs:  cfg.MinTrainTxs,
		ValSplit:      cfg.ValSplit,
		TestSplit:     cfg.TestSplit,
		Epochs:        cfg.Epochs,
		BatchSize:     cfg.BatchSize,
		LearningRate:  cfg.LearningRate,
		Patience:      cfg.Patience,
		Labels:        *labels,
		Seed:          uint64(cfg.Seed),
		NeuralEnabled: *neural,
	}).
		WithEngine(engine).
		WithStore(store).
		WithLogger(logger)

	sum, err := pipeline.Run(ctx, *dataset, *modelDir)
	if err != nil {
		logger.Error("training failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Trained on %d transactions across %d wallets in %s\n",
		sum.Transactions, sum.Wallets, sum.Duration.Round(time.Millisecond))
	if sum.Neural != nil {
		fmt.Printf("Neural scorer: %d samples, %d epochs, best val loss %.4f\n",
			sum.Neural.Samples, sum.Neural.Epochs, sum.Neural.BestValLoss)
	} else {
		fmt.Println("Neural scorer: disabled, scoring on pattern + anomaly ensemble")
	}
	if d := sum.Validation; d != nil && d.Wallets > 0 {
		fmt.Printf("Validation: %d wallets, freeze %d / limit %d / allow %d, scores %d-%d (mean %.1f)\n",
			d.Wallets, d.Freeze, d.Limit, d.Allow, d.Min, d.Max, d.Mean)
	}
	fmt.Printf("Artifacts written to %s\n", *modelDir)
}

func runScore(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	dataset := fs.String("dataset", "", "path to the JSONL transaction dataset (required)")
	modelDir := fs.String("model-dir", cfg.ModelDir, "directory with trained model artifacts")
	wallet := fs.String("wallet", "", "score a single wallet instead of the full population")
	top := fs.Int("top", 20, "number of highest-risk wallets to print")
	_ = fs.Parse(args)
	if *dataset == "" {
		fs.Usage()
		os.Exit(1)
	}

	engine := risk.NewEngine().WithLogger(logger)
	if err := engine.Load(*modelDir); err != nil {
		logger.Error("failed to load model", "dir", *modelDir, "error", err)
		os.Exit(1)
	}

	// Short-lived command, so assessments are recorded synchronously
	// instead of through the engine's async audit path.
	var audit risk.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		pg := risk.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("failed to migrate audit schema", "error", err)
			os.Exit(1)
		}
		audit = pg
	}

	txs, err := ingest.ReadFile(*dataset)
	if err != nil {
		logger.Error("failed to read dataset", "error", err)
		os.Exit(1)
	}
	store := history.NewStore().
		WithMaxHistory(cfg.MaxHistory).
		WithCompactInterval(cfg.CompactInterval)
	n := ingest.LoadInto(store, txs)
	logger.Info("dataset loaded", "transactions", n, "wallets", store.WalletCount())

	if *wallet != "" {
		w := ingest.CanonicalWallet(*wallet)
		wctx := logging.WithWallet(ctx, w)
		a := engine.Assess(wctx, store, w, time.Time{})
		record(wctx, audit, a)
		printAssessment(a)
		return
	}

	var results []*risk.Assessment
	for _, w := range store.SenderWallets() {
		if store.SenderCount(w) < 2 {
			continue
		}
		wctx := logging.WithWallet(ctx, w)
		a := engine.Assess(wctx, store, w, time.Time{})
		record(wctx, audit, a)
		results = append(results, a)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if *top > 0 && len(results) > *top {
		results = results[:*top]
	}

	fmt.Printf("%-44s %5s  %-6s  %s\n", "WALLET", "SCORE", "ACTION", "REASON")
	for _, a := range results {
		fmt.Printf("%-44s %5d  %-6s  %s\n", a.Wallet, a.Score, a.Decision, a.Reason)
	}
}

func record(ctx context.Context, audit risk.Store, a *risk.Assessment) {
	if audit == nil {
		return
	}
	if err := audit.Record(ctx, a); err != nil {
		logging.L(ctx).Warn("failed to record assessment", "error", err)
	}
}

func printAssessment(a *risk.Assessment) {
	fmt.Printf("Wallet:   %s\n", a.Wallet)
	fmt.Printf("Score:    %d\n", a.Score)
	fmt.Printf("Decision: %s\n", a.Decision)
	fmt.Printf("Reason:   %s\n", a.Reason)
	fmt.Printf("Pattern:  %d  Model: %d  Neural: %v  Txs: %d\n",
		a.PatternScore, a.ModelScore, a.UsingNeural, a.TxCount)
	if len(a.PatternScores) > 0 {
		names := make([]string, 0, len(a.PatternScores))
		for name := range a.PatternScores {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Println("Patterns:")
		for _, name := range names {
			fmt.Printf("  %-10s %d\n", name, a.PatternScores[name])
		}
	}
}
