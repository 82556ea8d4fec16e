// Command allocate runs one offline assignment pass over a directory of CSV
// exports and writes the resulting ledger as JSON.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/ticketmatch/backend/internal/ai"
	"github.com/ticketmatch/backend/internal/config"
	"github.com/ticketmatch/backend/internal/ingest"
	"github.com/ticketmatch/backend/internal/ledger"
	"github.com/ticketmatch/backend/internal/matching"
	"github.com/ticketmatch/backend/internal/roster"
	"github.com/ticketmatch/backend/internal/service"
)

type options struct {
	dataDir     string
	out         string
	strategy    string
	at          string
	formula     string
	workers     int
	strictDays  bool
	scopeLOB    bool
	llmProvider string
	llmURL      string
	enrich      bool
	logLevel    string
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var opts options
	flagSet := pflag.NewFlagSet("allocate", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.dataDir, "data", "", "directory holding tickets.csv, ambassadors.csv and shifts.csv")
	flagSet.StringVarP(&opts.out, "out", "o", "", "write the ledger JSON here (default: stdout)")
	flagSet.StringVar(&opts.strategy, "strategy", cfg.MatchStrategy, "selection strategy: score or llm")
	flagSet.StringVar(&opts.at, "at", "", "evaluation time, RFC3339 (default: now)")
	flagSet.StringVar(&opts.formula, "formula", cfg.ProfileFormula, "profile formula: extended or legacy")
	flagSet.IntVar(&opts.workers, "workers", cfg.ScoringWorkers, "candidate scoring concurrency")
	flagSet.BoolVar(&opts.strictDays, "strict-days", cfg.StrictWorkingDays, "require the shift's working days to include the evaluation day")
	flagSet.BoolVar(&opts.scopeLOB, "scope-lob", cfg.ShiftScopeLOB, "only count shifts of the ticket's line of business")
	flagSet.StringVar(&opts.llmProvider, "llm-provider", cfg.LLMProvider, "matcher for --strategy llm: mock, http, openai or azure")
	flagSet.StringVar(&opts.llmURL, "llm-url", cfg.LLMBaseURL, "matcher base url")
	flagSet.BoolVar(&opts.enrich, "enrich", cfg.LLMEnrich, "fill missing ticket urgency and product with the --llm-provider analyzer")
	flagSet.StringVar(&opts.logLevel, "log-level", cfg.LogLevel, "log level")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if opts.dataDir == "" {
		return errors.New("--data is required")
	}

	level, err := zerolog.ParseLevel(opts.logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(stderr).Level(level).With().Timestamp().Str("service", "ticketmatch-allocate").Logger()

	now := func() time.Time { return time.Now().In(cfg.Location()) }
	if opts.at != "" {
		at, err := time.Parse(time.RFC3339, opts.at)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		at = at.In(cfg.Location())
		now = func() time.Time { return at }
	}

	formula, err := matching.ParseFormula(opts.formula)
	if err != nil {
		return err
	}

	llmCfg := ai.OpenAIConfig{
		Provider:    opts.llmProvider,
		BaseURL:     opts.llmURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		APIVersion:  cfg.LLMAPIVersion,
		Timeout:     cfg.LLMTimeout,
		RatePerSec:  cfg.LLMRatePerSec,
		Burst:       cfg.LLMBurst,
		Temperature: cfg.LLMTemperature,
	}

	var selector matching.Selector = matching.ScoreSelector{}
	switch strings.ToLower(opts.strategy) {
	case "score":
	case "llm":
		matcher, err := ai.NewMatcher(llmCfg)
		if err != nil {
			return err
		}
		if matcher == nil {
			return errors.New("--strategy llm needs --llm-provider")
		}
		selector = matching.LLMSelector{Matcher: matcher, Timeout: cfg.LLMTimeout, Logger: logger}
	default:
		return fmt.Errorf("unknown strategy %q", opts.strategy)
	}

	ds, err := ingest.LoadDir(opts.dataDir)
	if err != nil {
		return err
	}
	for _, p := range ds.Problems {
		logger.Warn().Str("problem", p).Msg("skipped input row")
	}

	if opts.enrich {
		analyzer, err := ai.NewAnalyzer(llmCfg)
		if err != nil {
			return err
		}
		if analyzer == nil {
			return errors.New("--enrich needs --llm-provider")
		}
		enricher := &service.Enricher{Analyzer: analyzer, Workers: opts.workers, Logger: logger}
		enricher.Enrich(ctx, ds.Tickets)
	}

	engine := matching.NewEngine(matching.Options{
		Evaluator: matching.Evaluator{StrictWorkingDays: opts.strictDays, ScopeShiftsToLineOfBusiness: opts.scopeLOB},
		Formula:   formula,
		Selector:  selector,
		Workers:   opts.workers,
		Now:       now,
	}, logger)

	snap := roster.NewSnapshot(ds.Tickets, ds.Ambassadors, ds.Shifts, logger)
	led := ledger.New(logger)
	res := engine.Run(ctx, snap, led)

	out := stdout
	if opts.out != "" && opts.out != "-" {
		f, err := os.Create(opts.out)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if err := led.WriteJSON(out); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}

	logger.Info().
		Int("assigned", res.Assigned).
		Int("unassigned", res.Unassigned).
		Int("skipped", res.Skipped).
		Interface("reasons", res.Reasons).
		Msg("allocation complete")
	return nil
}
