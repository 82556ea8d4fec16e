package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ticketmatch/backend/internal/ai"
	"github.com/ticketmatch/backend/internal/config"
	"github.com/ticketmatch/backend/internal/db"
	"github.com/ticketmatch/backend/internal/events"
	httpapi "github.com/ticketmatch/backend/internal/http"
	"github.com/ticketmatch/backend/internal/matching"
	"github.com/ticketmatch/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "ticketmatch-backend").Logger()

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply schema")
	}

	formula, err := matching.ParseFormula(cfg.ProfileFormula)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid profile formula")
	}

	matcher, err := ai.NewMatcher(llmConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure llm matcher")
	}
	var llm matching.Selector
	if matcher != nil {
		llm = matching.LLMSelector{Matcher: matcher, Timeout: cfg.LLMTimeout, Logger: logger}
		logger.Info().Str("provider", cfg.LLMProvider).Msg("llm strategy available")
	}

	var enricher *service.Enricher
	if cfg.LLMEnrich {
		analyzer, err := ai.NewAnalyzer(llmConfig(cfg))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure ticket analyzer")
		}
		enricher = &service.Enricher{
			Analyzer: analyzer,
			Workers:  cfg.ScoringWorkers,
			Logger:   logger.With().Str("component", "enrich").Logger(),
		}
		logger.Info().Str("provider", cfg.LLMProvider).Msg("ticket analysis enabled on import")
	}

	var selector matching.Selector = matching.ScoreSelector{}
	if strings.EqualFold(cfg.MatchStrategy, "llm") {
		if llm == nil {
			logger.Fatal().Msg("MATCH_STRATEGY=llm needs LLM_PROVIDER")
		}
		selector = llm
	}

	loc := cfg.Location()
	engine := matching.NewEngine(matching.Options{
		Evaluator: matching.Evaluator{
			StrictWorkingDays:           cfg.StrictWorkingDays,
			ScopeShiftsToLineOfBusiness: cfg.ShiftScopeLOB,
		},
		Formula:  formula,
		Selector: selector,
		Workers:  cfg.ScoringWorkers,
		Now:      func() time.Time { return time.Now().In(loc) },
	}, logger)

	var publisher events.Publisher = events.NopPublisher{}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		publisher = events.NewKafkaPublisher(brokers, cfg.KafkaTopic, logger)
		logger.Info().Strs("brokers", brokers).Str("topic", cfg.KafkaTopic).Msg("publishing outcomes to kafka")
	}
	defer publisher.Close()

	processor := &service.ProcessingService{
		Store:     store,
		Engine:    engine,
		LLM:       llm,
		Publisher: publisher,
		Logger:    logger.With().Str("component", "processing").Logger(),
		Enricher:  enricher,
		Location:  loc,
	}

	router := httpapi.Router(cfg, store, processor, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("strategy", engine.Strategy()).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}

func llmConfig(cfg config.Config) ai.OpenAIConfig {
	return ai.OpenAIConfig{
		Provider:    cfg.LLMProvider,
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		APIVersion:  cfg.LLMAPIVersion,
		Timeout:     cfg.LLMTimeout,
		RatePerSec:  cfg.LLMRatePerSec,
		Burst:       cfg.LLMBurst,
		Temperature: cfg.LLMTemperature,
	}
}
