// Command bot runs the condor engine: it consumes the streaming feed,
// serves the status dashboard and executes the decision cycle on a timer.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/prabhuswaminathan/nifty-condor-bot/internal/broker"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/chain"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/config"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/dashboard"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/feed"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/manager"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/strategy"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env is optional; config expansion picks the variables up.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Environment.LogLevel)
	logger.Infof("Starting condor engine in %s mode", cfg.Environment.Mode)
	if !cfg.IsPaperTrading() {
		logger.Warn("LIVE TRADING MODE - real money at risk")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping engine...")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("Engine error: %v", err)
	}
	logger.Info("Engine stopped")
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	upstox := broker.NewUpstoxClient(broker.UpstoxConfig{
		BaseURL:        cfg.Broker.BaseURL,
		AccessToken:    cfg.Broker.AccessToken,
		IndexKey:       cfg.Broker.IndexKey,
		StrikeInterval: cfg.Strategy.StrikeInterval,
		Timeout:        config.Duration(cfg.Broker.Timeout, 10*time.Second),
	})
	brk := broker.NewCircuitBreakerBroker(upstox)

	cache := chain.NewCache(brk, logger, chain.RetryConfig{
		MaxRetries:     cfg.Retry.MaxRetries,
		InitialBackoff: config.Duration(cfg.Retry.InitialBackoff, time.Second),
		MaxBackoff:     config.Duration(cfg.Retry.MaxBackoff, 30*time.Second),
	})

	mgr := manager.New(brk, cache, manager.Config{
		IndexKey: cfg.Broker.IndexKey,
		Selection: strategy.Params{
			StrikeInterval: cfg.Strategy.StrikeInterval,
			BodyWidth:      cfg.Strategy.BodyWidth,
			WingWidth:      cfg.Strategy.WingWidth,
			Lots:           cfg.Strategy.Lots,
		},
		Holidays:         cfg.HolidaySet(),
		PayoffStep:       cfg.Strategy.PayoffStep,
		PositionsTimeout: cfg.PositionsTimeout(),
		SpotTimeout:      cfg.SpotTimeout(),
		OrderTimeout:     cfg.OrderTimeout(),
	}, logger)

	stream := feed.NewStream(feed.StreamConfig{
		URL:        cfg.Feed.URL,
		Schema:     feed.SchemaHint(cfg.Feed.Schema),
		BufferSize: cfg.Feed.BufferSize,
		MaxRetries: cfg.Feed.MaxRetries,
		BaseDelay:  config.Duration(cfg.Feed.BaseDelay, time.Second),
	}, logger)

	// Tick ingestion runs independently of the decision cycle; neither ever
	// blocks the other.
	feedDone := make(chan error, 1)
	go func() { feedDone <- stream.Run(ctx) }()

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dash = dashboard.NewServer(dashboard.Config{Port: cfg.Dashboard.Port}, stream, logger)
		go func() {
			if err := dash.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("dashboard server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = dash.Shutdown(shutdownCtx)
		}()
	}

	ticker := time.NewTicker(cfg.CycleInterval())
	defer ticker.Stop()

	runCycle := func() {
		outcome := mgr.RunCycle(ctx)
		if dash != nil {
			dash.RecordOutcome(outcome)
		}
		logger.WithFields(logrus.Fields{
			"action": outcome.Action,
			"state":  outcome.State,
		}).Info("Decision cycle finished")
	}

	// Run once on start, then on the timer.
	runCycle()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-feedDone:
			if err != nil {
				return err
			}
			// Feed stopped cleanly (context canceled).
			return nil
		case <-ticker.C:
			runCycle()
		}
	}
}
