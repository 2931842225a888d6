// Package engine assembles the payments service from configuration. It is
// the only package outside internal/ that sees the whole graph, so both the
// service binary and the paywatch CLI start the engine through it.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/i3lani/paywatch/common/config"
	"github.com/i3lani/paywatch/common/database"
	"github.com/i3lani/paywatch/common/logging"
	"github.com/i3lani/paywatch/common/messaging"
	natsclient "github.com/i3lani/paywatch/common/messaging/nats"
	"github.com/i3lani/paywatch/payments/internal/address"
	"github.com/i3lani/paywatch/payments/internal/amount"
	"github.com/i3lani/paywatch/payments/internal/audit"
	"github.com/i3lani/paywatch/payments/internal/auth"
	"github.com/i3lani/paywatch/payments/internal/confirmation"
	"github.com/i3lani/paywatch/payments/internal/fraud"
	"github.com/i3lani/paywatch/payments/internal/handlers"
	"github.com/i3lani/paywatch/payments/internal/ledger"
	"github.com/i3lani/paywatch/payments/internal/models"
	"github.com/i3lani/paywatch/payments/internal/monitor"
	"github.com/i3lani/paywatch/payments/internal/notification"
	"github.com/i3lani/paywatch/payments/internal/reconciler"
	"github.com/i3lani/paywatch/payments/internal/repository"
	"github.com/i3lani/paywatch/payments/internal/server"
	"github.com/i3lani/paywatch/payments/internal/service"
	"github.com/i3lani/paywatch/payments/migrations"
)

// shutdownTimeout bounds how long Run waits for monitors after cancellation.
const shutdownTimeout = 30 * time.Second

// Engine is a fully wired payments service.
type Engine struct {
	cfg    *config.Config
	logger *logging.Logger

	store      repository.Store
	history    fraud.HistoryStore
	bus        messaging.Client
	supervisor *monitor.Supervisor
	scanner    *reconciler.Scanner
	trigger    *reconciler.TriggerListener
	server     *server.Server
}

// Build connects every backing service named by cfg and wires the engine.
// On error, anything already opened is closed.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *Engine, err error) {
	e := &Engine{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	pattern, err := regexp.Compile(cfg.Memo.Pattern)
	if err != nil {
		return nil, fmt.Errorf("memo pattern: %w", err)
	}

	if e.store, err = openStore(ctx, cfg, logger); err != nil {
		return nil, err
	}

	settings := fraud.SettingsFromConfig(cfg.Fraud)
	if cfg.Redis.Enabled || cfg.Fraud.HistoryBackend == "redis" {
		history, err := fraud.NewRedisHistory(cfg.Redis.URL, settings.Retention(), cfg.Redis.PoolSize, cfg.Redis.MaxRetries)
		if err != nil {
			return nil, fmt.Errorf("fraud history: %w", err)
		}
		e.history = history
		logger.Info("fraud history backed by redis")
	} else {
		e.history = fraud.NewMemoryHistory(settings.Retention())
	}

	providers, err := ledger.NewProviders(cfg.Ledger.Providers)
	if err != nil {
		return nil, fmt.Errorf("ledger providers: %w", err)
	}
	fetcher := ledger.NewChain(logger, providers...)

	channels := []notification.Channel{
		notification.NewWebhookChannel(cfg.Notification.WebhookURL, cfg.Notification.AdminWebhookURL, cfg.Notification.Timeout),
	}
	if cfg.Notification.LogOutcomes {
		channels = append(channels, notification.NewLogChannel(logger))
	}
	if cfg.NATS.Enabled {
		natsCfg := natsclient.FromConfig(cfg.NATS, "engine")
		natsCfg.Logger = logger.Logger
		client, err := natsclient.NewClient(natsCfg)
		if err != nil {
			// Webhooks still deliver; the bus only adds fan-out.
			logger.Warn("NATS unavailable, outcomes will not be published to the bus",
				logging.Error(err))
		} else {
			e.bus = client
			channels = append(channels, notification.NewBusChannel(client))
			logger.Info("connected to NATS", "url", cfg.NATS.URL)
		}
	}
	notifier := notification.NewMultiChannel(logger, channels...)

	var mirror audit.Mirror
	if cfg.OpenSearch.Enabled {
		m, err := audit.NewOpenSearchMirror(cfg.OpenSearch)
		if err != nil {
			return nil, fmt.Errorf("audit mirror: %w", err)
		}
		if err := m.Initialize(ctx); err != nil {
			logger.Warn("audit mirror disabled", logging.Error(err))
		} else {
			mirror = m
		}
	}
	auditLog := audit.NewLog(e.store, mirror, logger)

	normalizer := address.NewNormalizer(cfg.Ledger.PrefixPairsList(), cfg.Ledger.Testnet)
	evaluator := fraud.NewEvaluator(settings, e.history, normalizer, logger)
	processor := confirmation.NewProcessor(e.store, auditLog, amount.NewValidator(cfg.Validation.ToleranceDecimal()), evaluator, notifier, logger)
	matcher := confirmation.NewMatcher(normalizer, cfg.Ledger.Account, pattern, cfg.Ledger.ClockSkew)

	e.supervisor = monitor.NewSupervisor(e.store, fetcher, processor, matcher, monitor.Settings{
		PollInterval: cfg.Monitor.PollInterval,
		FetchLimit:   firstPositive(cfg.Monitor.FetchLimit, cfg.Ledger.FetchLimit),
	}, logger)

	var rec service.Reconciler
	if cfg.Scanner.Enabled {
		e.scanner = reconciler.NewScanner(e.store, fetcher, processor, matcher, reconciler.Settings{
			Interval:   cfg.Scanner.Interval,
			StaleGrace: cfg.Scanner.StaleGrace,
			FetchLimit: firstPositive(cfg.Scanner.FetchLimit, cfg.Ledger.FetchLimit),
		}, logger)
		rec = e.scanner
		if e.bus != nil {
			e.trigger = reconciler.NewTriggerListener(e.bus, e.scanner, logger)
		}
	}

	svc := service.NewService(e.store, processor, evaluator, auditLog, e.supervisor, rec,
		service.NewMemoGenerator(cfg.Memo.Letters, cfg.Memo.Digits),
		service.Settings{
			Account:      cfg.Ledger.Account,
			Currency:     cfg.Payments.Currency,
			Methods:      methods(cfg.Payments.Methods),
			MaxAmount:    cfg.Payments.MaxAmountDecimal(),
			Window:       cfg.Monitor.Window,
			MaxRetries:   cfg.Monitor.MaxRetries,
			MemoAttempts: cfg.Payments.MemoAttempts,
			MemoPattern:  pattern,
		}, logger)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	h := handlers.NewHandler(svc, logger)
	if e.bus != nil {
		h.WithBus(e.bus)
	}
	router := server.NewRouter(h, tokens)
	e.server = server.New(cfg.Server, router, logger)

	return e, nil
}

// Run serves HTTP and runs both watchers until ctx is cancelled or one of
// them fails. Interrupted monitors leave their records pending; the scanner
// of the next process picks them up.
func (e *Engine) Run(ctx context.Context) error {
	e.supervisor.Start(ctx)
	if e.cfg.Payments.ResumeOnStart {
		if _, err := e.supervisor.Resume(ctx); err != nil {
			e.logger.Warn("failed to resume monitors", logging.Error(err))
		}
	}

	if e.trigger != nil {
		if err := e.trigger.Start(); err != nil {
			return fmt.Errorf("reconcile trigger: %w", err)
		}
		defer func() {
			if err := e.trigger.Stop(); err != nil {
				e.logger.Warn("failed to stop reconcile trigger", logging.Error(err))
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.server.Run(gctx)
	})
	if e.scanner != nil {
		g.Go(func() error {
			e.scanner.Start(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if e.scanner != nil {
			e.scanner.Stop()
		}
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := e.supervisor.Stop(stopCtx); err != nil {
			e.logger.Warn("monitors did not stop in time", logging.Error(err))
		}
		return nil
	})

	err := g.Wait()
	e.logger.Info("payments engine stopped")
	return err
}

// Close releases backing connections. Safe on a partially built engine.
func (e *Engine) Close() {
	if e.bus != nil {
		if err := e.bus.Drain(); err != nil {
			e.logger.Warn("failed to drain NATS connection", logging.Error(err))
		}
	}
	if e.history != nil {
		if err := e.history.Close(); err != nil {
			e.logger.Warn("failed to close fraud history", logging.Error(err))
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Warn("failed to close store", logging.Error(err))
		}
	}
}

// Addr returns the HTTP listen address.
func (e *Engine) Addr() string {
	return e.server.Addr()
}

func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Store, error) {
	if cfg.Database.Type == "memory" {
		logger.Warn("using in-memory store, records will not survive a restart")
		return repository.NewMemoryRepository(), nil
	}

	opts := PostgresOptions(cfg.Database.Postgres)
	connString := opts.ConnString()
	if cfg.Database.Postgres.MigrateOnStart {
		logger.Info("running database migrations")
		if err := migrations.Up(connString); err != nil {
			return nil, err
		}
	}

	pool, err := database.NewPool(ctx, connString, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to postgres", "host", opts.Host, "database", opts.Database)
	return repository.NewPostgresRepositoryFromPool(pool), nil
}

// PostgresOptions maps the config section onto pool options.
func PostgresOptions(c config.PostgresConfig) database.PostgresOptions {
	return database.PostgresOptions{
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Database,
		SSLMode:         c.SSLMode,
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: c.MaxConnLifetime,
		MaxConnIdleTime: c.MaxConnIdleTime,
	}
}

// IssueToken signs an admin API token with the configured secret. ttl of
// zero uses auth.token_ttl.
func IssueToken(cfg config.AuthConfig, subject string, roles []string, ttl time.Duration) (string, error) {
	return auth.NewTokenManager(cfg.JWTSecret, cfg.Issuer, cfg.TokenTTL).Generate(subject, roles, ttl)
}

// RoleAdmin is the role required by the admin API.
const RoleAdmin = auth.RoleAdmin

func methods(raw []string) []models.PaymentMethod {
	out := make([]models.PaymentMethod, 0, len(raw))
	for _, m := range raw {
		out = append(out, models.PaymentMethod(m))
	}
	return out
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
