// Package driftsync assembles the offline-first sync core: a connectivity
// classifier, a durable mutation queue with replay, and a read-through
// document cache, exposed through a single repository facade.
package driftsync

import (
	"context"
	"os"

	"github.com/driftsync/driftsync/internal/cache"
	"github.com/driftsync/driftsync/internal/config"
	"github.com/driftsync/driftsync/internal/connectivity"
	"github.com/driftsync/driftsync/internal/db"
	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/logging"
	"github.com/driftsync/driftsync/internal/repository"
	"github.com/driftsync/driftsync/internal/sync/drain"
	"github.com/driftsync/driftsync/internal/sync/executor"
	"github.com/driftsync/driftsync/internal/sync/queue"
	"github.com/driftsync/driftsync/internal/sync/retry"
	"github.com/driftsync/driftsync/internal/telemetry"
)

// Options configures a Client. DataDir, BaseURL and Credentials are
// required; everything else has a working default.
type Options struct {
	// DataDir is the directory holding the local database.
	DataDir string

	// BaseURL is the root of the remote API, e.g. "https://api.example.com".
	BaseURL string

	// Credentials supplies auth tokens for remote calls.
	Credentials executor.CredentialProvider

	// Config overrides the default tuning knobs. Nil means config.Default().
	Config *config.Config

	// Transport overrides the HTTP transport, mainly for tests.
	Transport executor.Transport

	// Prober overrides the health-endpoint prober, mainly for tests.
	Prober connectivity.Prober

	// Reporter receives crash and dead-letter reports. Nil means no-op.
	Reporter telemetry.Reporter

	// Logger overrides the process logger. Nil means a stderr logger at
	// Info level.
	Logger *logging.Logger
}

// Client owns the sync core's resources: the database, the classifier's
// sampling loop and the drainer's trigger loop. Reads and writes go through
// Repo; connectivity state through State, SetReachable and Subscribe.
type Client struct {
	Repo *repository.Repository

	cfg        *config.Config
	logger     *logging.Logger
	database   *db.DB
	dbRepo     *db.Repository
	classifier *connectivity.Classifier
	store      *queue.Store
	cache      *cache.Cache
	drainer    *drain.Drainer
	cancel     context.CancelFunc
}

// Open validates the options, opens and migrates the local database, wires
// the components together and starts the classifier and drainer loops.
func Open(opts Options) (*Client, error) {
	if opts.DataDir == "" {
		return nil, errors.New(errors.ErrInvalidConfig, "data directory is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New(errors.ErrInvalidConfig, "a credential provider is required")
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.New(os.Stderr, logging.LevelInfo)
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = telemetry.NopReporter{}
	}

	transport := opts.Transport
	if transport == nil {
		if opts.BaseURL == "" {
			return nil, errors.New(errors.ErrInvalidConfig, "a base URL is required")
		}
		transport = executor.NewHTTPTransport(opts.BaseURL)
	}
	prober := opts.Prober
	if prober == nil {
		endpoint := cfg.HealthEndpoint
		if endpoint == "" {
			endpoint = opts.BaseURL + "/health"
		}
		prober = connectivity.NewHTTPProber(endpoint)
	}

	database, err := db.Open(opts.DataDir)
	if err != nil {
		return nil, err
	}

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		database.Close()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		database.Close()
		return nil, err
	}

	dbRepo := db.NewRepository(database.DB)
	c := cache.New(dbRepo, logger)
	store := queue.NewStore(dbRepo, cfg.MaxQueueSize, logger)
	exec := executor.New(transport, opts.Credentials, logger)
	classifier := connectivity.NewClassifier(prober, cfg, logger)
	drainer := drain.New(store, exec, retry.New(cfg.AttemptsPerPass, logger), c,
		cfg.MaxRetries, reporter, logger)

	ctx, cancel := context.WithCancel(context.Background())
	classifier.Start(ctx)
	drainer.Start(ctx, classifier)

	logger.Info("Sync core started", map[string]interface{}{"data_dir": opts.DataDir})

	return &Client{
		Repo:       repository.New(classifier, transport, opts.Credentials, exec, c, store, cfg, logger),
		cfg:        cfg,
		logger:     logger,
		database:   database,
		dbRepo:     dbRepo,
		classifier: classifier,
		store:      store,
		cache:      c,
		drainer:    drainer,
		cancel:     cancel,
	}, nil
}

// State returns the current connectivity classification.
func (c *Client) State() connectivity.State {
	return c.classifier.State()
}

// Subscribe returns a channel of connectivity transitions and a release
// func. Callers must release when done.
func (c *Client) Subscribe() (<-chan connectivity.State, func()) {
	return c.classifier.Subscribe()
}

// SetReachable feeds the platform reachability signal into the classifier.
// false forces Offline immediately; true resumes probing optimistically.
func (c *Client) SetReachable(reachable bool) {
	c.classifier.SetReachable(reachable)
}

// DrainNow runs one replay pass immediately, outside the usual
// connectivity-driven triggering. A pass already in flight makes this a
// no-op.
func (c *Client) DrainNow(ctx context.Context) drain.PassResult {
	return c.drainer.DrainNow(ctx)
}

// PendingMutations returns the number of writes awaiting replay.
func (c *Client) PendingMutations() (int, error) {
	return c.store.Size()
}

// Close stops the background loops and releases the database. An in-flight
// drain pass runs to completion first.
func (c *Client) Close() error {
	c.drainer.Stop()
	c.classifier.Stop()
	c.cancel()

	c.dbRepo.Close()
	if err := c.database.Close(); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to close database", err)
	}

	c.logger.Info("Sync core stopped", nil)
	return nil
}
