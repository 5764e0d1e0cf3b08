// Package app initializes and holds the long-lived services of the
// orchestration daemon, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/harvestkit/harvestd/internal/api"
	"github.com/harvestkit/harvestd/internal/clock/system"
	"github.com/harvestkit/harvestd/internal/config"
	"github.com/harvestkit/harvestd/internal/coordinator"
	"github.com/harvestkit/harvestd/internal/dedup"
	"github.com/harvestkit/harvestd/internal/dispatcher"
	"github.com/harvestkit/harvestd/internal/harvest"
	idgen "github.com/harvestkit/harvestd/internal/id/uuid"
	"github.com/harvestkit/harvestd/internal/monitor"
	"github.com/harvestkit/harvestd/internal/policy"
	"github.com/harvestkit/harvestd/internal/policy/bandit"
	"github.com/harvestkit/harvestd/internal/policy/fixed"
	pubmemory "github.com/harvestkit/harvestd/internal/publisher/memory"
	pubgcp "github.com/harvestkit/harvestd/internal/publisher/pubsub"
	"github.com/harvestkit/harvestd/internal/queue"
	sinkgcs "github.com/harvestkit/harvestd/internal/sink/gcs"
	sinkmemory "github.com/harvestkit/harvestd/internal/sink/memory"
	storememory "github.com/harvestkit/harvestd/internal/storage/memory"
	storepg "github.com/harvestkit/harvestd/internal/storage/postgres"
)

// terminalTopic is the logical stream terminal task reports publish to.
const terminalTopic = "terminal"

// terminalPublishTimeout bounds the asynchronous terminal-report publish.
const terminalPublishTimeout = 5 * time.Second

// App holds the assembled service graph.
type App struct {
	Config      config.Config
	Logger      *zap.Logger
	Queue       *queue.Manager
	Monitor     *monitor.Monitor
	Coordinator *coordinator.Coordinator
	Dedup       *dedup.Engine
	Dispatcher  *dispatcher.Dispatcher
	Server      *api.Server

	publisher    harvest.Publisher
	store        harvest.SnapshotStore
	pubsubClient *pubsubv2.Client
	gcsClient    *gcstorage.Client
}

// New assembles the service graph from configuration. The fetcher may be
// nil; the in-process executor pool then idles and all work flows through
// remote executors polling the API.
func New(ctx context.Context, cfg config.Config, fetcher harvest.Fetcher, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	clk := system.New()
	ids := idgen.NewGenerator()

	if err := a.initPublisher(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.initStore(ctx, cfg); err != nil {
		a.closeClients()
		return nil, err
	}
	sink, err := a.initSink(ctx, cfg)
	if err != nil {
		a.closeClients()
		return nil, err
	}

	a.Monitor = monitor.New(monitor.Config{
		WindowSize:         cfg.Monitor.WindowSize,
		ErrorRateThreshold: cfg.Monitor.AlertErrorRateThreshold,
		LatencyCeiling:     cfg.Monitor.AlertLatencyThreshold,
	}, clk, a.publisher, logger.Named("monitor"))

	a.Queue = queue.NewManager(queue.Config{
		Capacity:        cfg.Scheduler.QueueCapacity,
		BaseConcurrency: cfg.Scheduler.BaseConcurrency,
		BaseInterval:    cfg.Scheduler.BaseInterval,
		MinBackoff:      cfg.Scheduler.MinBackoff,
		MaxBackoff:      cfg.Scheduler.MaxBackoff,
		MaxAttempts:     cfg.Scheduler.MaxAttempts,
		RetryBaseDelay:  cfg.Scheduler.RetryBaseDelay,
		RetryMaxDelay:   cfg.Scheduler.RetryMaxDelay,
	}, clk, a.reportTerminal, logger.Named("queue"))

	pol, err := newPolicy(cfg.Policy, logger.Named("policy"))
	if err != nil {
		a.closeClients()
		return nil, err
	}
	a.Coordinator = coordinator.New(coordinator.Config{
		ErrorThreshold: cfg.Monitor.AlertErrorRateThreshold,
		LatencyCeiling: cfg.Monitor.AlertLatencyThreshold,
		IncreaseStep:   cfg.Policy.IncreaseStep,
		DecreaseStep:   cfg.Policy.DecreaseStep,
	}, pol, a.Queue, a.Monitor, logger.Named("coordinator"))

	a.Dedup = dedup.New(dedup.Config{
		Bands:       cfg.Dedup.Bands,
		Rows:        cfg.Dedup.Rows,
		ShingleSize: cfg.Dedup.ShingleSize,
		Threshold:   cfg.Dedup.SimilarityThreshold,
	}, logger.Named("dedup"))

	a.Dispatcher = dispatcher.New(
		cfg.Scheduler.Executors,
		cfg.Snapshots.SampleEvery,
		a.Queue,
		a.Monitor,
		a.Coordinator,
		a.Dedup,
		fetcher,
		sink,
		a.store,
		ids,
		clk,
		logger.Named("dispatcher"),
	)

	a.Server = api.NewServer(a.Queue, a.Monitor, a.Dispatcher, a.Dedup, ids, clk, logger.Named("api"))
	return a, nil
}

// Run blocks executing in-process work until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	return a.Dispatcher.Run(ctx)
}

// Close releases external clients and flushes the logger.
func (a *App) Close() {
	a.Logger.Info("shutting down services")
	if a.store != nil {
		a.store.Close()
	}
	a.closeClients()
	_ = a.Logger.Sync()
}

func (a *App) closeClients() {
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.Logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.Logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsClient = nil
	}
}

// reportTerminal pushes a terminal task report to the publisher. It runs
// under scheduling locks, so the publish itself is asynchronous.
func (a *App) reportTerminal(report harvest.TerminalReport) {
	a.Logger.Info("task terminal",
		zap.String("task_id", report.Task.ID),
		zap.String("domain", report.Task.Domain),
		zap.String("reason", report.Reason),
	)
	if a.publisher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), terminalPublishTimeout)
		defer cancel()
		if _, err := a.publisher.Publish(ctx, terminalTopic, report); err != nil {
			a.Logger.Warn("terminal report publish failed",
				zap.String("task_id", report.Task.ID),
				zap.Error(err),
			)
		}
	}()
}

func (a *App) initPublisher(ctx context.Context, cfg config.Config) error {
	switch cfg.Publisher.Provider {
	case "memory":
		a.publisher = pubmemory.New()
	case "pubsub":
		if cfg.Publisher.ProjectID == "" || cfg.Publisher.Topic == "" {
			return fmt.Errorf("publisher provider is 'pubsub' but project_id or topic is not set")
		}
		client, err := pubsubv2.NewClient(ctx, cfg.Publisher.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		a.pubsubClient = client
		a.publisher = pubgcp.New(client.Publisher(cfg.Publisher.Topic))
		a.Logger.Info("using pubsub publisher", zap.String("topic", cfg.Publisher.Topic))
	default:
		return fmt.Errorf("unknown publisher provider: %s", cfg.Publisher.Provider)
	}
	return nil
}

func (a *App) initStore(ctx context.Context, cfg config.Config) error {
	switch cfg.Snapshots.Provider {
	case "memory":
		a.store = storememory.NewSnapshotStore()
	case "postgres":
		store, err := storepg.New(ctx, storepg.Config{
			DSN:           cfg.Snapshots.DSN,
			SnapshotTable: cfg.Snapshots.SnapshotTable,
			AcceptedTable: cfg.Snapshots.ContentTable,
		})
		if err != nil {
			return fmt.Errorf("initialize snapshot store: %w", err)
		}
		a.store = store
		a.Logger.Info("using postgres snapshot store")
	default:
		return fmt.Errorf("unknown snapshots provider: %s", cfg.Snapshots.Provider)
	}
	return nil
}

func (a *App) initSink(ctx context.Context, cfg config.Config) (harvest.ContentSink, error) {
	switch cfg.Sink.Provider {
	case "memory":
		return sinkmemory.New(), nil
	case "gcs":
		if cfg.Sink.Bucket == "" {
			return nil, fmt.Errorf("sink provider is 'gcs' but bucket is not set")
		}
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.gcsClient = client
		sink, err := sinkgcs.New(client, sinkgcs.Config{Bucket: cfg.Sink.Bucket})
		if err != nil {
			return nil, err
		}
		a.Logger.Info("using gcs content sink", zap.String("bucket", cfg.Sink.Bucket))
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown sink provider: %s", cfg.Sink.Provider)
	}
}

func newPolicy(cfg config.PolicyConfig, logger *zap.Logger) (policy.DecisionPolicy, error) {
	switch cfg.Kind {
	case "bandit":
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		return bandit.New(bandit.Config{
			Epsilon: cfg.ExplorationRate,
			Decay:   cfg.ExplorationDecay,
			Floor:   cfg.ExplorationFloor,
		}, rand.New(rand.NewSource(seed)), logger), nil
	case "fixed":
		return fixed.New(), nil
	default:
		return nil, fmt.Errorf("unknown policy kind: %s", cfg.Kind)
	}
}
