// Package ledger parses ledger command flags and starts the service runtime.
package ledger

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	entrypoint "github.com/finvault/ledger/internal/platform/cmd"
	"github.com/finvault/ledger/internal/platform/timeouts"
	"github.com/finvault/ledger/internal/services/ledger/app"
	"github.com/finvault/ledger/internal/services/ledger/batch"
	"github.com/finvault/ledger/internal/services/ledger/cache"
	"github.com/finvault/ledger/internal/services/ledger/domain/event"
	"github.com/finvault/ledger/internal/services/ledger/projection"
	ledgersqlite "github.com/finvault/ledger/internal/services/ledger/storage/sqlite"
)

// Config holds ledger command configuration.
type Config struct {
	EventsDBPath      string        `env:"LEDGER_EVENTS_DB_PATH"`
	ProjectionsDBPath string        `env:"LEDGER_PROJECTIONS_DB_PATH"`
	SnapshotInterval  uint64        `env:"LEDGER_SNAPSHOT_INTERVAL" envDefault:"50"`
	CacheMaxEntries   int           `env:"LEDGER_CACHE_MAX_ENTRIES" envDefault:"1024"`
	CacheTTL          time.Duration `env:"LEDGER_CACHE_TTL" envDefault:"30s"`
	CacheSweep        time.Duration `env:"LEDGER_CACHE_SWEEP_INTERVAL" envDefault:"1m"`
	BatchSize         int           `env:"LEDGER_BATCH_SIZE" envDefault:"64"`
	BatchInterval     time.Duration `env:"LEDGER_BATCH_FLUSH_INTERVAL" envDefault:"200ms"`
	BatchQueue        int           `env:"LEDGER_BATCH_QUEUE_CAPACITY" envDefault:"32"`
	BatchWorkers      int           `env:"LEDGER_BATCH_WORKERS" envDefault:"4"`
	ProjectionWorkers int           `env:"LEDGER_PROJECTION_WORKERS" envDefault:"4"`
	ProjectionQueue   int           `env:"LEDGER_PROJECTION_QUEUE_CAPACITY" envDefault:"64"`
	ShutdownTimeout   time.Duration `env:"LEDGER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.EventsDBPath == "" {
		cfg.EventsDBPath = filepath.Join("data", "ledger-events.db")
	}
	if cfg.ProjectionsDBPath == "" {
		cfg.ProjectionsDBPath = filepath.Join("data", "ledger-projections.db")
	}
	fs.StringVar(&cfg.EventsDBPath, "events-db", cfg.EventsDBPath, "Path to the event journal database")
	fs.StringVar(&cfg.ProjectionsDBPath, "projections-db", cfg.ProjectionsDBPath, "Path to the read model database")
	fs.Uint64Var(&cfg.SnapshotInterval, "snapshot-interval", cfg.SnapshotInterval, "Snapshot cadence in events per account")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the ledger service and blocks until context cancellation.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceLedger, func(ctx context.Context) error {
		return run(ctx, cfg)
	})
}

func run(ctx context.Context, cfg Config) error {
	for _, path := range []string{cfg.EventsDBPath, cfg.ProjectionsDBPath} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	}

	events, err := ledgersqlite.OpenEvents(cfg.EventsDBPath, event.DefaultRegistry())
	if err != nil {
		return err
	}
	defer closeStore("events", events)

	projections, err := ledgersqlite.OpenProjections(cfg.ProjectionsDBPath)
	if err != nil {
		return err
	}
	defer closeStore("projections", projections)

	svc, err := app.New(app.Stores{
		Events:     events,
		Snapshots:  events,
		ReadModels: projections,
	}, app.Options{
		SnapshotInterval: cfg.SnapshotInterval,
		Cache:            cache.Options{MaxEntries: cfg.CacheMaxEntries, TTL: cfg.CacheTTL},
		Batch: batch.Config{
			MaxBatchSize:  cfg.BatchSize,
			FlushInterval: cfg.BatchInterval,
			QueueCapacity: cfg.BatchQueue,
			Workers:       cfg.BatchWorkers,
		},
		Pipeline: projection.PipelineConfig{
			Workers:       cfg.ProjectionWorkers,
			ShardCapacity: cfg.ProjectionQueue,
		},
	})
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	go svc.RunCacheSweeper(ctx, cfg.CacheSweep)

	log.Printf("ledger service ready events=%s projections=%s", cfg.EventsDBPath, cfg.ProjectionsDBPath)
	<-ctx.Done()

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = timeouts.Shutdown
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Close(shutdownCtx); err != nil {
		log.Printf("ledger shutdown: %v", err)
		return err
	}
	log.Printf("ledger service stopped")
	return nil
}

func closeStore(name string, store *ledgersqlite.Store) {
	if err := store.Close(); err != nil {
		log.Printf("close %s store: %v", name, err)
	}
}
