package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"triage_server/adapter/in/worker"
	"triage_server/adapter/out/dedup"
	"triage_server/adapter/out/notify"
	"triage_server/adapter/out/persistence"
	"triage_server/config"
	"triage_server/core/agent/llm"
	"triage_server/core/port/out"
	"triage_server/core/service/classification"
	"triage_server/core/service/guard"
	"triage_server/core/service/ingest"
	"triage_server/core/service/pipeline"
	"triage_server/core/service/reply"
	"triage_server/infra/database"
	"triage_server/pkg/logger"
	"triage_server/pkg/metrics"
)

// stuckMessageMaxAge is how long a message may sit in a transient status
// before the watchdog fails it.
const stuckMessageMaxAge = time.Hour

// Dependencies holds every wired component. Both the API server and the
// worker build from the same container.
type Dependencies struct {
	// Infrastructure
	DB    *pgxpool.Pool
	SQLX  *sqlx.DB
	Redis *redis.Client

	// Repositories
	MessageRepo  *persistence.MessageAdapter
	FieldsRepo   *persistence.ExtractedFieldsAdapter
	DraftRepo    *persistence.DraftAdapter
	EventRepo    *persistence.EventAdapter
	SettingsRepo *persistence.SettingsAdapter
	SlotRepo     *persistence.CalendarSlotAdapter

	// Outbound ports
	DedupFilter out.DedupFilter
	Notifier    out.EscalationNotifier
	Fallback    out.FallbackClassifier

	// Services
	Gate           *ingest.Gate
	Classifier     *classification.Orchestrator
	GuardService   *guard.Service
	ReplyGenerator *reply.Generator
	Pipeline       *pipeline.Service

	// Background
	Watchdog *worker.Watchdog
}

// NewDependencies wires the full dependency graph. The returned cleanup
// closes everything in reverse order of creation.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{}
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// PostgreSQL is mandatory; nothing works without the store.
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}

	pool, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	deps.DB = pool
	cleanups = append(cleanups, pool.Close)

	db, err := database.NewSQLX(cfg.DatabaseURL)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("connect sqlx: %w", err)
	}
	deps.SQLX = db
	cleanups = append(cleanups, func() { db.Close() })
	metrics.RegisterPool("postgres", db.DB)

	if err := persistence.Migrate(context.Background(), db); err != nil {
		cleanup()
		return nil, nil, err
	}

	// Redis is optional. Without it the dedup fast path is skipped and the
	// database check carries deduplication alone.
	if cfg.RedisURL != "" {
		rdb, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, dedup fast path disabled")
		} else {
			deps.Redis = rdb
			cleanups = append(cleanups, func() { rdb.Close() })
			deps.DedupFilter = dedup.NewFilterWithTTL(rdb, cfg.DedupTTL())
		}
	} else {
		logger.Warn("REDIS_URL not set, dedup fast path disabled")
	}

	// Repositories
	deps.MessageRepo = persistence.NewMessageAdapter(db)
	deps.FieldsRepo = persistence.NewExtractedFieldsAdapter(db)
	deps.DraftRepo = persistence.NewDraftAdapter(db)
	deps.EventRepo = persistence.NewEventAdapter(db)
	deps.SettingsRepo = persistence.NewSettingsAdapter(db)
	deps.SlotRepo = persistence.NewCalendarSlotAdapter(db)

	deps.Notifier = notify.NewWebhookNotifier(deps.SettingsRepo)

	// Fallback classifier. Without an API key the orchestrator still runs;
	// unresolved messages degrade to uncategorized.
	if cfg.OpenAIAPIKey != "" {
		deps.Fallback = llm.NewClient(llm.ClientConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.LLMModel,
			MaxTokens:   cfg.LLMMaxTokens,
			Temperature: cfg.LLMTemperature,
			Timeout:     cfg.LLMTimeout(),
		})
	} else {
		logger.Warn("OPENAI_API_KEY not set, fallback classification disabled")
		deps.Fallback = disabledFallback{}
	}

	// Services
	deps.Gate = ingest.NewGate(deps.MessageRepo, deps.EventRepo, deps.DedupFilter)
	deps.Classifier = classification.NewOrchestrator(
		classification.NewRuleClassifier(),
		deps.Fallback,
		deps.MessageRepo,
		deps.FieldsRepo,
		deps.EventRepo,
		cfg.RuleGateThreshold,
	)
	deps.GuardService = guard.NewService(deps.SettingsRepo, deps.MessageRepo, deps.EventRepo, deps.Notifier)
	deps.ReplyGenerator = reply.NewGenerator(
		deps.MessageRepo,
		deps.DraftRepo,
		deps.FieldsRepo,
		deps.SettingsRepo,
		deps.EventRepo,
		reply.NewRegistry(),
	)
	deps.Pipeline = pipeline.NewService(deps.Gate, deps.Classifier, deps.GuardService, deps.ReplyGenerator, deps.MessageRepo)

	// Watchdog. The API server only reads its status; the worker starts it.
	if cfg.WatchdogEnabled {
		zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
		wd := worker.NewWatchdog(cfg.WatchdogInterval(), deps.EventRepo, zlog)

		wd.RegisterProbe("postgres", func(ctx context.Context) error {
			return pool.Ping(ctx)
		})
		if deps.Redis != nil {
			wd.RegisterProbe("redis", func(ctx context.Context) error {
				return deps.Redis.Ping(ctx).Err()
			})
		}
		wd.RegisterProbe("settings", worker.SettingsProbe(deps.SettingsRepo))
		wd.RegisterProbe("fallback", worker.FallbackProbe(deps.Fallback))
		wd.RegisterProbe("data_dir", worker.WritableDirProbe(cfg.DataDir))

		wd.RegisterCleaner("expired_holds", worker.HoldCleaner(deps.SlotRepo))
		wd.RegisterCleaner("stuck_messages", worker.StuckMessageCleaner(deps.MessageRepo, stuckMessageMaxAge))

		deps.Watchdog = wd
	}

	logger.Info("Dependencies initialized")
	return deps, cleanup, nil
}

// HealthCheck pings the hard dependencies.
func (d *Dependencies) HealthCheck(ctx context.Context) map[string]string {
	checks := make(map[string]string)

	if err := d.DB.Ping(ctx); err != nil {
		checks["postgres"] = fmt.Sprintf("unhealthy: %v", err)
	} else {
		checks["postgres"] = "healthy"
	}

	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = fmt.Sprintf("unhealthy: %v", err)
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "not configured"
	}

	return checks
}

// disabledFallback stands in when no model credentials are configured.
type disabledFallback struct{}

func (disabledFallback) Classify(context.Context, string) (*out.FallbackResult, error) {
	return nil, fmt.Errorf("fallback classifier not configured")
}

func (disabledFallback) IsAvailable(context.Context) bool { return false }
