package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

// =============================================================================
// Watchdog - periodic health probe and cleanup scheduler
// =============================================================================
//
// A single ticker drives all registered tasks. A failing task is logged and
// reported in the tick summary, it never aborts the remaining tasks.

const (
	// DefaultWatchdogInterval keeps holds and health state fresh without
	// noticeable database load.
	DefaultWatchdogInterval = 1 * time.Minute

	tickTimeout = 30 * time.Second
)

// HealthProbe reports whether one dependency is reachable.
type HealthProbe func(ctx context.Context) error

// Cleaner removes stale rows and returns how many it touched.
type Cleaner func(ctx context.Context) (int, error)

type namedProbe struct {
	name  string
	probe HealthProbe
}

type namedCleaner struct {
	name    string
	cleaner Cleaner
}

// WatchdogStatus is a point-in-time snapshot for the admin surface.
type WatchdogStatus struct {
	Running    bool              `json:"running"`
	RunCount   int64             `json:"run_count"`
	LastRunAt  time.Time         `json:"last_run_at"`
	LastHealth map[string]string `json:"last_health"`
}

// Watchdog runs registered probes and cleaners on a fixed interval and
// appends one summary event per tick.
type Watchdog struct {
	interval time.Duration
	events   out.EventRepository
	log      zerolog.Logger

	probes   []namedProbe
	cleaners []namedCleaner

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	running    bool
	runCount   int64
	lastRunAt  time.Time
	lastHealth map[string]string
}

// NewWatchdog creates a watchdog. Register tasks before calling Start.
func NewWatchdog(interval time.Duration, events out.EventRepository, log zerolog.Logger) *Watchdog {
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watchdog{
		interval:   interval,
		events:     events,
		log:        log.With().Str("component", "watchdog").Logger(),
		ctx:        ctx,
		cancel:     cancel,
		lastHealth: make(map[string]string),
	}
}

// RegisterProbe adds a named health check.
func (w *Watchdog) RegisterProbe(name string, probe HealthProbe) {
	w.probes = append(w.probes, namedProbe{name: name, probe: probe})
}

// RegisterCleaner adds a named cleanup task.
func (w *Watchdog) RegisterCleaner(name string, cleaner Cleaner) {
	w.cleaners = append(w.cleaners, namedCleaner{name: name, cleaner: cleaner})
}

// Start begins the tick loop. The first tick runs immediately.
func (w *Watchdog) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info().
		Dur("interval", w.interval).
		Int("probes", len(w.probes)).
		Int("cleaners", len(w.cleaners)).
		Msg("watchdog started")
	go w.run()
}

// Stop cancels the tick loop.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	w.log.Info().Msg("watchdog stopped")
}

func (w *Watchdog) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

// tick runs every registered task once and records a single summary event.
func (w *Watchdog) tick() {
	ctx, cancel := context.WithTimeout(w.ctx, tickTimeout)
	defer cancel()

	health := make(map[string]string, len(w.probes))
	failed := 0
	for _, p := range w.probes {
		if err := p.probe(ctx); err != nil {
			health[p.name] = err.Error()
			failed++
			w.log.Warn().Err(err).Str("probe", p.name).Msg("health probe failed")
		} else {
			health[p.name] = "ok"
		}
	}

	cleaned := make(map[string]any, len(w.cleaners))
	for _, c := range w.cleaners {
		count, err := c.cleaner(ctx)
		if err != nil {
			cleaned[c.name] = err.Error()
			w.log.Warn().Err(err).Str("cleaner", c.name).Msg("cleanup task failed")
			continue
		}
		cleaned[c.name] = count
		if count > 0 {
			w.log.Info().Str("cleaner", c.name).Int("count", count).Msg("cleanup task released rows")
		}
	}

	w.mu.Lock()
	w.runCount++
	w.lastRunAt = time.Now()
	w.lastHealth = health
	runCount := w.runCount
	w.mu.Unlock()

	event := &domain.Event{
		Type:   domain.EventTypeWatchdogTick,
		Source: domain.EventSourceWatchdog,
		Data: map[string]any{
			"run":           runCount,
			"probes_total":  len(w.probes),
			"probes_failed": failed,
			"health":        health,
			"cleaned":       cleaned,
		},
	}
	if err := w.events.Append(ctx, event); err != nil {
		w.log.Error().Err(err).Msg("failed to record watchdog tick")
	}
}

// Status returns a snapshot of the watchdog state.
func (w *Watchdog) Status() WatchdogStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	health := make(map[string]string, len(w.lastHealth))
	for k, v := range w.lastHealth {
		health[k] = v
	}
	return WatchdogStatus{
		Running:    w.running,
		RunCount:   w.runCount,
		LastRunAt:  w.lastRunAt,
		LastHealth: health,
	}
}

// =============================================================================
// Standard probes and cleaners
// =============================================================================

// SettingsProbe verifies that every required setting has a value.
func SettingsProbe(settings out.SettingsRepository) HealthProbe {
	return func(ctx context.Context) error {
		for _, key := range domain.RequiredSettings() {
			if _, err := settings.Get(ctx, key); err != nil {
				return fmt.Errorf("required setting %s: %w", key, err)
			}
		}
		return nil
	}
}

// FallbackProbe reports whether the fallback classifier answers.
func FallbackProbe(fallback out.FallbackClassifier) HealthProbe {
	return func(ctx context.Context) error {
		if !fallback.IsAvailable(ctx) {
			return fmt.Errorf("fallback classifier unavailable")
		}
		return nil
	}
}

// WritableDirProbe verifies that the given directory accepts writes.
func WritableDirProbe(dir string) HealthProbe {
	return func(_ context.Context) error {
		probe := filepath.Join(dir, ".watchdog_probe")
		if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
			return fmt.Errorf("directory %s not writable: %w", dir, err)
		}
		return os.Remove(probe)
	}
}

// HoldCleaner releases calendar slot holds that have expired.
func HoldCleaner(slots out.CalendarSlotRepository) Cleaner {
	return func(ctx context.Context) (int, error) {
		return slots.ReleaseExpiredHolds(ctx, time.Now())
	}
}

// stuckFailer is implemented by the message adapter.
type stuckFailer interface {
	FailStuck(ctx context.Context, cutoff time.Time) (int, error)
}

// StuckMessageCleaner fails messages abandoned in a transient status. A crash
// mid-pipeline leaves rows in new or processing forever otherwise.
func StuckMessageCleaner(messages stuckFailer, maxAge time.Duration) Cleaner {
	return func(ctx context.Context) (int, error) {
		return messages.FailStuck(ctx, time.Now().Add(-maxAge))
	}
}
