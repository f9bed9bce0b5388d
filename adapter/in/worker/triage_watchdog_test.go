package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"triage_server/core/domain"
)

type fakeEventRepo struct {
	events    []*domain.Event
	appendErr error
}

func (f *fakeEventRepo) Append(_ context.Context, event *domain.Event) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	event.ID = int64(len(f.events) + 1)
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEventRepo) MarkProcessed(context.Context, int64) error { return nil }

func (f *fakeEventRepo) ListRecent(context.Context, int) ([]*domain.Event, error) {
	return f.events, nil
}

func (f *fakeEventRepo) ListUnprocessed(context.Context, string, int) ([]*domain.Event, error) {
	return nil, nil
}

func (f *fakeEventRepo) CountByType(context.Context) (map[string]int, error) {
	return nil, nil
}

func newTestWatchdog(events *fakeEventRepo) *Watchdog {
	return NewWatchdog(time.Hour, events, zerolog.Nop())
}

func TestWatchdogTickRecordsSummaryEvent(t *testing.T) {
	events := &fakeEventRepo{}
	w := newTestWatchdog(events)
	w.RegisterProbe("database", func(context.Context) error { return nil })
	w.RegisterProbe("cache", func(context.Context) error { return nil })
	w.RegisterCleaner("expired_holds", func(context.Context) (int, error) { return 3, nil })

	w.tick()

	if len(events.events) != 1 {
		t.Fatalf("expected 1 tick event, got %d", len(events.events))
	}
	event := events.events[0]
	if event.Type != domain.EventTypeWatchdogTick {
		t.Errorf("event type = %q, want %q", event.Type, domain.EventTypeWatchdogTick)
	}
	if event.Source != domain.EventSourceWatchdog {
		t.Errorf("event source = %q, want %q", event.Source, domain.EventSourceWatchdog)
	}
	if got := event.Data["probes_failed"]; got != 0 {
		t.Errorf("probes_failed = %v, want 0", got)
	}
	cleaned, ok := event.Data["cleaned"].(map[string]any)
	if !ok {
		t.Fatalf("cleaned data missing: %v", event.Data)
	}
	if cleaned["expired_holds"] != 3 {
		t.Errorf("expired_holds = %v, want 3", cleaned["expired_holds"])
	}
}

func TestWatchdogFailingProbeDoesNotStopOthers(t *testing.T) {
	events := &fakeEventRepo{}
	w := newTestWatchdog(events)

	secondRan := false
	w.RegisterProbe("database", func(context.Context) error { return errors.New("connection refused") })
	w.RegisterProbe("cache", func(context.Context) error {
		secondRan = true
		return nil
	})

	cleanerRan := false
	w.RegisterCleaner("expired_holds", func(context.Context) (int, error) {
		cleanerRan = true
		return 0, nil
	})

	w.tick()

	if !secondRan {
		t.Error("second probe did not run after first failed")
	}
	if !cleanerRan {
		t.Error("cleaner did not run after probe failure")
	}

	status := w.Status()
	if status.LastHealth["database"] == "ok" {
		t.Error("failed probe reported as ok")
	}
	if status.LastHealth["cache"] != "ok" {
		t.Errorf("cache health = %q, want ok", status.LastHealth["cache"])
	}
	if got := events.events[0].Data["probes_failed"]; got != 1 {
		t.Errorf("probes_failed = %v, want 1", got)
	}
}

func TestWatchdogFailingCleanerIsReportedNotFatal(t *testing.T) {
	events := &fakeEventRepo{}
	w := newTestWatchdog(events)
	w.RegisterCleaner("expired_holds", func(context.Context) (int, error) {
		return 0, errors.New("deadlock detected")
	})

	w.tick()

	if len(events.events) != 1 {
		t.Fatalf("expected tick event despite cleaner failure, got %d events", len(events.events))
	}
	cleaned := events.events[0].Data["cleaned"].(map[string]any)
	if cleaned["expired_holds"] != "deadlock detected" {
		t.Errorf("cleaner error not recorded: %v", cleaned["expired_holds"])
	}
}

func TestWatchdogStatusTracksRuns(t *testing.T) {
	events := &fakeEventRepo{}
	w := newTestWatchdog(events)

	if status := w.Status(); status.RunCount != 0 || status.Running {
		t.Fatalf("fresh watchdog status = %+v", status)
	}

	w.tick()
	w.tick()

	status := w.Status()
	if status.RunCount != 2 {
		t.Errorf("run count = %d, want 2", status.RunCount)
	}
	if status.LastRunAt.IsZero() {
		t.Error("last run timestamp not set")
	}
}

func TestWatchdogEventAppendFailureTolerated(t *testing.T) {
	events := &fakeEventRepo{appendErr: errors.New("events table gone")}
	w := newTestWatchdog(events)
	w.RegisterProbe("database", func(context.Context) error { return nil })

	w.tick()

	if status := w.Status(); status.RunCount != 1 {
		t.Errorf("run count = %d, want 1", status.RunCount)
	}
}
