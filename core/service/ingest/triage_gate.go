package ingest

import (
	"context"
	"errors"
	"fmt"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/logger"
)

// Result reports the outcome of one gated ingestion.
type Result struct {
	IsDuplicate bool  `json:"is_duplicate"`
	MessageID   int64 `json:"message_id"`
}

// WorkFunc runs after a message passed the gate and was persisted.
type WorkFunc func(ctx context.Context, msg *domain.Message) error

// Gate is the idempotency gate. Every inbound message passes through it
// before any classification work happens.
type Gate struct {
	messages out.MessageRepository
	events   out.EventRepository
	filter   out.DedupFilter // optional fast path, nil disables it
	log      *logger.Logger
}

// NewGate constructs the gate. filter may be nil.
func NewGate(messages out.MessageRepository, events out.EventRepository, filter out.DedupFilter) *Gate {
	return &Gate{
		messages: messages,
		events:   events,
		filter:   filter,
		log:      logger.WithField("component", "ingest_gate"),
	}
}

// IsDuplicate reports whether the external id or the content fingerprint is
// already known. bodyText may be empty, in which case only the external id
// is checked.
func (g *Gate) IsDuplicate(ctx context.Context, externalID, subject, bodyText string) (bool, error) {
	exists, err := g.messages.ExistsByExternalID(ctx, externalID)
	if err != nil {
		return false, fmt.Errorf("check external id: %w", err)
	}
	if exists {
		return true, nil
	}
	if bodyText == "" {
		return false, nil
	}

	exists, err = g.messages.ExistsByFingerprint(ctx, Fingerprint(subject, bodyText))
	if err != nil {
		return false, fmt.Errorf("check fingerprint: %w", err)
	}
	return exists, nil
}

// ProcessIfNew persists the message and runs work, unless it is a duplicate.
// The fingerprint is stored atomically with the new row, so two concurrent
// ingestions of the same content cannot both pass. work is never invoked for
// a duplicate.
func (g *Gate) ProcessIfNew(ctx context.Context, msg *domain.Message, work WorkFunc) (*Result, error) {
	fp := Fingerprint(msg.Subject, msg.BodyText)
	msg.SetExtension(domain.ExtKeyTextHash, fp)

	// Fast path. A filter outage degrades to the database check, never to
	// skipped deduplication, so errors here are only logged.
	if g.filter != nil {
		seen, err := g.filter.Seen(ctx, fp)
		if err != nil {
			g.log.WithError(err).Warn("dedup filter unavailable, falling back to store check")
		} else if seen {
			if dup := g.resolveDuplicate(ctx, msg.ExternalID, fp); dup != nil {
				return dup, nil
			}
			// Filter remembers a fingerprint the store does not have
			// (e.g. after a restore). Trust the store.
		}
	}

	if err := g.messages.CreateIfAbsent(ctx, msg); err != nil {
		if errors.Is(err, out.ErrDuplicate) {
			g.recordEvent(ctx, domain.EventTypeDuplicateSkipped, map[string]any{
				"external_id": msg.ExternalID,
				"fingerprint": fp,
			})
			if dup := g.resolveDuplicate(ctx, msg.ExternalID, fp); dup != nil {
				return dup, nil
			}
			return &Result{IsDuplicate: true}, nil
		}
		return nil, fmt.Errorf("persist message: %w", err)
	}

	g.recordEvent(ctx, domain.EventTypeMessageIngested, map[string]any{
		"message_id":  msg.ID,
		"external_id": msg.ExternalID,
	})

	if work != nil {
		if err := work(ctx, msg); err != nil {
			return &Result{MessageID: msg.ID}, fmt.Errorf("process message %d: %w", msg.ID, err)
		}
	}
	return &Result{MessageID: msg.ID}, nil
}

// BatchScreen rejects duplicates within one batch in memory, before any
// persisted check. It is not safe for concurrent use; batches run
// sequentially.
type BatchScreen struct {
	seenIDs map[string]struct{}
	seenFPs map[string]struct{}
}

// NewBatchScreen creates an empty screen for one batch.
func NewBatchScreen(size int) *BatchScreen {
	return &BatchScreen{
		seenIDs: make(map[string]struct{}, size),
		seenFPs: make(map[string]struct{}, size),
	}
}

// Duplicate reports whether the message repeats an external id or content
// fingerprint already screened in this batch, recording it otherwise.
func (s *BatchScreen) Duplicate(msg *domain.Message) bool {
	fp := Fingerprint(msg.Subject, msg.BodyText)
	if _, ok := s.seenIDs[msg.ExternalID]; ok {
		return true
	}
	if _, ok := s.seenFPs[fp]; ok {
		return true
	}
	s.seenIDs[msg.ExternalID] = struct{}{}
	s.seenFPs[fp] = struct{}{}
	return false
}

// IngestBatch gates a burst of messages. Duplicates within the same batch
// are rejected in memory before the persisted check, so a burst of retried
// deliveries collapses to one record before any is committed. Failures are
// collected per message; one bad message never blocks the batch.
func (g *Gate) IngestBatch(ctx context.Context, msgs []*domain.Message, work WorkFunc) ([]*Result, error) {
	screen := NewBatchScreen(len(msgs))

	results := make([]*Result, 0, len(msgs))
	var firstErr error

	for _, msg := range msgs {
		if screen.Duplicate(msg) {
			results = append(results, &Result{IsDuplicate: true})
			continue
		}

		res, err := g.ProcessIfNew(ctx, msg, work)
		if err != nil {
			g.log.WithError(err).Error("batch ingest failed for %s", msg.ExternalID)
			if firstErr == nil {
				firstErr = err
			}
			if res == nil {
				res = &Result{}
			}
		}
		results = append(results, res)
	}
	return results, firstErr
}

func (g *Gate) resolveDuplicate(ctx context.Context, externalID, fp string) *Result {
	existing, err := g.messages.GetByExternalID(ctx, externalID)
	if err == nil && existing != nil {
		return &Result{IsDuplicate: true, MessageID: existing.ID}
	}
	// Same content under a different external id.
	exists, err := g.messages.ExistsByFingerprint(ctx, fp)
	if err == nil && exists {
		return &Result{IsDuplicate: true}
	}
	return nil
}

func (g *Gate) recordEvent(ctx context.Context, eventType string, data map[string]any) {
	err := g.events.Append(ctx, &domain.Event{
		Type:   eventType,
		Source: domain.EventSourceIngest,
		Data:   data,
	})
	if err != nil {
		g.log.WithError(err).Warn("failed to record %s event", eventType)
	}
}
