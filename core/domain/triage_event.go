package domain

import "time"

// Event is an append-only audit record. Only the Processed flag is ever
// updated after insert.
type Event struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data,omitempty"`
	Processed bool           `json:"processed"`
	CreatedAt time.Time      `json:"created_at"`
}

// Event types emitted by the pipeline.
const (
	EventTypeMessageIngested  = "message.ingested"
	EventTypeDuplicateSkipped = "message.duplicate_skipped"
	EventTypeClassified       = "message.classified"
	EventTypeGuardDecision    = "guard.decision"
	EventTypeEscalated        = "guard.escalated"
	EventTypeDraftCreated     = "reply.draft_created"
	EventTypeWatchdogTick     = "watchdog.tick"
)

// Source component names used in events.
const (
	EventSourceIngest   = "ingest"
	EventSourcePipeline = "pipeline"
	EventSourceGuard    = "guard"
	EventSourceReply    = "reply"
	EventSourceWatchdog = "watchdog"
)
