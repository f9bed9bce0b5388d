package out

import "context"

// DedupFilter is an optional fast-path duplicate check in front of the
// persisted fingerprint lookup. A filter outage degrades to the database
// check, never to skipped deduplication.
type DedupFilter interface {
	// Seen atomically records the fingerprint and reports whether it was
	// already present.
	Seen(ctx context.Context, fingerprint string) (bool, error)
}
