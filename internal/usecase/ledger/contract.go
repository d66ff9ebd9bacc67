package ledger

import (
	"context"
	"time"

	"github.com/kailas-cloud/entitled/internal/domain/usage"
)

// SnapshotStore persists ledger records. Writes are best effort (write-behind).
type SnapshotStore interface {
	Load(ctx context.Context, userID string) (*usage.Record, error)
	Save(ctx context.Context, rec *usage.Record) error
	SaveAll(ctx context.Context, recs []*usage.Record) error
	LoadAll(ctx context.Context) ([]*usage.Record, error)
}

// StatusSource is the upstream authority for usage counters.
// A nil TrialUsed in the returned record means trial counters are not reported.
type StatusSource interface {
	FetchStatus(ctx context.Context, userID string) (*usage.Record, error)
}

// ConsumptionRecorder aggregates per-feature consumption counters.
type ConsumptionRecorder interface {
	Record(ctx context.Context, featureID, kind string, at time.Time) error
}
