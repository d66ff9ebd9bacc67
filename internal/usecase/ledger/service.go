package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/usage"
	"github.com/kailas-cloud/entitled/internal/domain/usage/budget"
	"github.com/kailas-cloud/entitled/internal/metrics"
)

const persistTimeout = 2 * time.Second

// Config holds ledger limits.
type Config struct {
	DailyLimit    int
	PerFeatureCap int
	GlobalCap     int
	Location      *time.Location
}

// Service is the in-memory quota ledger with optional write-behind persistence.
// Counters reset lazily: every read or write at now >= ResetAt clears them first.
type Service struct {
	mu      sync.Mutex
	records map[string]*usage.Record

	cfg      Config
	now      func() time.Time
	store    SnapshotStore
	source   StatusSource
	counters ConsumptionRecorder
	group    singleflight.Group
	logger   *zap.Logger

	writersMu sync.Mutex
	writers   map[string]*writer
}

// writer serializes snapshot writes for one user and remembers the last
// version the store accepted.
type writer struct {
	mu      sync.Mutex
	version uint64
}

// New creates a ledger. Zero limits fall back to the defaults.
func New(cfg Config, logger *zap.Logger) *Service {
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = usage.DefaultDailyLimit
	}
	if cfg.PerFeatureCap <= 0 {
		cfg.PerFeatureCap = budget.DefaultPerFeatureCap
	}
	if cfg.GlobalCap <= 0 {
		cfg.GlobalCap = budget.DefaultGlobalCap
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Service{
		records: make(map[string]*usage.Record),
		writers: make(map[string]*writer),
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithStore attaches a snapshot store.
func (s *Service) WithStore(store SnapshotStore) *Service {
	s.store = store
	return s
}

// WithSource attaches the upstream status source used by Refresh.
func (s *Service) WithSource(src StatusSource) *Service {
	s.source = src
	return s
}

// WithCounters attaches a per-feature consumption recorder.
func (s *Service) WithCounters(c ConsumptionRecorder) *Service {
	s.counters = c
	return s
}

// Limits returns the configured limits.
func (s *Service) Limits() Config { return s.cfg }

// Status returns the user's usage snapshot or domain.ErrNotFound.
func (s *Service) Status(ctx context.Context, userID string) (usage.Status, error) {
	s.hydrate(ctx, userID)

	s.mu.Lock()
	rec, ok := s.records[userID]
	if !ok {
		s.mu.Unlock()
		return usage.Status{}, domain.ErrNotFound
	}
	snap := s.resetIfDue(rec)
	st := rec.Status()
	s.mu.Unlock()

	s.persist(snap)
	return st, nil
}

// Ensure returns the user's status, creating a default record when absent.
func (s *Service) Ensure(ctx context.Context, userID string) (usage.Status, error) {
	if userID == "" {
		return usage.Status{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidRequest)
	}
	s.hydrate(ctx, userID)

	s.mu.Lock()
	rec, created := s.getOrCreate(userID)
	snap := s.resetIfDue(rec)
	if created {
		snap = s.snapshot(rec)
	}
	st := rec.Status()
	s.mu.Unlock()

	s.persist(snap)
	return st, nil
}

// Consume spends one free-quota unit. Premium users are logged but not counted.
// Returns domain.ErrQuotaExhausted with no state change when count >= limit.
func (s *Service) Consume(ctx context.Context, userID, featureID string) (usage.Status, error) {
	if userID == "" {
		return usage.Status{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidRequest)
	}
	s.hydrate(ctx, userID)

	s.mu.Lock()
	rec, created := s.getOrCreate(userID)
	snap := s.resetIfDue(rec)
	if created {
		snap = s.snapshot(rec)
	}

	switch {
	case rec.Premium:
		st := rec.Status()
		s.mu.Unlock()
		s.persist(snap)
		metrics.LedgerConsumeTotal.WithLabelValues(usage.KindQuota, "premium").Inc()
		s.logger.Info("Premium consumption",
			zap.String("user_id", userID),
			zap.String("feature", featureID),
		)
		s.count(featureID, usage.KindPremium)
		return st, nil

	case rec.UsageCount >= rec.UsageLimit:
		count, limit := rec.UsageCount, rec.UsageLimit
		s.mu.Unlock()
		s.persist(snap)
		metrics.LedgerConsumeTotal.WithLabelValues(usage.KindQuota, "exhausted").Inc()
		return usage.Status{}, fmt.Errorf("%w: %d of %d used", domain.ErrQuotaExhausted, count, limit)
	}

	rec.UsageCount++
	st := rec.Status()
	snap = s.snapshot(rec)
	s.mu.Unlock()

	s.persist(snap)
	metrics.LedgerConsumeTotal.WithLabelValues(usage.KindQuota, "ok").Inc()
	s.count(featureID, usage.KindQuota)
	return st, nil
}

// Reset zeroes the user's counters and moves the boundary to the next local midnight.
// A no-op when the record is already reset.
func (s *Service) Reset(ctx context.Context, userID string) (usage.Status, error) {
	s.hydrate(ctx, userID)

	s.mu.Lock()
	rec, ok := s.records[userID]
	if !ok {
		s.mu.Unlock()
		return usage.Status{}, domain.ErrNotFound
	}
	var snap *usage.Record
	if rec.Reset(s.now(), s.cfg.Location) {
		snap = s.snapshot(rec)
		metrics.LedgerResetsTotal.WithLabelValues("explicit").Inc()
	}
	st := rec.Status()
	s.mu.Unlock()

	s.persist(snap)
	return st, nil
}

// ResetAll resets every known record, including persisted ones not yet in memory.
// Returns the number of records that changed.
func (s *Service) ResetAll(ctx context.Context) int {
	var stored []*usage.Record
	if s.store != nil {
		recs, err := s.store.LoadAll(ctx)
		if err != nil {
			s.logger.Warn("Failed to load ledger snapshots for bulk reset", zap.Error(err))
		}
		stored = recs
	}

	s.mu.Lock()
	for _, rec := range stored {
		if _, ok := s.records[rec.UserID]; !ok {
			s.records[rec.UserID] = rec
		}
	}
	now := s.now()
	changed := make([]*usage.Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Reset(now, s.cfg.Location) {
			changed = append(changed, s.snapshot(rec))
		}
	}
	s.mu.Unlock()

	metrics.LedgerResetsTotal.WithLabelValues("bulk").Add(float64(len(changed)))
	s.logger.Info("Ledger bulk reset", zap.Int("changed", len(changed)))

	s.persistAll(ctx, changed)
	return len(changed)
}

// TrialBudget returns the user's trial budget or domain.ErrNotFound.
func (s *Service) TrialBudget(ctx context.Context, userID string) (budget.Budget, error) {
	s.hydrate(ctx, userID)

	s.mu.Lock()
	rec, ok := s.records[userID]
	if !ok {
		s.mu.Unlock()
		return budget.Budget{}, domain.ErrNotFound
	}
	snap := s.resetIfDue(rec)
	b := rec.Budget(s.cfg.PerFeatureCap, s.cfg.GlobalCap)
	s.mu.Unlock()

	s.persist(snap)
	return b, nil
}

// ConsumeTrial spends one trial unit on featureID. Both the per-feature and the
// global remaining counts must be positive; otherwise domain.ErrTrialExhausted
// is returned and nothing changes.
func (s *Service) ConsumeTrial(ctx context.Context, userID, featureID string) (budget.Budget, error) {
	if userID == "" || featureID == "" {
		return budget.Budget{}, fmt.Errorf("%w: user id and feature id are required", domain.ErrInvalidRequest)
	}
	s.hydrate(ctx, userID)

	s.mu.Lock()
	rec, created := s.getOrCreate(userID)
	snap := s.resetIfDue(rec)
	if created {
		snap = s.snapshot(rec)
	}

	if !rec.Budget(s.cfg.PerFeatureCap, s.cfg.GlobalCap).CanConsume(featureID) {
		s.mu.Unlock()
		s.persist(snap)
		metrics.LedgerConsumeTotal.WithLabelValues(usage.KindTrial, "exhausted").Inc()
		return budget.Budget{}, fmt.Errorf("%w: %s", domain.ErrTrialExhausted, featureID)
	}

	rec.TrialUsed[featureID]++
	rec.TrialGlobalUsed++
	b := rec.Budget(s.cfg.PerFeatureCap, s.cfg.GlobalCap)
	snap = s.snapshot(rec)
	s.mu.Unlock()

	s.persist(snap)
	metrics.LedgerConsumeTotal.WithLabelValues(usage.KindTrial, "ok").Inc()
	s.count(featureID, usage.KindTrial)
	return b, nil
}

// ReleaseTrial returns one trial unit on featureID. Counters never go below zero.
func (s *Service) ReleaseTrial(ctx context.Context, userID, featureID string) error {
	s.hydrate(ctx, userID)

	s.mu.Lock()
	rec, ok := s.records[userID]
	if !ok || rec.TrialUsed[featureID] == 0 {
		s.mu.Unlock()
		return nil
	}
	rec.TrialUsed[featureID]--
	if rec.TrialUsed[featureID] == 0 {
		delete(rec.TrialUsed, featureID)
	}
	if rec.TrialGlobalUsed > 0 {
		rec.TrialGlobalUsed--
	}
	snap := s.snapshot(rec)
	s.mu.Unlock()

	s.persist(snap)
	return nil
}

// ReleaseQuota returns one free-quota unit reserved by Consume. Premium
// records are not counted, so there is nothing to return for them.
func (s *Service) ReleaseQuota(ctx context.Context, userID string) error {
	s.hydrate(ctx, userID)

	s.mu.Lock()
	rec, ok := s.records[userID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	snap := s.resetIfDue(rec)
	if rec.Premium || rec.UsageCount == 0 {
		s.mu.Unlock()
		s.persist(snap)
		return nil
	}
	rec.UsageCount--
	snap = s.snapshot(rec)
	s.mu.Unlock()

	s.persist(snap)
	metrics.LedgerConsumeTotal.WithLabelValues(usage.KindQuota, "released").Inc()
	return nil
}

// SyncTrial records a trial unit an upstream action already spent on featureID
// and adopts the upstream global remaining count. A negative globalRemaining
// means the upstream did not report one; the local count then moves by one.
// Unlike ConsumeTrial it never refuses: the upstream has already decided.
func (s *Service) SyncTrial(ctx context.Context, userID, featureID string, globalRemaining int) (budget.Budget, error) {
	if userID == "" || featureID == "" {
		return budget.Budget{}, fmt.Errorf("%w: user id and feature id are required", domain.ErrInvalidRequest)
	}
	s.hydrate(ctx, userID)

	s.mu.Lock()
	rec, _ := s.getOrCreate(userID)
	s.resetIfDue(rec)

	rec.TrialUsed[featureID] = min(rec.TrialUsed[featureID]+1, s.cfg.PerFeatureCap)
	if globalRemaining >= 0 {
		rec.TrialGlobalUsed = min(max(s.cfg.GlobalCap-globalRemaining, 0), s.cfg.GlobalCap)
	} else {
		rec.TrialGlobalUsed = min(rec.TrialGlobalUsed+1, s.cfg.GlobalCap)
	}
	b := rec.Budget(s.cfg.PerFeatureCap, s.cfg.GlobalCap)
	snap := s.snapshot(rec)
	s.mu.Unlock()

	s.persist(snap)
	metrics.LedgerConsumeTotal.WithLabelValues(usage.KindTrial, "synced").Inc()
	s.count(featureID, usage.KindTrial)
	return b, nil
}

// Refresh re-reads the user's counters from the upstream source and replaces the
// local view. Concurrent refreshes for one user share a single upstream call.
// A no-op without a source.
func (s *Service) Refresh(ctx context.Context, userID string) error {
	if s.source == nil {
		return nil
	}
	_, err, _ := s.group.Do(userID, func() (any, error) {
		up, err := s.source.FetchStatus(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("fetch status %s: %w", userID, err)
		}
		s.apply(userID, up)
		return nil, nil
	})
	return err
}

func (s *Service) apply(userID string, up *usage.Record) {
	s.mu.Lock()
	rec, _ := s.getOrCreate(userID)
	s.resetIfDue(rec)
	rec.UsageCount = max(up.UsageCount, 0)
	if up.UsageLimit > 0 {
		rec.UsageLimit = up.UsageLimit
	}
	rec.Premium = up.Premium
	if !up.ResetAt.IsZero() && up.ResetAt.After(s.now()) {
		rec.ResetAt = up.ResetAt
	}
	if up.TrialUsed != nil {
		rec.TrialUsed = make(map[string]int, len(up.TrialUsed))
		for f, n := range up.TrialUsed {
			rec.TrialUsed[f] = n
		}
		rec.TrialGlobalUsed = max(up.TrialGlobalUsed, 0)
	}
	snap := s.snapshot(rec)
	s.mu.Unlock()

	s.persist(snap)
}

// hydrate loads a persisted record into memory when it is not there yet.
// Store failures are logged and treated as a miss.
func (s *Service) hydrate(ctx context.Context, userID string) {
	if s.store == nil || userID == "" {
		return
	}
	s.mu.Lock()
	_, ok := s.records[userID]
	s.mu.Unlock()
	if ok {
		return
	}

	rec, err := s.store.Load(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("Failed to load ledger snapshot", zap.String("user_id", userID), zap.Error(err))
		}
		return
	}
	if rec.TrialUsed == nil {
		rec.TrialUsed = make(map[string]int)
	}

	s.mu.Lock()
	if _, ok := s.records[userID]; !ok {
		s.records[userID] = rec
	}
	s.mu.Unlock()
}

// getOrCreate must be called with s.mu held.
func (s *Service) getOrCreate(userID string) (*usage.Record, bool) {
	if rec, ok := s.records[userID]; ok {
		return rec, false
	}
	rec := usage.NewRecord(userID, s.cfg.DailyLimit, s.now(), s.cfg.Location)
	s.records[userID] = rec
	return rec, true
}

// resetIfDue must be called with s.mu held. Returns a snapshot to persist, or nil.
func (s *Service) resetIfDue(rec *usage.Record) *usage.Record {
	if !rec.ResetIfDue(s.now(), s.cfg.Location) {
		return nil
	}
	metrics.LedgerResetsTotal.WithLabelValues("boundary").Inc()
	return s.snapshot(rec)
}

// snapshot must be called with s.mu held. It bumps the record version and
// returns a copy for persist.
func (s *Service) snapshot(rec *usage.Record) *usage.Record {
	rec.Version++
	return rec.Clone()
}

// persist writes a snapshot behind the caller. Uses a background context so
// store writes survive request cancellation. Writes for one user are
// serialized and a snapshot older than the last stored one is dropped.
func (s *Service) persist(rec *usage.Record) {
	if s.store == nil || rec == nil {
		return
	}
	w := s.writer(rec.UserID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec.Version <= w.version {
		metrics.LedgerStaleWritesTotal.Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.store.Save(ctx, rec); err != nil {
		s.logger.Warn("Failed to persist ledger snapshot", zap.String("user_id", rec.UserID), zap.Error(err))
		return
	}
	w.version = rec.Version
}

// persistAll writes a batch under the writers of every user in it.
// Writers are taken in user id order.
func (s *Service) persistAll(ctx context.Context, recs []*usage.Record) {
	if s.store == nil || len(recs) == 0 {
		return
	}
	slices.SortFunc(recs, func(a, b *usage.Record) int {
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		}
		return 0
	})

	fresh := make([]*usage.Record, 0, len(recs))
	held := make(map[string]*writer, len(recs))
	for _, rec := range recs {
		w := s.writer(rec.UserID)
		w.mu.Lock()
		held[rec.UserID] = w
		if rec.Version > w.version {
			fresh = append(fresh, rec)
		}
	}
	defer func() {
		for _, w := range held {
			w.mu.Unlock()
		}
	}()
	if len(fresh) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.store.SaveAll(ctx, fresh); err != nil {
		s.logger.Warn("Failed to persist bulk reset", zap.Error(err))
		return
	}
	for _, rec := range fresh {
		held[rec.UserID].version = rec.Version
	}
}

func (s *Service) writer(userID string) *writer {
	s.writersMu.Lock()
	defer s.writersMu.Unlock()
	w, ok := s.writers[userID]
	if !ok {
		w = &writer{}
		s.writers[userID] = w
	}
	return w
}

func (s *Service) count(featureID, kind string) {
	if s.counters == nil || featureID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	// Day keys follow the quota timezone, not the server zone.
	if err := s.counters.Record(ctx, featureID, kind, s.now().In(s.cfg.Location)); err != nil {
		s.logger.Warn("Failed to record consumption", zap.String("feature", featureID), zap.Error(err))
	}
}
