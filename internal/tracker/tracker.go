package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/indextrack/internal/clock"
	"github.com/roach88/indextrack/internal/record"
)

// DefaultTolerance is just under one whole second, the resolution of most
// declared change instants. Sub-second jitter around a whole-second value
// must not register as a change.
const DefaultTolerance = 999 * time.Millisecond

// Store is the persistence the tracker needs. Both the SQLite and the
// PostgreSQL stores satisfy it.
type Store interface {
	Get(ctx context.Context, key record.Key) (record.TrackedRecord, error)
	Modify(ctx context.Context, key record.Key, fn record.ModifyFunc) error
}

// ShutdownSignal reports whether process teardown has begun.
type ShutdownSignal interface {
	ShuttingDown() bool
}

// Recorder receives tracker events for metrics.
type Recorder interface {
	Observed(namespace string, outcome record.Outcome)
	Deleted(namespace string)
	Failed(op string)
}

// Result is what Observe resolved for one record.
type Result struct {
	FirstIndexed time.Time
	LastIndexed  time.Time
	Outcome      record.Outcome
}

// Deletion is what MarkDeleted resolved for one record.
type Deletion struct {
	Record record.TrackedRecord
	// Changed is false when the row was already a tombstone.
	Changed bool
}

// Tracker maintains first/last indexed instants for source records.
type Tracker struct {
	store       Store
	clock       clock.Clock
	tolerance   time.Duration
	rejectStale bool
	logger      *slog.Logger
	recorder    Recorder
	shutdown    ShutdownSignal
	session     session
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithTolerance sets the maximum declared-instant difference treated as no
// change. Negative values are clamped to zero.
//
// Default: 999ms (DefaultTolerance)
func WithTolerance(d time.Duration) Option {
	return func(t *Tracker) {
		if d < 0 {
			d = 0
		}
		t.tolerance = d
	}
}

// WithRejectStale makes an active row ignore declared instants older than the
// stored one by more than the tolerance. Without it the last writer wins.
func WithRejectStale(reject bool) Option {
	return func(t *Tracker) {
		t.rejectStale = reject
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(t *Tracker) {
		if r != nil {
			t.recorder = r
		}
	}
}

// WithShutdownSignal makes post-shutdown store failures expected.
func WithShutdownSignal(s ShutdownSignal) Option {
	return func(t *Tracker) {
		t.shutdown = s
	}
}

// New creates a Tracker over s. The tracker borrows s and never closes it.
func New(s Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:     s,
		clock:     clock.System{},
		tolerance: DefaultTolerance,
		logger:    slog.Default(),
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tolerance returns the configured tolerance window.
func (t *Tracker) Tolerance() time.Duration {
	return t.tolerance
}

// Observe records that the source record (namespace, identifier) was seen
// with the given declared change instant, and returns its first and last
// indexed instants.
func (t *Tracker) Observe(ctx context.Context, namespace, identifier string, declared time.Time) (Result, error) {
	key, err := record.NewKey(namespace, identifier)
	if err != nil {
		return Result{}, fmt.Errorf("observe: %w", err)
	}
	declared = declared.UTC()

	if res, ok := t.session.lookup(key, declared); ok {
		return res, nil
	}
	prev, _ := t.session.last(key)
	t.session.reset()

	var res Result
	err = t.store.Modify(ctx, key, func(current *record.TrackedRecord) (*record.TrackedRecord, error) {
		next, outcome := t.transition(current, declared, t.clock.Now().UTC())
		if outcome == record.OutcomeNoop {
			res = resultOf(*current, outcome)
			return nil, nil
		}
		res = resultOf(*next, outcome)
		return next, nil
	})
	if err != nil {
		return prev, t.failure("observe", key, err)
	}

	t.session.bind(key, declared, res)
	t.recorder.Observed(key.Namespace, res.Outcome)
	t.logger.Debug("observed record",
		"namespace", key.Namespace,
		"id", key.Identifier,
		"outcome", res.Outcome,
		"last_indexed", res.LastIndexed,
	)
	return res, nil
}

// FirstIndexed observes the record and returns its first indexed instant as
// YYYY-MM-DDTHH:MM:SSZ.
func (t *Tracker) FirstIndexed(ctx context.Context, namespace, identifier string, declared time.Time) (string, error) {
	res, err := t.Observe(ctx, namespace, identifier, declared)
	if err != nil {
		return "", err
	}
	return record.FormatTimestamp(res.FirstIndexed), nil
}

// LastIndexed observes the record and returns its last indexed instant as
// YYYY-MM-DDTHH:MM:SSZ.
func (t *Tracker) LastIndexed(ctx context.Context, namespace, identifier string, declared time.Time) (string, error) {
	res, err := t.Observe(ctx, namespace, identifier, declared)
	if err != nil {
		return "", err
	}
	return record.FormatTimestamp(res.LastIndexed), nil
}

// MarkDeleted tombstones the record. A missing row becomes a bare tombstone;
// an existing tombstone is left alone; an active row loses its first indexed
// instant and keeps everything else.
func (t *Tracker) MarkDeleted(ctx context.Context, namespace, identifier string) (Deletion, error) {
	key, err := record.NewKey(namespace, identifier)
	if err != nil {
		return Deletion{}, fmt.Errorf("mark deleted: %w", err)
	}
	t.session.invalidate(key)

	var del Deletion
	err = t.store.Modify(ctx, key, func(current *record.TrackedRecord) (*record.TrackedRecord, error) {
		now := t.clock.Now().UTC()
		switch {
		case current == nil:
			next := record.TrackedRecord{Key: key, Deleted: record.Time(now)}
			del = Deletion{Record: next, Changed: true}
			return &next, nil
		case current.IsTombstone():
			del = Deletion{Record: current.Clone(), Changed: false}
			return nil, nil
		default:
			next := current.Clone()
			next.Deleted = record.Time(now)
			next.FirstIndexed = nil
			del = Deletion{Record: next, Changed: true}
			return &next, nil
		}
	})
	if err != nil {
		return Deletion{}, t.failure("mark deleted", key, err)
	}

	if del.Changed {
		t.recorder.Deleted(key.Namespace)
	}
	t.logger.Debug("marked record deleted",
		"namespace", key.Namespace,
		"id", key.Identifier,
		"changed", del.Changed,
	)
	return del, nil
}

// Retrieve returns the stored row, or an error matching record.ErrNotFound.
func (t *Tracker) Retrieve(ctx context.Context, namespace, identifier string) (record.TrackedRecord, error) {
	key, err := record.NewKey(namespace, identifier)
	if err != nil {
		return record.TrackedRecord{}, fmt.Errorf("retrieve: %w", err)
	}
	rec, err := t.store.Get(ctx, key)
	if errors.Is(err, record.ErrNotFound) {
		return record.TrackedRecord{}, fmt.Errorf("retrieve: %w", err)
	}
	if err != nil {
		return record.TrackedRecord{}, t.failure("retrieve", key, err)
	}
	return rec, nil
}

// transition computes the next row for an observation. next is nil for a
// no-op.
func (t *Tracker) transition(current *record.TrackedRecord, declared, now time.Time) (*record.TrackedRecord, record.Outcome) {
	if current == nil {
		return &record.TrackedRecord{
			FirstIndexed:     record.Time(now),
			LastIndexed:      record.Time(now),
			LastRecordChange: record.Time(declared),
		}, record.OutcomeCreate
	}

	if !current.IsTombstone() && current.LastRecordChange != nil {
		diff := current.LastRecordChange.Sub(declared)
		if diff.Abs() <= t.tolerance {
			return nil, record.OutcomeNoop
		}
		if t.rejectStale && diff > t.tolerance {
			return nil, record.OutcomeNoop
		}
	}

	next := current.Clone()
	stamp := now
	if next.LastIndexed != nil && next.LastIndexed.After(stamp) {
		stamp = *next.LastIndexed
	}
	next.LastIndexed = record.Time(stamp)
	if next.FirstIndexed == nil {
		next.FirstIndexed = record.Time(stamp)
	}
	next.LastRecordChange = record.Time(declared)
	next.Deleted = nil
	return &next, record.OutcomeUpdate
}

func (t *Tracker) failure(op string, key record.Key, err error) error {
	if t.shutdown != nil && t.shutdown.ShuttingDown() {
		t.logger.Debug("store failure during shutdown",
			"op", op,
			"namespace", key.Namespace,
			"id", key.Identifier,
			"error", err,
		)
		return fmt.Errorf("%s %s: %w", op, key, ErrShuttingDown)
	}
	t.recorder.Failed(op)
	return storeError(op, key, err)
}

func resultOf(rec record.TrackedRecord, outcome record.Outcome) Result {
	res := Result{Outcome: outcome}
	if rec.FirstIndexed != nil {
		res.FirstIndexed = *rec.FirstIndexed
	}
	if rec.LastIndexed != nil {
		res.LastIndexed = *rec.LastIndexed
	}
	return res
}

type nopRecorder struct{}

func (nopRecorder) Observed(string, record.Outcome) {}
func (nopRecorder) Deleted(string)                  {}
func (nopRecorder) Failed(string)                   {}
