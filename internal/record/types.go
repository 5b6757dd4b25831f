package record

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DefaultNamespace is the namespace used when a caller does not name one.
const DefaultNamespace = "biblio"

// TimestampLayout is the layout used when embedding instants into emitted
// documents: YYYY-MM-DDTHH:MM:SSZ.
const TimestampLayout = "2006-01-02T15:04:05Z"

var (
	// ErrNotFound is returned when no row exists for a key.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when inserting a key that already exists.
	ErrConflict = errors.New("record already exists")

	// ErrInvalidKey is returned for keys with an empty namespace or identifier.
	ErrInvalidKey = errors.New("invalid record key")
)

// Key identifies one tracked record.
type Key struct {
	Namespace  string `json:"namespace"`
	Identifier string `json:"identifier"`
}

// NewKey builds a normalized key. Namespace and identifier are trimmed and
// converted to NFC so that visually identical identifiers map to one row.
func NewKey(namespace, identifier string) (Key, error) {
	k := Key{
		Namespace:  norm.NFC.String(strings.TrimSpace(namespace)),
		Identifier: norm.NFC.String(strings.TrimSpace(identifier)),
	}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Validate reports ErrInvalidKey if either component is empty.
func (k Key) Validate() error {
	if k.Namespace == "" {
		return fmt.Errorf("%w: empty namespace", ErrInvalidKey)
	}
	if k.Identifier == "" {
		return fmt.Errorf("%w: empty identifier", ErrInvalidKey)
	}
	return nil
}

func (k Key) String() string {
	return k.Namespace + ":" + k.Identifier
}

// TrackedRecord is one row of the change_tracker table.
type TrackedRecord struct {
	Key
	FirstIndexed     *time.Time `json:"first_indexed,omitempty"`
	LastIndexed      *time.Time `json:"last_indexed,omitempty"`
	LastRecordChange *time.Time `json:"last_record_change,omitempty"`
	Deleted          *time.Time `json:"deleted,omitempty"`
}

// IsTombstone reports whether the row is marked deleted.
func (r TrackedRecord) IsTombstone() bool {
	return r.Deleted != nil
}

// Clone returns a deep copy so callers can mutate timestamps freely.
func (r TrackedRecord) Clone() TrackedRecord {
	return TrackedRecord{
		Key:              r.Key,
		FirstIndexed:     copyTime(r.FirstIndexed),
		LastIndexed:      copyTime(r.LastIndexed),
		LastRecordChange: copyTime(r.LastRecordChange),
		Deleted:          copyTime(r.Deleted),
	}
}

// ModifyFunc computes the row to write for a key given its current state.
// current is nil when no row exists. Returning nil writes nothing.
//
// Stores call ModifyFunc while holding exclusive access to the key and may
// call it more than once if a concurrent writer claimed the key first; only
// the last returned value is persisted.
type ModifyFunc func(current *TrackedRecord) (*TrackedRecord, error)

// Outcome is the state transition an observation produced.
type Outcome string

const (
	OutcomeCreate Outcome = "create"
	OutcomeNoop   Outcome = "noop"
	OutcomeUpdate Outcome = "update"
)

// Time returns a UTC pointer to t, for populating nullable fields.
func Time(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}

// FormatTimestamp renders t as YYYY-MM-DDTHH:MM:SSZ in UTC. The zero time
// renders as an empty string.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// FormatNullable is FormatTimestamp for nullable columns.
func FormatNullable(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatTimestamp(*t)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
