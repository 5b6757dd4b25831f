package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/roach88/indextrack/internal/record"
)

// RecordView is the printable form of a stored row.
type RecordView struct {
	Namespace        string `json:"namespace"`
	ID               string `json:"id"`
	FirstIndexed     string `json:"first_indexed,omitempty"`
	LastIndexed      string `json:"last_indexed,omitempty"`
	LastRecordChange string `json:"last_record_change,omitempty"`
	Deleted          string `json:"deleted,omitempty"`
}

func newRecordView(rec record.TrackedRecord) RecordView {
	return RecordView{
		Namespace:        rec.Namespace,
		ID:               rec.Identifier,
		FirstIndexed:     record.FormatNullable(rec.FirstIndexed),
		LastIndexed:      record.FormatNullable(rec.LastIndexed),
		LastRecordChange: record.FormatNullable(rec.LastRecordChange),
		Deleted:          record.FormatNullable(rec.Deleted),
	}
}

func newRecordViews(recs []record.TrackedRecord) []RecordView {
	views := make([]RecordView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, newRecordView(rec))
	}
	return views
}

func writeRecordText(w io.Writer, v RecordView) {
	fmt.Fprintf(w, "namespace:          %s\n", v.Namespace)
	fmt.Fprintf(w, "id:                 %s\n", v.ID)
	fmt.Fprintf(w, "first_indexed:      %s\n", orDash(v.FirstIndexed))
	fmt.Fprintf(w, "last_indexed:       %s\n", orDash(v.LastIndexed))
	fmt.Fprintf(w, "last_record_change: %s\n", orDash(v.LastRecordChange))
	fmt.Fprintf(w, "deleted:            %s\n", orDash(v.Deleted))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// parseInstant parses an RFC 3339 flag value. Empty yields def.
func parseInstant(flag, value string, def time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --%s %q (want RFC 3339, e.g. 2024-01-02T03:04:05Z)", flag, value), err)
	}
	return t.UTC(), nil
}
