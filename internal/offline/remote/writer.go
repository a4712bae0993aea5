package remote

import (
	"context"
	"time"

	"github.com/koinonia-app/koinonia/internal/offline/schema"
)

// Writer performs single devotional creates against a Store.
type Writer struct {
	store Store
	now   func() time.Time
}

// NewWriter returns a writer over store. clock stamps the row timestamps
// and the default date; nil means time.Now.
func NewWriter(store Store, clock func() time.Time) *Writer {
	if clock == nil {
		clock = time.Now
	}
	return &Writer{store: store, now: clock}
}

// WriteOne translates draft into a row and inserts it exactly once. The
// remote store assigns the identifier. Failures are returned as *Error with
// the underlying error preserved.
func (w *Writer) WriteOne(ctx context.Context, draft schema.Draft) (schema.Record, error) {
	rec, err := w.store.InsertDevotional(ctx, draft.ToRow(w.now()))
	if err != nil {
		return schema.Record{}, Wrap("insert devotional", err)
	}
	return rec, nil
}

// Ping probes the underlying store.
func (w *Writer) Ping(ctx context.Context) error {
	return w.store.Ping(ctx)
}
