// Package notify carries user-visible notices (toasts) out of the sync core.
// Presentation is the receiver's concern.
package notify

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/koinonia-app/koinonia/internal/offline/events"
)

// Variant is the tone a notice is presented in.
type Variant string

const (
	// VariantDefault is informational.
	VariantDefault Variant = "default"
	// VariantSuccess reports a completed action, including deferred saves.
	VariantSuccess Variant = "success"
	// VariantDestructive reports a hard failure that will not be retried.
	VariantDestructive Variant = "destructive"
)

// Notice is a single user-visible notification.
type Notice struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Variant     Variant `json:"variant"`
}

// Notifier receives notices. Implementations must not block for long; the
// sync core calls Notify inline.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notice) { f(n) }

// Discard drops every notice.
var Discard Notifier = NotifierFunc(func(Notice) {})

// Multi fans a notice out to several notifiers in order. Nil entries are skipped.
func Multi(notifiers ...Notifier) Notifier {
	return NotifierFunc(func(n Notice) {
		for _, nf := range notifiers {
			if nf != nil {
				nf.Notify(n)
			}
		}
	})
}

// Log returns a Notifier that writes notices to logger. Destructive notices
// log at warn level, everything else at info.
func Log(logger zerolog.Logger) Notifier {
	return NotifierFunc(func(n Notice) {
		ev := logger.Info()
		if n.Variant == VariantDestructive {
			ev = logger.Warn()
		}
		ev.Str("variant", string(n.Variant)).
			Str("description", n.Description).
			Msg(n.Title)
	})
}

// Publish returns a Notifier that raises each notice on bus as
// events.NoticeRaised, for surfaces such as the dashboard.
func Publish(bus *events.Bus) Notifier {
	return NotifierFunc(func(n Notice) {
		bus.Emit(events.NoticeRaised, n)
	})
}

// Recorder collects notices in memory. It is used by tests and by the
// CLI, which renders the collected notices after a command completes.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify appends n.
func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of the recorded notices in order.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Titles returns the recorded notice titles in order.
func (r *Recorder) Titles() []string {
	notices := r.Notices()
	titles := make([]string, 0, len(notices))
	for _, n := range notices {
		titles = append(titles, n.Title)
	}
	return titles
}
