package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/guardianbot/guardian/protect/cachestore"
	"github.com/guardianbot/guardian/protect/countstore"
	"github.com/guardianbot/guardian/protect/punish"
	"github.com/guardianbot/guardian/protect/settings"
	"github.com/guardianbot/guardian/protect/warn"
)

// RecordingNotifier keeps every notification in memory. Used in tests.
type RecordingNotifier struct {
	lk   sync.Mutex
	sent []Notification
}

func (r *RecordingNotifier) SendViolation(ctx context.Context, n *Notification) error {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.sent = append(r.sent, *n)
	return nil
}

func (r *RecordingNotifier) Sent() []Notification {
	r.lk.Lock()
	defer r.lk.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// EngineTestFixture returns an engine wired to in-memory stores, a recording executor and a recording notifier.
func EngineTestFixture() (*Engine, *punish.RecordingExecutor, *RecordingNotifier) {
	store := settings.NewMemStore()
	cache := cachestore.NewMemCacheStore[[]warn.PunishRule](100, time.Hour)
	warns := warn.NewEscalator(store, cache, slog.Default())
	ex := punish.NewRecordingExecutor()
	notifier := &RecordingNotifier{}

	eng := New(store, ex, warns, slog.Default())
	eng.Notifier = notifier
	eng.Counters = countstore.NewMemCountStore()
	eng.ActionTimeout = time.Second
	return eng, ex, notifier
}
