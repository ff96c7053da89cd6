package escrow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/betchess/internal/obslog"
)

// Watcher polls an EventSource and fans events out per game id.
// Events only signal that a game should be re-read; they carry no state.
type Watcher struct {
	src      EventSource
	interval time.Duration

	mu   sync.Mutex
	next uint64
	subs map[string]map[chan Event]struct{} // gameID -> set(chan); "" receives every game

	quit     chan struct{}
	stopOnce sync.Once
}

// NewWatcher starts reading at fromBlock.
func NewWatcher(src EventSource, interval time.Duration, fromBlock uint64) *Watcher {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Watcher{
		src:      src,
		interval: interval,
		next:     fromBlock,
		subs:     make(map[string]map[chan Event]struct{}),
		quit:     make(chan struct{}),
	}
}

func (w *Watcher) Stop() { w.stopOnce.Do(func() { close(w.quit) }) }

func (w *Watcher) Run(ctx context.Context) {
	obslog.L().Info("escrow watcher started", zap.Duration("interval", w.interval))
	t := time.NewTicker(w.interval)
	defer t.Stop()
	defer obslog.L().Info("escrow watcher stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case <-t.C:
			w.PollOnce(ctx)
		}
	}
}

// PollOnce reads new events and delivers them. Errors are logged and the
// cursor stays put so the next tick retries the same range.
func (w *Watcher) PollOnce(ctx context.Context) {
	w.mu.Lock()
	from := w.next
	w.mu.Unlock()

	events, next, err := w.src.EventsSince(ctx, from)
	if err != nil {
		obslog.L().Debug("escrow watcher poll failed", zap.Uint64("from", from), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.next = next
	w.mu.Unlock()

	for _, ev := range events {
		w.broadcast(ev)
	}
}

// Subscribe returns a channel of events for gameID ("" for all games) and
// an unsubscribe func.
func (w *Watcher) Subscribe(gameID string) (<-chan Event, func()) {
	ch := make(chan Event, 8)
	w.mu.Lock()
	if _, ok := w.subs[gameID]; !ok {
		w.subs[gameID] = make(map[chan Event]struct{})
	}
	w.subs[gameID][ch] = struct{}{}
	w.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			w.mu.Lock()
			if set, ok := w.subs[gameID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(w.subs, gameID)
				}
			}
			w.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

func (w *Watcher) broadcast(ev Event) {
	key := ""
	if ev.GameID != nil {
		key = ev.GameID.String()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, k := range []string{key, ""} {
		for ch := range w.subs[k] {
			select {
			case ch <- ev:
			default:
				// slow subscriber; it will re-read on the next event
			}
		}
		if key == "" {
			break
		}
	}
}
