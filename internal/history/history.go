// Package history is the per-viewer move list used for analysis navigation.
// It is a convenience cache; the room snapshot stays authoritative.
package history

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/park285/betchess/internal/obslog"
	"github.com/park285/betchess/internal/rules"
)

var ErrOutOfRange = errors.New("history: index out of range")

// History navigates one viewer's moves. Index -1 is the start position and
// Len()-1 the latest move. Not safe for concurrent use.
type History struct {
	store  Store
	room   string
	viewer string
	rec    Record
}

// Open loads the stored record for room and viewer, or starts an empty one.
func Open(ctx context.Context, store Store, room, viewer string) (*History, error) {
	h := &History{store: store, room: room, viewer: viewer, rec: Record{Index: -1}}
	if store == nil {
		return h, nil
	}
	rec, err := store.Load(ctx, room, viewer)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		h.rec = *rec.clone()
		if len(h.rec.SANs) != len(h.rec.Moves) {
			h.rec.SANs = make([]string, len(h.rec.Moves))
		}
		h.rec.Index = clamp(h.rec.Index, len(h.rec.Moves))
	}
	return h, nil
}

func clamp(i, n int) int {
	if i < -1 {
		return -1
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

func (h *History) Len() int        { return len(h.rec.Moves) }
func (h *History) Index() int      { return h.rec.Index }
func (h *History) GameNumber() int { return h.rec.GameNumber }

// Live reports whether navigation sits on the latest move.
func (h *History) Live() bool { return h.rec.Index == len(h.rec.Moves)-1 }

func (h *History) Moves() []string { return append([]string(nil), h.rec.Moves...) }
func (h *History) SANs() []string  { return append([]string(nil), h.rec.SANs...) }

// Append records a new move. A viewer following the game stays live; one
// browsing older positions keeps their place.
func (h *History) Append(ctx context.Context, uci, san string) error {
	live := h.Live()
	h.rec.Moves = append(h.rec.Moves, uci)
	h.rec.SANs = append(h.rec.SANs, san)
	if live {
		h.rec.Index = len(h.rec.Moves) - 1
	}
	return h.save(ctx)
}

// Reset clears the list for a new game.
func (h *History) Reset(ctx context.Context, gameNumber int) error {
	h.rec = Record{GameNumber: gameNumber, Index: -1}
	obslog.L().Debug("history_reset", zap.String("room", h.room), zap.Int("game_number", gameNumber))
	return h.save(ctx)
}

// Sync replaces the list with moves from an authoritative source, e.g. after
// a reconnect. Navigation returns to live.
func (h *History) Sync(ctx context.Context, gameNumber int, moves, sans []string) error {
	h.rec.GameNumber = gameNumber
	h.rec.Moves = append([]string(nil), moves...)
	h.rec.SANs = make([]string, len(moves))
	copy(h.rec.SANs, sans)
	h.rec.Index = len(moves) - 1
	return h.save(ctx)
}

func (h *History) First(ctx context.Context) (int, error) { return h.seek(ctx, -1) }
func (h *History) Prev(ctx context.Context) (int, error)  { return h.seek(ctx, h.rec.Index-1) }
func (h *History) Next(ctx context.Context) (int, error)  { return h.seek(ctx, h.rec.Index+1) }
func (h *History) Last(ctx context.Context) (int, error)  { return h.seek(ctx, len(h.rec.Moves)-1) }

func (h *History) seek(ctx context.Context, i int) (int, error) {
	i = clamp(i, len(h.rec.Moves))
	if i == h.rec.Index {
		return i, nil
	}
	h.rec.Index = i
	return i, h.save(ctx)
}

// FEN is the position at the current index.
func (h *History) FEN() (string, error) { return h.FENAt(h.rec.Index) }

// FENAt replays moves up to and including index i.
func (h *History) FENAt(i int) (string, error) {
	if i < -1 || i >= len(h.rec.Moves) {
		return "", ErrOutOfRange
	}
	fen, ok := rules.FENAfter(h.rec.Moves[:i+1])
	if !ok {
		return "", errors.New("history: stored moves do not replay")
	}
	return fen, nil
}

// Opening names the opening reached at the current index.
func (h *History) Opening() (code, title string) {
	return rules.Opening(h.rec.Moves[:h.rec.Index+1])
}

func (h *History) save(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	rec := h.rec
	return h.store.Save(ctx, h.room, h.viewer, &rec)
}
