// Package client reconciles room snapshots for one player: it recovers the
// move behind each snapshot, keeps the analysis history, surfaces offers and
// rematch invitations, and pre-flights local actions.
package client

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/betchess/internal/betting"
	"github.com/park285/betchess/internal/history"
	"github.com/park285/betchess/internal/lobby"
	"github.com/park285/betchess/internal/obslog"
	"github.com/park285/betchess/internal/rules"
	"github.com/park285/betchess/internal/session"
)

var (
	ErrNotActive      = errors.New("client: game is not active")
	ErrNotYourTurn    = errors.New("client: not your turn")
	ErrIllegalMove    = errors.New("client: illegal move")
	ErrPaymentPending = errors.New("client: bet payment pending")
	ErrNotSeated      = errors.New("client: not seated in this room")
	ErrNoHistory      = errors.New("client: no history yet")
)

// Update is what one snapshot changed for this viewer.
type Update struct {
	State *session.State
	// Moved is set when the position changed within the same game. Move is
	// nil when the move could not be recovered, e.g. after a gap.
	Moved          bool
	Move           *rules.Move
	SelfOriginated bool
	Sound          rules.Sound
	NewGame        bool
	// Ended is set on the snapshot that carries a new result.
	Ended          bool
	DrawOffered    bool
	RematchOffered bool
	Invitation     *lobby.Invite
	NeedsRejoin    bool
}

// View is one player's reconciled copy of a room.
type View struct {
	wallet   string
	playerID string
	store    history.Store
	invites  *lobby.Invites
	log      *zap.Logger

	mu     sync.Mutex
	prev   *session.State
	hist   *history.History
	bet    *betting.Status
	seen   map[string]bool
	joined bool
}

// NewView builds a view for wallet. store may be nil to skip history.
func NewView(wallet, playerID string, store history.Store) *View {
	return &View{
		wallet:   strings.ToLower(strings.TrimSpace(wallet)),
		playerID: playerID,
		store:    store,
		invites:  lobby.NewInvites(),
		log:      obslog.Named("client"),
		seen:     make(map[string]bool),
	}
}

func (v *View) Wallet() string   { return v.wallet }
func (v *View) PlayerID() string { return v.playerID }

// Apply merges a broadcast snapshot.
func (v *View) Apply(ctx context.Context, s *session.State) Update {
	if s == nil {
		return Update{}
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	prev := v.prev
	if prev != nil && prev.RoomName != s.RoomName {
		prev = nil
		v.hist = nil
		v.seen = make(map[string]bool)
		v.joined = false
	}
	u := Update{State: s.Clone()}
	v.openHistory(ctx, s)

	if prev != nil && s.GameNumber != prev.GameNumber {
		u.NewGame = true
		if v.hist != nil {
			if err := v.hist.Reset(ctx, s.GameNumber); err != nil {
				v.log.Warn("history_reset_error", zap.Error(err))
			}
		}
	}

	if prev != nil && !u.NewGame && s.FEN != prev.FEN {
		u.Moved = true
		u.Sound = rules.SoundPlain
		if mv, ok := recoverMove(prev.FEN, s); ok {
			u.Move = &mv
			u.Sound = rules.SoundFor(mv.Flags)
			if me := s.PlayerByIdentity(v.wallet, v.playerID); me != nil {
				u.SelfOriginated = me.Color.Short() == mv.Color
			}
			if v.hist != nil {
				if err := v.hist.Append(ctx, mv.UCI, mv.SAN); err != nil {
					v.log.Warn("history_append_error", zap.Error(err))
				}
			}
		} else {
			v.log.Debug("move_not_recovered", zap.String("room", s.RoomName), zap.Int("game_number", s.GameNumber))
		}
	}
	v.reconcile(ctx, s)

	if prev != nil && prev.GameResult.Type == session.ResultNone && s.GameResult.Type != session.ResultNone {
		u.Ended = true
	}

	me := s.PlayerByIdentity(v.wallet, v.playerID)
	u.DrawOffered = offeredToMe(s.DrawOffer, me) && (prev == nil || !prev.DrawOffer.Offered)
	u.RematchOffered = offeredToMe(s.RematchOffer, me) && (prev == nil || !prev.RematchOffer.Offered)
	u.Invitation = v.scanChat(s)

	if me != nil && me.Connected {
		v.joined = true
	}
	u.NeedsRejoin = v.joined && s.Phase() != session.PhaseWaiting && (me == nil || !me.Connected)

	v.prev = s.Clone()
	return u
}

// reconcile replaces the history with the snapshot's move list when they
// disagree, e.g. after skipped snapshots or when joining mid-game. Snapshots
// without a move list past the start position are left alone.
func (v *View) reconcile(ctx context.Context, s *session.State) {
	if v.hist == nil || v.hist.GameNumber() != s.GameNumber {
		return
	}
	if len(s.Moves) == 0 && s.FEN != rules.StartFEN {
		return
	}
	if slices.Equal(v.hist.Moves(), s.Moves) {
		return
	}
	if err := v.hist.Sync(ctx, s.GameNumber, s.Moves, s.SANs); err != nil {
		v.log.Warn("history_sync_error", zap.String("room", s.RoomName), zap.Error(err))
		return
	}
	v.log.Debug("history_synced", zap.String("room", s.RoomName), zap.Int("moves", len(s.Moves)))
}

// recoverMove prefers the snapshot's move descriptor and falls back to
// replaying legal moves from the previous position.
func recoverMove(prevFEN string, s *session.State) (rules.Move, bool) {
	if lm := s.LastMove; lm != nil && lm.UCI != "" {
		if p := rules.ProposeUCI(prevFEN, lm.UCI); p.Accepted && p.NewFEN == s.FEN {
			return rules.Move{
				From:      p.From,
				To:        p.To,
				Promotion: p.Promotion,
				UCI:       p.UCI,
				SAN:       p.SAN,
				Captured:  p.Captured,
				Flags:     p.Flags,
				Color:     lm.Color.Short(),
			}, true
		}
	}
	return rules.InferMove(prevFEN, s.FEN)
}

func offeredToMe(o session.Offer, me *session.Player) bool {
	return o.Offered && o.By != nil && me != nil && *o.By != me.Color
}

// scanChat returns a new pending invitation from the opponent, if any.
func (v *View) scanChat(s *session.State) *lobby.Invite {
	var latest *lobby.Invite
	for _, m := range s.ChatLog {
		if v.seen[m.ID] {
			continue
		}
		v.seen[m.ID] = true
		if !lobby.IsInvitation(m.Message) || v.authored(m) {
			continue
		}
		inv, err := lobby.ParseInvitation(m.Message)
		if err != nil {
			v.log.Debug("invitation_parse_error", zap.Error(err))
			continue
		}
		from := m.PlayerWallet
		if from == "" {
			from = m.PlayerID
		}
		iv, err := v.invites.Offer(from, v.identity(), inv)
		if err != nil {
			continue
		}
		latest = iv
	}
	return latest
}

func (v *View) authored(m session.ChatMessage) bool {
	if v.wallet != "" && strings.EqualFold(m.PlayerWallet, v.wallet) {
		return true
	}
	return v.playerID != "" && m.PlayerID == v.playerID
}

func (v *View) identity() string {
	if v.wallet != "" {
		return v.wallet
	}
	return v.playerID
}

func (v *View) openHistory(ctx context.Context, s *session.State) {
	if v.store == nil || v.hist != nil {
		return
	}
	h, err := history.Open(ctx, v.store, s.RoomName, v.identity())
	if err != nil {
		v.log.Warn("history_open_error", zap.String("room", s.RoomName), zap.Error(err))
		return
	}
	if h.GameNumber() != s.GameNumber {
		if err := h.Reset(ctx, s.GameNumber); err != nil {
			v.log.Warn("history_reset_error", zap.Error(err))
		}
	}
	v.hist = h
}

// SetBetting records the room's latest betting status.
func (v *View) SetBetting(st betting.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bet = &st
}

func (v *View) Betting() (betting.Status, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.bet == nil {
		return betting.Status{}, false
	}
	return *v.bet, true
}

// State returns a copy of the last applied snapshot.
func (v *View) State() *session.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.prev.Clone()
}

// Me returns this viewer's seat, or nil.
func (v *View) Me() *session.Player {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.prev == nil {
		return nil
	}
	if p := v.prev.PlayerByIdentity(v.wallet, v.playerID); p != nil {
		cp := *p
		return &cp
	}
	return nil
}

// Step moves the analysis cursor.
type Step string

const (
	StepFirst Step = "first"
	StepPrev  Step = "prev"
	StepNext  Step = "next"
	StepLast  Step = "last"
)

// Navigate moves through the move history and returns the new index with
// the position at it. Index -1 is the starting position.
func (v *View) Navigate(ctx context.Context, step Step) (int, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.hist == nil {
		return -1, "", ErrNoHistory
	}
	var (
		i   int
		err error
	)
	switch step {
	case StepFirst:
		i, err = v.hist.First(ctx)
	case StepPrev:
		i, err = v.hist.Prev(ctx)
	case StepNext:
		i, err = v.hist.Next(ctx)
	default:
		i, err = v.hist.Last(ctx)
	}
	if err != nil {
		return i, "", err
	}
	fen, err := v.hist.FEN()
	return i, fen, err
}

// Moves returns the recorded SAN moves and the cursor.
func (v *View) Moves() ([]string, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.hist == nil {
		return nil, -1
	}
	return v.hist.SANs(), v.hist.Index()
}

// Opening names the recorded line.
func (v *View) Opening() (code, title string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.hist == nil {
		return "", ""
	}
	return v.hist.Opening()
}

// Invites tracks rematch invitations addressed to this viewer.
func (v *View) Invites() *lobby.Invites { return v.invites }

// Event fills the sender fields of a new event.
func (v *View) Event(kind session.Kind) session.Event {
	return session.Event{Kind: kind, PlayerID: v.playerID, Wallet: v.wallet}
}

// PrepareMove validates a move locally. Nothing is sent on error.
func (v *View) PrepareMove(from, to, promotion string) (session.Event, rules.Proposal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.prev
	if s == nil || !s.IsActive {
		return session.Event{}, rules.Proposal{}, ErrNotActive
	}
	me := s.PlayerByIdentity(v.wallet, v.playerID)
	if me == nil {
		return session.Event{}, rules.Proposal{}, ErrNotSeated
	}
	if s.Turn != me.Color.Short() {
		return session.Event{}, rules.Proposal{}, ErrNotYourTurn
	}
	if v.bet != nil && v.bet.Required && !v.paidFor(me) {
		return session.Event{}, rules.Proposal{}, ErrPaymentPending
	}
	p := rules.ProposeMove(s.FEN, from, to, promotion)
	if !p.Accepted {
		return session.Event{}, p, ErrIllegalMove
	}
	ev := v.Event(session.KindMove)
	ev.From, ev.To, ev.Promotion = p.From, p.To, p.Promotion
	return ev, p, nil
}

// paidFor mirrors the server gate: the seat's recognized payer must be this wallet.
func (v *View) paidFor(me *session.Player) bool {
	payer := v.bet.WhitePlayer
	if me.Color == session.Black {
		payer = v.bet.BlackPlayer
	}
	return payer != "" && strings.EqualFold(payer, me.Wallet)
}

// VisibleChat returns the chat log without invitation messages.
func (v *View) VisibleChat() []session.ChatMessage {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.prev == nil {
		return nil
	}
	out := make([]session.ChatMessage, 0, len(v.prev.ChatLog))
	for _, m := range v.prev.ChatLog {
		if lobby.IsInvitation(m.Message) {
			continue
		}
		out = append(out, m)
	}
	return out
}
