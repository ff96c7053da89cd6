package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/park285/betchess/internal/betting"
	"github.com/park285/betchess/internal/escrow"
	"github.com/park285/betchess/internal/history"
	"github.com/park285/betchess/internal/lobby"
	"github.com/park285/betchess/internal/msgcat"
	"github.com/park285/betchess/internal/obslog"
	"github.com/park285/betchess/internal/session"
	"github.com/park285/betchess/internal/transport/wsclient"
	"github.com/park285/betchess/pkg/roomdto"
)

// Phase is what the tab shows.
type Phase string

const (
	PhaseWelcome Phase = "welcome"
	PhaseGame    Phase = "game"
)

var (
	ErrNotInRoom     = errors.New("client: not in a room")
	ErrNoEscrow      = errors.New("client: no escrow contract configured")
	ErrNoWallet      = errors.New("client: wallet not connected")
	ErrNoEscrowGame  = errors.New("client: room has no escrow game yet")
	ErrAlreadyInRoom = errors.New("client: already in a room")
)

// Transport is a room connection. *wsclient.Conn implements it.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, typ string, payload any) error
	OnFrame(cb wsclient.FrameCallback) int
	OnStateChange(cb wsclient.StateCallback) int
	State() wsclient.State
	Close(ctx context.Context) error
}

// Dialer opens a transport to a room.
type Dialer func(room, password string) (Transport, error)

// networkChecker is implemented by contracts bound to a chain.
type networkChecker interface {
	CheckNetwork(ctx context.Context) error
}

type SessionConfig struct {
	Wallet   string
	PlayerID string
	Dial     Dialer
	History  history.Store
	Catalog  *msgcat.Catalog
	// Escrow signs pay and claim calls for Wallet. Optional.
	Escrow escrow.Contract
	// Rooms and Rematch back bet rematches. Optional.
	Rooms          lobby.Rooms
	RematchTimeout time.Duration
	CallTimeout    time.Duration

	OnUpdate  func(Update)
	OnStatus  func(status wsclient.State, text string)
	OnBetting func(betting.Status)
}

// Session is one player tab: a welcome screen until it joins a room, then a
// game bound to one transport.
type Session struct {
	cfg SessionConfig
	log *zap.Logger

	mu       sync.Mutex
	phase    Phase
	room     string
	password string
	conn     Transport
	view     *View
	status   wsclient.State
	saga     *lobby.RematchSaga
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Catalog == nil {
		cfg.Catalog = msgcat.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 20 * time.Second
	}
	if cfg.PlayerID == "" {
		cfg.PlayerID = "p-" + strings.TrimPrefix(strings.ToLower(cfg.Wallet), "0x")
	}
	return &Session{
		cfg:    cfg,
		log:    obslog.Named("client"),
		phase:  PhaseWelcome,
		status: wsclient.StateDisconnected,
	}
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) Room() (name, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.password
}

func (s *Session) Status() wsclient.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// View returns the current room view, or nil on the welcome screen.
func (s *Session) View() *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// JoinInput joins from "room" or "room:password".
func (s *Session) JoinInput(ctx context.Context, input string) error {
	room, pw, err := lobby.ParseJoinInput(input)
	if err != nil {
		return err
	}
	return s.Join(ctx, room, pw)
}

// AutoJoin joins the room named in a share link once a wallet is connected.
// It reports whether a join was attempted. On failure the tab stays on the
// welcome screen.
func (s *Session) AutoJoin(ctx context.Context, q url.Values, walletConnected bool) (bool, error) {
	room, pw, ok := lobby.FromQuery(q)
	if !ok || !walletConnected {
		return false, nil
	}
	if err := s.Join(ctx, room, pw); err != nil {
		s.notifyStatus(wsclient.StateFailed, s.cfg.Catalog.Text("status.auto_join_failed", map[string]any{"Room": room}))
		return true, err
	}
	return true, nil
}

// Join opens the room and registers this player once connected.
func (s *Session) Join(ctx context.Context, room, password string) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return ErrAlreadyInRoom
	}
	s.mu.Unlock()

	conn, err := s.cfg.Dial(room, password)
	if err != nil {
		return err
	}
	view := NewView(s.cfg.Wallet, s.cfg.PlayerID, s.cfg.History)

	s.mu.Lock()
	s.room, s.password = room, password
	s.conn, s.view = conn, view
	s.phase = PhaseGame
	s.mu.Unlock()

	conn.OnFrame(func(f roomdto.Frame) { s.handleFrame(conn, f) })
	conn.OnStateChange(func(st wsclient.State) { s.handleState(conn, st) })
	if err := conn.Connect(ctx); err != nil {
		s.log.Warn("join_failed", zap.String("room", room), zap.Error(err))
		s.reset(conn)
		_ = conn.Close(context.Background())
		return fmt.Errorf("join %s: %w", room, err)
	}
	s.log.Info("join_room", zap.String("room", room), zap.String("wallet", s.cfg.Wallet))
	return nil
}

// Leave marks this player offline and returns to the welcome screen.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	conn, view := s.conn, s.view
	s.mu.Unlock()
	if conn == nil {
		return ErrNotInRoom
	}
	_ = conn.Send(ctx, string(session.KindLeave), payloadOf(view.Event(session.KindLeave)))
	s.reset(conn)
	return conn.Close(ctx)
}

func (s *Session) reset(conn Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return
	}
	s.conn, s.view = nil, nil
	s.room, s.password = "", ""
	s.phase = PhaseWelcome
	s.status = wsclient.StateDisconnected
}

func (s *Session) handleState(conn Transport, st wsclient.State) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.status = st
	room, view := s.room, s.view
	s.mu.Unlock()

	if st == wsclient.StateConnected {
		// every (re)connect re-registers; joins are idempotent
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := conn.Send(ctx, string(session.KindJoin), payloadOf(view.Event(session.KindJoin))); err != nil {
			s.log.Warn("join_send_error", zap.String("room", room), zap.Error(err))
		}
		cancel()
	}
	s.notifyStatus(st, s.cfg.Catalog.Text("status."+string(st), map[string]any{"Room": room}))
	if st == wsclient.StateFailed {
		// redials are exhausted; back to the welcome screen
		s.reset(conn)
		go func() { _ = conn.Close(context.Background()) }()
	}
}

func (s *Session) notifyStatus(st wsclient.State, text string) {
	if s.cfg.OnStatus != nil {
		s.cfg.OnStatus(st, text)
	}
}

func (s *Session) handleFrame(conn Transport, f roomdto.Frame) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	view := s.view
	s.mu.Unlock()

	switch f.Type {
	case roomdto.FrameGameState:
		var st session.State
		if err := json.Unmarshal(f.Payload, &st); err != nil {
			s.log.Warn("bad_game_state", zap.Error(err))
			return
		}
		u := view.Apply(context.Background(), &st)
		if u.NeedsRejoin {
			s.log.Info("rejoin", zap.String("room", st.RoomName))
			s.notifyStatus(wsclient.StateReconnecting, s.cfg.Catalog.Text("status.reconnecting", map[string]any{"Room": st.RoomName}))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = conn.Send(ctx, string(session.KindJoin), payloadOf(view.Event(session.KindJoin)))
			cancel()
		}
		if s.cfg.OnUpdate != nil {
			s.cfg.OnUpdate(u)
		}
	case roomdto.FrameBetting:
		var st betting.Status
		if err := json.Unmarshal(f.Payload, &st); err != nil {
			s.log.Warn("bad_betting_status", zap.Error(err))
			return
		}
		view.SetBetting(st)
		if s.cfg.OnBetting != nil {
			s.cfg.OnBetting(st)
		}
	case roomdto.FrameError:
		var de roomdto.DomainError
		_ = json.Unmarshal(f.Payload, &de)
		s.log.Warn("server_error", zap.String("code", de.Code), zap.String("message", de.Message))
	}
}

func (s *Session) active() (Transport, *View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, nil, ErrNotInRoom
	}
	return s.conn, s.view, nil
}

func (s *Session) send(ctx context.Context, ev session.Event) error {
	conn, _, err := s.active()
	if err != nil {
		return err
	}
	return conn.Send(ctx, string(ev.Kind), payloadOf(ev))
}

func payloadOf(ev session.Event) roomdto.EventPayload {
	return roomdto.EventPayload{
		PlayerID:  ev.PlayerID,
		Wallet:    ev.Wallet,
		From:      ev.From,
		To:        ev.To,
		Promotion: ev.Promotion,
		Message:   ev.Message,
		Accepted:  ev.Accepted,
		Seconds:   ev.Seconds,
	}
}

// Move pre-flights and sends a move. Rejected moves are logged and not sent.
func (s *Session) Move(ctx context.Context, from, to, promotion string) error {
	_, view, err := s.active()
	if err != nil {
		return err
	}
	ev, _, err := view.PrepareMove(from, to, promotion)
	if err != nil {
		s.log.Warn("move_rejected", zap.String("from", from), zap.String("to", to), zap.Error(err))
		return err
	}
	return s.send(ctx, ev)
}

// Act sends a non-move event from this player.
func (s *Session) Act(ctx context.Context, kind session.Kind, fill func(*session.Event)) error {
	_, view, err := s.active()
	if err != nil {
		return err
	}
	ev := view.Event(kind)
	if fill != nil {
		fill(&ev)
	}
	return s.send(ctx, ev)
}

func (s *Session) Chat(ctx context.Context, msg string) error {
	return s.Act(ctx, session.KindChat, func(ev *session.Event) { ev.Message = msg })
}

func (s *Session) OfferDraw(ctx context.Context) error { return s.Act(ctx, session.KindOfferDraw, nil) }

func (s *Session) RespondDraw(ctx context.Context, accept bool) error {
	return s.Act(ctx, session.KindRespondDraw, func(ev *session.Event) { ev.Accepted = accept })
}

func (s *Session) Resign(ctx context.Context) error { return s.Act(ctx, session.KindResign, nil) }

func (s *Session) SetGameTime(ctx context.Context, seconds int) error {
	return s.Act(ctx, session.KindSetGameTime, func(ev *session.Event) { ev.Seconds = seconds })
}

func (s *Session) RespondRematch(ctx context.Context, accept bool) error {
	return s.Act(ctx, session.KindRespondRematch, func(ev *session.Event) { ev.Accepted = accept })
}

// Rematch asks for another game. Free rooms rematch in place. Bet rooms
// create a new funded room, post an invitation in chat and move this tab
// into the new room, where the funder plays white.
func (s *Session) Rematch(ctx context.Context) (*lobby.Invitation, error) {
	_, view, err := s.active()
	if err != nil {
		return nil, err
	}
	st := view.State()
	if st == nil || !hasBet(st.BetAmount) {
		return nil, s.Act(ctx, session.KindRequestRematch, nil)
	}

	s.mu.Lock()
	if s.saga != nil {
		if cur, _ := s.saga.State(); !cur.Terminal() {
			s.mu.Unlock()
			return nil, lobby.ErrSagaUsed
		}
	}
	saga := lobby.NewRematchSaga(lobby.SagaConfig{
		Rooms:   s.cfg.Rooms,
		Escrow:  s.cfg.Escrow,
		Send:    s.Chat,
		Timeout: s.cfg.RematchTimeout,
	})
	s.saga = saga
	s.mu.Unlock()

	inv, err := saga.Run(ctx, lobby.RematchRequest{
		PrevRoom: st.RoomName,
		Creator:  s.cfg.Wallet,
		Bet:      st.BetAmount,
		GameTime: st.GameTimeLimit,
	})
	if err != nil {
		return nil, err
	}
	if err := s.Leave(ctx); err != nil && !errors.Is(err, ErrNotInRoom) {
		s.log.Warn("rematch_leave_error", zap.String("room", st.RoomName), zap.Error(err))
	}
	if err := s.Join(ctx, inv.Room, inv.Password); err != nil {
		return &inv, err
	}
	return &inv, nil
}

func hasBet(amount string) bool {
	wei, err := betting.ParseEther(amount)
	return err == nil && wei.Sign() > 0
}

// AcceptInvitation leaves the current room and joins the invited one.
func (s *Session) AcceptInvitation(ctx context.Context) (*lobby.Invite, error) {
	_, view, err := s.active()
	if err != nil {
		return nil, err
	}
	iv, err := view.Invites().Accept(view.identity())
	if err != nil {
		return nil, err
	}
	if err := s.Leave(ctx); err != nil {
		return iv, err
	}
	return iv, s.Join(ctx, iv.Invitation.Room, iv.Invitation.Password)
}

func (s *Session) DeclineInvitation() (*lobby.Invite, error) {
	_, view, err := s.active()
	if err != nil {
		return nil, err
	}
	return view.Invites().Decline(view.identity())
}

// Pay sends this player's stake for the current room.
func (s *Session) Pay(ctx context.Context) (escrow.TxRef, error) {
	_, view, err := s.active()
	if err != nil {
		return escrow.TxRef{}, err
	}
	from, err := s.signer(ctx)
	if err != nil {
		return escrow.TxRef{}, err
	}
	st := view.State()
	bet, err := betting.ParseEther(st.BetAmount)
	if err != nil {
		return escrow.TxRef{}, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	ref, err := s.cfg.Escrow.JoinGameByRoom(cctx, from, st.RoomName, bet)
	if err != nil {
		return escrow.TxRef{}, err
	}
	s.log.Info("bet_paid", zap.String("room", st.RoomName), zap.String("tx", ref.Hash.Hex()))
	return ref, nil
}

// Claim collects winnings or a draw refund for the current room.
func (s *Session) Claim(ctx context.Context) (betting.ClaimReceipt, error) {
	_, view, err := s.active()
	if err != nil {
		return betting.ClaimReceipt{}, err
	}
	if _, err := s.signer(ctx); err != nil {
		return betting.ClaimReceipt{}, err
	}
	st, ok := view.Betting()
	if !ok || st.GameID == "" {
		return betting.ClaimReceipt{}, ErrNoEscrowGame
	}
	id, ok := new(big.Int).SetString(st.GameID, 10)
	if !ok {
		return betting.ClaimReceipt{}, ErrNoEscrowGame
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return betting.Collect(cctx, s.cfg.Escrow, id, s.cfg.Wallet)
}

// signer checks that a chain call can be made for this wallet.
func (s *Session) signer(ctx context.Context) (common.Address, error) {
	if s.cfg.Escrow == nil {
		return common.Address{}, ErrNoEscrow
	}
	from, ok := betting.ParseWallet(s.cfg.Wallet)
	if !ok {
		return common.Address{}, ErrNoWallet
	}
	if nc, ok := s.cfg.Escrow.(networkChecker); ok {
		if err := nc.CheckNetwork(ctx); err != nil {
			return common.Address{}, err
		}
	}
	return from, nil
}

// StatusText renders a chain error for the player.
func (s *Session) StatusText(err error, chainID int64) string {
	return betting.DescribeChainError(s.cfg.Catalog, err, chainID)
}

// Close leaves the room if any.
func (s *Session) Close(ctx context.Context) error {
	if err := s.Leave(ctx); err != nil && !errors.Is(err, ErrNotInRoom) {
		return err
	}
	return nil
}
