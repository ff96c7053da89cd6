package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/betchess/internal/betting"
	"github.com/park285/betchess/internal/lobby"
	"github.com/park285/betchess/internal/room"
	"github.com/park285/betchess/internal/session"
	"github.com/park285/betchess/pkg/roomdto"
)

const (
	readLimit    = 1 << 16
	writeTimeout = 5 * time.Second
)

var clientKinds = func() map[string]session.Kind {
	m := make(map[string]session.Kind, len(session.Kinds))
	for _, k := range session.Kinds {
		m[string(k)] = k
	}
	return m
}()

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	name, password, ok := lobby.FromQuery(r.URL.Query())
	if !ok {
		writeError(w, http.StatusBadRequest, roomdto.DomainError{Code: roomdto.CodeBadRequest, Message: "room is required"})
		return
	}
	if _, running := s.cfg.Hub.Get(name); !running && s.cfg.MaxRooms > 0 && len(s.cfg.Hub.Names()) >= s.cfg.MaxRooms {
		s.log.Warn("room_limit", zap.String("room", name), zap.Int("max", s.cfg.MaxRooms))
		writeError(w, http.StatusServiceUnavailable, roomdto.DomainError{Code: roomdto.CodeUnavailable, Message: "too many rooms", Retryable: true})
		return
	}
	rm, err := s.cfg.Hub.Open(r.Context(), name, password, room.Options{GameTime: s.cfg.DefaultGameTime})
	if err != nil {
		code, derr := classify(err)
		s.log.Info("ws_open_rejected", zap.String("room", name), zap.Error(err))
		writeError(w, code, derr)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		s.log.Warn("ws_accept_failed", zap.String("room", name), zap.Error(err))
		return
	}
	conn.SetReadLimit(readLimit)

	p := &peer{
		srv:  s,
		conn: conn,
		room: rm,
		log:  s.log.With(zap.String("room", name)),
	}
	p.serve(r.Context())
}

// peer is one websocket client attached to a room.
type peer struct {
	srv  *Server
	conn *websocket.Conn
	room *room.Room
	log  *zap.Logger

	mu       sync.Mutex
	playerID string
	wallet   string
}

func (p *peer) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	updates, unsubscribe := p.room.Subscribe()
	defer unsubscribe()
	p.log.Debug("ws_attach")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.writeLoop(ctx, updates)
		cancel()
	}()

	err := p.readLoop(ctx)
	cancel()
	wg.Wait()
	p.leave()

	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		p.log.Debug("ws_detach")
	} else {
		p.log.Info("ws_detach", zap.Error(err))
	}
	select {
	case <-p.room.Done():
		_ = p.conn.Close(websocket.StatusGoingAway, "room closed")
	default:
		_ = p.conn.Close(websocket.StatusNormalClosure, "")
	}
}

// writeLoop forwards room updates until the subscription or ctx ends.
func (p *peer) writeLoop(ctx context.Context, updates <-chan room.Update) {
	var lastBetting *betting.Status
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := p.write(ctx, roomdto.FrameGameState, u.State); err != nil {
				return
			}
			if u.Betting != nil && (lastBetting == nil || *lastBetting != *u.Betting) {
				if err := p.write(ctx, roomdto.FrameBetting, u.Betting); err != nil {
					return
				}
				lastBetting = u.Betting
			}
		}
	}
}

func (p *peer) write(ctx context.Context, typ string, payload any) error {
	frame, err := roomdto.NewFrame(typ, payload)
	if err != nil {
		p.log.Error("ws_encode_failed", zap.String("type", typ), zap.Error(err))
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, p.conn, frame)
}

func (p *peer) readLoop(ctx context.Context) error {
	for {
		typ, data, err := p.conn.Read(ctx)
		if err != nil {
			return err
		}
		var frame roomdto.Frame
		if typ != websocket.MessageText || json.Unmarshal(data, &frame) != nil {
			p.reject(ctx, roomdto.CodeBadFrame, "frame is not valid JSON")
			continue
		}
		ev, derr := p.decode(frame)
		if derr != nil {
			p.reject(ctx, derr.Code, derr.Message)
			continue
		}
		if ev.Kind == session.KindUpdateTimer {
			// the room runs its own clock
			continue
		}
		ev, ok := p.bind(ctx, ev)
		if !ok {
			p.log.Warn("ws_identity_rejected",
				zap.String("kind", string(ev.Kind)),
				zap.String("player_id", ev.PlayerID),
				zap.String("wallet", ev.Wallet))
			continue
		}
		if err := p.room.Publish(ctx, ev); err != nil {
			return err
		}
	}
}

func (p *peer) decode(frame roomdto.Frame) (session.Event, *roomdto.DomainError) {
	kind, ok := clientKinds[frame.Type]
	if !ok {
		return session.Event{}, &roomdto.DomainError{Code: roomdto.CodeUnknownType, Message: "unknown frame type " + frame.Type}
	}
	var pl roomdto.EventPayload
	if len(frame.Payload) > 0 && string(frame.Payload) != "null" {
		if err := json.Unmarshal(frame.Payload, &pl); err != nil {
			return session.Event{}, &roomdto.DomainError{Code: roomdto.CodeBadFrame, Message: "payload does not decode"}
		}
	}
	if err := p.srv.validate.Struct(pl); err != nil {
		return session.Event{}, &roomdto.DomainError{Code: roomdto.CodeBadFrame, Message: describeValidation(err)}
	}
	return session.Event{
		Kind:      kind,
		PlayerID:  strings.TrimSpace(pl.PlayerID),
		Wallet:    strings.TrimSpace(pl.Wallet),
		From:      strings.ToLower(pl.From),
		To:        strings.ToLower(pl.To),
		Promotion: pl.Promotion,
		Message:   pl.Message,
		Accepted:  pl.Accepted,
		Seconds:   pl.Seconds,
	}, nil
}

// bind ties the peer to the identity of its first join. Later events act
// as that identity. Events before a join, and events naming someone else,
// are refused.
func (p *peer) bind(ctx context.Context, ev session.Event) (session.Event, bool) {
	p.mu.Lock()
	bound := p.playerID != "" || p.wallet != ""
	switch {
	case !bound && ev.Kind == session.KindJoin:
		if ev.PlayerID == "" && ev.Wallet == "" {
			p.mu.Unlock()
			return ev, false
		}
		p.playerID, p.wallet = ev.PlayerID, ev.Wallet
	case !bound:
		p.mu.Unlock()
		return ev, false
	case !p.sameIdentityLocked(ev):
		p.mu.Unlock()
		return ev, false
	}
	ev.PlayerID, ev.Wallet = p.playerID, p.wallet
	p.mu.Unlock()

	if ev.Kind == session.KindJoin && ev.Wallet != "" && p.srv.cfg.Rooms != nil {
		if _, err := p.srv.cfg.Rooms.Seat(ctx, p.room.Name(), ev.Wallet); err != nil && !errors.Is(err, lobby.ErrRoomFull) {
			p.log.Warn("seat_index_failed", zap.String("wallet", ev.Wallet), zap.Error(err))
		}
	}
	return ev, true
}

// sameIdentityLocked reports whether ev names the bound player. Blank fields
// match and are filled in from the binding.
func (p *peer) sameIdentityLocked(ev session.Event) bool {
	if ev.Wallet != "" && !strings.EqualFold(ev.Wallet, p.wallet) {
		return false
	}
	return ev.PlayerID == "" || ev.PlayerID == p.playerID
}

// leave marks the peer's player as disconnected.
func (p *peer) leave() {
	p.mu.Lock()
	ev := session.Event{Kind: session.KindLeave, PlayerID: p.playerID, Wallet: p.wallet}
	p.mu.Unlock()
	if ev.PlayerID == "" && ev.Wallet == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := p.room.Publish(ctx, ev); err != nil && !errors.Is(err, room.ErrRoomClosed) {
		p.log.Warn("leave_publish_failed", zap.Error(err))
	}
}

func (p *peer) reject(ctx context.Context, code, msg string) {
	p.log.Info("ws_frame_rejected", zap.String("code", code), zap.String("reason", msg))
	_ = p.write(ctx, roomdto.FrameError, roomdto.DomainError{Code: code, Message: msg})
}
