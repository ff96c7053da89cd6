package wsserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/park285/betchess/internal/betting"
	"github.com/park285/betchess/internal/boardimg"
	"github.com/park285/betchess/internal/lobby"
	"github.com/park285/betchess/internal/session"
	"github.com/park285/betchess/pkg/roomdto"
)

const maxBody = 16 << 10

func describeValidation(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return fmt.Sprintf("%s failed %s", ve[0].Field(), ve[0].Tag())
	}
	return "invalid payload"
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req roomdto.CreateRoomRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, roomdto.DomainError{Code: roomdto.CodeBadRequest, Message: "body must be JSON"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, roomdto.DomainError{Code: roomdto.CodeBadRequest, Message: describeValidation(err)})
		return
	}
	bet, err := betting.ParseEther(req.Bet)
	if err != nil {
		writeError(w, http.StatusBadRequest, roomdto.DomainError{Code: roomdto.CodeBadRequest, Message: "bet must be a positive ether amount"})
		return
	}
	gameTime := req.GameTime
	if gameTime == 0 {
		gameTime = s.cfg.DefaultGameTime
	}
	if gameTime == 0 {
		gameTime = session.DefaultGameTime
	}
	meta := &lobby.RoomMeta{
		Name:          strings.TrimSpace(req.Name),
		Password:      req.Password,
		CreatorWallet: strings.ToLower(req.Wallet),
		GameTime:      gameTime,
	}
	if bet.Sign() > 0 {
		meta.Bet = betting.FormatEther(bet)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.CallTimeout)
	defer cancel()
	if err := s.allocate(ctx, meta); err != nil {
		code, derr := classify(err)
		if errors.Is(err, lobby.ErrRoomExists) {
			code, derr = http.StatusConflict, roomdto.DomainError{Code: roomdto.CodeBadRequest, Message: "room name is taken"}
		}
		s.log.Warn("room_create_failed", zap.Error(err))
		writeError(w, code, derr)
		return
	}

	resp := roomdto.CreateRoomResponse{Room: meta.Name, Password: meta.Password, Bet: meta.Bet, GameTime: meta.GameTime}
	if bet.Sign() > 0 && s.cfg.Escrow != nil && req.Wallet != "" {
		tx, err := s.cfg.Escrow.CreateGame(ctx, common.HexToAddress(req.Wallet), meta.Name, bet)
		if err != nil {
			s.closeRoom(meta.Name)
			s.log.Warn("escrow_create_failed", zap.String("room", meta.Name), zap.Error(err))
			writeError(w, http.StatusBadGateway, roomdto.DomainError{
				Code:    roomdto.CodeUnavailable,
				Message: betting.DescribeChainError(s.cfg.Catalog, err, s.cfg.ChainID),
			})
			return
		}
		resp.TxHash = tx.Hash.Hex()
	}
	resp.ShareURL, err = lobby.ShareURL(s.baseURL(r), meta.Name, meta.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, roomdto.DomainError{Code: roomdto.CodeInternal, Message: "bad public base url"})
		return
	}
	s.log.Info("room_created", zap.String("room", meta.Name), zap.String("bet", meta.Bet), zap.Int("game_time", meta.GameTime))
	writeJSON(w, http.StatusCreated, resp)
}

// allocate registers meta in the lobby, or only fills name and password
// when the server runs without one.
func (s *Server) allocate(ctx context.Context, meta *lobby.RoomMeta) error {
	if s.cfg.Rooms != nil {
		_, err := s.cfg.Rooms.Allocate(ctx, meta)
		return err
	}
	if meta.Name == "" {
		name, err := lobby.NewRoomName()
		if err != nil {
			return err
		}
		meta.Name = name
	}
	if meta.Password == "" {
		pw, err := lobby.NewPassword()
		if err != nil {
			return err
		}
		meta.Password = pw
	}
	return nil
}

func (s *Server) closeRoom(name string) {
	if s.cfg.Rooms == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
	defer cancel()
	if err := s.cfg.Rooms.MarkClosed(ctx, name); err != nil {
		s.log.Warn("room_close_failed", zap.String("room", name), zap.Error(err))
	}
}

func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.PublicBaseURL != "" {
		return s.cfg.PublicBaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/"
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	out := roomdto.RoomList{Rooms: []roomdto.RoomSummary{}}
	if s.cfg.Rooms != nil {
		metas, err := s.cfg.Rooms.ListOpen(r.Context())
		if err != nil {
			code, derr := classify(err)
			writeError(w, code, derr)
			return
		}
		for _, m := range metas {
			out.Rooms = append(out.Rooms, roomdto.RoomSummary{
				Room:      m.Name,
				State:     string(m.State),
				Bet:       m.Bet,
				GameTime:  m.GameTime,
				Players:   nonNil(m.Wallets),
				CreatedAt: m.CreatedAt.UnixMilli(),
			})
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	for _, name := range s.cfg.Hub.Names() {
		rm, ok := s.cfg.Hub.Get(name)
		if !ok {
			continue
		}
		st := rm.Snapshot()
		if st == nil || st.Phase() != session.PhaseWaiting || len(st.Players) >= 2 {
			continue
		}
		players := []string{}
		for _, p := range st.Players {
			players = append(players, p.Wallet)
		}
		out.Rooms = append(out.Rooms, roomdto.RoomSummary{
			Room:      name,
			State:     string(lobby.StateOpen),
			Bet:       st.BetAmount,
			GameTime:  st.GameTimeLimit,
			Players:   players,
			CreatedAt: st.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// handleBoard renders the running room's position. The room password is
// required as a query parameter.
func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	rm, ok := s.cfg.Hub.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, roomdto.DomainError{Code: roomdto.CodeNotFound, Message: "room is not running here"})
		return
	}
	st := rm.Snapshot()
	if subtle.ConstantTimeCompare([]byte(st.RoomPassword), []byte(r.URL.Query().Get("password"))) != 1 {
		writeError(w, http.StatusForbidden, roomdto.DomainError{Code: roomdto.CodeBadPassword, Message: "wrong room password"})
		return
	}
	opts := boardimg.Options{
		Flip:   r.URL.Query().Get("flip") == "1",
		Header: boardHeader(st),
	}
	if st.LastMove != nil {
		opts.Highlight = &boardimg.Highlight{From: st.LastMove.From, To: st.LastMove.To}
	}
	png, err := boardimg.RenderPNG(r.Context(), st.FEN, opts)
	if err != nil {
		s.log.Error("board_render_failed", zap.String("room", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, roomdto.DomainError{Code: roomdto.CodeInternal, Message: "render failed"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func boardHeader(st *session.State) string {
	label := func(c session.Color) string {
		p := st.PlayerByColor(c)
		if p == nil {
			return "-"
		}
		if p.Wallet != "" && len(p.Wallet) > 10 {
			return p.Wallet[:6] + ".." + p.Wallet[len(p.Wallet)-4:]
		}
		if p.Wallet != "" {
			return p.Wallet
		}
		return p.ID
	}
	return fmt.Sprintf("%s  #%d  %s vs %s", st.RoomName, st.GameNumber, label(session.White), label(session.Black))
}

func (s *Server) handleFinalization(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Finalizer == nil {
		writeError(w, http.StatusNotFound, roomdto.DomainError{Code: roomdto.CodeNotFound, Message: "betting is not enabled"})
		return
	}
	job, ok := s.cfg.Finalizer.StatusByRoom(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, roomdto.DomainError{Code: roomdto.CodeNotFound, Message: "no finalization for room"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}
