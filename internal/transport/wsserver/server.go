package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/park285/betchess/internal/betting"
	"github.com/park285/betchess/internal/lobby"
	"github.com/park285/betchess/internal/msgcat"
	"github.com/park285/betchess/internal/obslog"
	"github.com/park285/betchess/internal/room"
	"github.com/park285/betchess/pkg/roomdto"
)

// Rooms is the lobby registry surface the server uses.
type Rooms interface {
	Allocate(ctx context.Context, meta *lobby.RoomMeta) (*lobby.RoomMeta, error)
	MarkClosed(ctx context.Context, name string) error
	ListOpen(ctx context.Context) ([]*lobby.RoomMeta, error)
	Seat(ctx context.Context, name, wallet string) (int64, error)
}

// Finalizations answers finalizer status queries.
type Finalizations interface {
	StatusByRoom(room string) (betting.Job, bool)
}

// HealthCheck reports one dependency. A nil error is healthy.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Hub *room.Hub
	// Rooms, Escrow and Finalizer are optional.
	Rooms     Rooms
	Escrow    lobby.GameCreator
	Finalizer Finalizations
	Catalog   *msgcat.Catalog

	PublicBaseURL   string
	InstanceID      string
	DefaultGameTime int
	MaxRooms        int
	AllowedOrigins  []string
	CallTimeout     time.Duration
	ChainID         int64
	Checks          map[string]HealthCheck
}

// Server exposes rooms over WebSocket and the lobby over plain HTTP.
type Server struct {
	cfg      Config
	log      *zap.Logger
	validate *validator.Validate
	mux      *http.ServeMux
}

func New(cfg Config) *Server {
	if cfg.Catalog == nil {
		cfg.Catalog = msgcat.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 20 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		log:      obslog.Named("wsserver"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.HandleFunc("POST /rooms", s.handleCreateRoom)
	s.mux.HandleFunc("GET /rooms", s.handleListRooms)
	s.mux.HandleFunc("GET /rooms/{name}/board.png", s.handleBoard)
	s.mux.HandleFunc("GET /rooms/{name}/finalization", s.handleFinalization)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http_listen", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http_shutdown", zap.Error(err))
		return err
	}
	s.log.Info("http_stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := roomdto.Health{Status: "ok", Instance: s.cfg.InstanceID, Rooms: len(s.cfg.Hub.Names())}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	names := make([]string, 0, len(s.cfg.Checks))
	for name := range s.cfg.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.cfg.Checks[name](ctx); err != nil {
			s.log.Warn("health_check_failed", zap.String("check", name), zap.Error(err))
			out.Status = "degraded"
			out.Checks = append(out.Checks, name)
		}
	}
	code := http.StatusOK
	if out.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, out)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, derr roomdto.DomainError) {
	writeJSON(w, code, derr)
}

// classify maps room and lobby errors onto HTTP status and wire codes.
func classify(err error) (int, roomdto.DomainError) {
	switch {
	case errors.Is(err, room.ErrBadPassword), errors.Is(err, lobby.ErrBadPassword):
		return http.StatusForbidden, roomdto.DomainError{Code: roomdto.CodeBadPassword, Message: "wrong room password"}
	case errors.Is(err, room.ErrInvalidName), errors.Is(err, lobby.ErrInvalidArgs):
		return http.StatusBadRequest, roomdto.DomainError{Code: roomdto.CodeBadRequest, Message: "invalid room name"}
	case errors.Is(err, lobby.ErrRoomNotFound):
		return http.StatusNotFound, roomdto.DomainError{Code: roomdto.CodeNotFound, Message: "room not found"}
	case errors.Is(err, lobby.ErrRoomClosed), errors.Is(err, room.ErrRoomClosed):
		return http.StatusGone, roomdto.DomainError{Code: roomdto.CodeRoomClosed, Message: "room is closed"}
	case errors.Is(err, lobby.ErrRoomFull):
		return http.StatusConflict, roomdto.DomainError{Code: roomdto.CodeRoomFull, Message: "room is full"}
	case errors.Is(err, room.ErrRoomHeldElsewhere):
		return http.StatusConflict, roomdto.DomainError{Code: roomdto.CodeElsewhere, Message: "room is hosted by another instance", Retryable: true}
	case errors.Is(err, room.ErrHubClosed), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, roomdto.DomainError{Code: roomdto.CodeUnavailable, Message: "service unavailable", Retryable: true}
	default:
		return http.StatusInternalServerError, roomdto.DomainError{Code: roomdto.CodeInternal, Message: "internal error"}
	}
}
