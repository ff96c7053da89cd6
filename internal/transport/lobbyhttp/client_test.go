package lobbyhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/park285/betchess/pkg/roomdto"
)

func TestCreateAndList(t *testing.T) {
	var got roomdto.CreateRoomRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/rooms":
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(roomdto.CreateRoomResponse{Room: "chess-abc123", Password: "pw", GameTime: got.GameTime, Bet: got.Bet})
		case r.Method == http.MethodGet && r.URL.Path == "/rooms":
			_ = json.NewEncoder(w).Encode(roomdto.RoomList{Rooms: []roomdto.RoomSummary{{Room: "chess-abc123", State: "open"}}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	resp, err := c.CreateRoom(context.Background(), roomdto.CreateRoomRequest{Bet: "0.5", GameTime: 300})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if resp.Room != "chess-abc123" || resp.Password != "pw" || resp.GameTime != 300 || got.Bet != "0.5" {
		t.Fatalf("unexpected exchange: %+v %+v", resp, got)
	}
	rooms, err := c.ListRooms(context.Background())
	if err != nil || len(rooms) != 1 || rooms[0].State != "open" {
		t.Fatalf("ListRooms: %v %+v", err, rooms)
	}
}

func TestDomainErrorsAreDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("password") != "pw" {
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(roomdto.DomainError{Code: roomdto.CodeBadPassword, Message: "wrong room password"})
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Board(context.Background(), "r1", "nope", false)
	var derr roomdto.DomainError
	if !errors.As(err, &derr) || derr.Code != roomdto.CodeBadPassword {
		t.Fatalf("want bad_password, got %v", err)
	}
	png, err := c.Board(context.Background(), "r1", "pw", true)
	if err != nil || len(png) != 4 {
		t.Fatalf("Board: %v %v", err, png)
	}
}

func TestPlainStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Finalization(context.Background(), "r1")
	var derr roomdto.DomainError
	if !errors.As(err, &derr) || derr.Code != roomdto.CodeInternal {
		t.Fatalf("want internal error, got %v", err)
	}
}
