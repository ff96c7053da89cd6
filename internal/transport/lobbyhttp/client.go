// Package lobbyhttp calls the room server's HTTP lobby.
package lobbyhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/betchess/internal/betting"
	"github.com/park285/betchess/pkg/roomdto"
)

type Client struct {
	baseURL string
	http    *fasthttp.Client
	timeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second},
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// CreateRoom registers a room and returns its credentials.
func (c *Client) CreateRoom(ctx context.Context, req roomdto.CreateRoomRequest) (*roomdto.CreateRoomResponse, error) {
	var out roomdto.CreateRoomResponse
	if err := c.do(ctx, fasthttp.MethodPost, "/rooms", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRooms returns rooms still waiting for an opponent.
func (c *Client) ListRooms(ctx context.Context) ([]roomdto.RoomSummary, error) {
	var out roomdto.RoomList
	if err := c.do(ctx, fasthttp.MethodGet, "/rooms", nil, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

// Board fetches the PNG of a running room.
func (c *Client) Board(ctx context.Context, room, password string, flip bool) ([]byte, error) {
	q := url.Values{}
	q.Set("password", password)
	if flip {
		q.Set("flip", "1")
	}
	var png []byte
	err := c.exchange(ctx, fasthttp.MethodGet, "/rooms/"+url.PathEscape(room)+"/board.png?"+q.Encode(), nil, func(body []byte) error {
		png = append([]byte(nil), body...)
		return nil
	})
	return png, err
}

// Finalization returns the on-chain recording progress of a room's result.
func (c *Client) Finalization(ctx context.Context, room string) (*betting.Job, error) {
	var job betting.Job
	if err := c.do(ctx, fasthttp.MethodGet, "/rooms/"+url.PathEscape(room)+"/finalization", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = b
	}
	return c.exchange(ctx, method, path, payload, func(body []byte) error {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

func (c *Client) exchange(ctx context.Context, method, path string, payload []byte, read func([]byte) error) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if payload != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}
	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return fmt.Errorf("lobby request failed: %w", err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		var derr roomdto.DomainError
		if json.Unmarshal(resp.Body(), &derr) == nil && (derr.Code != "" || derr.Message != "") {
			return derr
		}
		return roomdto.DomainError{Code: roomdto.CodeInternal, Message: fmt.Sprintf("lobby status %d", status)}
	}
	return read(resp.Body())
}

func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}
