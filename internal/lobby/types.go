package lobby

import "time"

// RoomState is the lifecycle of a registered room.
type RoomState string

const (
    StateOpen    RoomState = "OPEN"
    StateStarted RoomState = "STARTED"
    StateClosed  RoomState = "CLOSED"
)

// RoomMeta is stored as JSON in Redis under room:<name>.
type RoomMeta struct {
    Name      string    `json:"name"`
    Password  string    `json:"password"`
    State     RoomState `json:"state"`
    CreatedAt time.Time `json:"created_at"`

    CreatorWallet string `json:"creator_wallet,omitempty"`
    Bet           string `json:"bet,omitempty"`
    GameTime      int    `json:"game_time,omitempty"`

    // RematchOf names the room this one continues, if any.
    RematchOf string   `json:"rematch_of,omitempty"`
    Wallets   []string `json:"wallets,omitempty"`
}

// Public strips the password for listings.
func (m *RoomMeta) Public() *RoomMeta {
    if m == nil { return nil }
    cp := *m
    cp.Password = ""
    cp.Wallets = append([]string(nil), m.Wallets...)
    return &cp
}

// Errors
var (
    ErrInvalidArgs   = errf("invalid arguments")
    ErrRoomExists    = errf("room already exists")
    ErrRoomNotFound  = errf("room not found or expired")
    ErrBadPassword   = errf("wrong room password")
    ErrRoomFull      = errf("room already has two players")
    ErrRoomClosed    = errf("room is closed")
    ErrNameExhausted = errf("failed to allocate room name")
    ErrNotInvitation = errf("message is not a rematch invitation")
    ErrNoPending     = errf("no pending invitation for wallet")
    ErrSelfInvite    = errf("cannot invite yourself")
    ErrSagaUsed      = errf("rematch already attempted")
    ErrSagaTimedOut  = errf("rematch timed out")
)

type staticErr string
func (e staticErr) Error() string { return string(e) }
func errf(s string) error { return staticErr(s) }
