package roomdto

// CreateRoomRequest is the body of POST /rooms. Bet is in ether.
type CreateRoomRequest struct {
	Bet      string `json:"bet" validate:"omitempty,numeric"`
	GameTime int    `json:"gameTime" validate:"omitempty,min=10,max=10800"`
	Wallet   string `json:"wallet" validate:"omitempty,eth_addr"`
	Name     string `json:"name,omitempty" validate:"omitempty,max=64,excludesall=/?# "`
	Password string `json:"password,omitempty" validate:"omitempty,max=64"`
}

type CreateRoomResponse struct {
	Room     string `json:"roomName"`
	Password string `json:"password"`
	ShareURL string `json:"shareUrl"`
	Bet      string `json:"bet,omitempty"`
	GameTime int    `json:"gameTime"`
	TxHash   string `json:"txHash,omitempty"`
}

// RoomSummary is one entry of GET /rooms.
type RoomSummary struct {
	Room      string   `json:"roomName"`
	State     string   `json:"state"`
	Bet       string   `json:"bet,omitempty"`
	GameTime  int      `json:"gameTime"`
	Players   []string `json:"players"`
	CreatedAt int64    `json:"createdAt"`
}

type RoomList struct {
	Rooms []RoomSummary `json:"rooms"`
}

type Health struct {
	Status   string   `json:"status"`
	Instance string   `json:"instance"`
	Rooms    int      `json:"rooms"`
	Checks   []string `json:"checks,omitempty"`
}
