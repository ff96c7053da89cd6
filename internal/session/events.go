package session

// Kind names an event handled by the reducer. The values are the wire names.
type Kind string

const (
	KindJoin           Kind = "join-player"
	KindLeave          Kind = "leave-player"
	KindMove           Kind = "move"
	KindChat           Kind = "chat-message"
	KindStartGame      Kind = "start-game"
	KindResetGame      Kind = "reset-game"
	KindUpdateTimer    Kind = "update-timer"
	KindOfferDraw      Kind = "offer-draw"
	KindRespondDraw    Kind = "respond-draw"
	KindResign         Kind = "resign"
	KindSetGameTime    Kind = "set-game-time"
	KindRequestRematch Kind = "request-rematch"
	KindRespondRematch Kind = "respond-rematch"
)

// Kinds lists every event kind accepted from clients.
var Kinds = []Kind{
	KindJoin, KindLeave, KindMove, KindChat, KindStartGame, KindResetGame,
	KindUpdateTimer, KindOfferDraw, KindRespondDraw, KindResign,
	KindSetGameTime, KindRequestRematch, KindRespondRematch,
}

// Event is one input to the reducer. PlayerID and Wallet identify the sender;
// the remaining fields are read per kind.
type Event struct {
	Kind      Kind   `json:"type"`
	PlayerID  string `json:"playerId,omitempty"`
	Wallet    string `json:"wallet,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`
	Message   string `json:"message,omitempty"`
	Accepted  bool   `json:"accepted,omitempty"`
	Seconds   int    `json:"seconds,omitempty"`
}

// Outcome reports what Apply did.
type Outcome struct {
	Changed  bool
	Started  bool
	Terminal bool
}
