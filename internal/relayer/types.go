package relayer

import "strconv"

// FinishRequest asks the relayer to submit finishGame with its own key.
type FinishRequest struct {
	GameID   string `json:"gameId"`
	Result   uint8  `json:"result"`
	RoomName string `json:"roomName"`
}

// FinishResponse carries the submitted transaction hash.
type FinishResponse struct {
	TxHash string `json:"txHash"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Address string `json:"address,omitempty"`
	ChainID int64  `json:"chainId,omitempty"`
}

// StatusError is a non-2xx reply.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return "relayer error: status=" + strconv.Itoa(e.Status) + " body=" + e.Body
}
