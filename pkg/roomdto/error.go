package roomdto

// DomainError is the error body of HTTP responses and "error" frames.
type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "room service error"
}

// Error codes.
const (
	CodeBadFrame    = "bad_frame"
	CodeBadRequest  = "bad_request"
	CodeUnknownType = "unknown_type"
	CodeNotFound    = "not_found"
	CodeBadPassword = "bad_password"
	CodeRoomFull    = "room_full"
	CodeRoomClosed  = "room_closed"
	CodeElsewhere   = "room_elsewhere"
	CodeUnavailable = "unavailable"
	CodeInternal    = "internal"
)
