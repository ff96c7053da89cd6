package lobby

import (
    "strconv"
    "strings"
)

// InvitationPrefix marks a chat message that carries a rematch room.
const InvitationPrefix = "REMATCH_INVITATION:"

// Invitation points the opponent at a freshly created rematch room.
type Invitation struct {
    Room     string `json:"room"`
    Password string `json:"password"`
    Bet      string `json:"bet"`
    GameTime int    `json:"gameTime,omitempty"`
}

// Encode renders REMATCH_INVITATION:<room>:<password>:<bet>[:<gameTime>].
func (i Invitation) Encode() string {
    var b strings.Builder
    b.WriteString(InvitationPrefix)
    b.WriteString(i.Room)
    b.WriteByte(':')
    b.WriteString(i.Password)
    b.WriteByte(':')
    bet := i.Bet
    if bet == "" { bet = "0" }
    b.WriteString(bet)
    if i.GameTime > 0 {
        b.WriteByte(':')
        b.WriteString(strconv.Itoa(i.GameTime))
    }
    return b.String()
}

// IsInvitation reports whether a chat message is an encoded invitation.
func IsInvitation(msg string) bool {
    return strings.HasPrefix(strings.TrimSpace(msg), InvitationPrefix)
}

// ParseInvitation reverses Encode. A malformed game time is ignored rather
// than rejecting the whole invitation.
func ParseInvitation(msg string) (Invitation, error) {
    msg = strings.TrimSpace(msg)
    if !strings.HasPrefix(msg, InvitationPrefix) { return Invitation{}, ErrNotInvitation }
    parts := strings.Split(strings.TrimPrefix(msg, InvitationPrefix), ":")
    if len(parts) < 3 || len(parts) > 4 { return Invitation{}, ErrNotInvitation }
    inv := Invitation{Room: parts[0], Password: parts[1], Bet: parts[2]}
    if inv.Room == "" || inv.Bet == "" { return Invitation{}, ErrNotInvitation }
    if len(parts) == 4 {
        if n, err := strconv.Atoi(parts[3]); err == nil && n > 0 {
            inv.GameTime = n
        }
    }
    return inv, nil
}
