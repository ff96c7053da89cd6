package lobby

import (
    "crypto/rand"
    "net/url"
    "strings"
)

const (
    roomPrefix  = "chess-"
    nameLetters = "abcdefghijklmnopqrstuvwxyz0123456789"
    passLetters = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"
    nameLen     = 6
    passLen     = 8
)

// NewRoomName returns `chess-` + 6 lower alnum.
func NewRoomName() (string, error) {
    s, err := randString(nameLetters, nameLen)
    if err != nil { return "", err }
    return roomPrefix + s, nil
}

// NewPassword returns an 8 character share code without look-alike glyphs.
func NewPassword() (string, error) { return randString(passLetters, passLen) }

func randString(letters string, n int) (string, error) {
    b := make([]byte, n)
    if _, err := rand.Read(b); err != nil {
        return "", err
    }
    for i := range b {
        b[i] = letters[int(b[i])%len(letters)]
    }
    return string(b), nil
}

// ParseJoinInput splits "room" or "room:password". Surrounding blanks are
// ignored; an empty room is an error.
func ParseJoinInput(in string) (room, password string, err error) {
    in = strings.TrimSpace(in)
    room, password, _ = strings.Cut(in, ":")
    room, password = strings.TrimSpace(room), strings.TrimSpace(password)
    if room == "" || strings.ContainsAny(room, " \t/?#") {
        return "", "", ErrInvalidArgs
    }
    return room, password, nil
}

// ShareURL writes room and password into base's query, keeping any other
// parameters already present.
func ShareURL(base, room, password string) (string, error) {
    u, err := url.Parse(strings.TrimSpace(base))
    if err != nil { return "", err }
    q := u.Query()
    q.Set("room", room)
    if password != "" {
        q.Set("password", password)
    } else {
        q.Del("password")
    }
    u.RawQuery = q.Encode()
    return u.String(), nil
}

// FromQuery reads the room parameters from a URL query. ok is false when no
// room is present.
func FromQuery(q url.Values) (room, password string, ok bool) {
    room = strings.TrimSpace(q.Get("room"))
    if room == "" { return "", "", false }
    return room, strings.TrimSpace(q.Get("password")), true
}

// ClearQuery drops the room parameters, used when an auto-join fails.
func ClearQuery(q url.Values) url.Values {
    out := url.Values{}
    for k, v := range q {
        if k == "room" || k == "password" { continue }
        out[k] = append([]string(nil), v...)
    }
    return out
}
