package lobby

import (
    "errors"
    "net/url"
    "regexp"
    "testing"
)

func TestNewRoomNameAndPassword(t *testing.T) {
    re := regexp.MustCompile(`^chess-[a-z0-9]{6}$`)
    seen := map[string]bool{}
    for i := 0; i < 50; i++ {
        n, err := NewRoomName()
        if err != nil { t.Fatalf("NewRoomName: %v", err) }
        if !re.MatchString(n) { t.Fatalf("bad name %q", n) }
        seen[n] = true
    }
    if len(seen) < 45 { t.Fatalf("names collide too often: %d unique", len(seen)) }
    pw, err := NewPassword()
    if err != nil || len(pw) != 8 { t.Fatalf("NewPassword: %q %v", pw, err) }
}

func TestParseJoinInput(t *testing.T) {
    cases := []struct {
        in       string
        room, pw string
        bad      bool
    }{
        {in: "chess-abc123", room: "chess-abc123"},
        {in: " chess-abc123:Secret ", room: "chess-abc123", pw: "Secret"},
        {in: "room:", room: "room"},
        {in: "", bad: true},
        {in: ":pw", bad: true},
        {in: "a b:pw", bad: true},
    }
    for _, c := range cases {
        room, pw, err := ParseJoinInput(c.in)
        if c.bad {
            if !errors.Is(err, ErrInvalidArgs) { t.Fatalf("%q: want ErrInvalidArgs, got %v", c.in, err) }
            continue
        }
        if err != nil || room != c.room || pw != c.pw {
            t.Fatalf("%q: got (%q,%q,%v)", c.in, room, pw, err)
        }
    }
}

func TestShareURLRoundTrip(t *testing.T) {
    s, err := ShareURL("https://chess.example/play?theme=dark", "chess-abc123", "p&w")
    if err != nil { t.Fatalf("ShareURL: %v", err) }
    u, err := url.Parse(s)
    if err != nil { t.Fatalf("parse: %v", err) }
    room, pw, ok := FromQuery(u.Query())
    if !ok || room != "chess-abc123" || pw != "p&w" { t.Fatalf("FromQuery: %q %q %v", room, pw, ok) }
    if u.Query().Get("theme") != "dark" { t.Fatalf("lost other params: %s", s) }

    cleared := ClearQuery(u.Query())
    if _, _, ok := FromQuery(cleared); ok { t.Fatalf("ClearQuery kept room") }
    if cleared.Get("theme") != "dark" { t.Fatalf("ClearQuery dropped theme") }
}

func TestInvitationEncodeParse(t *testing.T) {
    inv := Invitation{Room: "chess-abc123", Password: "Pw23", Bet: "0.5", GameTime: 300}
    msg := inv.Encode()
    if msg != "REMATCH_INVITATION:chess-abc123:Pw23:0.5:300" { t.Fatalf("Encode: %q", msg) }
    if !IsInvitation(msg) { t.Fatalf("IsInvitation false") }
    got, err := ParseInvitation(msg)
    if err != nil || got != inv { t.Fatalf("ParseInvitation: %+v %v", got, err) }

    got, err = ParseInvitation("REMATCH_INVITATION:r:p:1")
    if err != nil || got.GameTime != 0 || got.Bet != "1" { t.Fatalf("no time: %+v %v", got, err) }
    got, err = ParseInvitation("REMATCH_INVITATION:r:p:1:abc")
    if err != nil || got.GameTime != 0 { t.Fatalf("bad time should be ignored: %+v %v", got, err) }
    if (Invitation{Room: "r", Password: "p"}).Encode() != "REMATCH_INVITATION:r:p:0" { t.Fatalf("empty bet encodes as 0") }

    for _, bad := range []string{"hello", "REMATCH_INVITATION:", "REMATCH_INVITATION:r:p", "REMATCH_INVITATION::p:1", "REMATCH_INVITATION:r:p:1:2:3"} {
        if _, err := ParseInvitation(bad); !errors.Is(err, ErrNotInvitation) { t.Fatalf("%q: %v", bad, err) }
    }
}

func TestInvitesLatestWins(t *testing.T) {
    b := NewInvites()
    if _, err := b.Offer("0xA", "0xa", Invitation{Room: "r1"}); !errors.Is(err, ErrSelfInvite) { t.Fatalf("self: %v", err) }

    first, err := b.Offer("0xA", "0xB", Invitation{Room: "r1"})
    if err != nil { t.Fatalf("Offer: %v", err) }
    again, _ := b.Offer("0xA", "0xB", Invitation{Room: "r1"})
    if again.ID != first.ID { t.Fatalf("repeated broadcast created a new invite") }

    second, _ := b.Offer("0xA", "0xB", Invitation{Room: "r2"})
    p, ok := b.Pending("0xb")
    if !ok || p.ID != second.ID { t.Fatalf("pending should be latest: %+v", p) }

    acc, err := b.Accept("0xB")
    if err != nil || acc.Invitation.Room != "r2" || acc.Status != InviteAccepted { t.Fatalf("Accept: %+v %v", acc, err) }
    if _, ok := b.Pending("0xB"); ok { t.Fatalf("superseded invite resurfaced") }
    if _, err := b.Decline("0xB"); !errors.Is(err, ErrNoPending) { t.Fatalf("Decline: %v", err) }
}
