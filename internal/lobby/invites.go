package lobby

import (
    "fmt"
    "sync"
    "sync/atomic"
    "time"
)

// InviteStatus tracks a rematch invitation from the recipient's side.
type InviteStatus string

const (
    InvitePending    InviteStatus = "PENDING"
    InviteAccepted   InviteStatus = "ACCEPTED"
    InviteDeclined   InviteStatus = "DECLINED"
    InviteSuperseded InviteStatus = "SUPERSEDED"
)

// Invite is one received invitation.
type Invite struct {
    ID         string
    From       string
    To         string
    Invitation Invitation
    Status     InviteStatus
    CreatedAt  time.Time
    ResolvedAt time.Time
}

// Invites holds received invitations per wallet. Only the latest pending
// invitation is actionable; older ones are superseded.
type Invites struct {
    mu sync.Mutex
    // to -> list of invites (append-only; last is latest)
    byTarget map[string][]*Invite
    seq      uint64
    now      func() time.Time
}

func NewInvites() *Invites {
    return &Invites{byTarget: make(map[string][]*Invite), now: time.Now}
}

// Offer records inv sent from one wallet to another.
func (m *Invites) Offer(from, to string, inv Invitation) (*Invite, error) {
    from, to = normWallet(from), normWallet(to)
    if to == "" || inv.Room == "" {
        return nil, ErrInvalidArgs
    }
    if from == to {
        return nil, ErrSelfInvite
    }

    m.mu.Lock()
    defer m.mu.Unlock()

    list := m.byTarget[to]
    now := m.now()
    for _, prev := range list {
        // a repeated chat broadcast of the same room is not a new invite
        if prev.Status == InvitePending && prev.Invitation.Room == inv.Room {
            cp := *prev
            return &cp, nil
        }
    }
    if idx := latestPendingIndex(list); idx >= 0 {
        list[idx].Status = InviteSuperseded
        list[idx].ResolvedAt = now
    }
    in := &Invite{
        ID:         m.nextID(),
        From:       from,
        To:         to,
        Invitation: inv,
        Status:     InvitePending,
        CreatedAt:  now,
    }
    m.byTarget[to] = append(list, in)
    cp := *in
    return &cp, nil
}

// Pending returns the actionable invitation for wallet, if any.
func (m *Invites) Pending(to string) (*Invite, bool) {
    m.mu.Lock()
    defer m.mu.Unlock()
    list := m.byTarget[normWallet(to)]
    if idx := latestPendingIndex(list); idx >= 0 {
        cp := *list[idx]
        return &cp, true
    }
    return nil, false
}

func (m *Invites) Accept(to string) (*Invite, error) { return m.resolve(to, InviteAccepted) }

func (m *Invites) Decline(to string) (*Invite, error) { return m.resolve(to, InviteDeclined) }

func (m *Invites) resolve(to string, st InviteStatus) (*Invite, error) {
    to = normWallet(to)
    if to == "" {
        return nil, ErrInvalidArgs
    }
    m.mu.Lock()
    defer m.mu.Unlock()
    list := m.byTarget[to]
    if idx := latestPendingIndex(list); idx >= 0 {
        in := list[idx]
        in.Status = st
        in.ResolvedAt = m.now()
        cp := *in
        return &cp, nil
    }
    return nil, ErrNoPending
}

func latestPendingIndex(list []*Invite) int {
    for i := len(list) - 1; i >= 0; i-- {
        if list[i].Status == InvitePending {
            return i
        }
    }
    return -1
}

func (m *Invites) nextID() string {
    n := atomic.AddUint64(&m.seq, 1)
    return fmt.Sprintf("inv-%d-%d", m.now().UnixNano(), n)
}
