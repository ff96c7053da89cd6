package main

import (
    "context"
    "errors"
    "fmt"
    "net/url"
    "os"
    "strconv"
    "strings"

    "github.com/park285/betchess/internal/adapter/presenter"
    "github.com/park285/betchess/internal/betting"
    "github.com/park285/betchess/internal/boardimg"
    "github.com/park285/betchess/internal/client"
    "github.com/park285/betchess/internal/escrow"
    "github.com/park285/betchess/internal/session"
    "github.com/park285/betchess/internal/transport/lobbyhttp"
    "github.com/park285/betchess/internal/transport/wsclient"
    "github.com/park285/betchess/pkg/roomdto"
)

// tab is one player's terminal session.
type tab struct {
    server  string
    lobby   *lobbyhttp.Client
    escrow  escrow.Contract
    wallet  string
    chainID int64
    sess    *client.Session
    fmt     *presenter.Formatter
    out     *presenter.Presenter

    pngPath string
}

func (t *tab) dial(room, password string) (client.Transport, error) {
    u, err := wsclient.RoomURL(t.server, room, password)
    if err != nil {
        return nil, err
    }
    return wsclient.New(wsclient.Config{URL: u, MaxReconnects: 5}), nil
}

func (t *tab) onUpdate(u client.Update) {
    _ = t.out.Lines(t.fmt.Update(u))
    if u.Moved || u.NewGame {
        v := t.sess.View()
        if v == nil || u.State == nil {
            return
        }
        _ = t.out.Say(t.fmt.Board(u.State.FEN))
        _ = t.out.Say(t.fmt.Headline(u.State, v.Me(), t.bet(v)))
    }
}

func (t *tab) writeImage(png []byte) error {
    if t.pngPath == "" {
        return nil
    }
    if err := os.WriteFile(t.pngPath, png, 0o644); err != nil {
        return err
    }
    return t.out.Say("Board saved to " + t.pngPath)
}

func (t *tab) prompt() string {
    room, _ := t.sess.Room()
    if room == "" {
        return "chess> "
    }
    v := t.sess.View()
    if v != nil {
        if me := v.Me(); me != nil {
            return fmt.Sprintf("chess [%s %s]> ", room, strings.ToLower(me.Color.Title()))
        }
    }
    return fmt.Sprintf("chess [%s]> ", room)
}

func (t *tab) bet(v *client.View) *betting.Status {
    if b, ok := v.Betting(); ok {
        return &b
    }
    return nil
}

// run executes one command line and reports whether the loop continues.
func (t *tab) run(ctx context.Context, line string) bool {
    parts := strings.Fields(line)
    cmd := strings.ToLower(parts[0])
    args := parts[1:]
    rest := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))

    var err error
    switch cmd {
    case "help", "?":
        _ = t.out.Say(t.fmt.Help())
    case "quit", "exit":
        return false
    case "create":
        err = t.create(ctx, args)
    case "rooms":
        err = t.listRooms(ctx)
    case "join":
        if len(args) == 0 {
            _ = t.out.Say("Usage: join room[:password]")
            return true
        }
        err = t.sess.JoinInput(ctx, args[0])
    case "open":
        err = t.open(ctx, rest)
    case "leave":
        err = t.sess.Leave(ctx)
    case "move", "mv":
        err = t.move(ctx, args)
    case "chat", "say":
        err = t.sess.Chat(ctx, rest)
    case "draw":
        err = t.sess.OfferDraw(ctx)
    case "accept":
        err = t.answer(ctx, true)
    case "decline":
        err = t.answer(ctx, false)
    case "resign":
        err = t.sess.Resign(ctx)
    case "rematch":
        err = t.rematch(ctx)
    case "time":
        var secs int
        if len(args) == 0 {
            _ = t.out.Say("Usage: time <seconds>")
            return true
        }
        if secs, err = strconv.Atoi(args[0]); err == nil {
            err = t.sess.SetGameTime(ctx, secs)
        }
    case "pay":
        var ref escrow.TxRef
        if ref, err = t.sess.Pay(ctx); err == nil {
            _ = t.out.Say("Bet paid, tx " + ref.Hash.Hex())
        }
    case "claim":
        var rc betting.ClaimReceipt
        if rc, err = t.sess.Claim(ctx); err == nil {
            _ = t.out.Say(t.fmt.Claim(rc))
        }
    case "first", "prev", "next", "last":
        err = t.navigate(ctx, client.Step(cmd))
    case "board":
        err = t.board(ctx, args)
    case "status":
        err = t.status()
    case "moves":
        err = t.moves()
    case "final":
        err = t.finalization(ctx)
    default:
        // A bare "e2e4" is a move.
        if looksLikeMove(cmd) {
            err = t.move(ctx, []string{cmd})
        } else {
            _ = t.out.Say("Unknown command. Try 'help'.")
        }
    }
    if err != nil {
        _ = t.out.Say(t.describe(err))
    }
    return true
}

func (t *tab) describe(err error) string {
    var derr roomdto.DomainError
    switch {
    case errors.As(err, &derr):
        return derr.Error()
    case errors.Is(err, client.ErrNotInRoom):
        return "Not in a room. Use create, join or open."
    case errors.Is(err, client.ErrNoEscrow), errors.Is(err, client.ErrNoWallet):
        return "Betting needs WALLET_PRIVATE_KEY and the escrow settings."
    }
    if key := betting.ChainErrorKey(err); key != "chain.unknown" {
        return t.sess.StatusText(err, t.chainID)
    }
    return "Error: " + err.Error()
}

func (t *tab) create(ctx context.Context, args []string) error {
    req := roomdto.CreateRoomRequest{}
    if len(args) > 0 {
        req.Bet = args[0]
    }
    if len(args) > 1 {
        secs, err := strconv.Atoi(args[1])
        if err != nil {
            return fmt.Errorf("bad time %q", args[1])
        }
        req.GameTime = secs
    }
    if _, ok := betting.ParseWallet(t.wallet); ok {
        req.Wallet = t.wallet
    }
    resp, err := t.lobby.CreateRoom(ctx, req)
    if err != nil {
        return err
    }
    // The server opens the escrow game only in dev mode; otherwise the
    // creator does it from their wallet.
    if wei, perr := betting.ParseEther(resp.Bet); perr == nil && wei.Sign() > 0 && resp.TxHash == "" {
        from, ok := betting.ParseWallet(t.wallet)
        if t.escrow == nil || !ok {
            return client.ErrNoEscrow
        }
        ref, err := t.escrow.CreateGame(ctx, from, resp.Room, wei)
        if err != nil {
            return err
        }
        resp.TxHash = ref.Hash.Hex()
    }
    _ = t.out.Say(t.fmt.RoomCreated(resp.Room, resp.ShareURL))
    if resp.TxHash != "" {
        _ = t.out.Say("Escrow game created, tx " + resp.TxHash)
    }
    return t.sess.Join(ctx, resp.Room, resp.Password)
}

func (t *tab) listRooms(ctx context.Context) error {
    rooms, err := t.lobby.ListRooms(ctx)
    if err != nil {
        return err
    }
    if len(rooms) == 0 {
        return t.out.Say("No open rooms.")
    }
    lines := make([]string, 0, len(rooms))
    for _, r := range rooms {
        bet := "free"
        if r.Bet != "" {
            bet = r.Bet + " ETH"
        }
        lines = append(lines, fmt.Sprintf("• %s  %s  %s  %d/2", r.Room, bet, presenter.FormatClock(r.GameTime), len(r.Players)))
    }
    return t.out.Lines(lines)
}

func (t *tab) open(ctx context.Context, link string) error {
    u, err := url.Parse(strings.TrimSpace(link))
    if err != nil {
        return err
    }
    ok, err := t.sess.AutoJoin(ctx, u.Query(), true)
    if err != nil {
        return err
    }
    if !ok {
        return t.out.Say("That link does not name a room.")
    }
    return nil
}

func looksLikeMove(s string) bool {
    if len(s) != 4 && len(s) != 5 {
        return false
    }
    sq := func(f, r byte) bool { return f >= 'a' && f <= 'h' && r >= '1' && r <= '8' }
    return sq(s[0], s[1]) && sq(s[2], s[3])
}

func (t *tab) move(ctx context.Context, args []string) error {
    uci := strings.ToLower(strings.Join(args, ""))
    if !looksLikeMove(uci) {
        return t.out.Say("Usage: move e2e4 (add q, r, b or n to promote)")
    }
    promo := ""
    if len(uci) == 5 {
        promo = uci[4:]
    }
    return t.sess.Move(ctx, uci[0:2], uci[2:4], promo)
}

// answer resolves a pending draw or rematch offer first, then an invitation.
func (t *tab) answer(ctx context.Context, accept bool) error {
    v := t.sess.View()
    if v == nil {
        return client.ErrNotInRoom
    }
    st, me := v.State(), v.Me()
    offeredByOther := func(o session.Offer) bool {
        return o.Offered && o.By != nil && (me == nil || *o.By != me.Color)
    }
    switch {
    case st != nil && offeredByOther(st.DrawOffer):
        return t.sess.RespondDraw(ctx, accept)
    case st != nil && offeredByOther(st.RematchOffer):
        return t.sess.RespondRematch(ctx, accept)
    }
    if accept {
        iv, err := t.sess.AcceptInvitation(ctx)
        if err != nil {
            return err
        }
        return t.out.Say("Joining " + iv.Invitation.Room)
    }
    if _, err := t.sess.DeclineInvitation(); err != nil {
        return err
    }
    return t.out.Say("Invitation declined.")
}

func (t *tab) rematch(ctx context.Context) error {
    inv, err := t.sess.Rematch(ctx)
    if err != nil {
        return err
    }
    if inv == nil {
        return t.out.Say("Rematch requested.")
    }
    return t.out.Say(fmt.Sprintf("Rematch room %s is ready; your opponent has been invited.", inv.Room))
}

func (t *tab) navigate(ctx context.Context, step client.Step) error {
    v := t.sess.View()
    if v == nil {
        return client.ErrNotInRoom
    }
    _, fen, err := v.Navigate(ctx, step)
    if err != nil {
        return err
    }
    sans, idx := v.Moves()
    return t.out.Lines([]string{t.fmt.Board(fen), t.fmt.Moves(sans, idx)})
}

// board prints the live position. With a file name it also saves a PNG,
// asking the server first and rendering locally when that fails.
func (t *tab) board(ctx context.Context, args []string) error {
    v := t.sess.View()
    if v == nil {
        return client.ErrNotInRoom
    }
    st, me := v.State(), v.Me()
    if st == nil {
        return client.ErrNotInRoom
    }
    text := t.fmt.Board(st.FEN)
    if len(args) == 0 {
        return t.out.Say(text)
    }
    flip := me != nil && me.Color == session.Black
    room, password := t.sess.Room()
    png, err := t.lobby.Board(ctx, room, password, flip)
    if err != nil {
        opts := boardimg.Options{Flip: flip, Header: fmt.Sprintf("%s  #%d", st.RoomName, st.GameNumber)}
        if st.LastMove != nil {
            opts.Highlight = &boardimg.Highlight{From: st.LastMove.From, To: st.LastMove.To}
        }
        if png, err = boardimg.RenderPNG(ctx, st.FEN, opts); err != nil {
            return err
        }
    }
    t.pngPath = args[0]
    defer func() { t.pngPath = "" }()
    return t.out.Board(text, png)
}

func (t *tab) status() error {
    v := t.sess.View()
    if v == nil {
        return t.out.Say(t.fmt.Status(nil, nil, nil))
    }
    st := v.State()
    lines := []string{t.fmt.Status(st, v.Me(), t.bet(v))}
    if code, title := v.Opening(); title != "" {
        lines = append(lines, fmt.Sprintf("Opening: %s %s", code, title))
    }
    if chat := t.fmt.Chat(v.VisibleChat(), v.Me()); chat != "" {
        lines = append(lines, chat)
    }
    return t.out.Lines(lines)
}

func (t *tab) moves() error {
    v := t.sess.View()
    if v == nil {
        return client.ErrNotInRoom
    }
    sans, idx := v.Moves()
    return t.out.Say(t.fmt.Moves(sans, idx))
}

func (t *tab) finalization(ctx context.Context) error {
    room, _ := t.sess.Room()
    if room == "" {
        return client.ErrNotInRoom
    }
    job, err := t.lobby.Finalization(ctx, room)
    if err != nil {
        return err
    }
    return t.out.Say(t.fmt.Finalization(*job))
}
