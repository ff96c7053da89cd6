package presenter

import (
	"fmt"
	"strings"

	"github.com/park285/betchess/internal/betting"
	"github.com/park285/betchess/internal/client"
	"github.com/park285/betchess/internal/msgcat"
	"github.com/park285/betchess/internal/rules"
	"github.com/park285/betchess/internal/session"
)

const recentChatLimit = 5

// Formatter renders session snapshots and betting state as terminal text.
type Formatter struct {
	cat *msgcat.Catalog
}

func NewFormatter(cat *msgcat.Catalog) *Formatter {
	if cat == nil {
		cat = msgcat.Default()
	}
	return &Formatter{cat: cat}
}

// Headline is the one-line summary shown above the board.
func (f *Formatter) Headline(st *session.State, me *session.Player, bet *betting.Status) string {
	if st == nil {
		return ""
	}
	switch st.Phase() {
	case session.PhaseEnded:
		return f.Result(st.GameResult)
	case session.PhaseActive:
		turn := session.ColorOfTurn(st.Turn)
		if me == nil {
			return turn.Title() + " to move"
		}
		if me.Color == turn {
			return f.cat.Text("status.your_turn", nil)
		}
		return f.cat.Text("status.their_turn", nil)
	}
	if len(st.Players) < 2 {
		return f.cat.Text("status.waiting_opponent", nil)
	}
	if bet != nil && bet.Required && !bet.BothPaid {
		return f.cat.Text("status.awaiting_payment", map[string]string{"Bet": bet.Bet})
	}
	return ""
}

// Result renders a finished game's outcome.
func (f *Formatter) Result(res session.GameResult) string {
	if res.Type == session.ResultNone {
		return ""
	}
	data := map[string]string{}
	switch res.Winner {
	case session.WinnerWhite:
		data["Winner"], data["Loser"] = session.White.Title(), session.Black.Title()
	case session.WinnerBlack:
		data["Winner"], data["Loser"] = session.Black.Title(), session.White.Title()
	}
	key := "result." + string(res.Type)
	if !f.cat.Has(key) || (res.Winner != session.WinnerWhite && res.Winner != session.WinnerBlack && needsWinner(res.Type)) {
		if res.Message != "" {
			return res.Message
		}
		return "Game over"
	}
	return f.cat.Text(key, data)
}

func needsWinner(t session.ResultType) bool {
	return t == session.ResultCheckmate || t == session.ResultTimeout || t == session.ResultAbandoned
}

// Status renders the full room summary.
func (f *Formatter) Status(st *session.State, me *session.Player, bet *betting.Status) string {
	if st == nil {
		return "Not in a room."
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Room %s, game #%d (%s)\n", st.RoomName, st.GameNumber, strings.ToLower(string(st.Phase()))))
	for _, c := range []session.Color{session.White, session.Black} {
		sb.WriteString(fmt.Sprintf("• %-5s %s", c.Title(), f.playerLabel(st.PlayerByColor(c), me)))
		if c == session.White {
			sb.WriteString(fmt.Sprintf("  %s\n", FormatClock(st.Clocks.White)))
		} else {
			sb.WriteString(fmt.Sprintf("  %s\n", FormatClock(st.Clocks.Black)))
		}
	}
	if st.LastMove != nil {
		sb.WriteString(fmt.Sprintf("• Last move: %s (%s)\n", st.LastMove.SAN, st.LastMove.UCI))
	}
	if st.DrawOffer.Offered && st.DrawOffer.By != nil {
		sb.WriteString(fmt.Sprintf("• %s offers a draw\n", st.DrawOffer.By.Title()))
	}
	if st.RematchOffer.Offered && st.RematchOffer.By != nil {
		sb.WriteString(fmt.Sprintf("• %s wants a rematch\n", st.RematchOffer.By.Title()))
	}
	if bet != nil && bet.Required {
		sb.WriteString("• " + f.Betting(*bet) + "\n")
	}
	if h := f.Headline(st, me, bet); h != "" {
		sb.WriteString("\n" + h)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (f *Formatter) playerLabel(p *session.Player, me *session.Player) string {
	if p == nil {
		return "(empty)"
	}
	label := ShortWallet(p.Wallet)
	if label == "" {
		label = p.ID
	}
	if me != nil && me.ID == p.ID {
		label += " (you)"
	}
	if !p.Connected {
		label += " [away]"
	}
	return label
}

// Betting summarizes the escrow state of the room.
func (f *Formatter) Betting(b betting.Status) string {
	if !b.Required {
		return "No bet"
	}
	if b.Error != "" {
		return fmt.Sprintf("Bet %s ETH: %s", b.Bet, b.Error)
	}
	paid := func(ok bool) string {
		if ok {
			return "paid"
		}
		return "unpaid"
	}
	line := fmt.Sprintf("Bet %s ETH (game %s, %s): white %s, black %s", b.Bet, b.GameID, strings.ToLower(b.State), paid(b.WhitePaid), paid(b.BlackPaid))
	if b.Result != "" && b.Result != "NONE" {
		line += ", result " + strings.ToLower(b.Result)
	}
	return line
}

// Update turns one reconciled snapshot into the lines worth printing.
func (f *Formatter) Update(u client.Update) []string {
	var out []string
	if u.NewGame && u.State != nil {
		out = append(out, fmt.Sprintf("New game #%d started", u.State.GameNumber))
	}
	if u.Moved {
		switch {
		case u.Move == nil:
			out = append(out, "Position updated")
		case u.SelfOriginated:
			out = append(out, fmt.Sprintf("You played %s [%s]", u.Move.SAN, u.Sound))
		default:
			out = append(out, fmt.Sprintf("%s played %s [%s]", moverName(u.Move.Color), u.Move.SAN, u.Sound))
		}
	}
	if u.DrawOffered {
		out = append(out, "Your opponent offers a draw. Type accept or decline.")
	}
	if u.RematchOffered {
		out = append(out, "Your opponent wants a rematch. Type accept or decline.")
	}
	if u.Ended && u.State != nil {
		out = append(out, f.Result(u.State.GameResult))
	}
	if u.Invitation != nil {
		inv := u.Invitation.Invitation
		bet := inv.Bet
		if bet == "" {
			bet = "0"
		}
		out = append(out, f.cat.Text("invite.prompt", map[string]string{"Room": inv.Room, "Bet": bet})+". Type accept or decline.")
	}
	return out
}

func moverName(c string) string {
	if c == "b" {
		return session.Black.Title()
	}
	return session.White.Title()
}

// Moves lists SAN moves with numbers, marking the browsed position.
func (f *Formatter) Moves(sans []string, index int) string {
	if len(sans) == 0 {
		return "No moves yet."
	}
	var sb strings.Builder
	for i, san := range sans {
		if i%2 == 0 {
			if i > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(fmt.Sprintf("%d.", i/2+1))
		}
		sb.WriteString(" ")
		if i == index {
			sb.WriteString("[" + san + "]")
		} else {
			sb.WriteString(san)
		}
	}
	if index < 0 {
		sb.WriteString("  (start position)")
	}
	return sb.String()
}

// Board draws the position as text.
func (f *Formatter) Board(fen string) string {
	d, ok := rules.Diagram(fen)
	if !ok {
		return "(no board)"
	}
	return d
}

// Chat renders the most recent visible messages.
func (f *Formatter) Chat(msgs []session.ChatMessage, me *session.Player) string {
	if len(msgs) > recentChatLimit {
		msgs = msgs[len(msgs)-recentChatLimit:]
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		who := ShortWallet(m.PlayerWallet)
		if who == "" {
			who = m.PlayerID
		}
		if me != nil && m.PlayerID == me.ID {
			who = "you"
		}
		lines = append(lines, fmt.Sprintf("<%s> %s", who, m.Message))
	}
	return strings.Join(lines, "\n")
}

func (f *Formatter) Claim(r betting.ClaimReceipt) string {
	return f.cat.Text("claim.claimed", map[string]string{"Amount": betting.FormatEther(r.Amount)})
}

// Finalization renders the on-chain result recording progress.
func (f *Formatter) Finalization(job betting.Job) string {
	text := f.cat.Text("finalize."+string(job.State), nil)
	if job.TxHash != "" {
		text += " (" + job.TxHash + ")"
	}
	return text
}

func (f *Formatter) RoomCreated(room, shareURL string) string {
	return f.cat.Text("room.created", map[string]string{"Room": room, "URL": shareURL})
}

func (f *Formatter) Joined(room string, color session.Color) string {
	return f.cat.Text("room.joined", map[string]string{"Room": room, "Color": strings.ToLower(color.Title())})
}

func (f *Formatter) Help() string {
	return strings.Join([]string{
		"create [bet] [seconds]   open a new room",
		"join room[:password]     join a room",
		"open <share url>         join from an invite link",
		"move e2e4 | e7e8q        play a move",
		"chat <text>              send a chat message",
		"draw | resign            offer a draw or resign",
		"accept | decline         answer an offer or invitation",
		"rematch                  ask for a rematch",
		"time <seconds>           change the clock before the start",
		"pay | claim              pay the bet or claim the pot",
		"first|prev|next|last     browse the move list",
		"board [file.png]         show the board",
		"rooms | status | moves | final | leave | quit",
	}, "\n")
}

// FormatClock renders seconds as m:ss.
func FormatClock(secs int) string {
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// ShortWallet abbreviates a hex address for display.
func ShortWallet(w string) string {
	w = strings.TrimSpace(w)
	if len(w) <= 12 {
		return w
	}
	return w[:6] + "…" + w[len(w)-4:]
}
