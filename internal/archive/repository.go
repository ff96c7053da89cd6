package archive

import (
    "context"
    "database/sql"
    "encoding/json"
    "fmt"
    "strconv"
    "strings"
    "time"

    _ "github.com/lib/pq"
    "go.uber.org/zap"

    "github.com/park285/betchess/internal/obslog"
    "github.com/park285/betchess/internal/room"
    "github.com/park285/betchess/internal/session"
)

const saveTimeout = 5 * time.Second

// Game is one archived finished game.
type Game struct {
    Key         string
    Room        string
    GameNumber  int
    WhiteWallet string
    BlackWallet string
    Bet         string
    ResultType  string
    Winner      string
    Message     string
    MovesUCI    []string
    MovesSAN    []string
    FinalFEN    string
    PGN         string
    StartedAt   time.Time
    EndedAt     time.Time
}

type Repository struct {
    db *sql.DB
}

// Open connects to postgres and pings it.
func Open(ctx context.Context, databaseURL string) (*Repository, error) {
    if strings.TrimSpace(databaseURL) == "" {
        return nil, fmt.Errorf("DATABASE_URL is required")
    }
    db, err := sql.Open("postgres", databaseURL)
    if err != nil { return nil, err }
    db.SetMaxOpenConns(16)
    db.SetMaxIdleConns(8)
    db.SetConnMaxLifetime(30 * time.Minute)
    pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := db.PingContext(pctx); err != nil {
        _ = db.Close()
        return nil, err
    }
    return &Repository{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Repository { return &Repository{db: db} }

func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *Repository) Close() error {
    if r == nil || r.db == nil { return nil }
    return r.db.Close()
}

// GameKey identifies a game of a room; rematches in the same room get new keys.
func GameKey(roomName string, gameNumber int) string {
    return strings.TrimSpace(roomName) + "#" + strconv.Itoa(gameNumber)
}

// Save upserts a finished game.
func (r *Repository) Save(ctx context.Context, t room.Terminal) error {
    if r == nil || r.db == nil { return nil }
    if t.Result.Type == session.ResultNone { return fmt.Errorf("archive: game %s has no result", GameKey(t.Room, t.GameNumber)) }

    var white, black string
    for _, p := range t.Players {
        switch p.Color {
        case session.White:
            white = strings.ToLower(p.Wallet)
        case session.Black:
            black = strings.ToLower(p.Wallet)
        }
    }
    movesUCI, _ := json.Marshal(nonNil(t.Moves))
    movesSAN, _ := json.Marshal(nonNil(t.SANs))
    duration := t.EndedAt.Sub(t.StartedAt).Milliseconds()
    if t.StartedAt.IsZero() || duration < 0 { duration = 0 }
    var started any
    if !t.StartedAt.IsZero() { started = t.StartedAt }

    q := `INSERT INTO finished_games (
        game_key, room_name, game_number, white_wallet, black_wallet, bet,
        result_type, winner, message, moves_uci, moves_san, final_fen, pgn,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
      ) ON CONFLICT (game_key) DO UPDATE SET
        white_wallet=EXCLUDED.white_wallet,
        black_wallet=EXCLUDED.black_wallet,
        bet=EXCLUDED.bet,
        result_type=EXCLUDED.result_type,
        winner=EXCLUDED.winner,
        message=EXCLUDED.message,
        moves_uci=EXCLUDED.moves_uci,
        moves_san=EXCLUDED.moves_san,
        final_fen=EXCLUDED.final_fen,
        pgn=EXCLUDED.pgn,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

    _, err := r.db.ExecContext(ctx, q,
        GameKey(t.Room, t.GameNumber), t.Room, t.GameNumber, white, black, t.Bet,
        string(t.Result.Type), string(t.Result.Winner), t.Result.Message,
        string(movesUCI), string(movesSAN), t.FEN, BuildPGN(t),
        started, t.EndedAt, duration,
    )
    return err
}

// ByRoom lists the archived games of a room, oldest first.
func (r *Repository) ByRoom(ctx context.Context, roomName string) ([]Game, error) {
    return r.query(ctx, `WHERE room_name = $1 ORDER BY game_number`, roomName)
}

// ByWallet lists games the wallet played, newest first.
func (r *Repository) ByWallet(ctx context.Context, wallet string, limit int) ([]Game, error) {
    if limit <= 0 { limit = 20 }
    w := strings.ToLower(strings.TrimSpace(wallet))
    return r.query(ctx, `WHERE white_wallet = $1 OR black_wallet = $1 ORDER BY ended_at DESC LIMIT $2`, w, limit)
}

func (r *Repository) query(ctx context.Context, where string, args ...any) ([]Game, error) {
    rows, err := r.db.QueryContext(ctx, `SELECT game_key, room_name, game_number, white_wallet, black_wallet, bet,
        result_type, winner, message, moves_uci, moves_san, final_fen, pgn, started_at, ended_at
        FROM finished_games `+where, args...)
    if err != nil { return nil, err }
    defer rows.Close()

    var out []Game
    for rows.Next() {
        var g Game
        var uci, san []byte
        var started sql.NullTime
        if err := rows.Scan(&g.Key, &g.Room, &g.GameNumber, &g.WhiteWallet, &g.BlackWallet, &g.Bet,
            &g.ResultType, &g.Winner, &g.Message, &uci, &san, &g.FinalFEN, &g.PGN, &started, &g.EndedAt); err != nil {
            return nil, err
        }
        if err := json.Unmarshal(uci, &g.MovesUCI); err != nil { return nil, err }
        if err := json.Unmarshal(san, &g.MovesSAN); err != nil { return nil, err }
        if started.Valid { g.StartedAt = started.Time }
        out = append(out, g)
    }
    return out, rows.Err()
}

// Observer returns a terminal hook that archives every finished game.
func (r *Repository) Observer() room.TerminalFunc {
    return func(t room.Terminal) {
        ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
        defer cancel()
        if err := r.Save(ctx, t); err != nil {
            obslog.Named("archive").Warn("archive_save_failed",
                zap.String("room", t.Room), zap.Int("game_number", t.GameNumber), zap.Error(err))
            return
        }
        obslog.Named("archive").Info("archive_saved",
            zap.String("room", t.Room), zap.Int("game_number", t.GameNumber), zap.String("result", string(t.Result.Type)))
    }
}

func nonNil(in []string) []string {
    if in == nil { return []string{} }
    return in
}
