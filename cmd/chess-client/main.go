package main

import (
    "context"
    "flag"
    "fmt"
    "io"
    "log"
    "os"
    "os/signal"
    "path/filepath"
    "strings"
    "syscall"

    "github.com/chzyer/readline"
    "github.com/google/uuid"
    "github.com/redis/go-redis/v9"

    "github.com/park285/betchess/internal/adapter/presenter"
    "github.com/park285/betchess/internal/betting"
    "github.com/park285/betchess/internal/client"
    appcfg "github.com/park285/betchess/internal/config"
    "github.com/park285/betchess/internal/escrow"
    "github.com/park285/betchess/internal/history"
    "github.com/park285/betchess/internal/lobby"
    "github.com/park285/betchess/internal/msgcat"
    "github.com/park285/betchess/internal/obslog"
    "github.com/park285/betchess/internal/transport/lobbyhttp"
    "github.com/park285/betchess/internal/transport/wsclient"
)

func main() {
    server := flag.String("server", envOr("CHESS_SERVER", "http://localhost:8080"), "room server base URL")
    wallet := flag.String("wallet", os.Getenv("WALLET_ADDRESS"), "wallet address shown to the room")
    logFile := flag.String("log", filepath.Join("logs", "chess-client.log"), "log file")
    flag.Parse()

    if err := obslog.Init(obslog.Config{Level: envOr("LOG_LEVEL", "info"), Format: "json", ToFile: true, File: *logFile}); err != nil {
        log.Fatalf("logger init error: %v", err)
    }
    defer obslog.Sync()

    cfg, err := appcfg.Load()
    if err != nil {
        log.Fatalf("config error: %v", err)
    }
    cat, err := msgcat.New(cfg.MessagesDir)
    if err != nil {
        log.Fatalf("messages error: %v", err)
    }

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    // A wallet key turns on pay and claim against the configured escrow.
    var contract escrow.Contract
    if key := os.Getenv("WALLET_PRIVATE_KEY"); key != "" && cfg.EscrowEnabled() {
        eth, err := escrow.Dial(ctx, escrow.EthConfig{RPCURL: cfg.EthRPCURL, Address: cfg.EscrowAddress, ChainID: cfg.ChainID, ReceiptTimeout: cfg.CallTimeout})
        if err != nil {
            log.Fatalf("escrow dial error: %v", err)
        }
        defer eth.Close()
        addr, err := eth.AddSigner(key)
        if err != nil {
            log.Fatalf("wallet key error: %v", err)
        }
        contract = eth
        *wallet = addr.Hex()
    }

    // Redis is shared with the server when set; it backs rematch rooms and
    // keeps the move browser across restarts.
    var (
        rooms lobby.Rooms
        store history.Store = history.NewMemoryStore()
    )
    if strings.TrimSpace(cfg.RedisURL) != "" {
        ropts, err := appcfg.ParseRedisURL(cfg.RedisURL)
        if err != nil {
            log.Fatalf("redis url error: %v", err)
        }
        rdb := redis.NewClient(ropts)
        defer rdb.Close()
        rooms = lobby.NewRegistry(rdb)
        store = history.NewRedisStore(rdb)
    }

    rl, err := readline.NewEx(&readline.Config{
        Prompt:          "chess> ",
        HistoryFile:     ".chess_client_history",
        InterruptPrompt: "^C",
        EOFPrompt:       "quit",
    })
    if err != nil {
        log.Fatalf("readline error: %v", err)
    }
    defer rl.Close()

    t := &tab{
        server:  *server,
        lobby:   lobbyhttp.New(*server, lobbyhttp.WithTimeout(cfg.CallTimeout)),
        escrow:  contract,
        wallet:  *wallet,
        chainID: cfg.ChainID,
        fmt:     presenter.NewFormatter(cat),
    }
    t.out = presenter.NewPresenter(
        func(message string) error {
            _, err := fmt.Fprintln(rl.Stdout(), message)
            return err
        },
        t.writeImage,
    )
    playerID := ""
    if *wallet == "" {
        playerID = "p-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
    }
    t.sess = client.NewSession(client.SessionConfig{
        Wallet:         *wallet,
        PlayerID:       playerID,
        Dial:           t.dial,
        History:        store,
        Catalog:        cat,
        Escrow:         contract,
        Rooms:          rooms,
        RematchTimeout: cfg.RematchTimeout,
        CallTimeout:    cfg.CallTimeout,
        OnUpdate:       t.onUpdate,
        OnStatus:       func(_ wsclient.State, text string) { _ = t.out.Say(text) },
        OnBetting:      func(b betting.Status) { _ = t.out.Say(t.fmt.Betting(b)) },
    })
    defer func() { _ = t.sess.Close(context.Background()) }()

    _ = t.out.Say("Wager chess client, server " + *server)
    if *wallet != "" {
        _ = t.out.Say("Wallet " + *wallet)
    }
    _ = t.out.Say("Type 'help' for commands")
    if arg := flag.Arg(0); arg != "" {
        t.run(ctx, "open "+arg)
    }

    for ctx.Err() == nil {
        rl.SetPrompt(t.prompt())
        line, err := rl.Readline()
        if err == io.EOF {
            break
        }
        if err != nil {
            continue
        }
        line = strings.TrimSpace(line)
        if line == "" {
            continue
        }
        if !t.run(ctx, line) {
            break
        }
    }
}

func envOr(key, def string) string {
    if v := strings.TrimSpace(os.Getenv(key)); v != "" {
        return v
    }
    return def
}
