package chessbuilder

import (
    "context"
    "errors"
    "fmt"
    "math/big"
    "strings"
    "sync"
    "time"

    "github.com/ethereum/go-ethereum/common"
    "github.com/ethereum/go-ethereum/crypto"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"

    "github.com/park285/betchess/internal/archive"
    "github.com/park285/betchess/internal/betting"
    "github.com/park285/betchess/internal/config"
    "github.com/park285/betchess/internal/escrow"
    "github.com/park285/betchess/internal/lobby"
    "github.com/park285/betchess/internal/msgcat"
    "github.com/park285/betchess/internal/relayer"
    "github.com/park285/betchess/internal/room"
    "github.com/park285/betchess/internal/session"
    "github.com/park285/betchess/internal/transport/wsserver"
)

// Options are the command-line switches of the room server.
type Options struct {
    // Migrate runs the archive migrations before serving.
    Migrate bool
    // DevEscrow swaps the chain for an in-process escrow.
    DevEscrow bool
}

// Deps is the wired room server.
type Deps struct {
    Config    *config.AppConfig
    Catalog   *msgcat.Catalog
    Redis     *redis.Client
    Registry  *lobby.Registry
    Archive   *archive.Repository
    Escrow    escrow.Contract
    Watcher   *escrow.Watcher
    Relayer   *relayer.Client
    Finalizer *betting.Finalizer
    Hub       *room.Hub
    Server    *wsserver.Server

    log      *zap.Logger
    eth      *escrow.EthContract
    trackers sync.Map // room name -> *betting.Tracker
}

// New connects every optional backend named in cfg and wires the hub.
func New(ctx context.Context, cfg *config.AppConfig, opts Options, logger *zap.Logger) (*Deps, error) {
    if cfg == nil {
        return nil, fmt.Errorf("nil config")
    }
    if logger == nil {
        logger = zap.NewNop()
    }
    d := &Deps{Config: cfg, log: logger}
    ok := false
    defer func() {
        if !ok {
            d.Close()
        }
    }()

    cat, err := msgcat.New(cfg.MessagesDir)
    if err != nil {
        return nil, fmt.Errorf("load messages: %w", err)
    }
    d.Catalog = cat

    // Redis (optional): lobby registry, room records, leases
    if strings.TrimSpace(cfg.RedisURL) != "" {
        ropts, perr := config.ParseRedisURL(cfg.RedisURL)
        if perr != nil {
            return nil, fmt.Errorf("parse redis url: %w", perr)
        }
        d.Redis = redis.NewClient(ropts)
        pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
        err = d.Redis.Ping(pctx).Err()
        cancel()
        if err != nil {
            return nil, fmt.Errorf("ping redis: %w", err)
        }
        d.Registry = lobby.NewRegistry(d.Redis)
    } else {
        logger.Warn("redis_disabled", zap.String("reason", "REDIS_URL empty; rooms live in memory only"))
    }

    // Archive (optional)
    if strings.TrimSpace(cfg.DatabaseURL) != "" {
        d.Archive, err = archive.Open(ctx, cfg.DatabaseURL)
        if err != nil {
            return nil, fmt.Errorf("open archive: %w", err)
        }
        if opts.Migrate {
            if err := archive.Migrate(ctx, d.Archive.DB()); err != nil {
                return nil, fmt.Errorf("migrate archive: %w", err)
            }
        }
    }

    // Escrow
    owner, err := d.connectEscrow(ctx, opts)
    if err != nil {
        return nil, err
    }
    if strings.TrimSpace(cfg.RelayerURL) != "" {
        ropts := []relayer.Option{relayer.WithTimeout(cfg.CallTimeout)}
        if cfg.RelayerToken != "" {
            ropts = append(ropts, relayer.WithAPIKey(cfg.RelayerToken))
        }
        d.Relayer = relayer.NewClient(cfg.RelayerURL, ropts...)
    }
    if d.Escrow != nil {
        var relay betting.Relay
        if d.Relayer != nil {
            relay = d.Relayer
        }
        d.Finalizer = betting.NewFinalizer(d.Escrow, relay, betting.FinalizerConfig{
            Owner:          owner,
            Workers:        cfg.FinalizeWorkers,
            MaxElapsed:     cfg.FinalizeMaxElapsed,
            AttemptTimeout: cfg.CallTimeout,
        })
    }

    d.Hub = room.NewHub(d.hubConfig())
    d.Server = wsserver.New(d.serverConfig())
    ok = true
    return d, nil
}

func (d *Deps) connectEscrow(ctx context.Context, opts Options) (common.Address, error) {
    cfg := d.Config
    switch {
    case opts.DevEscrow:
        owner, err := ownerAddress(cfg.OwnerPrivateKey)
        if err != nil {
            return common.Address{}, err
        }
        mem := escrow.NewMemory(owner)
        d.Escrow = mem
        d.Watcher = escrow.NewWatcher(mem, cfg.WatchInterval, 0)
        d.log.Info("escrow_dev", zap.String("owner", owner.Hex()))
        return owner, nil
    case cfg.EscrowEnabled():
        eth, err := escrow.Dial(ctx, escrow.EthConfig{
            RPCURL:         cfg.EthRPCURL,
            Address:        cfg.EscrowAddress,
            ChainID:        cfg.ChainID,
            ReceiptTimeout: cfg.CallTimeout,
        })
        if err != nil {
            return common.Address{}, fmt.Errorf("dial escrow: %w", err)
        }
        d.eth = eth
        cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
        err = eth.CheckNetwork(cctx)
        cancel()
        if err != nil {
            return common.Address{}, err
        }
        var owner common.Address
        if cfg.OwnerPrivateKey != "" {
            if owner, err = eth.AddSigner(cfg.OwnerPrivateKey); err != nil {
                return common.Address{}, err
            }
        }
        d.Escrow = eth
        d.Watcher = escrow.NewWatcher(eth, cfg.WatchInterval, 0)
        d.log.Info("escrow_connected", zap.String("address", eth.Address().Hex()), zap.Int64("chain_id", cfg.ChainID))
        return owner, nil
    }
    d.log.Warn("escrow_disabled", zap.String("reason", "ESCROW_ADDRESS empty; bets are rejected"))
    return common.Address{}, nil
}

// ownerAddress derives the owner of the dev escrow. Without a key a
// throwaway one is generated.
func ownerAddress(hexKey string) (common.Address, error) {
    hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
    if hexKey == "" {
        key, err := crypto.GenerateKey()
        if err != nil { return common.Address{}, err }
        return crypto.PubkeyToAddress(key.PublicKey), nil
    }
    key, err := crypto.HexToECDSA(hexKey)
    if err != nil { return common.Address{}, fmt.Errorf("parse owner key: %w", err) }
    return crypto.PubkeyToAddress(key.PublicKey), nil
}

func (d *Deps) hubConfig() room.HubConfig {
    cfg := d.Config
    hc := room.HubConfig{
        Store:      room.NewMemoryStore(),
        InstanceID: cfg.InstanceID,
        LeaseTTL:   cfg.LeaseTTL,
        Tick:       cfg.TickInterval,
        IdleTTL:    cfg.RoomIdleTTL,
        Rematch:    cfg.AllowRematch,
        Setup:      d.setupRoom,
    }
    if d.Redis != nil {
        hc.Store = room.NewRedisStore(d.Redis)
        hc.Redis = d.Redis
        hc.Registry = d.Registry
        hc.OnStart = append(hc.OnStart, d.markStarted)
    }
    if d.Finalizer != nil {
        hc.OnTerminal = append(hc.OnTerminal, d.finalize)
    }
    if d.Archive != nil {
        hc.OnTerminal = append(hc.OnTerminal, d.Archive.Observer())
    }
    return hc
}

func (d *Deps) serverConfig() wsserver.Config {
    cfg := d.Config
    sc := wsserver.Config{
        Hub:             d.Hub,
        Catalog:         d.Catalog,
        PublicBaseURL:   cfg.PublicBaseURL,
        InstanceID:      cfg.InstanceID,
        DefaultGameTime: cfg.DefaultGameTime,
        MaxRooms:        cfg.MaxRooms,
        AllowedOrigins:  cfg.AllowedOrigin,
        CallTimeout:     cfg.CallTimeout,
        ChainID:         cfg.ChainID,
        Checks:          map[string]wsserver.HealthCheck{},
    }
    if d.Registry != nil {
        sc.Rooms = d.Registry
        sc.Checks["redis"] = func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() }
    }
    if d.Archive != nil {
        sc.Checks["postgres"] = d.Archive.Ping
    }
    if d.Relayer != nil {
        sc.Checks["relayer"] = func(ctx context.Context) error {
            _, err := d.Relayer.Health(ctx)
            return err
        }
    }
    if d.eth != nil {
        sc.Checks["chain"] = d.eth.CheckNetwork
    }
    // Only the dev escrow can open games on a player's behalf; on a real
    // chain the creator signs from their own wallet.
    if mem, ok := d.Escrow.(*escrow.Memory); ok {
        sc.Escrow = mem
    }
    if d.Finalizer != nil {
        sc.Finalizer = d.Finalizer
    }
    return sc
}

// setupRoom binds a betting tracker to every room opened with a bet.
func (d *Deps) setupRoom(ctx context.Context, r *room.Room, opts room.Options) (session.PaymentGate, error) {
    bet, err := betting.ParseEther(opts.Bet)
    if err != nil {
        return nil, fmt.Errorf("room %s: bet %q: %w", r.Name(), opts.Bet, err)
    }
    if bet.Sign() == 0 {
        return nil, nil
    }
    if d.Escrow == nil {
        return nil, errors.New("betting is disabled on this server")
    }
    cfg := d.Config
    tcfg := betting.TrackerConfig{
        Room:        r.Name(),
        Bet:         bet,
        PaymentPoll: cfg.PaymentPoll,
        FinishPoll:  cfg.FinishPoll,
        CallTimeout: cfg.CallTimeout,
        OnBothPaid: func() {
            if err := r.Publish(r.Context(), session.Event{Kind: session.KindStartGame}); err != nil {
                d.log.Warn("start_after_payment_failed", zap.String("room", r.Name()), zap.Error(err))
            }
        },
        OnChange: r.SetBetting,
    }
    if creator, ok := betting.ParseWallet(opts.Creator); ok {
        tcfg.Creator = creator
    }
    var unsubscribe func()
    if d.Watcher != nil {
        // The game id is unknown until the creator pays, so listen to all games.
        tcfg.Events, unsubscribe = d.Watcher.Subscribe("")
    }
    tracker := betting.NewTracker(d.Escrow, tcfg)
    // seats are reserved from the first join on
    if err := tracker.Refresh(ctx); err != nil {
        d.log.Warn("betting_initial_refresh_failed", zap.String("room", r.Name()), zap.Error(err))
    }
    d.trackers.Store(r.Name(), tracker)
    r.OnClose(func() {
        d.trackers.Delete(r.Name())
        if unsubscribe != nil {
            unsubscribe()
        }
    })
    go tracker.Run(r.Context())
    return tracker, nil
}

func (d *Deps) markStarted(name string, gameNumber int) {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := d.Registry.MarkStarted(ctx, name); err != nil {
        d.log.Warn("registry_mark_started_failed", zap.String("room", name), zap.Int("game_number", gameNumber), zap.Error(err))
    }
}

// finalize queues the on-chain record of a finished bet game.
func (d *Deps) finalize(t room.Terminal) {
    if t.Bet == "" {
        return
    }
    var id *big.Int
    if v, ok := d.trackers.Load(t.Room); ok {
        if info := v.(*betting.Tracker).Info(); info != nil {
            id = info.GameID
        }
    }
    if id == nil {
        ctx, cancel := context.WithTimeout(context.Background(), d.Config.CallTimeout)
        gid, err := d.Escrow.GameIDByRoom(ctx, t.Room)
        cancel()
        if err != nil {
            d.log.Warn("finalize_lookup_failed", zap.String("room", t.Room), zap.Error(err))
            return
        }
        id = gid
    }
    if err := d.Finalizer.Schedule(t.Room, id, t.Result); err != nil {
        d.log.Warn("finalize_schedule_failed", zap.String("room", t.Room), zap.Error(err))
        return
    }
    d.log.Info("finalize_scheduled", zap.String("room", t.Room), zap.String("game_id", id.String()), zap.String("result", string(t.Result.Type)))
}

// Run serves until ctx ends or a component fails.
func (d *Deps) Run(ctx context.Context) error {
    g, ctx := errgroup.WithContext(ctx)
    g.Go(func() error { return d.Hub.Run(ctx) })
    g.Go(func() error { return d.Server.ListenAndServe(ctx, d.Config.ListenAddr) })
    if d.Watcher != nil {
        g.Go(func() error {
            d.Watcher.Run(ctx)
            return nil
        })
    }
    if d.Finalizer != nil {
        g.Go(func() error { return d.Finalizer.Run(ctx) })
    }
    return g.Wait()
}

// Close releases every backend. It is safe on a partially built Deps.
func (d *Deps) Close() {
    if d.Hub != nil {
        d.Hub.Close()
    }
    if d.Watcher != nil {
        d.Watcher.Stop()
    }
    if d.eth != nil {
        d.eth.Close()
    }
    if d.Archive != nil {
        _ = d.Archive.Close()
    }
    if d.Redis != nil {
        _ = d.Redis.Close()
    }
}
