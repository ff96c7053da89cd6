package main

import (
    "context"
    "errors"
    "flag"
    "log"
    "os"
    "os/signal"
    "syscall"

    "go.uber.org/zap"

    "github.com/park285/betchess/internal/chessbuilder"
    appcfg "github.com/park285/betchess/internal/config"
    "github.com/park285/betchess/internal/obslog"
)

func main() {
    migrate := flag.Bool("migrate", false, "run archive migrations before serving")
    devEscrow := flag.Bool("dev-escrow", false, "use an in-process escrow instead of the chain")
    flag.Parse()

    if err := obslog.InitFromEnv(); err != nil {
        log.Fatalf("logger init error: %v", err)
    }
    defer obslog.Sync()
    logger := obslog.Named("server")

    cfg, err := appcfg.Load()
    if err != nil {
        logger.Fatal("config_error", zap.Error(err))
    }

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    deps, err := chessbuilder.New(ctx, cfg, chessbuilder.Options{Migrate: *migrate, DevEscrow: *devEscrow}, logger)
    if err != nil {
        logger.Fatal("init_error", zap.Error(err))
    }
    defer deps.Close()

    logger.Info("server_start",
        zap.String("addr", cfg.ListenAddr),
        zap.Bool("redis", deps.Redis != nil),
        zap.Bool("archive", deps.Archive != nil),
        zap.Bool("escrow", deps.Escrow != nil),
        zap.Bool("relayer", deps.Relayer != nil))

    if err := deps.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
        logger.Error("server_stopped", zap.Error(err))
        return
    }
    logger.Info("server_stopped")
}
