package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/park285/betchess/internal/betting"
	appcfg "github.com/park285/betchess/internal/config"
	"github.com/park285/betchess/internal/escrow"
	"github.com/park285/betchess/internal/relayer"
)

func main() {
	room := flag.String("room", "", "room whose escrow game to look up")
	flag.Parse()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	if cfg.RelayerURL != "" {
		opts := []relayer.Option{relayer.WithTimeout(8 * time.Second), relayer.WithRetry(1)}
		if cfg.RelayerToken != "" {
			opts = append(opts, relayer.WithAPIKey(cfg.RelayerToken))
		}
		rc := relayer.NewClient(cfg.RelayerURL, opts...)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		h, err := rc.Health(ctx)
		cancel()
		if err != nil {
			log.Printf("relayer %s error: %v", rc.BaseURL(), err)
		} else {
			log.Printf("relayer ok: %+v", *h)
		}
	} else {
		log.Println("RELAYER_URL not set; skipping relayer check")
	}

	if !cfg.EscrowEnabled() {
		log.Println("ESCROW_ADDRESS not set; skipping chain check")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	eth, err := escrow.Dial(ctx, escrow.EthConfig{RPCURL: cfg.EthRPCURL, Address: cfg.EscrowAddress, ChainID: cfg.ChainID})
	if err != nil {
		log.Fatalf("dial error: %v", err)
	}
	defer eth.Close()

	if err := eth.CheckNetwork(ctx); err != nil {
		log.Printf("network check failed: %v", err)
		return
	}
	log.Printf("chain ok: id=%d escrow=%s", cfg.ChainID, eth.Address().Hex())
	if owner, err := eth.Owner(ctx); err != nil {
		log.Printf("owner() error: %v", err)
	} else {
		log.Printf("owner: %s", owner.Hex())
	}

	if *room == "" {
		return
	}
	id, err := eth.GameIDByRoom(ctx, *room)
	if err != nil {
		log.Printf("getGameIdByRoom(%s) error: %v", *room, err)
		return
	}
	g, err := eth.Game(ctx, id)
	if err != nil {
		log.Printf("getGame(%s) error: %v", id, err)
		return
	}
	fmt.Printf("game %s room=%s state=%s result=%s bet=%s ETH\n", g.GameID, g.RoomName, g.State, g.Result, betting.FormatEther(g.BetAmount))
	fmt.Printf("  white=%s claimed=%t\n  black=%s claimed=%t\n", g.WhitePlayer.Hex(), g.WhiteClaimed, g.BlackPlayer.Hex(), g.BlackClaimed)
}
