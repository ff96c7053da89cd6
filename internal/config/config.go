package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// AppConfig holds the room server settings. Values come from the optional
// CONFIG_FILE overlay first; environment variables win over the file.
type AppConfig struct {
	ListenAddr    string   `yaml:"listen_addr" validate:"required"`
	PublicBaseURL string   `yaml:"public_base_url" validate:"omitempty,url"`
	InstanceID    string   `yaml:"instance_id"`
	AllowedOrigin []string `yaml:"allowed_origins"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	EthRPCURL       string `yaml:"eth_rpc_url" validate:"omitempty,url"`
	EscrowAddress   string `yaml:"escrow_address" validate:"omitempty,eth_addr"`
	ChainID         int64  `yaml:"chain_id" validate:"gte=0"`
	OwnerPrivateKey string `yaml:"owner_private_key" validate:"omitempty,hexadecimal"`
	RelayerURL      string `yaml:"relayer_url" validate:"omitempty,url"`
	RelayerToken    string `yaml:"relayer_token"`

	PaymentPoll        time.Duration `yaml:"payment_poll" validate:"gt=0"`
	FinishPoll         time.Duration `yaml:"finish_poll" validate:"gt=0"`
	WatchInterval      time.Duration `yaml:"watch_interval" validate:"gt=0"`
	CallTimeout        time.Duration `yaml:"call_timeout" validate:"gt=0"`
	FinalizeMaxElapsed time.Duration `yaml:"finalize_max_elapsed" validate:"gt=0"`
	FinalizeWorkers    int           `yaml:"finalize_workers" validate:"gte=1,lte=64"`

	DefaultGameTime int           `yaml:"default_game_time" validate:"gte=10,lte=10800"`
	RematchTimeout  time.Duration `yaml:"rematch_timeout" validate:"gt=0"`
	AllowRematch    bool          `yaml:"allow_rematch"`
	MaxRooms        int           `yaml:"max_rooms" validate:"gte=1"`
	RoomIdleTTL     time.Duration `yaml:"room_idle_ttl" validate:"gte=0"`
	LeaseTTL        time.Duration `yaml:"lease_ttl" validate:"gte=0"`
	TickInterval    time.Duration `yaml:"tick_interval" validate:"gt=0"`

	MessagesDir string `yaml:"messages_dir"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *AppConfig {
	return &AppConfig{
		ListenAddr:         ":8080",
		PaymentPoll:        2500 * time.Millisecond,
		FinishPoll:         3 * time.Second,
		WatchInterval:      4 * time.Second,
		CallTimeout:        20 * time.Second,
		FinalizeMaxElapsed: 10 * time.Minute,
		FinalizeWorkers:    2,
		DefaultGameTime:    600,
		RematchTimeout:     30 * time.Second,
		AllowRematch:       true,
		MaxRooms:           200,
		RoomIdleTTL:        30 * time.Minute,
		LeaseTTL:           15 * time.Second,
		TickInterval:       time.Second,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Load() (*AppConfig, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *AppConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *AppConfig) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("PUBLIC_BASE_URL", &cfg.PublicBaseURL)
	str("INSTANCE_ID", &cfg.InstanceID)
	str("REDIS_URL", &cfg.RedisURL)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("ETH_RPC_URL", &cfg.EthRPCURL)
	str("ESCROW_ADDRESS", &cfg.EscrowAddress)
	str("OWNER_PRIVATE_KEY", &cfg.OwnerPrivateKey)
	str("RELAYER_URL", &cfg.RelayerURL)
	str("RELAYER_TOKEN", &cfg.RelayerToken)
	str("MESSAGES_DIR", &cfg.MessagesDir)

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		cfg.AllowedOrigin = nil
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedOrigin = append(cfg.AllowedOrigin, s)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHAIN_ID")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CHAIN_ID: %w", err)
		}
		cfg.ChainID = n
	}
	if v := strings.TrimSpace(os.Getenv("ALLOW_REMATCH")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AllowRematch = b
		}
	}
	for key, dst := range map[string]*int{
		"DEFAULT_GAME_TIME": &cfg.DefaultGameTime,
		"MAX_ROOMS":         &cfg.MaxRooms,
		"FINALIZE_WORKERS":  &cfg.FinalizeWorkers,
	} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	for key, dst := range map[string]*time.Duration{
		"PAYMENT_POLL_INTERVAL": &cfg.PaymentPoll,
		"FINISH_POLL_INTERVAL":  &cfg.FinishPoll,
		"WATCH_INTERVAL":        &cfg.WatchInterval,
		"CHAIN_CALL_TIMEOUT":    &cfg.CallTimeout,
		"FINALIZE_MAX_ELAPSED":  &cfg.FinalizeMaxElapsed,
		"REMATCH_TIMEOUT":       &cfg.RematchTimeout,
		"ROOM_IDLE_TTL":         &cfg.RoomIdleTTL,
		"ROOM_LEASE_TTL":        &cfg.LeaseTTL,
		"TICK_INTERVAL":         &cfg.TickInterval,
	} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

// parseDuration accepts Go durations ("2.5s") or plain milliseconds ("2500").
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

// Validate checks field rules and the settings that only make sense together.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return fmt.Errorf("config %s: failed %q", ve[0].Field(), ve[0].Tag())
		}
		return err
	}
	if c.EscrowAddress != "" && c.EthRPCURL == "" {
		return errors.New("ETH_RPC_URL is required when ESCROW_ADDRESS is set")
	}
	if c.EscrowAddress != "" && c.ChainID <= 0 {
		return errors.New("CHAIN_ID is required when ESCROW_ADDRESS is set")
	}
	if c.RedisURL != "" {
		if _, err := ParseRedisURL(c.RedisURL); err != nil {
			return fmt.Errorf("REDIS_URL: %w", err)
		}
	}
	return nil
}

// EscrowEnabled reports whether a chain-backed escrow is configured.
func (c *AppConfig) EscrowEnabled() bool { return c.EscrowAddress != "" }

// ChainIDBig returns the chain id for go-ethereum signers.
func (c *AppConfig) ChainIDBig() *big.Int { return big.NewInt(c.ChainID) }

// ParseRedisURL turns redis://[:password@]host:port[/db] into client options.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad db index %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()}
	}
	return opts, nil
}
