package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/toncenter/ton-dispatch-go/bridge"
	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/multisig"
	"github.com/toncenter/ton-dispatch-go/sender"
)

type Config struct {
	Listen    string `yaml:"listen" env:"LISTEN" env-default:":8090"`
	AccessLog bool   `yaml:"access_log" env:"ACCESS_LOG"`
	// Network is the TON Connect chain id of every wallet without its own.
	Network models.Network `yaml:"network" env:"NETWORK" env-default:"-239"`

	App        AppConfig       `yaml:"app"`
	Log        LogConfig       `yaml:"log"`
	Redis      RedisConfig     `yaml:"redis"`
	Postgres   PostgresConfig  `yaml:"postgres"`
	Bridge     BridgeConfig    `yaml:"bridge"`
	Toncenter  ServiceConfig   `yaml:"toncenter" env-prefix:"TONCENTER_"`
	Battery    ServiceConfig   `yaml:"battery" env-prefix:"BATTERY_"`
	Gasless    ServiceConfig   `yaml:"gasless" env-prefix:"GASLESS_"`
	Notify     NotifyConfig    `yaml:"notify"`
	Selector   SelectorConfig  `yaml:"selector"`
	Multisig   MultisigConfig  `yaml:"multisig"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	WalletList []WalletConfig  `yaml:"wallets"`
}

type AppConfig struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"ton-dispatch"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"dev"`
	// ManifestTimeout bounds the download of TON Connect manifests.
	ManifestTimeout time.Duration `yaml:"manifest_timeout" env:"MANIFEST_TIMEOUT" env-default:"10s"`
	UpdatesBuffer   int           `yaml:"updates_buffer" env:"UPDATES_BUFFER" env-default:"64"`
	EstimationTTL   time.Duration `yaml:"estimation_ttl" env:"ESTIMATION_TTL" env-default:"5m"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type RedisConfig struct {
	URL    string `yaml:"url" env:"REDIS_URL" env-default:"redis://localhost:6379/0"`
	Prefix string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"dispatch"`
}

type PostgresConfig struct {
	DSN      string        `yaml:"dsn" env:"PG_DSN"`
	MaxConns int           `yaml:"max_conns" env:"PG_MAX_CONNS" env-default:"10"`
	MinConns int           `yaml:"min_conns" env:"PG_MIN_CONNS" env-default:"1"`
	Timeout  time.Duration `yaml:"timeout" env:"PG_TIMEOUT" env-default:"5s"`
}

type BridgeConfig struct {
	URL              string        `yaml:"url" env:"BRIDGE_URL" env-default:"https://bridge.tonapi.io/bridge"`
	PublishTTL       time.Duration `yaml:"publish_ttl" env:"BRIDGE_PUBLISH_TTL" env-default:"5m"`
	RequestTimeout   time.Duration `yaml:"request_timeout" env:"BRIDGE_REQUEST_TIMEOUT" env-default:"10s"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout" env:"BRIDGE_HEARTBEAT_TIMEOUT" env-default:"45s"`
	BaseDelay        time.Duration `yaml:"base_delay" env:"BRIDGE_BASE_DELAY" env-default:"500ms"`
	MaxDelay         time.Duration `yaml:"max_delay" env:"BRIDGE_MAX_DELAY" env-default:"30s"`
	PublishRetries   int           `yaml:"publish_retries" env:"BRIDGE_PUBLISH_RETRIES" env-default:"3"`
}

// ServiceConfig is an HTTP collaborator. An empty endpoint disables it.
type ServiceConfig struct {
	Endpoint string        `yaml:"endpoint" env:"ENDPOINT"`
	ApiKey   string        `yaml:"api_key" env:"API_KEY"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT" env-default:"10s"`
}

type NotifyConfig struct {
	Endpoint    string        `yaml:"endpoint" env:"NOTIFY_ENDPOINT"`
	DeviceToken string        `yaml:"device_token" env:"NOTIFY_DEVICE_TOKEN"`
	Timeout     time.Duration `yaml:"timeout" env:"NOTIFY_TIMEOUT" env-default:"5s"`
}

// SelectorConfig enables battery sponsorship per operation kind. Every kind is off by default.
type SelectorConfig struct {
	BatteryTransfer bool `yaml:"battery_transfer" env:"BATTERY_TRANSFER"`
	BatterySwap     bool `yaml:"battery_swap" env:"BATTERY_SWAP"`
	BatteryNft      bool `yaml:"battery_nft" env:"BATTERY_NFT"`
	BatteryConnect  bool `yaml:"battery_connect" env:"BATTERY_CONNECT"`
	// Amounts are decimal nanotons.
	BatteryMinReserve string        `yaml:"battery_min_reserve" env:"BATTERY_MIN_RESERVE" env-default:"0"`
	GaslessMinBalance string        `yaml:"gasless_min_balance" env:"GASLESS_MIN_BALANCE" env-default:"0"`
	MultisigTTL       time.Duration `yaml:"multisig_ttl" env:"MULTISIG_TTL" env-default:"168h"`
	ValidFor          time.Duration `yaml:"valid_for" env:"VALID_FOR" env-default:"5m"`
}

type MultisigConfig struct {
	ProposeAmount string        `yaml:"propose_amount" env:"MULTISIG_PROPOSE_AMOUNT" env-default:"200000000"`
	ApproveAmount string        `yaml:"approve_amount" env:"MULTISIG_APPROVE_AMOUNT" env-default:"100000000"`
	PollInterval  time.Duration `yaml:"poll_interval" env:"MULTISIG_POLL_INTERVAL" env-default:"5s"`
	PollAttempts  int           `yaml:"poll_attempts" env:"MULTISIG_POLL_ATTEMPTS" env-default:"60"`
}

type TelemetryConfig struct {
	// OTLPEndpoint enables tracing when set, host:port of an OTLP/HTTP collector.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool   `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName  string `yaml:"service_name" env:"OTEL_SERVICE_NAME" env-default:"ton-dispatch"`
}

// WalletConfig is a local account. Keys are hex, Seed is a raw ed25519 seed and Sealed one protected by a passphrase.
type WalletConfig struct {
	ID             string            `yaml:"id"`
	Address        string            `yaml:"address"`
	Kind           models.WalletKind `yaml:"kind"`
	Network        models.Network    `yaml:"network"`
	PublicKey      string            `yaml:"public_key"`
	SubwalletID    uint32            `yaml:"subwallet_id"`
	StateInit      string            `yaml:"state_init"`
	SignerWalletID string            `yaml:"signer_wallet_id"`
	Seed           string            `yaml:"seed"`
	Sealed         string            `yaml:"sealed"`
	// PassphraseEnv names the variable holding the passphrase of a sealed key.
	PassphraseEnv string `yaml:"passphrase_env"`
	BatteryToken  string `yaml:"battery_token"`
}

const defaultSubwalletID = 698983191

// Load reads the file named by -config or CONFIG_PATH. Without one only the environment is used.
func Load() (*Config, error) {
	return LoadPath(fetchConfigPath())
}

func LoadPath(path string) (*Config, error) {
	var cfg Config
	var err error
	if path == "" {
		err = cleanenv.ReadEnv(&cfg)
	} else {
		err = cleanenv.ReadConfig(path, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fetchConfigPath reads the path from the -config flag, then CONFIG_PATH.
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}
	return res
}

func parseNanotons(name, value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", name, value)
	}
	return amount, nil
}

func (c *Config) normalize() error {
	var errs []error
	for _, amount := range []struct{ name, value string }{
		{"selector.battery_min_reserve", c.Selector.BatteryMinReserve},
		{"selector.gasless_min_balance", c.Selector.GaslessMinBalance},
		{"multisig.propose_amount", c.Multisig.ProposeAmount},
		{"multisig.approve_amount", c.Multisig.ApproveAmount},
	} {
		if _, err := parseNanotons(amount.name, amount.value); err != nil {
			errs = append(errs, err)
		}
	}

	seen := make(map[string]bool, len(c.WalletList))
	for i := range c.WalletList {
		w := &c.WalletList[i]
		if w.ID == "" {
			errs = append(errs, fmt.Errorf("wallets[%d]: id is required", i))
			continue
		}
		if seen[w.ID] {
			errs = append(errs, fmt.Errorf("wallet %s: duplicate id", w.ID))
		}
		seen[w.ID] = true
		if err := c.normalizeWallet(w); err != nil {
			errs = append(errs, fmt.Errorf("wallet %s: %w", w.ID, err))
		}
	}
	for _, w := range c.WalletList {
		if w.SignerWalletID != "" && !seen[w.SignerWalletID] {
			errs = append(errs, fmt.Errorf("wallet %s: unknown signer wallet %s", w.ID, w.SignerWalletID))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) normalizeWallet(w *WalletConfig) error {
	addr, err := models.ParseAccountAddress(w.Address)
	if err != nil {
		return err
	}
	w.Address = string(addr)
	if w.Kind == "" {
		w.Kind = models.WalletStandard
	}
	switch w.Kind {
	case models.WalletStandard, models.WalletLedger:
		if w.SignerWalletID != "" {
			return errors.New("only multisig accounts have a signer wallet")
		}
	case models.WalletMultisig:
		if w.SignerWalletID == "" {
			return errors.New("multisig account needs signer_wallet_id")
		}
		if w.Seed != "" || w.Sealed != "" {
			return errors.New("multisig account has no key of its own")
		}
	default:
		return fmt.Errorf("unknown kind %q", w.Kind)
	}
	if w.Network == "" {
		w.Network = c.Network
	}
	if w.SubwalletID == 0 {
		w.SubwalletID = defaultSubwalletID
	}
	if w.Seed != "" && w.Sealed != "" {
		return errors.New("seed and sealed are mutually exclusive")
	}
	if w.Kind == models.WalletLedger && (w.Seed != "" || w.Sealed != "") {
		return errors.New("hardware wallet keys never leave the device")
	}
	if w.Sealed != "" && w.PassphraseEnv == "" {
		return errors.New("sealed key needs passphrase_env")
	}
	if w.PublicKey == "" && w.Seed != "" {
		seed, err := hex.DecodeString(w.Seed)
		if err != nil || len(seed) != ed25519.SeedSize {
			return errors.New("invalid seed")
		}
		w.PublicKey = hex.EncodeToString(ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey))
	}
	if w.Kind != models.WalletMultisig {
		key, err := hex.DecodeString(w.PublicKey)
		if err != nil || len(key) != ed25519.PublicKeySize {
			return errors.New("public_key must be 32 hex encoded bytes")
		}
	}
	return nil
}

// Wallets builds the wallet directory.
func (c *Config) Wallets() models.Wallets {
	out := make(models.Wallets, len(c.WalletList))
	for _, w := range c.WalletList {
		key, _ := hex.DecodeString(w.PublicKey)
		out[w.ID] = models.Wallet{
			ID:             w.ID,
			Address:        models.AccountAddress(w.Address),
			PublicKey:      key,
			Kind:           w.Kind,
			Network:        w.Network,
			SubwalletID:    w.SubwalletID,
			StateInit:      w.StateInit,
			SignerWalletID: w.SignerWalletID,
			BatteryToken:   w.BatteryToken,
		}
	}
	return out
}

func (c *Config) SenderConfig() sender.Config {
	reserve, _ := parseNanotons("", c.Selector.BatteryMinReserve)
	minBalance, _ := parseNanotons("", c.Selector.GaslessMinBalance)
	return sender.Config{
		BatteryTransfer:   c.Selector.BatteryTransfer,
		BatterySwap:       c.Selector.BatterySwap,
		BatteryNft:        c.Selector.BatteryNft,
		BatteryConnect:    c.Selector.BatteryConnect,
		BatteryMinReserve: reserve,
		GaslessMinBalance: minBalance,
		MultisigTTL:       c.Selector.MultisigTTL,
		ValidFor:          c.Selector.ValidFor,
	}
}

func (c *Config) MultisigConfig() multisig.Config {
	propose, _ := parseNanotons("", c.Multisig.ProposeAmount)
	approve, _ := parseNanotons("", c.Multisig.ApproveAmount)
	return multisig.Config{
		ProposeAmount: propose,
		ApproveAmount: approve,
		PollInterval:  c.Multisig.PollInterval,
		PollAttempts:  c.Multisig.PollAttempts,
	}
}

func (c *Config) BridgeConfig() bridge.Config {
	return bridge.Config{
		URL:              c.Bridge.URL,
		PublishTTL:       c.Bridge.PublishTTL,
		RequestTimeout:   c.Bridge.RequestTimeout,
		HeartbeatTimeout: c.Bridge.HeartbeatTimeout,
		BaseDelay:        c.Bridge.BaseDelay,
		MaxDelay:         c.Bridge.MaxDelay,
		PublishRetries:   c.Bridge.PublishRetries,
	}
}
