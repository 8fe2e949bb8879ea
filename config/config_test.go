package config

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"

	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/signer"
)

var (
	seedHex   = strings.Repeat("a1", 32)
	rawWallet = "0:" + strings.Repeat("AB", 32)
	rawMS     = "0:" + strings.Repeat("CD", 32)
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func friendly(t *testing.T, raw string) string {
	t.Helper()
	addr, err := address.ParseRawAddr(raw)
	require.NoError(t, err)
	return addr.String()
}

func TestLoadDefaultsAndNormalization(t *testing.T) {
	path := writeConfig(t, `
network: "-3"
selector:
  battery_nft: true
  gasless_min_balance: "100000000"
wallets:
  - id: main
    address: `+friendly(t, strings.ToLower(rawWallet))+`
    seed: `+seedHex+`
    battery_token: secret
  - id: team
    kind: multisig
    address: `+rawMS+`
    signer_wallet_id: main
`)
	cfg, err := LoadPath(path)
	require.NoError(t, err)

	require.Equal(t, ":8090", cfg.Listen)
	require.Equal(t, "https://bridge.tonapi.io/bridge", cfg.Bridge.URL)
	require.Equal(t, 45*time.Second, cfg.Bridge.HeartbeatTimeout)
	require.Equal(t, 10*time.Second, cfg.Toncenter.Timeout)
	require.Equal(t, 60, cfg.Multisig.PollAttempts)

	wallets := cfg.Wallets()
	main, err := wallets.Wallet("main")
	require.NoError(t, err)
	require.Equal(t, models.AccountAddress(rawWallet), main.Address)
	require.Equal(t, models.NetworkTestnet, main.Network)
	require.Equal(t, models.WalletStandard, main.Kind)
	require.EqualValues(t, defaultSubwalletID, main.SubwalletID)
	require.Equal(t, "secret", main.BatteryToken)
	seed, _ := hex.DecodeString(seedHex)
	require.Equal(t, []byte(ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)), main.PublicKey)

	team, err := wallets.Wallet("team")
	require.NoError(t, err)
	require.True(t, team.IsMultisig())
	require.Equal(t, "main", team.SignerWalletID)

	sc := cfg.SenderConfig()
	require.True(t, sc.BatteryNft)
	require.False(t, sc.BatteryTransfer)
	require.Equal(t, "100000000", sc.GaslessMinBalance.String())
	require.Equal(t, 168*time.Hour, sc.MultisigTTL)

	mc := cfg.MultisigConfig()
	require.Equal(t, "200000000", mc.ProposeAmount.String())
	require.Equal(t, 5*time.Second, mc.PollInterval)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "listen: \":7000\"\ntoncenter:\n  endpoint: https://example.com/api/v2\n")
	t.Setenv("LISTEN", ":9000")
	t.Setenv("TONCENTER_API_KEY", "key")
	cfg, err := LoadPath(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Listen)
	require.Equal(t, "https://example.com/api/v2", cfg.Toncenter.Endpoint)
	require.Equal(t, "key", cfg.Toncenter.ApiKey)
}

func TestInvalidWallets(t *testing.T) {
	cases := map[string]string{
		"bad address": `
wallets:
  - id: a
    address: nowhere
    seed: ` + seedHex,
		"multisig without signer": `
wallets:
  - id: a
    kind: multisig
    address: ` + rawMS,
		"unknown signer": `
wallets:
  - id: a
    kind: multisig
    address: ` + rawMS + `
    signer_wallet_id: b`,
		"hardware key": `
wallets:
  - id: a
    kind: ledger
    address: ` + rawWallet + `
    seed: ` + seedHex,
		"sealed without passphrase": `
wallets:
  - id: a
    address: ` + rawWallet + `
    public_key: ` + strings.Repeat("ab", 32) + `
    sealed: abcd`,
		"duplicate id": `
wallets:
  - id: a
    address: ` + rawWallet + `
    seed: ` + seedHex + `
  - id: a
    address: ` + rawWallet + `
    seed: ` + seedHex,
		"bad amount": `
multisig:
  propose_amount: lots`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadPath(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestKeyring(t *testing.T) {
	seed, _ := hex.DecodeString(seedHex)
	sealed, err := signer.SealSeed(seed, "hunter2")
	require.NoError(t, err)
	pub := hex.EncodeToString(ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey))

	path := writeConfig(t, `
wallets:
  - id: plain
    address: `+rawWallet+`
    seed: `+seedHex+`
  - id: locked
    address: `+rawMS+`
    public_key: `+pub+`
    sealed: "`+hex.EncodeToString(sealed)+`"
    passphrase_env: LOCKED_PASSPHRASE
`)
	cfg, err := LoadPath(path)
	require.NoError(t, err)
	keyring, err := cfg.Keyring()
	require.NoError(t, err)
	wallets := cfg.Wallets()

	s, err := keyring.Signer(context.Background(), wallets["plain"])
	require.NoError(t, err)
	require.Equal(t, wallets["plain"].PublicKey, []byte(s.PublicKey()))

	_, err = keyring.Signer(context.Background(), wallets["locked"])
	require.ErrorIs(t, err, models.ErrSignerUnavailable)

	t.Setenv("LOCKED_PASSPHRASE", "hunter2")
	s, err = keyring.Signer(context.Background(), wallets["locked"])
	require.NoError(t, err)
	require.Equal(t, pub, hex.EncodeToString(s.PublicKey()))
}
