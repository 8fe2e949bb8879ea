package config

import (
	"context"
	"fmt"
	"os"

	"github.com/toncenter/ton-dispatch-go/signer"
)

// EnvPassphrases reads the passphrase of a sealed wallet key from the environment.
type EnvPassphrases map[string]string

func (e EnvPassphrases) Passphrase(_ context.Context, walletID string) (string, error) {
	name, ok := e[walletID]
	if !ok {
		return "", fmt.Errorf("no passphrase source for wallet %s", walletID)
	}
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("%s is not set", name)
	}
	return value, nil
}

// Keyring loads the configured keys. Wallets without one can still receive requests but not sign.
func (c *Config) Keyring() (*signer.Keyring, error) {
	passphrases := make(EnvPassphrases)
	for _, w := range c.WalletList {
		if w.PassphraseEnv != "" {
			passphrases[w.ID] = w.PassphraseEnv
		}
	}
	keyring := signer.NewKeyring(passphrases)
	for _, w := range c.WalletList {
		switch {
		case w.Seed != "":
			if err := keyring.AddSeed(w.ID, w.Seed); err != nil {
				return nil, err
			}
		case w.Sealed != "":
			if err := keyring.AddSealed(w.ID, w.Sealed); err != nil {
				return nil, err
			}
		}
	}
	return keyring, nil
}
