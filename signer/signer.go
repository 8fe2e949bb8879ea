package signer

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/toncenter/ton-dispatch-go/models"
)

// Signer produces ed25519 signatures for a wallet.
type Signer interface {
	PublicKey() ed25519.PublicKey
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

// Provider resolves the signer able to act for a wallet.
type Provider interface {
	Signer(ctx context.Context, wallet models.Wallet) (Signer, error)
}

type KeyPair struct {
	key ed25519.PrivateKey
}

func NewKeyPair(key ed25519.PrivateKey) *KeyPair {
	return &KeyPair{key: key}
}

func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &KeyPair{key: ed25519.NewKeyFromSeed(seed)}, nil
}

func (k *KeyPair) PublicKey() ed25519.PublicKey {
	return k.key.Public().(ed25519.PublicKey)
}

func (k *KeyPair) Sign(_ context.Context, payload []byte) ([]byte, error) {
	return ed25519.Sign(k.key, payload), nil
}

// Estimation signs with a zero signature. Its output is only valid for
// simulations that skip signature checks.
type Estimation struct {
	publicKey ed25519.PublicKey
}

func NewEstimation(publicKey ed25519.PublicKey) *Estimation {
	return &Estimation{publicKey: publicKey}
}

func (e *Estimation) PublicKey() ed25519.PublicKey {
	return e.publicKey
}

func (e *Estimation) Sign(context.Context, []byte) ([]byte, error) {
	return make([]byte, ed25519.SignatureSize), nil
}

// PassphraseSource asks the user to unlock a wallet key.
type PassphraseSource interface {
	Passphrase(ctx context.Context, walletID string) (string, error)
}

// Keyring holds the keys of local wallets. Hardware wallets are never in it.
type Keyring struct {
	mu          sync.RWMutex
	plain       map[string]*KeyPair
	sealed      map[string][]byte
	passphrases PassphraseSource
}

func NewKeyring(passphrases PassphraseSource) *Keyring {
	return &Keyring{
		plain:       make(map[string]*KeyPair),
		sealed:      make(map[string][]byte),
		passphrases: passphrases,
	}
}

func (k *Keyring) AddSeed(walletID string, seedHex string) error {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return fmt.Errorf("invalid seed of wallet %s: %w", walletID, err)
	}
	pair, err := KeyPairFromSeed(seed)
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.plain[walletID] = pair
	k.mu.Unlock()
	return nil
}

// AddSealed registers a key sealed with SealSeed. It is unlocked on every use.
func (k *Keyring) AddSealed(walletID string, sealedHex string) error {
	sealed, err := hex.DecodeString(sealedHex)
	if err != nil {
		return fmt.Errorf("invalid sealed key of wallet %s: %w", walletID, err)
	}
	k.mu.Lock()
	k.sealed[walletID] = sealed
	k.mu.Unlock()
	return nil
}

func (k *Keyring) Signer(ctx context.Context, wallet models.Wallet) (Signer, error) {
	if wallet.IsHardware() {
		return nil, errors.Join(models.ErrSignerUnavailable, fmt.Errorf("wallet %s is a hardware wallet", wallet.ID))
	}
	k.mu.RLock()
	pair, ok := k.plain[wallet.ID]
	sealed, isSealed := k.sealed[wallet.ID]
	k.mu.RUnlock()

	switch {
	case ok:
		return pair, nil
	case isSealed:
		if k.passphrases == nil {
			return nil, errors.Join(models.ErrSignerUnavailable, errors.New("no passphrase source"))
		}
		passphrase, err := k.passphrases.Passphrase(ctx, wallet.ID)
		if err != nil {
			return nil, errors.Join(models.ErrSignerUnavailable, err)
		}
		seed, err := OpenSeed(sealed, passphrase)
		if err != nil {
			return nil, errors.Join(models.ErrSignerUnavailable, err)
		}
		return KeyPairFromSeed(seed)
	}
	return nil, errors.Join(models.ErrSignerUnavailable, fmt.Errorf("no key for wallet %s", wallet.ID))
}
