package bridge

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"

	"github.com/toncenter/ton-dispatch-go/models"
)

const nonceSize = 24

var errDecrypt = errors.New("cannot decrypt bridge message")

func GenerateKeyPair() (models.SessionKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return models.SessionKeyPair{}, err
	}
	return models.SessionKeyPair{PublicKey: pub[:], SecretKey: priv[:]}, nil
}

// ClientID is the bridge identity of a key pair: its hex encoded public key.
func ClientID(kp models.SessionKeyPair) string {
	return hex.EncodeToString(kp.PublicKey)
}

func decodeKey(raw []byte) (*[32]byte, error) {
	if len(raw) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

func decodePeer(peerHex string) (*[32]byte, error) {
	raw, err := hex.DecodeString(peerHex)
	if err != nil {
		return nil, fmt.Errorf("invalid peer id %q: %w", peerHex, err)
	}
	return decodeKey(raw)
}

// Seal encrypts msg for the peer. The output is nonce || box.
func Seal(kp models.SessionKeyPair, peerHex string, msg []byte) ([]byte, error) {
	peer, err := decodePeer(peerHex)
	if err != nil {
		return nil, err
	}
	secret, err := decodeKey(kp.SecretKey)
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return box.Seal(nonce[:], msg, &nonce, peer, secret), nil
}

func Open(kp models.SessionKeyPair, peerHex string, sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+box.Overhead {
		return nil, errDecrypt
	}
	peer, err := decodePeer(peerHex)
	if err != nil {
		return nil, err
	}
	secret, err := decodeKey(kp.SecretKey)
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := box.Open(nil, sealed[nonceSize:], &nonce, peer, secret)
	if !ok {
		return nil, errDecrypt
	}
	return plain, nil
}
