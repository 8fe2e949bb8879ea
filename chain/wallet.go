package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/signer"
)

const (
	DefaultSubwalletID = 698983191
	MaxWalletMessages  = 4

	// DefaultSendMode pays fees separately and ignores action errors.
	DefaultSendMode = 3
)

var ErrTooManyMessages = errors.New("too many messages for one wallet transfer")

// WalletV4 encodes transfers of v4r2 wallets.
type WalletV4 struct{}

// Encode builds the unsigned transfer body for msgs.
func (WalletV4) Encode(wallet models.Wallet, seqno uint32, validUntil int64, msgs []models.OutMessage) (models.UnsignedTransfer, error) {
	if len(msgs) == 0 || len(msgs) > MaxWalletMessages {
		return models.UnsignedTransfer{}, fmt.Errorf("%w: %d", ErrTooManyMessages, len(msgs))
	}
	subwallet := wallet.SubwalletID
	if subwallet == 0 {
		subwallet = DefaultSubwalletID
	}
	b := cell.BeginCell().
		MustStoreUInt(uint64(subwallet), 32).
		MustStoreUInt(uint64(validUntil), 32).
		MustStoreUInt(uint64(seqno), 32).
		MustStoreUInt(0, 8)
	for i, msg := range msgs {
		msgCell, err := InternalMessage(msg)
		if err != nil {
			return models.UnsignedTransfer{}, fmt.Errorf("message %d: %w", i, err)
		}
		b.MustStoreUInt(uint64(msg.Mode), 8).MustStoreRef(msgCell)
	}
	body := b.EndCell()
	return models.UnsignedTransfer{
		WalletID:   wallet.ID,
		Seqno:      seqno,
		ValidUntil: validUntil,
		Body:       body.ToBOC(),
		Hash:       body.Hash(),
	}, nil
}

// Sign signs the transfer body and wraps it into an external message for the wallet.
// The state init is attached while the wallet is not deployed yet.
func (WalletV4) Sign(ctx context.Context, wallet models.Wallet, unsigned models.UnsignedTransfer, s signer.Signer) ([]byte, error) {
	body, err := cell.FromBOC(unsigned.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transfer body: %w", err)
	}
	hash := body.Hash()
	if !bytes.Equal(hash, unsigned.Hash) {
		return nil, errors.New("transfer body does not match its hash")
	}
	signature, err := s.Sign(ctx, hash)
	if err != nil {
		return nil, errors.Join(models.ErrSignerUnavailable, err)
	}
	signed := cell.BeginCell().
		MustStoreSlice(signature, 512).
		MustStoreBuilder(body.ToBuilder()).
		EndCell()

	dst, err := wallet.Address.Addr()
	if err != nil {
		return nil, err
	}
	ext := &tlb.ExternalMessage{DstAddr: dst, Body: signed}
	if unsigned.Seqno == 0 && wallet.StateInit != "" {
		raw, err := base64.StdEncoding.DecodeString(wallet.StateInit)
		if err != nil {
			return nil, fmt.Errorf("invalid wallet state init: %w", err)
		}
		if ext.StateInit, err = ParseStateInit(raw); err != nil {
			return nil, err
		}
	}
	msg, err := tlb.ToCell(ext)
	if err != nil {
		return nil, fmt.Errorf("failed to build external message: %w", err)
	}
	return msg.ToBOCWithFlags(false), nil
}

// InternalMessage serializes an outgoing message of a wallet.
func InternalMessage(msg models.OutMessage) (*cell.Cell, error) {
	dst, err := msg.Destination.Addr()
	if err != nil {
		return nil, fmt.Errorf("invalid destination: %w", err)
	}
	amount := msg.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	im := &tlb.InternalMessage{
		IHRDisabled: true,
		Bounce:      msg.Bounce,
		DstAddr:     dst,
		Amount:      tlb.FromNanoTON(amount),
		Body:        cell.BeginCell().EndCell(),
	}
	if len(msg.Body) > 0 {
		if im.Body, err = cell.FromBOC(msg.Body); err != nil {
			return nil, fmt.Errorf("invalid body: %w", err)
		}
	}
	if len(msg.StateInit) > 0 {
		if im.StateInit, err = ParseStateInit(msg.StateInit); err != nil {
			return nil, err
		}
	}
	return tlb.ToCell(im)
}

func ParseStateInit(raw []byte) (*tlb.StateInit, error) {
	c, err := cell.FromBOC(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid state init: %w", err)
	}
	var si tlb.StateInit
	if err := tlb.LoadFromCell(&si, c.BeginParse()); err != nil {
		return nil, fmt.Errorf("invalid state init: %w", err)
	}
	return &si, nil
}

// ParseBOC decodes a base64 bag of cells with a single root.
func ParseBOC(value string) (*cell.Cell, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		if raw, err = base64.URLEncoding.DecodeString(value); err != nil {
			return nil, fmt.Errorf("invalid base64: %w", err)
		}
	}
	return cell.FromBOC(raw)
}

// MessageHash returns the hash of a serialized message.
func MessageHash(boc []byte) ([]byte, error) {
	c, err := cell.FromBOC(boc)
	if err != nil {
		return nil, err
	}
	return c.Hash(), nil
}

// Message serializes one outgoing message to a bag of cells.
func (WalletV4) Message(msg models.OutMessage) ([]byte, error) {
	c, err := InternalMessage(msg)
	if err != nil {
		return nil, err
	}
	return c.ToBOC(), nil
}
