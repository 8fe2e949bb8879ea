package router

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/rpc"
)

const (
	signDataText   = "text"
	signDataBinary = "binary"
	signDataCell   = "cell"
)

func validateSignData(wallet models.Wallet, data *models.SignDataRequest) error {
	switch data.Type {
	case signDataText:
	case signDataBinary:
		if _, err := base64.StdEncoding.DecodeString(data.Bytes); err != nil {
			return badRequest("invalid bytes: %v", err)
		}
	case signDataCell:
		return badRequest("cell payloads are not supported")
	default:
		return badRequest("unknown sign data type %q", data.Type)
	}
	if data.From != "" {
		from, err := models.ParseAccountAddress(data.From)
		if err != nil {
			return badRequest("invalid from: %v", err)
		}
		own, err := models.ParseAccountAddress(string(wallet.Address))
		if err != nil || own != from {
			return badRequest("request is for another wallet")
		}
	}
	return nil
}

// signDataHash is sha256 of the ton-connect/sign-data/ envelope for text and binary payloads.
func signDataHash(workchain int32, addrHash []byte, domain string, timestamp int64, data *models.SignDataRequest) ([]byte, error) {
	var prefix string
	var payload []byte
	switch data.Type {
	case signDataText:
		prefix, payload = "txt", []byte(data.Text)
	case signDataBinary:
		raw, err := base64.StdEncoding.DecodeString(data.Bytes)
		if err != nil {
			return nil, err
		}
		prefix, payload = "bin", raw
	default:
		return nil, badRequest("unsupported sign data type %q", data.Type)
	}

	msg := append([]byte{0xff, 0xff}, "ton-connect/sign-data/"...)
	msg = binary.BigEndian.AppendUint32(msg, uint32(workchain))
	msg = append(msg, addrHash...)
	msg = binary.BigEndian.AppendUint32(msg, uint32(len(domain)))
	msg = append(msg, domain...)
	msg = binary.BigEndian.AppendUint64(msg, uint64(timestamp))
	msg = append(msg, prefix...)
	msg = binary.BigEndian.AppendUint32(msg, uint32(len(payload)))
	msg = append(msg, payload...)
	sum := sha256.Sum256(msg)
	return sum[:], nil
}

type signDataPayload struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Bytes string `json:"bytes,omitempty"`
}

func (r *Router) confirmSignData(ctx context.Context, p *pending) (*Confirmation, error) {
	wallet, err := r.deps.Wallets.Wallet(p.request.WalletID)
	if err != nil {
		r.putBack(p)
		return nil, err
	}
	addr, err := wallet.Address.Addr()
	if err != nil {
		r.putBack(p)
		return nil, err
	}
	key, err := r.deps.Signers.Signer(ctx, wallet)
	if err != nil {
		r.putBack(p)
		return nil, errors.Join(models.ErrSignerUnavailable, err)
	}

	domain := p.session.Manifest.Domain()
	timestamp := r.deps.Now().Unix()
	hash, err := signDataHash(addr.Workchain(), addr.Data(), domain, timestamp, p.request.SignData)
	if err != nil {
		r.putBack(p)
		return nil, err
	}
	detached := context.WithoutCancel(ctx)
	signature, err := key.Sign(detached, hash)
	if err != nil {
		r.putBack(p)
		return nil, errors.Join(models.ErrSignerUnavailable, err)
	}
	p.cancel()
	r.emit(UpdateRemoved, p.request)

	data := p.request.SignData
	payload, err := rpc.Success(rpc.ID(p.request.RPCID), rpc.SignDataResult{
		Signature: base64.StdEncoding.EncodeToString(signature),
		Address:   wallet.Address.Lower(),
		Timestamp: timestamp,
		Domain:    domain,
		Payload:   signDataPayload{Type: data.Type, Text: data.Text, Bytes: data.Bytes},
	})
	log := r.deps.Logger.WithFields(logrus.Fields{"request": p.request.ID, "wallet": wallet.ID})
	log.Info("Data signed")
	return &Confirmation{Delivered: r.deliver(detached, p.session, string(p.request.Method), payload, err, log)}, nil
}
