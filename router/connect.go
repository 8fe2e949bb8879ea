package router

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/ton-dispatch-go/bridge"
	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/rpc"
)

var (
	ErrManifestNotFound = errors.New("manifest not found")
	ErrManifestContent  = errors.New("manifest content error")
)

// ConnectLink is a decoded TON Connect universal link.
type ConnectLink struct {
	ClientID string
	Request  models.ConnectRequest
	Return   string
}

// ParseConnectLink accepts tc:// links and https universal links carrying v, id and r.
func ParseConnectLink(link string) (*ConnectLink, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, badRequest("invalid connect link: %v", err)
	}
	q := u.Query()
	if v := q.Get("v"); v != strconv.Itoa(rpc.ProtocolVersion) {
		return nil, badRequest("unsupported protocol version %q", v)
	}
	id := q.Get("id")
	if raw, err := hex.DecodeString(id); err != nil || len(raw) != 32 {
		return nil, badRequest("invalid app id %q", id)
	}
	var req models.ConnectRequest
	if err := json.Unmarshal([]byte(q.Get("r")), &req); err != nil {
		return nil, badRequest("invalid connect request: %v", err)
	}
	if req.ManifestURL == "" {
		return nil, badRequest("connect request without manifest")
	}
	hasAddr := false
	for _, item := range req.Items {
		if item.Name == "ton_addr" {
			hasAddr = true
		}
	}
	if !hasAddr {
		return nil, badRequest("connect request without ton_addr item")
	}
	return &ConnectLink{ClientID: id, Request: req, Return: q.Get("ret")}, nil
}

type ManifestFetcher interface {
	Fetch(ctx context.Context, manifestURL string) (models.Manifest, error)
}

// HTTPManifests downloads app manifests.
type HTTPManifests struct {
	Timeout time.Duration
}

func (h HTTPManifests) Fetch(ctx context.Context, manifestURL string) (models.Manifest, error) {
	var manifest models.Manifest
	if err := ctx.Err(); err != nil {
		return manifest, err
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	agent := fiber.Get(manifestURL)
	agent.Timeout(timeout)
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return manifest, errors.Join(ErrManifestNotFound, errs[0])
	}
	if code != fiber.StatusOK {
		return manifest, errors.Join(ErrManifestNotFound, fmt.Errorf("manifest responded with status %d", code))
	}
	if err := json.Unmarshal(body, &manifest); err != nil {
		return manifest, errors.Join(ErrManifestContent, err)
	}
	if manifest.Name == "" || manifest.URL == "" || manifest.Domain() == "" {
		return manifest, errors.Join(ErrManifestContent, errors.New("manifest misses name or url"))
	}
	return manifest, nil
}

func (r *Router) connectError(ctx context.Context, session models.Session, code rpc.ErrorCode, message string) error {
	eventID, err := r.deps.Sessions.NextWalletEventID(ctx)
	if err != nil {
		return err
	}
	payload, err := rpc.ConnectError(eventID, code, message)
	return r.reply(ctx, session, rpc.EventConnect, payload, err)
}

// HandleConnectLink turns a connect link into a connect proposal for walletID.
// Nothing is stored until the proposal is approved.
func (r *Router) HandleConnectLink(ctx context.Context, walletID string, link string) (models.PendingRequest, error) {
	parsed, err := ParseConnectLink(link)
	if err != nil {
		return models.PendingRequest{}, err
	}
	if _, err := r.deps.Wallets.Wallet(walletID); err != nil {
		return models.PendingRequest{}, err
	}
	keys, err := bridge.GenerateKeyPair()
	if err != nil {
		return models.PendingRequest{}, err
	}
	session := models.Session{
		ClientSessionID: parsed.ClientID,
		KeyPair:         keys,
		WalletID:        walletID,
		CreatedAt:       r.deps.Now().Unix(),
	}

	manifest, err := r.deps.Manifests.Fetch(ctx, parsed.Request.ManifestURL)
	if err != nil {
		code := rpc.CodeManifestNotFound
		if errors.Is(err, ErrManifestContent) {
			code = rpc.CodeManifestContent
		}
		if replyErr := r.connectError(ctx, session, code, err.Error()); replyErr != nil {
			r.deps.Logger.WithError(replyErr).Warn("Failed to report manifest error")
		}
		return models.PendingRequest{}, err
	}
	session.Manifest = manifest

	p := r.newPending(models.PendingRequest{Method: models.KindConnect, Connect: &parsed.Request}, session, nil)
	r.enqueue(p)
	return p.request, nil
}

// ApproveConnect creates the session and answers with the wallet address and, if asked, a ton_proof.
func (r *Router) ApproveConnect(ctx context.Context, requestID string) (*Confirmation, error) {
	p, err := r.takeKind(requestID, models.KindConnect)
	if err != nil {
		return nil, err
	}
	wallet, err := r.deps.Wallets.Wallet(p.session.WalletID)
	if err != nil {
		r.putBack(p)
		return nil, err
	}

	items := []any{rpc.TonAddrItem{
		Name:            "ton_addr",
		Address:         wallet.Address.Lower(),
		Network:         string(wallet.Network),
		PublicKey:       hex.EncodeToString(wallet.PublicKey),
		WalletStateInit: wallet.StateInit,
	}}
	if payload, ok := p.request.Connect.ProofPayload(); ok {
		proof, err := r.tonProof(ctx, wallet, p.session.Manifest.Domain(), payload)
		if err != nil {
			r.putBack(p)
			return nil, err
		}
		items = append(items, proof)
	}

	eventID, err := r.deps.Sessions.NextWalletEventID(ctx)
	if err != nil {
		r.putBack(p)
		return nil, err
	}
	payload, err := rpc.ConnectSuccess(eventID, items, r.device)
	if err != nil {
		r.putBack(p)
		return nil, err
	}
	if err := r.deps.Sessions.Save(ctx, p.session); err != nil {
		r.putBack(p)
		return nil, err
	}
	p.cancel()
	r.emit(UpdateRemoved, p.request)
	r.deps.Transport.AddSession(p.session)

	log := r.deps.Logger.WithFields(logrus.Fields{"session": p.session.ClientSessionID, "wallet": wallet.ID, "app": p.session.Manifest.URL})
	if r.deps.Notifier != nil {
		if err := r.deps.Notifier.Subscribe(ctx, p.session, wallet.Address); err != nil {
			log.WithError(err).Warn("Failed to subscribe to notifications")
		}
	}
	log.Info("App connected")
	return &Confirmation{Delivered: r.deliver(context.WithoutCancel(ctx), p.session, rpc.EventConnect, payload, nil, log)}, nil
}

// RejectConnect answers a connect proposal with a user rejection and stores nothing.
func (r *Router) RejectConnect(ctx context.Context, requestID string) error {
	p, err := r.takeKind(requestID, models.KindConnect)
	if err != nil {
		return err
	}
	p.cancel()
	r.emit(UpdateRemoved, p.request)
	return r.connectError(ctx, p.session, rpc.CodeUserRejected, "User declined the connection")
}

func (r *Router) tonProof(ctx context.Context, wallet models.Wallet, domain string, payload string) (rpc.TonProofItem, error) {
	if !models.ValidDomain(domain) {
		return rpc.TonProofItem{}, badRequest("app domain %q is not valid", domain)
	}
	addr, err := wallet.Address.Addr()
	if err != nil {
		return rpc.TonProofItem{}, err
	}
	key, err := r.deps.Signers.Signer(ctx, wallet)
	if err != nil {
		return rpc.TonProofItem{}, errors.Join(models.ErrSignerUnavailable, err)
	}
	timestamp := r.deps.Now().Unix()
	signature, err := key.Sign(ctx, proofHash(addr.Workchain(), addr.Data(), domain, timestamp, payload))
	if err != nil {
		return rpc.TonProofItem{}, errors.Join(models.ErrSignerUnavailable, err)
	}
	return rpc.TonProofItem{
		Name: "ton_proof",
		Proof: rpc.TonProof{
			Timestamp: timestamp,
			Domain:    rpc.ProofDomain{LengthBytes: uint32(len(domain)), Value: domain},
			Signature: base64.StdEncoding.EncodeToString(signature),
			Payload:   payload,
		},
	}, nil
}

// proofHash is sha256(0xffff || "ton-connect" || sha256(ton-proof-item-v2 message)).
func proofHash(workchain int32, addrHash []byte, domain string, timestamp int64, payload string) []byte {
	msg := []byte("ton-proof-item-v2/")
	msg = binary.BigEndian.AppendUint32(msg, uint32(workchain))
	msg = append(msg, addrHash...)
	msg = binary.LittleEndian.AppendUint32(msg, uint32(len(domain)))
	msg = append(msg, domain...)
	msg = binary.LittleEndian.AppendUint64(msg, uint64(timestamp))
	msg = append(msg, payload...)
	inner := sha256.Sum256(msg)

	full := append([]byte{0xff, 0xff}, "ton-connect"...)
	full = append(full, inner[:]...)
	sum := sha256.Sum256(full)
	return sum[:]
}
