package router

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/toncenter/ton-dispatch-go/bridge"
	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/rpc"
	"github.com/toncenter/ton-dispatch-go/sender"
	"github.com/toncenter/ton-dispatch-go/sessions"
	"github.com/toncenter/ton-dispatch-go/signer"
)

const (
	walletAddr = "0:83DFD552E63729B472FCBCC8C45EBCC6691702558B68EC7527E1BA403A0F31A8"
	otherAddr  = "0:ED1691307050047117B998B561D8DE82D31FBF84910CED6EB5FC92E7485EF8A7"
	appID      = "4f1c3b6a0e2d5c7b9a8f6e4d3c2b1a0f9e8d7c6b5a4f3e2d1c0b9a8f7e6d5c4b"
)

var now = time.Unix(1_700_000_000, 0)

type published struct {
	session models.Session
	payload []byte
	topic   string
}

type fakeTransport struct {
	mu         sync.Mutex
	out        []published
	added      []string
	removed    []string
	events     chan bridge.Event
	publishErr error
}

func (f *fakeTransport) Events() <-chan bridge.Event { return f.events }

func (f *fakeTransport) AddSession(s models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, s.ClientSessionID)
}

func (f *fakeTransport) RemoveSession(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
}

func (f *fakeTransport) Publish(_ context.Context, s models.Session, payload []byte, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.out = append(f.out, published{session: s, payload: payload, topic: topic})
	return nil
}

func (f *fakeTransport) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.out)
}

func (f *fakeTransport) last(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.out)
	var v map[string]any
	require.NoError(t, json.Unmarshal(f.out[len(f.out)-1].payload, &v))
	return v
}

type fakeSender struct {
	started chan struct{}
	block   bool
	sent    int
}

func (f *fakeSender) Estimate(ctx context.Context, op sender.Operation) (*sender.Estimation, error) {
	if f.block {
		close(f.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &sender.Estimation{Choice: sender.External(), Messages: op.Messages}, nil
}

func (f *fakeSender) Send(_ context.Context, est *sender.Estimation, _ sender.Operation) (*sender.Result, error) {
	f.sent++
	return &sender.Result{Choice: est.Choice, Hash: "hash", Boc: []byte{1, 2, 3}}, nil
}

type fakeSelector struct {
	sender *fakeSender
}

func (f *fakeSelector) Choices(context.Context, sender.Operation) ([]sender.Choice, error) {
	return []sender.Choice{sender.External()}, nil
}

func (f *fakeSelector) Resolve(_ context.Context, _ sender.Operation, choice sender.Choice) (sender.Sender, error) {
	if choice.Kind != sender.ChoiceExternal {
		return nil, fmt.Errorf("%w: only external", models.ErrBadRequest)
	}
	return f.sender, nil
}

type fakeManifests struct{}

func (fakeManifests) Fetch(_ context.Context, manifestURL string) (models.Manifest, error) {
	if manifestURL == "https://missing.example.com/manifest.json" {
		return models.Manifest{}, ErrManifestNotFound
	}
	return models.Manifest{Name: "Example", URL: "https://example.com"}, nil
}

type fixture struct {
	router    *Router
	transport *fakeTransport
	sessions  *sessions.Store
	sender    *fakeSender
	wallet    models.Wallet
	session   models.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	seed := make([]byte, ed25519.SeedSize)
	ring := signer.NewKeyring(nil)
	require.NoError(t, ring.AddSeed("w1", hex.EncodeToString(seed)))
	key, err := signer.KeyPairFromSeed(seed)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		transport: &fakeTransport{events: make(chan bridge.Event)},
		sessions:  sessions.New(client, "test"),
		sender:    &fakeSender{},
		wallet: models.Wallet{
			ID: "w1", Address: walletAddr, PublicKey: key.PublicKey(),
			Kind: models.WalletStandard, Network: models.NetworkMainnet,
		},
	}
	f.session = models.Session{
		ClientSessionID: appID,
		WalletID:        "w1",
		Manifest:        models.Manifest{Name: "Example", URL: "https://example.com"},
	}
	require.NoError(t, f.sessions.Save(context.Background(), f.session))

	f.router = New(Config{AppName: "test"}, Deps{
		Transport: f.transport,
		Sessions:  f.sessions,
		Selector:  &fakeSelector{sender: f.sender},
		Signers:   ring,
		Wallets:   models.Wallets{"w1": f.wallet},
		Manifests: fakeManifests{},
		Logger:    logger,
		Now:       func() time.Time { return now },
	})
	return f
}

func request(t *testing.T, id string, method string, params ...any) []byte {
	t.Helper()
	encoded := make([]string, 0, len(params))
	for _, p := range params {
		if s, ok := p.(string); ok {
			encoded = append(encoded, s)
			continue
		}
		raw, err := json.Marshal(p)
		require.NoError(t, err)
		encoded = append(encoded, string(raw))
	}
	raw, err := json.Marshal(rpc.Request{ID: rpc.ID(id), Method: method, Params: encoded})
	require.NoError(t, err)
	return raw
}

func transaction(amount string) models.TransactionRequest {
	return models.TransactionRequest{
		ValidUntil: now.Add(time.Minute).Unix(),
		Messages:   []models.TransactionMessage{{Address: otherAddr, Amount: amount}},
	}
}

func (f *fixture) deliver(payload []byte) {
	f.router.HandleEvent(context.Background(), bridge.Event{ID: 1, Session: f.session, Payload: payload})
}

func errorCode(t *testing.T, reply map[string]any) float64 {
	t.Helper()
	body, ok := reply["error"].(map[string]any)
	require.True(t, ok, "reply has no error: %v", reply)
	return body["code"].(float64)
}

func TestUnsupportedMethodIsAnswered(t *testing.T) {
	f := newFixture(t)
	f.deliver(request(t, "1", "teleport"))

	reply := f.transport.last(t)
	require.Equal(t, "1", reply["id"])
	require.EqualValues(t, rpc.CodeMethodNotSupported, errorCode(t, reply))
	require.Empty(t, f.router.Pending())
}

func TestMalformedTransactionIsBadRequest(t *testing.T) {
	f := newFixture(t)
	f.deliver(request(t, "7", rpc.MethodSendTransaction, "{not json"))

	require.EqualValues(t, rpc.CodeBadRequest, errorCode(t, f.transport.last(t)))
	require.Empty(t, f.router.Pending())
	select {
	case u := <-f.router.Updates():
		t.Fatalf("unexpected update %v", u)
	default:
	}
}

func TestFullFeedIsFollowedByResync(t *testing.T) {
	f := newFixture(t)
	f.router.updates = make(chan Update, 1)

	f.deliver(request(t, "1", rpc.MethodSendTransaction, transaction("1")))
	f.deliver(request(t, "2", rpc.MethodSendTransaction, transaction("2")))
	first := <-f.router.Updates()
	require.Equal(t, UpdateAdded, first.Kind)
	require.Equal(t, "1", first.Request.RPCID)
	select {
	case u := <-f.router.Updates():
		t.Fatalf("dropped updates must not arrive late: %v", u)
	default:
	}

	f.deliver(request(t, "3", rpc.MethodSendTransaction, transaction("3")))
	resync := <-f.router.Updates()
	require.Equal(t, UpdateResync, resync.Kind)
	require.Len(t, resync.Pending, 1)
	require.Equal(t, "3", resync.Pending[0].RPCID)
}

func TestBadParamsEnvelopeIsAnswered(t *testing.T) {
	for _, payload := range []string{
		`{"id":"11","method":"sendTransaction","params":[{"messages":[]}]}`,
		`{"id":"11","method":"sendTransaction","params":"{}"}`,
	} {
		f := newFixture(t)
		f.deliver([]byte(payload))

		reply := f.transport.last(t)
		require.Equal(t, "11", reply["id"], payload)
		require.EqualValues(t, rpc.CodeBadRequest, errorCode(t, reply), payload)
		require.Empty(t, f.router.Pending(), payload)
	}
}

func TestEnvelopeWithoutIDIsDropped(t *testing.T) {
	f := newFixture(t)
	f.deliver([]byte(`{"method":"sendTransaction","params":"{}"}`))
	f.deliver([]byte(`not json`))
	require.Zero(t, f.transport.publishedCount())
	require.Empty(t, f.router.Pending())
}

func TestNewTransactionSupersedesAndCancelsEstimation(t *testing.T) {
	f := newFixture(t)
	f.deliver(request(t, "1", rpc.MethodSendTransaction, transaction("1")))
	first := <-f.router.Updates()
	require.Equal(t, UpdateAdded, first.Kind)

	f.sender.block = true
	f.sender.started = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := f.router.Estimate(context.Background(), first.Request.ID, sender.External())
		done <- err
	}()
	<-f.sender.started

	f.deliver(request(t, "2", rpc.MethodSendTransaction, transaction("2")))
	require.ErrorIs(t, <-done, models.ErrUserRejected)

	superseded := <-f.router.Updates()
	require.Equal(t, UpdateSuperseded, superseded.Kind)
	require.Equal(t, first.Request.ID, superseded.Request.ID)
	second := <-f.router.Updates()
	require.Equal(t, UpdateAdded, second.Kind)

	pending := f.router.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, "2", pending[0].RPCID)

	_, err := f.router.Estimate(context.Background(), first.Request.ID, sender.External())
	require.ErrorIs(t, err, models.ErrNotFound)
	require.Empty(t, f.transport.out)
}

func TestConfirmRepliesWithBoc(t *testing.T) {
	f := newFixture(t)
	f.deliver(request(t, "5", rpc.MethodSendTransaction, transaction("1000")))
	added := <-f.router.Updates()

	est, err := f.router.Estimate(context.Background(), added.Request.ID, sender.External())
	require.NoError(t, err)
	require.Equal(t, sender.External(), est.Choice)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conf, err := f.router.Confirm(ctx, added.Request.ID, sender.External())
	require.NoError(t, err)
	require.Equal(t, &Confirmation{Hash: "hash", Delivered: true}, conf)
	require.Equal(t, 1, f.sender.sent)

	reply := f.transport.last(t)
	require.Equal(t, "5", reply["id"])
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), reply["result"])
	require.Empty(t, f.router.Pending())
}

func TestConfirmSurvivesUndeliveredAnswer(t *testing.T) {
	f := newFixture(t)
	f.deliver(request(t, "6", rpc.MethodSendTransaction, transaction("1000")))
	added := <-f.router.Updates()

	f.transport.publishErr = errors.New("bridge is down")
	conf, err := f.router.Confirm(context.Background(), added.Request.ID, sender.External())
	require.NoError(t, err)
	require.Equal(t, &Confirmation{Hash: "hash", Delivered: false}, conf)
	require.Equal(t, 1, f.sender.sent)
	require.Empty(t, f.router.Pending())

	_, err = f.router.Confirm(context.Background(), added.Request.ID, sender.External())
	require.ErrorIs(t, err, models.ErrNotFound)
	require.Equal(t, 1, f.sender.sent)
}

func TestSignDataSurvivesUndeliveredAnswer(t *testing.T) {
	f := newFixture(t)
	f.deliver(request(t, "2", rpc.MethodSignData, models.SignDataRequest{Type: "text", Text: "hello"}))
	added := <-f.router.Updates()

	f.transport.publishErr = errors.New("bridge is down")
	conf, err := f.router.Confirm(context.Background(), added.Request.ID, sender.Choice{})
	require.NoError(t, err)
	require.False(t, conf.Delivered)
	require.Empty(t, f.router.Pending())
}

func TestDeclineRepliesUserRejected(t *testing.T) {
	f := newFixture(t)
	f.deliver(request(t, "9", rpc.MethodSendTransaction, transaction("1")))
	added := <-f.router.Updates()

	require.NoError(t, f.router.Decline(context.Background(), added.Request.ID))
	require.EqualValues(t, rpc.CodeUserRejected, errorCode(t, f.transport.last(t)))
	require.Empty(t, f.router.Pending())
	require.Zero(t, f.sender.sent)
}

func TestDisconnectRemovesSession(t *testing.T) {
	f := newFixture(t)
	f.deliver(request(t, "3", rpc.MethodSendTransaction, transaction("1")))
	<-f.router.Updates()

	f.deliver(request(t, "4", rpc.MethodDisconnect))
	reply := f.transport.last(t)
	require.Equal(t, "4", reply["id"])
	require.Contains(t, reply, "result")

	_, err := f.sessions.Get(context.Background(), appID)
	require.ErrorIs(t, err, models.ErrNotFound)
	require.Equal(t, []string{appID}, f.transport.removed)
	require.Empty(t, f.router.Pending())
}

func TestSignDataRequiresValidDomain(t *testing.T) {
	f := newFixture(t)
	f.session.Manifest.URL = "http://localhost:3000"
	f.deliver(request(t, "1", rpc.MethodSignData, models.SignDataRequest{Type: "text", Text: "hi"}))

	require.EqualValues(t, rpc.CodeBadRequest, errorCode(t, f.transport.last(t)))
	require.Empty(t, f.router.Pending())
}

func TestSignDataText(t *testing.T) {
	f := newFixture(t)
	f.deliver(request(t, "1", rpc.MethodSignData, models.SignDataRequest{Type: "text", Text: "hello"}))
	added := <-f.router.Updates()

	conf, err := f.router.Confirm(context.Background(), added.Request.ID, sender.Choice{})
	require.NoError(t, err)
	require.True(t, conf.Delivered)
	var reply struct {
		Result rpc.SignDataResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(f.transport.out[len(f.transport.out)-1].payload, &reply))
	require.Equal(t, "example.com", reply.Result.Domain)

	addr, err := f.wallet.Address.Addr()
	require.NoError(t, err)
	hash, err := signDataHash(addr.Workchain(), addr.Data(), "example.com", now.Unix(), &models.SignDataRequest{Type: "text", Text: "hello"})
	require.NoError(t, err)
	signature, err := base64.StdEncoding.DecodeString(reply.Result.Signature)
	require.NoError(t, err)
	require.True(t, ed25519.Verify(f.wallet.PublicKey, hash, signature))
}

func TestSignDataRejectsCell(t *testing.T) {
	f := newFixture(t)
	f.deliver(request(t, "1", rpc.MethodSignData, models.SignDataRequest{Type: "cell", Cell: "te6c"}))
	require.EqualValues(t, rpc.CodeBadRequest, errorCode(t, f.transport.last(t)))
}

func TestApproveConnectSurvivesUndeliveredAnswer(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sessions.Delete(context.Background(), appID))
	req, err := f.router.HandleConnectLink(context.Background(), "w1", connectLink(t, "https://example.com/manifest.json", false))
	require.NoError(t, err)

	f.transport.publishErr = errors.New("bridge is down")
	conf, err := f.router.Confirm(context.Background(), req.ID, sender.Choice{})
	require.NoError(t, err)
	require.False(t, conf.Delivered)
	_, err = f.sessions.Get(context.Background(), appID)
	require.NoError(t, err)
}

func connectLink(t *testing.T, manifest string, proof bool) string {
	t.Helper()
	req := models.ConnectRequest{ManifestURL: manifest, Items: []models.ConnectItem{{Name: "ton_addr"}}}
	if proof {
		req.Items = append(req.Items, models.ConnectItem{Name: "ton_proof", Payload: "nonce"})
	}
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	q := url.Values{"v": {"2"}, "id": {appID}, "r": {string(raw)}, "ret": {"none"}}
	return "tc://?" + q.Encode()
}

func TestApproveConnectWithProof(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sessions.Delete(context.Background(), appID))

	req, err := f.router.HandleConnectLink(context.Background(), "w1", connectLink(t, "https://example.com/manifest.json", true))
	require.NoError(t, err)
	require.Equal(t, models.KindConnect, req.Method)
	_, err = f.sessions.Get(context.Background(), appID)
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.router.ApproveConnect(context.Background(), req.ID)
	require.NoError(t, err)
	saved, err := f.sessions.Get(context.Background(), appID)
	require.NoError(t, err)
	require.Equal(t, "https://example.com", saved.Manifest.URL)
	require.Equal(t, []string{appID}, f.transport.added)

	var event struct {
		Event   string `json:"event"`
		Payload struct {
			Items []json.RawMessage `json:"items"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(f.transport.out[len(f.transport.out)-1].payload, &event))
	require.Equal(t, rpc.EventConnect, event.Event)
	require.Len(t, event.Payload.Items, 2)

	var proof rpc.TonProofItem
	require.NoError(t, json.Unmarshal(event.Payload.Items[1], &proof))
	require.Equal(t, "example.com", proof.Proof.Domain.Value)
	require.EqualValues(t, len("example.com"), proof.Proof.Domain.LengthBytes)

	addr, err := f.wallet.Address.Addr()
	require.NoError(t, err)
	signature, err := base64.StdEncoding.DecodeString(proof.Proof.Signature)
	require.NoError(t, err)
	hash := proofHash(addr.Workchain(), addr.Data(), "example.com", now.Unix(), "nonce")
	require.True(t, ed25519.Verify(f.wallet.PublicKey, hash, signature))
}

func TestRejectConnectStoresNothing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sessions.Delete(context.Background(), appID))

	req, err := f.router.HandleConnectLink(context.Background(), "w1", connectLink(t, "https://example.com/manifest.json", false))
	require.NoError(t, err)
	require.NoError(t, f.router.Decline(context.Background(), req.ID))

	var event rpc.WalletEvent
	require.NoError(t, json.Unmarshal(f.transport.out[len(f.transport.out)-1].payload, &event))
	require.Equal(t, rpc.EventConnectError, event.Event)
	require.EqualValues(t, rpc.CodeUserRejected, event.Payload.(map[string]any)["code"])

	_, err = f.sessions.Get(context.Background(), appID)
	require.ErrorIs(t, err, models.ErrNotFound)
	require.Empty(t, f.transport.added)
}

func TestConnectReportsMissingManifest(t *testing.T) {
	f := newFixture(t)
	_, err := f.router.HandleConnectLink(context.Background(), "w1", connectLink(t, "https://missing.example.com/manifest.json", false))
	require.ErrorIs(t, err, ErrManifestNotFound)

	var event rpc.WalletEvent
	require.NoError(t, json.Unmarshal(f.transport.out[len(f.transport.out)-1].payload, &event))
	require.EqualValues(t, rpc.CodeManifestNotFound, event.Payload.(map[string]any)["code"])
	require.Empty(t, f.router.Pending())
}

func TestParseConnectLink(t *testing.T) {
	valid := connectLink(t, "https://example.com/manifest.json", true)
	link, err := ParseConnectLink(valid)
	require.NoError(t, err)
	require.Equal(t, appID, link.ClientID)
	payload, ok := link.Request.ProofPayload()
	require.True(t, ok)
	require.Equal(t, "nonce", payload)

	universal, err := url.Parse(valid)
	require.NoError(t, err)
	_, err = ParseConnectLink("https://app.tonkeeper.com/ton-connect?" + universal.RawQuery)
	require.NoError(t, err)

	for name, link := range map[string]string{
		"version":  "tc://?v=1&id=" + appID + "&r={}",
		"short id": "tc://?v=2&id=abcd&r={}",
		"no items": "tc://?v=2&id=" + appID + "&r=" + url.QueryEscape(`{"manifestUrl":"https://example.com/m.json","items":[]}`),
		"bad json": "tc://?v=2&id=" + appID + "&r=nope",
	} {
		_, err := ParseConnectLink(link)
		require.ErrorIs(t, err, models.ErrBadRequest, name)
	}
}

func TestTransactionValidation(t *testing.T) {
	f := newFixture(t)
	tests := map[string]func(*models.TransactionRequest){
		"expired":       func(tx *models.TransactionRequest) { tx.ValidUntil = now.Unix() },
		"expired ms":    func(tx *models.TransactionRequest) { tx.ValidUntil = now.Add(-time.Second).UnixMilli() },
		"network":       func(tx *models.TransactionRequest) { tx.Network = models.NetworkTestnet },
		"from":          func(tx *models.TransactionRequest) { tx.From = otherAddr },
		"no messages":   func(tx *models.TransactionRequest) { tx.Messages = nil },
		"many messages": func(tx *models.TransactionRequest) { tx.Messages = append(tx.Messages, tx.Messages[0], tx.Messages[0], tx.Messages[0], tx.Messages[0]) },
		"amount":        func(tx *models.TransactionRequest) { tx.Messages[0].Amount = "1.5" },
		"address":       func(tx *models.TransactionRequest) { tx.Messages[0].Address = "nowhere" },
		"payload":       func(tx *models.TransactionRequest) { tx.Messages[0].Payload = "!!!" },
	}
	for name, mutate := range tests {
		tx := transaction("1")
		mutate(&tx)
		_, err := f.router.operation(f.wallet, &tx)
		require.ErrorIs(t, err, models.ErrBadRequest, name)
	}

	tx := transaction("25")
	tx.ValidUntil = now.Add(time.Minute).UnixMilli()
	tx.From = walletAddr
	op, err := f.router.operation(f.wallet, &tx)
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Minute).Unix(), op.ValidUntil)
	require.Equal(t, "25", op.Messages[0].Amount.String())
	require.Equal(t, models.AccountAddress(otherAddr), op.Messages[0].Destination)
}
