package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/ton-dispatch-go/bridge"
	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/rpc"
	"github.com/toncenter/ton-dispatch-go/sender"
	"github.com/toncenter/ton-dispatch-go/signer"
)

type Transport interface {
	Events() <-chan bridge.Event
	AddSession(session models.Session)
	RemoveSession(clientSessionID string)
	Publish(ctx context.Context, session models.Session, payload []byte, topic string) error
}

type SessionStore interface {
	Save(ctx context.Context, session models.Session) error
	Get(ctx context.Context, clientSessionID string) (models.Session, error)
	Delete(ctx context.Context, clientSessionID string) error
	ListByWallet(ctx context.Context, walletID string) ([]models.Session, error)
	RemoveWallet(ctx context.Context, walletID string) ([]models.Session, error)
	NextWalletEventID(ctx context.Context) (int64, error)
}

type Selector interface {
	Choices(ctx context.Context, op sender.Operation) ([]sender.Choice, error)
	Resolve(ctx context.Context, op sender.Operation, choice sender.Choice) (sender.Sender, error)
}

// Notifier is the push subscription service. All calls are best effort.
type Notifier interface {
	Subscribe(ctx context.Context, session models.Session, account models.AccountAddress) error
	Unsubscribe(ctx context.Context, clientSessionID string) error
}

type WalletDirectory interface {
	Wallet(id string) (models.Wallet, error)
}

type Config struct {
	AppName    string
	AppVersion string
	// UpdatesBuffer is how many mailbox changes may wait for the feed before they are coalesced into a resync.
	UpdatesBuffer int
}

type Deps struct {
	Transport Transport
	Sessions  SessionStore
	Selector  Selector
	Signers   signer.Provider
	Wallets   WalletDirectory
	Manifests ManifestFetcher
	Notifier  Notifier
	Logger    *logrus.Logger
	Now       func() time.Time
}

type UpdateKind string

const (
	UpdateAdded      UpdateKind = "added"
	UpdateSuperseded UpdateKind = "superseded"
	UpdateRemoved    UpdateKind = "removed"
	// UpdateResync replaces updates lost while the feed was full. Pending holds the whole list.
	UpdateResync UpdateKind = "resync"
)

// Update is a change of the requests waiting for the user.
type Update struct {
	Kind    UpdateKind              `json:"kind"`
	Request models.PendingRequest   `json:"request"`
	Pending []models.PendingRequest `json:"pending,omitempty"`
}

// Router turns bridge requests and connect links into pending requests and answers them.
type Router struct {
	cfg     Config
	deps    Deps
	device  rpc.DeviceInfo
	mailbox *mailbox
	updates chan Update

	emitMu sync.Mutex
	lost   bool
}

func New(cfg Config, deps Deps) *Router {
	if cfg.UpdatesBuffer <= 0 {
		cfg.UpdatesBuffer = 64
	}
	if cfg.AppName == "" {
		cfg.AppName = "ton-dispatch"
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Manifests == nil {
		deps.Manifests = HTTPManifests{}
	}
	return &Router{
		cfg:     cfg,
		deps:    deps,
		device:  rpc.DefaultDevice(cfg.AppName, cfg.AppVersion),
		mailbox: newMailbox(),
		updates: make(chan Update, cfg.UpdatesBuffer),
	}
}

// Updates streams mailbox changes. There is a single consumer.
func (r *Router) Updates() <-chan Update {
	return r.updates
}

// emit queues a mailbox change. While the feed is full changes are dropped, and the first one
// that fits afterwards is sent as a resync with the current pending list.
func (r *Router) emit(kind UpdateKind, req models.PendingRequest) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	update := Update{Kind: kind, Request: req}
	if r.lost {
		update = Update{Kind: UpdateResync, Pending: r.mailbox.list()}
	}
	select {
	case r.updates <- update:
		r.lost = false
	default:
		if !r.lost {
			r.deps.Logger.WithFields(logrus.Fields{"request": req.ID, "kind": kind}).Warn("Update feed is full, resync will follow")
		}
		r.lost = true
	}
}

// Pending lists the requests waiting for the user.
func (r *Router) Pending() []models.PendingRequest {
	return r.mailbox.list()
}

func (r *Router) Request(id string) (models.PendingRequest, error) {
	p, ok := r.mailbox.get(id)
	if !ok {
		return models.PendingRequest{}, fmt.Errorf("request %s: %w", id, models.ErrNotFound)
	}
	return p.request, nil
}

// Run consumes bridge events until ctx is done or the transport closes its stream.
func (r *Router) Run(ctx context.Context) error {
	events := r.deps.Transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent dispatches one decrypted bridge request.
func (r *Router) HandleEvent(ctx context.Context, ev bridge.Event) {
	log := r.deps.Logger.WithFields(logrus.Fields{"event_id": ev.ID, "session": ev.Session.ClientSessionID})
	req, err := rpc.DecodeRequest(ev.Payload)
	if err != nil && !errors.Is(err, models.ErrBadRequest) {
		log.WithError(err).Warn("Dropping malformed bridge request")
		return
	}
	log = log.WithField("method", req.Method)
	if err != nil {
		if err := r.replyError(ctx, ev.Session, req, err); err != nil {
			log.WithError(err).Error("Failed to answer malformed bridge request")
		}
		return
	}

	switch req.Method {
	case rpc.MethodSendTransaction:
		err = r.onSendTransaction(ctx, ev.Session, req)
	case rpc.MethodSignData:
		err = r.onSignData(ctx, ev.Session, req)
	case rpc.MethodDisconnect:
		err = r.onDisconnect(ctx, ev.Session, req)
	default:
		err = r.replyError(ctx, ev.Session, req, errors.Join(models.ErrUnsupportedMethod, fmt.Errorf("method %q is not supported", req.Method)))
	}
	if err != nil {
		log.WithError(err).Error("Failed to handle bridge request")
	}
}

func (r *Router) reply(ctx context.Context, session models.Session, topic string, payload []byte, err error) error {
	if err != nil {
		return err
	}
	return r.deps.Transport.Publish(ctx, session, payload, topic)
}

// Confirmation is the outcome of an approved request. Delivered is false when the answer could not
// be published to the app; the approval itself stands and is never repeated.
type Confirmation struct {
	Hash      string `json:"hash,omitempty"`
	Delivered bool   `json:"delivered"`
}

// deliver publishes the answer to an approval that already took effect. Failures are only logged.
func (r *Router) deliver(ctx context.Context, session models.Session, topic string, payload []byte, err error, log *logrus.Entry) bool {
	if err == nil {
		err = r.deps.Transport.Publish(ctx, session, payload, topic)
	}
	if err != nil {
		log.WithError(err).Warn("Approved request was not delivered to the app")
		return false
	}
	return true
}

func (r *Router) replyError(ctx context.Context, session models.Session, req rpc.Request, cause error) error {
	r.deps.Logger.WithFields(logrus.Fields{
		"session": session.ClientSessionID,
		"method":  req.Method,
		"code":    rpc.CodeFor(cause),
	}).WithError(cause).Info("Answering request with error")
	payload, err := rpc.FromError(req.ID, cause)
	return r.reply(ctx, session, req.Method, payload, err)
}

func badRequest(format string, args ...any) error {
	return errors.Join(models.ErrBadRequest, fmt.Errorf(format, args...))
}

func (r *Router) newPending(req models.PendingRequest, session models.Session, op *sender.Operation) *pending {
	ctx, cancel := context.WithCancel(context.Background())
	req.ID = uuid.NewString()
	req.WalletID = session.WalletID
	req.ClientSessionID = session.ClientSessionID
	req.Manifest = session.Manifest
	req.CreatedAt = r.deps.Now()
	return &pending{request: req, session: session, op: op, ctx: ctx, cancel: cancel}
}

func (r *Router) enqueue(p *pending) {
	if old := r.mailbox.put(p); old != nil {
		r.deps.Logger.WithFields(logrus.Fields{"request": old.request.ID, "by": p.request.ID}).Info("Pending request superseded")
		r.emit(UpdateSuperseded, old.request)
	}
	r.emit(UpdateAdded, p.request)
}

func (r *Router) onSendTransaction(ctx context.Context, session models.Session, req rpc.Request) error {
	param, err := req.FirstParam()
	if err != nil {
		return r.replyError(ctx, session, req, err)
	}
	var tx models.TransactionRequest
	if err := json.Unmarshal([]byte(param), &tx); err != nil {
		return r.replyError(ctx, session, req, badRequest("invalid transaction: %v", err))
	}
	wallet, err := r.deps.Wallets.Wallet(session.WalletID)
	if err != nil {
		return r.replyError(ctx, session, req, errors.Join(models.ErrUnknownApp, err))
	}
	op, err := r.operation(wallet, &tx)
	if err != nil {
		return r.replyError(ctx, session, req, err)
	}
	r.enqueue(r.newPending(models.PendingRequest{
		RPCID:       string(req.ID),
		Method:      models.KindSendTransaction,
		Transaction: &tx,
	}, session, op))
	return nil
}

func (r *Router) onSignData(ctx context.Context, session models.Session, req rpc.Request) error {
	if domain := session.Manifest.Domain(); !models.ValidDomain(domain) {
		return r.replyError(ctx, session, req, badRequest("app domain %q is not valid", domain))
	}
	param, err := req.FirstParam()
	if err != nil {
		return r.replyError(ctx, session, req, err)
	}
	var data models.SignDataRequest
	if err := json.Unmarshal([]byte(param), &data); err != nil {
		return r.replyError(ctx, session, req, badRequest("invalid sign data request: %v", err))
	}
	wallet, err := r.deps.Wallets.Wallet(session.WalletID)
	if err != nil {
		return r.replyError(ctx, session, req, errors.Join(models.ErrUnknownApp, err))
	}
	if err := validateSignData(wallet, &data); err != nil {
		return r.replyError(ctx, session, req, err)
	}
	r.enqueue(r.newPending(models.PendingRequest{
		RPCID:    string(req.ID),
		Method:   models.KindSignData,
		SignData: &data,
	}, session, nil))
	return nil
}

func (r *Router) onDisconnect(ctx context.Context, session models.Session, req rpc.Request) error {
	r.forget(ctx, session)
	payload, err := rpc.Success(req.ID, struct{}{})
	return r.reply(ctx, session, req.Method, payload, err)
}

// forget removes a session and everything pending for it. Push unsubscribe failures are only logged.
func (r *Router) forget(ctx context.Context, session models.Session) {
	log := r.deps.Logger.WithField("session", session.ClientSessionID)
	if err := r.deps.Sessions.Delete(ctx, session.ClientSessionID); err != nil {
		log.WithError(err).Error("Failed to delete session")
	}
	r.deps.Transport.RemoveSession(session.ClientSessionID)
	for _, p := range r.mailbox.dropSession(session.ClientSessionID) {
		r.emit(UpdateRemoved, p.request)
	}
	if r.deps.Notifier != nil {
		if err := r.deps.Notifier.Unsubscribe(ctx, session.ClientSessionID); err != nil {
			log.WithError(err).Warn("Failed to unsubscribe from notifications")
		}
	}
	log.Info("Session removed")
}
