package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/toncenter/ton-dispatch-go/models"
)

var tracer = otel.Tracer("github.com/toncenter/ton-dispatch-go/bridge")

var errReconnect = errors.New("reconnect requested")

// Store lists the sessions to track and persists the id of the last event handed to the router.
type Store interface {
	List(ctx context.Context) ([]models.Session, error)
	LastEventID(ctx context.Context) (int64, error)
	AdvanceLastEventID(ctx context.Context, id int64) (bool, error)
}

type Config struct {
	URL              string
	PublishTTL       time.Duration
	RequestTimeout   time.Duration
	HeartbeatTimeout time.Duration
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	PublishRetries   int
}

func (c *Config) withDefaults() {
	if c.PublishTTL <= 0 {
		c.PublishTTL = 5 * time.Minute
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 45 * time.Second
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.PublishRetries <= 0 {
		c.PublishRetries = 3
	}
}

// Event is a decrypted app message addressed to one of the tracked sessions.
type Event struct {
	ID      int64
	Session models.Session
	Payload []byte
}

type bridgeMessage struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// Transport keeps the bridge subscription for every tracked session.
type Transport struct {
	cfg    Config
	store  Store
	client *http.Client
	logger *logrus.Logger

	events    chan Event
	reconnect chan struct{}
	connected atomic.Bool

	mu          sync.RWMutex
	sessions    map[string]models.Session
	listenIDs   mapset.Set[string]
	lastEventID int64
}

func New(cfg Config, store Store, logger *logrus.Logger) *Transport {
	cfg.withDefaults()
	return &Transport{
		cfg:       cfg,
		store:     store,
		client:    &http.Client{},
		logger:    logger,
		events:    make(chan Event),
		reconnect: make(chan struct{}, 1),
		sessions:  make(map[string]models.Session),
		listenIDs: mapset.NewThreadUnsafeSet[string](),
	}
}

// Events is unbuffered: the stream is not read further until the router takes the event.
func (t *Transport) Events() <-chan Event {
	return t.events
}

func (t *Transport) Connected() bool {
	return t.connected.Load()
}

// Tracked is the number of bridge client ids being listened to. Run stays idle while it is zero.
func (t *Transport) Tracked() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.listenIDs.Cardinality()
}

// AddSession starts tracking a session and restarts the stream from the persisted cursor.
func (t *Transport) AddSession(session models.Session) {
	t.mu.Lock()
	t.sessions[session.ClientSessionID] = session
	added := t.listenIDs.Add(ClientID(session.KeyPair))
	t.mu.Unlock()
	if added {
		t.requestReconnect()
	}
}

// RemoveSession stops delivering events of a session. The stream is not restarted.
func (t *Transport) RemoveSession(clientSessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	session, ok := t.sessions[clientSessionID]
	if !ok {
		return
	}
	delete(t.sessions, clientSessionID)
	t.listenIDs.Remove(ClientID(session.KeyPair))
}

func (t *Transport) requestReconnect() {
	select {
	case t.reconnect <- struct{}{}:
	default:
	}
}

func (t *Transport) listening() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.listenIDs.ToSlice()
}

func (t *Transport) cursorValue() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastEventID
}

// Run subscribes to the bridge until ctx is done, reconnecting with backoff.
func (t *Transport) Run(ctx context.Context) error {
	initial, err := t.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}
	last, err := t.store.LastEventID(ctx)
	if err != nil {
		return fmt.Errorf("failed to load last event id: %w", err)
	}
	t.mu.Lock()
	t.lastEventID = last
	for _, session := range initial {
		t.sessions[session.ClientSessionID] = session
		t.listenIDs.Add(ClientID(session.KeyPair))
	}
	t.mu.Unlock()

	delay := t.cfg.BaseDelay
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ids := t.listening()
		if len(ids) == 0 {
			select {
			case <-t.reconnect:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		delivered, err := t.subscribe(ctx, ids)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errReconnect) {
			delay = t.cfg.BaseDelay
			continue
		}
		if delivered {
			delay = t.cfg.BaseDelay
		}
		t.logger.WithError(err).WithField("delay", delay).Warn("Bridge stream interrupted, reconnecting")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = minDuration(delay*2, t.cfg.MaxDelay)
	}
}

func (t *Transport) subscribe(ctx context.Context, ids []string) (bool, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var reconnectRequested, stale atomic.Bool
	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())
	go func() {
		ticker := time.NewTicker(t.cfg.HeartbeatTimeout / 3)
		defer ticker.Stop()
		for {
			select {
			case <-t.reconnect:
				reconnectRequested.Store(true)
				cancel()
				return
			case <-ticker.C:
				if time.Since(time.Unix(0, lastActivity.Load())) > t.cfg.HeartbeatTimeout {
					stale.Store(true)
					cancel()
					return
				}
			case <-streamCtx.Done():
				return
			}
		}
	}()

	query := url.Values{}
	query.Set("client_id", strings.Join(ids, ","))
	last := t.cursorValue()
	if last > 0 {
		query.Set("last_event_id", strconv.FormatInt(last, 10))
	}
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.cfg.URL+"/events?"+query.Encode(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		if reconnectRequested.Load() {
			return false, errReconnect
		}
		return false, errors.Join(models.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, errors.Join(models.ErrTransport, fmt.Errorf("bridge responded with status %d", resp.StatusCode))
	}

	t.connected.Store(true)
	defer t.connected.Store(false)
	t.logger.WithFields(logrus.Fields{"sessions": len(ids), "last_event_id": last}).Info("Bridge stream connected")

	delivered := false
	err = readFrames(resp.Body, func(frame sseFrame) error {
		lastActivity.Store(time.Now().UnixNano())
		ok, err := t.handleFrame(ctx, frame)
		lastActivity.Store(time.Now().UnixNano())
		delivered = delivered || ok
		return err
	})
	switch {
	case reconnectRequested.Load():
		return delivered, errReconnect
	case stale.Load():
		return delivered, errors.Join(models.ErrTransport, errors.New("bridge heartbeat timeout"))
	case err != nil:
		return delivered, errors.Join(models.ErrTransport, err)
	}
	return delivered, errors.Join(models.ErrTransport, errors.New("bridge stream closed"))
}

// handleFrame processes one frame and reports whether an event was delivered.
func (t *Transport) handleFrame(ctx context.Context, frame sseFrame) (bool, error) {
	if frame.Event != "" && frame.Event != "message" {
		return false, nil
	}
	if frame.Data == "" {
		return false, nil
	}
	id, err := strconv.ParseInt(frame.ID, 10, 64)
	if err != nil {
		t.logger.WithField("id", frame.ID).Warn("Dropping bridge frame without numeric id")
		return false, nil
	}
	if id <= t.cursorValue() {
		t.logger.WithField("id", id).Debug("Skipping already processed bridge event")
		return false, nil
	}
	log := t.logger.WithField("id", id)

	var msg bridgeMessage
	if err := json.Unmarshal([]byte(frame.Data), &msg); err != nil {
		log.WithError(errors.Join(models.ErrProtocol, err)).Warn("Dropping malformed bridge frame")
		return false, t.advance(ctx, id)
	}

	t.mu.RLock()
	session, ok := t.sessions[msg.From]
	t.mu.RUnlock()
	if !ok {
		log.WithField("from", msg.From).Debug("Discarding event of unknown session")
		return false, t.advance(ctx, id)
	}

	sealed, err := base64.StdEncoding.DecodeString(msg.Message)
	if err == nil {
		var plain []byte
		plain, err = Open(session.KeyPair, msg.From, sealed)
		if err == nil {
			if err := t.advance(ctx, id); err != nil {
				return false, err
			}
			select {
			case t.events <- Event{ID: id, Session: session, Payload: plain}:
				return true, nil
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
	}
	log.WithError(errors.Join(models.ErrProtocol, err)).WithField("from", msg.From).Warn("Dropping undecryptable bridge event")
	return false, t.advance(ctx, id)
}

func (t *Transport) advance(ctx context.Context, id int64) error {
	if _, err := t.store.AdvanceLastEventID(ctx, id); err != nil {
		return fmt.Errorf("failed to persist last event id: %w", err)
	}
	t.mu.Lock()
	if id > t.lastEventID {
		t.lastEventID = id
	}
	t.mu.Unlock()
	return nil
}

type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("bridge responded with status %d: %s", e.Code, e.Body)
}

// Publish encrypts payload for the app side of a session and posts it to the bridge.
// Every retry carries the same trace id so the bridge can deduplicate.
func (t *Transport) Publish(ctx context.Context, session models.Session, payload []byte, topic string) error {
	ctx, span := tracer.Start(ctx, "bridge.Publish")
	defer span.End()

	sealed, err := Seal(session.KeyPair, session.ClientSessionID, payload)
	if err != nil {
		return err
	}
	body := base64.StdEncoding.EncodeToString(sealed)

	traceID := uuid.NewString()
	query := url.Values{}
	query.Set("client_id", ClientID(session.KeyPair))
	query.Set("to", session.ClientSessionID)
	query.Set("ttl", strconv.Itoa(int(t.cfg.PublishTTL.Seconds())))
	query.Set("trace_id", traceID)
	if topic != "" {
		query.Set("topic", topic)
	}
	endpoint := t.cfg.URL + "/message?" + query.Encode()
	span.SetAttributes(attribute.String("bridge.trace_id", traceID), attribute.String("bridge.topic", topic))

	delay := t.cfg.BaseDelay
	for attempt := 1; ; attempt++ {
		err = t.post(endpoint, body)
		if err == nil {
			return nil
		}
		var status *statusError
		permanent := errors.As(err, &status) && status.Code >= 400 && status.Code < 500 && status.Code != fiber.StatusTooManyRequests
		if permanent || attempt >= t.cfg.PublishRetries {
			break
		}
		t.logger.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "trace_id": traceID}).Warn("Bridge publish failed, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			err = ctx.Err()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return errors.Join(models.ErrTransport, err)
		}
		delay = minDuration(delay*2, t.cfg.MaxDelay)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return errors.Join(models.ErrTransport, err)
}

func (t *Transport) post(endpoint string, body string) error {
	agent := fiber.Post(endpoint)
	agent.Timeout(t.cfg.RequestTimeout)
	agent.Set(fiber.HeaderContentType, fiber.MIMETextPlain)
	agent.BodyString(body)
	code, resp, errs := agent.String()
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if code != fiber.StatusOK {
		return &statusError{Code: code, Body: resp}
	}
	return nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
