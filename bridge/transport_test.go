package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/toncenter/ton-dispatch-go/models"
)

type memoryStore struct {
	mu       sync.Mutex
	sessions []models.Session
	last     int64
}

func (s *memoryStore) List(context.Context) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Session(nil), s.sessions...), nil
}

func (s *memoryStore) LastEventID(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

func (s *memoryStore) AdvanceLastEventID(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id <= s.last {
		return false, nil
	}
	s.last = id
	return true, nil
}

func (s *memoryStore) lastID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type peer struct {
	app     models.SessionKeyPair
	session models.Session
}

func newPeer(t *testing.T) peer {
	t.Helper()
	wallet, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	app, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	return peer{
		app: app,
		session: models.Session{
			ClientSessionID: ClientID(app),
			KeyPair:         wallet,
			WalletID:        "w1",
		},
	}
}

// frame builds an SSE frame the way the bridge relays an app message.
func (p peer) frame(t *testing.T, id int64, payload string) string {
	t.Helper()
	sealed, err := Seal(p.app, ClientID(p.session.KeyPair), []byte(payload))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	return rawFrame(id, ClientID(p.app), base64.StdEncoding.EncodeToString(sealed))
}

func rawFrame(id int64, from, message string) string {
	data, _ := json.Marshal(bridgeMessage{From: from, Message: message})
	return fmt.Sprintf("id: %d\nevent: message\ndata: %s\n\n", id, data)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(url string) Config {
	return Config{
		URL:              url,
		BaseDelay:        time.Millisecond,
		MaxDelay:         5 * time.Millisecond,
		HeartbeatTimeout: 5 * time.Second,
		PublishRetries:   3,
	}
}

type sseServer struct {
	*httptest.Server
	requests chan url.Values
}

// newSSEServer streams the frames chosen for each subscription and keeps it open.
func newSSEServer(t *testing.T, framesFor func(query url.Values) string) *sseServer {
	t.Helper()
	srv := &sseServer{requests: make(chan url.Values, 16)}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			http.NotFound(w, r)
			return
		}
		query := r.URL.Query()
		srv.requests <- query
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, framesFor(query))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	return srv
}

func receive(t *testing.T, tr *Transport) Event {
	t.Helper()
	select {
	case ev := <-tr.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for bridge event")
	}
	return Event{}
}

func startTransport(t *testing.T, tr *Transport) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Run returned %v, want context.Canceled", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run did not stop")
		}
	}
}

func TestRunResumesWithoutReplay(t *testing.T) {
	p := newPeer(t)
	stranger := newPeer(t)

	batch := p.frame(t, 4, `{"id":"old"}`) +
		stranger.frame(t, 6, `{"id":"foreign"}`) +
		rawFrame(7, ClientID(p.app), base64.StdEncoding.EncodeToString([]byte("garbage-garbage-garbage-garbage-garbage-garbage"))) +
		": keepalive\n\n" +
		p.frame(t, 8, `{"id":"fresh"}`)
	srv := newSSEServer(t, func(url.Values) string { return batch })
	defer srv.Close()

	store := &memoryStore{sessions: []models.Session{p.session}, last: 5}
	tr := New(testConfig(srv.URL), store, testLogger())
	stop := startTransport(t, tr)
	defer stop()

	query := <-srv.requests
	if got := query.Get("last_event_id"); got != "5" {
		t.Errorf("expected last_event_id=5, got %q", got)
	}
	if got := query.Get("client_id"); got != ClientID(p.session.KeyPair) {
		t.Errorf("expected client_id of the wallet key, got %q", got)
	}

	ev := receive(t, tr)
	if ev.ID != 8 {
		t.Fatalf("expected event 8, got %d", ev.ID)
	}
	if string(ev.Payload) != `{"id":"fresh"}` {
		t.Errorf("unexpected payload %s", ev.Payload)
	}
	if ev.Session.ClientSessionID != p.session.ClientSessionID {
		t.Errorf("event attributed to wrong session %s", ev.Session.ClientSessionID)
	}
	if got := store.lastID(); got != 8 {
		t.Errorf("expected persisted cursor 8, got %d", got)
	}
}

func TestAddSessionReconnectsFromCursor(t *testing.T) {
	first := newPeer(t)
	second := newPeer(t)
	firstBatch := first.frame(t, 11, `{"n":1}`)
	secondBatch := second.frame(t, 12, `{"n":2}`)
	srv := newSSEServer(t, func(query url.Values) string {
		if len(strings.Split(query.Get("client_id"), ",")) == 1 {
			return firstBatch
		}
		return secondBatch
	})
	defer srv.Close()

	store := &memoryStore{}
	tr := New(testConfig(srv.URL), store, testLogger())
	stop := startTransport(t, tr)
	defer stop()

	tr.AddSession(first.session)
	if query := <-srv.requests; query.Get("last_event_id") != "" {
		t.Errorf("fresh cursor must not send last_event_id, got %q", query.Get("last_event_id"))
	}
	if ev := receive(t, tr); ev.ID != 11 {
		t.Fatalf("expected event 11, got %d", ev.ID)
	}

	tr.AddSession(second.session)
	ev := receive(t, tr)
	var resumed url.Values
	for resumed == nil {
		select {
		case query := <-srv.requests:
			if len(strings.Split(query.Get("client_id"), ",")) == 2 {
				resumed = query
			}
		default:
			t.Fatal("no subscription covering both sessions")
		}
	}
	if got := resumed.Get("last_event_id"); got != "11" {
		t.Errorf("expected resume from 11, got %q", got)
	}
	if ev.ID != 12 || ev.Session.ClientSessionID != second.session.ClientSessionID {
		t.Errorf("unexpected event %d for %s", ev.ID, ev.Session.ClientSessionID)
	}
}

func TestRemoveSessionFiltersWithoutReconnect(t *testing.T) {
	p := newPeer(t)
	tr := New(testConfig("http://unused"), &memoryStore{}, testLogger())
	if tr.Tracked() != 0 {
		t.Fatalf("fresh transport tracks %d ids", tr.Tracked())
	}
	tr.AddSession(p.session)
	<-tr.reconnect
	if tr.Tracked() != 1 {
		t.Fatalf("expected 1 tracked id, got %d", tr.Tracked())
	}

	tr.RemoveSession(p.session.ClientSessionID)
	select {
	case <-tr.reconnect:
		t.Error("RemoveSession must not restart the stream")
	default:
	}
	if len(tr.listening()) != 0 || tr.Tracked() != 0 {
		t.Errorf("expected no tracked ids, got %v", tr.listening())
	}
}

func TestPublishRetriesWithSameTraceID(t *testing.T) {
	p := newPeer(t)
	var mu sync.Mutex
	var traceIDs []string
	var lastBody string
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		calls++
		traceIDs = append(traceIDs, r.URL.Query().Get("trace_id"))
		lastBody = string(body)
		if r.URL.Query().Get("to") != p.session.ClientSessionID || r.URL.Query().Get("topic") != "sendTransaction" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := New(testConfig(srv.URL), &memoryStore{}, testLogger())
	if err := tr.Publish(context.Background(), p.session, []byte(`{"id":"1","result":"ok"}`), "sendTransaction"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if traceIDs[0] == "" || traceIDs[0] != traceIDs[1] {
		t.Errorf("trace id must be stable across retries: %v", traceIDs)
	}
	sealed, err := base64.StdEncoding.DecodeString(lastBody)
	if err != nil {
		t.Fatalf("body is not base64: %v", err)
	}
	plain, err := Open(p.app, ClientID(p.session.KeyPair), sealed)
	if err != nil {
		t.Fatalf("app cannot decrypt published message: %v", err)
	}
	if string(plain) != `{"id":"1","result":"ok"}` {
		t.Errorf("unexpected plaintext %s", plain)
	}
}

func TestPublishDoesNotRetryClientErrors(t *testing.T) {
	p := newPeer(t)
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := New(testConfig(srv.URL), &memoryStore{}, testLogger())
	err := tr.Publish(context.Background(), p.session, []byte("{}"), "")
	if !errors.Is(err, models.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}
