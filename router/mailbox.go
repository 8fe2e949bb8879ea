package router

import (
	"context"
	"sync"

	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/sender"
)

type slotKey struct {
	wallet string
	kind   models.RequestKind
}

// pending is a request waiting for the user together with the state built for it.
type pending struct {
	request models.PendingRequest
	session models.Session
	op      *sender.Operation

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	estimations map[sender.ChoiceKind]*sender.Estimation
}

func (p *pending) estimation(kind sender.ChoiceKind) *sender.Estimation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.estimations[kind]
}

func (p *pending) setEstimation(est *sender.Estimation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.estimations == nil {
		p.estimations = make(map[sender.ChoiceKind]*sender.Estimation)
	}
	p.estimations[est.Choice.Kind] = est
}

func (p *pending) resetEstimations() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.estimations = nil
}

// mailbox holds one request per wallet and kind. A newer request replaces the slot
// and cancels the work started for the one it replaced.
type mailbox struct {
	mu    sync.Mutex
	slots map[slotKey]*pending
	byID  map[string]slotKey
}

func newMailbox() *mailbox {
	return &mailbox{slots: make(map[slotKey]*pending), byID: make(map[string]slotKey)}
}

func keyOf(req models.PendingRequest) slotKey {
	return slotKey{wallet: req.WalletID, kind: req.Method}
}

// put stores p and returns the request it superseded, if any.
func (m *mailbox) put(p *pending) *pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := keyOf(p.request)
	old := m.slots[key]
	if old != nil {
		delete(m.byID, old.request.ID)
		old.cancel()
	}
	m.slots[key] = p
	m.byID[p.request.ID] = key
	return old
}

func (m *mailbox) get(id string) (*pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return m.slots[key], true
}

// take removes a request so nothing can supersede it while it is being answered.
func (m *mailbox) take(id string) (*pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	p := m.slots[key]
	delete(m.slots, key)
	delete(m.byID, id)
	return p, true
}

// restore puts back a taken request unless a newer one arrived meanwhile.
func (m *mailbox) restore(p *pending) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := keyOf(p.request)
	if _, taken := m.slots[key]; taken {
		p.cancel()
		return false
	}
	m.slots[key] = p
	m.byID[p.request.ID] = key
	return true
}

// dropSession removes every request that came through a session.
func (m *mailbox) dropSession(clientSessionID string) []*pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	var dropped []*pending
	for key, p := range m.slots {
		if p.request.ClientSessionID != clientSessionID || p.request.Method == models.KindConnect {
			continue
		}
		delete(m.slots, key)
		delete(m.byID, p.request.ID)
		p.cancel()
		dropped = append(dropped, p)
	}
	return dropped
}

func (m *mailbox) list() []models.PendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PendingRequest, 0, len(m.slots))
	for _, p := range m.slots {
		out = append(out, p.request)
	}
	return out
}
