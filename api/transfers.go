package api

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/toncenter/ton-dispatch-go/chain"
	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/sender"
)

var (
	// attachAmount pays for jetton and nft transfers, the excess comes back.
	attachAmount  = big.NewInt(50_000_000)
	forwardAmount = big.NewInt(1)
)

// transferRequest is a transfer started by the wallet owner.
// Jetton moves Amount of a jetton master, Nft moves an item, otherwise Amount is in nanotons.
type transferRequest struct {
	To      string `json:"to"`
	Amount  string `json:"amount"`
	Comment string `json:"comment,omitempty"`
	Jetton  string `json:"jetton,omitempty"`
	Nft     string `json:"nft,omitempty"`
}

func queryID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, badRequest(fmt.Sprintf("invalid amount %q", value))
	}
	return amount, nil
}

func commentCell(text string) (*cell.Cell, error) {
	if text == "" {
		return nil, nil
	}
	return chain.CommentBody(text)
}

// operation turns a transfer into the messages the wallet sends.
func (s *Server) operation(ctx context.Context, wallet models.Wallet, req transferRequest) (sender.Operation, error) {
	op := sender.Operation{Kind: sender.OpTransfer, Wallet: wallet}
	to, err := models.ParseAddr(req.To)
	if err != nil {
		return op, badRequest(err.Error())
	}
	owner, err := wallet.Address.Addr()
	if err != nil {
		return op, err
	}
	comment, err := commentCell(req.Comment)
	if err != nil {
		return op, badRequest(err.Error())
	}

	switch {
	case req.Nft != "":
		item, err := models.ParseAccountAddress(req.Nft)
		if err != nil {
			return op, badRequest(err.Error())
		}
		body, err := chain.NftTransferBody(queryID(), to, owner, forwardAmount, comment)
		if err != nil {
			return op, err
		}
		op.Kind = sender.OpNft
		op.Messages = []models.OutMessage{{
			Destination: item,
			Amount:      new(big.Int).Set(attachAmount),
			Body:        body.ToBOC(),
			Bounce:      true,
			Mode:        chain.DefaultSendMode,
		}}
	case req.Jetton != "":
		master, err := models.ParseAccountAddress(req.Jetton)
		if err != nil {
			return op, badRequest(err.Error())
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			return op, err
		}
		jettonWallet, _, err := s.jettons.JettonWallet(ctx, wallet.Address, master)
		if err != nil {
			return op, err
		}
		body, err := chain.JettonTransferBody(queryID(), amount, to, owner, forwardAmount, comment)
		if err != nil {
			return op, err
		}
		op.Asset = master
		op.AssetAmount = amount
		op.Messages = []models.OutMessage{{
			Destination: jettonWallet,
			Amount:      new(big.Int).Set(attachAmount),
			Body:        body.ToBOC(),
			Bounce:      true,
			Mode:        chain.DefaultSendMode,
		}}
	default:
		amount, err := parseAmount(req.Amount)
		if err != nil {
			return op, err
		}
		msg := models.OutMessage{
			Destination: models.FormatAddress(to),
			Amount:      amount,
			Bounce:      to.IsBounceable(),
			Mode:        chain.DefaultSendMode,
		}
		if comment != nil {
			msg.Body = comment.ToBOC()
		}
		op.Messages = []models.OutMessage{msg}
	}
	return op, nil
}

type localEstimate struct {
	walletID  string
	op        sender.Operation
	est       *sender.Estimation
	expiresAt time.Time
}

// estimateStore keeps local transfer estimations until they are sent or expire.
type estimateStore struct {
	mu    sync.Mutex
	items map[string]*localEstimate
	ttl   time.Duration
	now   func() time.Time
}

func newEstimateStore(ttl time.Duration, now func() time.Time) *estimateStore {
	return &estimateStore{items: make(map[string]*localEstimate), ttl: ttl, now: now}
}

func (s *estimateStore) put(item *localEstimate) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, it := range s.items {
		if now.After(it.expiresAt) {
			delete(s.items, id)
		}
	}
	item.expiresAt = now.Add(s.ttl)
	id := uuid.NewString()
	s.items[id] = item
	return id
}

// take removes an estimation so that it is sent at most once.
func (s *estimateStore) take(id string) (*localEstimate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, false
	}
	delete(s.items, id)
	if s.now().After(item.expiresAt) {
		return nil, false
	}
	return item, true
}

func (s *estimateStore) restore(id string, item *localEstimate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = item
}

// @summary Sender choices of a local transfer
// @tags transfers
// @accept json
// @router /api/v1/wallets/{id}/transfers/choices [post]
func (s *Server) transferChoices(c *fiber.Ctx) error {
	wallet, err := s.wallet(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body: " + err.Error())
	}
	op, err := s.operation(c.UserContext(), wallet, req)
	if err != nil {
		return err
	}
	choices, err := s.selector.Choices(c.UserContext(), op)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"choices": choices})
}

type estimateTransferRequest struct {
	transferRequest
	Choice *sender.Choice `json:"choice"`
}

type estimateTransferResponse struct {
	ID         string             `json:"id"`
	Estimation *sender.Estimation `json:"estimation"`
}

// @summary Estimate a local transfer
// @description The returned id is sent back to /transfers/send.
// @tags transfers
// @accept json
// @router /api/v1/wallets/{id}/transfers/estimate [post]
func (s *Server) estimateTransfer(c *fiber.Ctx) error {
	wallet, err := s.wallet(c)
	if err != nil {
		return err
	}
	var req estimateTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body: " + err.Error())
	}
	op, err := s.operation(c.UserContext(), wallet, req.transferRequest)
	if err != nil {
		return err
	}
	choice := sender.External()
	if req.Choice != nil {
		choice = *req.Choice
	}
	snd, err := s.selector.Resolve(c.UserContext(), op, choice)
	if err != nil {
		return err
	}
	est, err := snd.Estimate(c.UserContext(), op)
	if err != nil {
		return err
	}
	id := s.estimates.put(&localEstimate{walletID: wallet.ID, op: op, est: est})
	return c.JSON(estimateTransferResponse{ID: id, Estimation: est})
}

type sendTransferRequest struct {
	ID string `json:"id"`
}

type sendTransferResponse struct {
	*sender.Result
	Boc string `json:"boc,omitempty"`
}

// @summary Send an estimated local transfer
// @tags transfers
// @accept json
// @router /api/v1/wallets/{id}/transfers/send [post]
func (s *Server) sendTransfer(c *fiber.Ctx) error {
	wallet, err := s.wallet(c)
	if err != nil {
		return err
	}
	var req sendTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body: " + err.Error())
	}
	item, ok := s.estimates.take(req.ID)
	if !ok || item.walletID != wallet.ID {
		if ok {
			s.estimates.restore(req.ID, item)
		}
		return APIError{Code: fiber.StatusNotFound, Message: fmt.Sprintf("estimation %s not found or expired", req.ID)}
	}
	snd, err := s.selector.Resolve(c.UserContext(), item.op, item.est.Choice)
	if err != nil {
		s.estimates.restore(req.ID, item)
		return err
	}
	// Signing and broadcast are not abandoned when the client goes away.
	res, err := snd.Send(context.WithoutCancel(c.UserContext()), item.est, item.op)
	if err != nil {
		return err
	}
	return c.JSON(sendTransferResponse{Result: res, Boc: base64.StdEncoding.EncodeToString(res.Boc)})
}
