package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/toncenter/ton-dispatch-go/models"
)

type proposeOrderRequest struct {
	transferRequest
	TTLSeconds int64 `json:"ttl_seconds"`
}

type orderQuery struct {
	Address models.AccountAddress `query:"address"`
}

type deployedQuery struct {
	Multisig models.AccountAddress `query:"multisig"`
	Seqno    uint64                `query:"seqno"`
}

func parseOrderQuery(c *fiber.Ctx) (models.AccountAddress, error) {
	var q orderQuery
	if err := c.QueryParser(&q); err != nil {
		return "", badRequest("invalid query: " + err.Error())
	}
	if q.Address == "" {
		return "", badRequest("address is required")
	}
	return q.Address, nil
}

// @summary Propose a multisig order
// @description The wallet is a multisig account. The order is proposed from its local signer wallet.
// @tags multisig
// @accept json
// @success 200 {object} models.Order
// @router /api/v1/wallets/{id}/orders [post]
func (s *Server) proposeOrder(c *fiber.Ctx) error {
	wallet, err := s.wallet(c)
	if err != nil {
		return err
	}
	if !wallet.IsMultisig() {
		return badRequest("wallet is not a multisig account")
	}
	var req proposeOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body: " + err.Error())
	}
	op, err := s.operation(c.UserContext(), wallet, req.transferRequest)
	if err != nil {
		return err
	}
	order, err := s.orders.ProposeOrder(c.UserContext(), wallet, op.Messages, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		return err
	}
	return c.JSON(order)
}

// @summary Get a multisig order
// @tags multisig
// @param address query string true "order address"
// @success 200 {object} models.Order
// @router /api/v1/orders [get]
func (s *Server) getOrder(c *fiber.Ctx) error {
	addr, err := parseOrderQuery(c)
	if err != nil {
		return err
	}
	order, err := s.orders.Order(c.UserContext(), addr)
	if err != nil {
		return err
	}
	return c.JSON(order)
}

type signOrderRequest struct {
	WalletID string `json:"wallet_id"`
	Order    string `json:"order"`
}

// @summary Approve a multisig order
// @tags multisig
// @accept json
// @router /api/v1/orders/sign [post]
func (s *Server) signOrder(c *fiber.Ctx) error {
	var req signOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body: " + err.Error())
	}
	wallet, err := s.wallets.Wallet(req.WalletID)
	if err != nil {
		return err
	}
	addr, err := models.ParseAccountAddress(req.Order)
	if err != nil {
		return badRequest(err.Error())
	}
	approved, err := s.orders.SignOrder(c.UserContext(), wallet, addr)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"approved": approved})
}

// @summary Estimate an existing order
// @description Executed orders report what actually happened, pending ones what would happen now.
// @tags multisig
// @param address query string true "order address"
// @router /api/v1/orders/estimate [get]
func (s *Server) estimateOrder(c *fiber.Ctx) error {
	addr, err := parseOrderQuery(c)
	if err != nil {
		return err
	}
	est, err := s.orders.EstimateExistingOrder(c.UserContext(), addr)
	if err != nil {
		return err
	}
	return c.JSON(est)
}

// @summary Wait until an order is deployed
// @tags multisig
// @param multisig query string true "multisig address"
// @param seqno query int true "order seqno"
// @router /api/v1/orders/wait/deployed [get]
func (s *Server) waitDeployed(c *fiber.Ctx) error {
	var q deployedQuery
	if err := c.QueryParser(&q); err != nil {
		return badRequest("invalid query: " + err.Error())
	}
	if q.Multisig == "" {
		return badRequest("multisig is required")
	}
	order, err := s.orders.WaitDeployed(c.UserContext(), q.Multisig, q.Seqno)
	if err != nil {
		return err
	}
	return c.JSON(order)
}

// @summary Wait until an order is executed
// @tags multisig
// @param address query string true "order address"
// @success 200 {object} models.Order
// @router /api/v1/orders/wait/executed [get]
func (s *Server) waitExecuted(c *fiber.Ctx) error {
	addr, err := parseOrderQuery(c)
	if err != nil {
		return err
	}
	order, err := s.orders.WaitExecuted(c.UserContext(), addr)
	if err != nil {
		return err
	}
	return c.JSON(order)
}
