package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/toncenter/ton-dispatch-go/sender"
)

type choiceRequest struct {
	Choice *sender.Choice `json:"choice"`
}

// parseChoice reads an optional choice from the body. The external sender is the default.
func parseChoice(c *fiber.Ctx) (sender.Choice, error) {
	if len(c.Body()) == 0 {
		return sender.External(), nil
	}
	var req choiceRequest
	if err := c.BodyParser(&req); err != nil {
		return sender.Choice{}, badRequest("invalid choice: " + err.Error())
	}
	if req.Choice == nil {
		return sender.External(), nil
	}
	return *req.Choice, nil
}

// @summary List pending requests
// @tags requests
// @produce json
// @success 200 {array} models.PendingRequest
// @router /api/v1/requests [get]
func (s *Server) listRequests(c *fiber.Ctx) error {
	return c.JSON(s.router.Pending())
}

// @summary Get a pending request
// @tags requests
// @produce json
// @param id path string true "request id"
// @success 200 {object} models.PendingRequest
// @router /api/v1/requests/{id} [get]
func (s *Server) getRequest(c *fiber.Ctx) error {
	req, err := s.router.Request(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(req)
}

// @summary Sender choices of a transaction request
// @description The preferred choice comes first.
// @tags requests
// @router /api/v1/requests/{id}/choices [get]
func (s *Server) requestChoices(c *fiber.Ctx) error {
	choices, err := s.router.Choices(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"choices": choices})
}

// @summary Estimate a transaction request
// @tags requests
// @accept json
// @router /api/v1/requests/{id}/estimate [post]
func (s *Server) estimateRequest(c *fiber.Ctx) error {
	choice, err := parseChoice(c)
	if err != nil {
		return err
	}
	est, err := s.router.Estimate(c.UserContext(), c.Params("id"), choice)
	if err != nil {
		return err
	}
	return c.JSON(est)
}

// @summary Approve a pending request
// @description Connect requests create the session, signData requests are signed, transactions are sent with the given choice.
// @description delivered is false when the app could not be answered; the request is still approved and must not be retried.
// @tags requests
// @accept json
// @router /api/v1/requests/{id}/confirm [post]
func (s *Server) confirmRequest(c *fiber.Ctx) error {
	choice, err := parseChoice(c)
	if err != nil {
		return err
	}
	conf, err := s.router.Confirm(c.UserContext(), c.Params("id"), choice)
	if err != nil {
		return err
	}
	return c.JSON(conf)
}

// @summary Decline a pending request
// @description The app is answered with a user rejection.
// @tags requests
// @param id path string true "request id"
// @router /api/v1/requests/{id}/decline [post]
func (s *Server) declineRequest(c *fiber.Ctx) error {
	if err := s.router.Decline(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

type connectRequest struct {
	WalletID string `json:"wallet_id"`
	Link     string `json:"link"`
}

// @summary Open a TON Connect link
// @description Fetches the app manifest and queues a connect proposal for the wallet.
// @tags connect
// @accept json
// @success 200 {object} models.PendingRequest
// @router /api/v1/connect [post]
func (s *Server) connect(c *fiber.Ctx) error {
	var req connectRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body: " + err.Error())
	}
	if req.WalletID == "" || req.Link == "" {
		return badRequest("wallet_id and link are required")
	}
	pending, err := s.router.HandleConnectLink(c.UserContext(), req.WalletID, req.Link)
	if err != nil {
		return err
	}
	return c.JSON(pending)
}

func (s *Server) walletSessions(c *fiber.Ctx) error {
	if _, err := s.wallet(c); err != nil {
		return err
	}
	sessions, err := s.router.Sessions(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

// @summary Disconnect every app of a wallet
// @tags sessions
// @router /api/v1/wallets/{id}/sessions [delete]
func (s *Server) removeWallet(c *fiber.Ctx) error {
	if err := s.router.RemoveWallet(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// @summary Disconnect one app
// @tags sessions
// @param session path string true "client session id"
// @router /api/v1/sessions/{session} [delete]
func (s *Server) disconnectSession(c *fiber.Ctx) error {
	if err := s.router.DisconnectSession(c.UserContext(), c.Params("session")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
