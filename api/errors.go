package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/ton-dispatch-go/models"
)

// APIError is an error answered with a status code and a JSON body.
type APIError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
	// Shortfall is set for insufficient balance errors.
	Shortfall string `json:"shortfall,omitempty"`
	Asset     string `json:"asset,omitempty"`
}

func (e APIError) Error() string {
	return e.Message
}

var statusBySentinel = []struct {
	err  error
	code int
}{
	{models.ErrNotFound, fiber.StatusNotFound},
	{models.ErrBadRequest, fiber.StatusBadRequest},
	{models.ErrProtocol, fiber.StatusBadRequest},
	{models.ErrUnsupportedMethod, fiber.StatusBadRequest},
	{models.ErrUnknownApp, fiber.StatusBadRequest},
	{models.ErrUserRejected, fiber.StatusConflict},
	{models.ErrEstimationStale, fiber.StatusConflict},
	{models.ErrOrderFinalized, fiber.StatusConflict},
	{models.ErrOrderExpired, fiber.StatusGone},
	{models.ErrNotSigner, fiber.StatusForbidden},
	{models.ErrSignerUnavailable, fiber.StatusFailedDependency},
	{models.ErrEstimationFailed, fiber.StatusServiceUnavailable},
	{models.ErrBroadcastFailed, fiber.StatusBadGateway},
	{models.ErrTransport, fiber.StatusBadGateway},
	{models.ErrPollTimeout, fiber.StatusGatewayTimeout},
}

func toAPIError(err error) (APIError, bool) {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var short *models.NotEnoughBalanceError
	if errors.As(err, &short) {
		return APIError{
			Code:      fiber.StatusUnprocessableEntity,
			Message:   err.Error(),
			Shortfall: short.Shortfall().String(),
			Asset:     short.Asset,
		}, true
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return APIError{Code: fiberErr.Code, Message: fiberErr.Message}, true
	}
	for _, s := range statusBySentinel {
		if errors.Is(err, s.err) {
			return APIError{Code: s.code, Message: err.Error()}, true
		}
	}
	return APIError{}, false
}

// ErrorHandler answers handler errors as JSON. Unexpected errors are logged with the request.
func ErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(ctx *fiber.Ctx, err error) error {
		msg := strings.ReplaceAll(err.Error(), "\n", "\\n")
		if e, ok := toAPIError(err); ok {
			e.Message = msg
			if e.Code >= fiber.StatusInternalServerError {
				logger.WithFields(logrus.Fields{"code": e.Code, "path": ctx.Path()}).Warn(msg)
			}
			return ctx.Status(e.Code).JSON(e)
		}
		logger.WithFields(logrus.Fields{"path": ctx.Path(), "body": string(ctx.Body())}).Error(msg)
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error: " + msg})
	}
}
