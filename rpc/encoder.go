package rpc

import (
	"encoding/json"
	"errors"

	"github.com/toncenter/ton-dispatch-go/models"
)

func Success(id ID, result any) ([]byte, error) {
	return json.Marshal(SuccessResponse{ID: id, Result: result})
}

func Error(id ID, code ErrorCode, message string) ([]byte, error) {
	return json.Marshal(ErrorResponse{ID: id, Error: ErrorBody{Code: code, Message: message}})
}

// FromError encodes a local failure as a TON Connect error reply.
func FromError(id ID, err error) ([]byte, error) {
	return Error(id, CodeFor(err), err.Error())
}

func CodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, models.ErrUserRejected):
		return CodeUserRejected
	case errors.Is(err, models.ErrUnsupportedMethod):
		return CodeMethodNotSupported
	case errors.Is(err, models.ErrBadRequest), errors.Is(err, models.ErrProtocol):
		return CodeBadRequest
	case errors.Is(err, models.ErrUnknownApp):
		return CodeUnknownApp
	default:
		return CodeUnknown
	}
}

func ConnectSuccess(eventID int64, items []any, device DeviceInfo) ([]byte, error) {
	return json.Marshal(WalletEvent{
		Event:   EventConnect,
		ID:      eventID,
		Payload: ConnectPayload{Items: items, Device: device},
	})
}

func ConnectError(eventID int64, code ErrorCode, message string) ([]byte, error) {
	return json.Marshal(WalletEvent{
		Event:   EventConnectError,
		ID:      eventID,
		Payload: ErrorBody{Code: code, Message: message},
	})
}

func DisconnectEvent(eventID int64) ([]byte, error) {
	return json.Marshal(WalletEvent{
		Event:   EventDisconnect,
		ID:      eventID,
		Payload: struct{}{},
	})
}
