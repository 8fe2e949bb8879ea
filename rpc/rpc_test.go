package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toncenter/ton-dispatch-go/models"
)

func TestDecodeRequestIDs(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"id":"7","method":"sendTransaction","params":["{}"]}`))
	require.NoError(t, err)
	require.Equal(t, ID("7"), req.ID)

	req, err = DecodeRequest([]byte(`{"id":42,"method":"signData","params":[]}`))
	require.NoError(t, err)
	require.Equal(t, ID("42"), req.ID)
	_, err = req.FirstParam()
	require.ErrorIs(t, err, models.ErrBadRequest)

	_, err = DecodeRequest([]byte(`{"id":"1"}`))
	require.ErrorIs(t, err, models.ErrProtocol)
	_, err = DecodeRequest([]byte(`not json`))
	require.ErrorIs(t, err, models.ErrProtocol)
	_, err = DecodeRequest([]byte(`{"id":{},"method":"x"}`))
	require.ErrorIs(t, err, models.ErrProtocol)
	_, err = DecodeRequest([]byte(`{"method":"sendTransaction","params":["{}"]}`))
	require.ErrorIs(t, err, models.ErrProtocol)
}

func TestDecodeRequestKeepsIDOfBadParams(t *testing.T) {
	for _, raw := range []string{
		`{"id":"9","method":"sendTransaction","params":[{"messages":[]}]}`,
		`{"id":"9","method":"sendTransaction","params":"{}"}`,
		`{"id":"9","method":"sendTransaction","params":[1,2]}`,
	} {
		req, err := DecodeRequest([]byte(raw))
		require.ErrorIs(t, err, models.ErrBadRequest, raw)
		require.NotErrorIs(t, err, models.ErrProtocol, raw)
		require.Equal(t, ID("9"), req.ID, raw)
		require.Equal(t, MethodSendTransaction, req.Method, raw)
	}

	req, err := DecodeRequest([]byte(`{"id":"3","method":"disconnect"}`))
	require.NoError(t, err)
	require.Empty(t, req.Params)
}

func TestCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		code ErrorCode
	}{
		{models.ErrUserRejected, CodeUserRejected},
		{fmt.Errorf("wrapped: %w", models.ErrUnsupportedMethod), CodeMethodNotSupported},
		{errors.Join(models.ErrBadRequest, errors.New("no messages")), CodeBadRequest},
		{models.ErrProtocol, CodeBadRequest},
		{models.ErrUnknownApp, CodeUnknownApp},
		{models.ErrBroadcastFailed, CodeUnknown},
	}
	for _, tc := range cases {
		require.Equal(t, tc.code, CodeFor(tc.err), tc.err.Error())
	}
}

func TestReplyShapes(t *testing.T) {
	raw, err := Success("5", "te6cc")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"5","result":"te6cc"}`, string(raw))

	raw, err = FromError("5", errors.Join(models.ErrUserRejected, errors.New("superseded")))
	require.NoError(t, err)
	var reply ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &reply))
	require.Equal(t, CodeUserRejected, reply.Error.Code)

	raw, err = ConnectError(3, CodeManifestNotFound, "no manifest")
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"connect_error","id":3,"payload":{"code":2,"message":"no manifest"}}`, string(raw))

	raw, err = DisconnectEvent(4)
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"disconnect","id":4,"payload":{}}`, string(raw))
}

func TestConnectSuccessAdvertisesFeatures(t *testing.T) {
	item := TonAddrItem{Name: "ton_addr", Address: "0:ab", Network: "-239"}
	raw, err := ConnectSuccess(1, []any{item}, DefaultDevice("dispatch", "1.0"))
	require.NoError(t, err)

	var event struct {
		Event   string `json:"event"`
		Payload struct {
			Items  []TonAddrItem `json:"items"`
			Device struct {
				MaxProtocolVersion int               `json:"maxProtocolVersion"`
				Features           []json.RawMessage `json:"features"`
			} `json:"device"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &event))
	require.Equal(t, EventConnect, event.Event)
	require.Equal(t, item, event.Payload.Items[0])
	require.Equal(t, ProtocolVersion, event.Payload.Device.MaxProtocolVersion)
	require.JSONEq(t, `"SendTransaction"`, string(event.Payload.Device.Features[0]))
	require.JSONEq(t, `{"name":"SendTransaction","maxMessages":4}`, string(event.Payload.Device.Features[1]))
}
