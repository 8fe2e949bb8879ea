package toncenter

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toncenter/ton-dispatch-go/chain"
	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/signer"
)

const walletAddr = "0:83DFD552E63729B472FCBCC8C45EBCC6691702558B68EC7527E1BA403A0F31A8"

func newServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return New(Settings{Endpoint: srv.URL, ApiKey: "secret"})
}

func TestWalletState(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/getWalletInformation", r.URL.Path)
		require.Equal(t, "secret", r.URL.Query().Get("api_key"))
		io.WriteString(w, `{"ok":true,"result":{"wallet":true,"balance":"1500000000","account_state":"active","wallet_type":"wallet v4 r2","seqno":12}}`)
	})

	state, err := client.WalletState(context.Background(), walletAddr)
	require.NoError(t, err)
	require.Equal(t, "1500000000", state.Balance.String())
	require.EqualValues(t, 12, state.Seqno)
	require.True(t, state.Deployed)
}

func TestWalletStateNotAWallet(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok":true,"result":{"wallet":false,"balance":0,"account_state":"active"}}`)
	})
	_, err := client.WalletState(context.Background(), walletAddr)
	var apiErr APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 409, apiErr.Code)
}

func TestEstimateExternalIgnoresSignature(t *testing.T) {
	var got estimateFeeRequest
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/estimateFee", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"ok":true,"result":{"source_fees":{"in_fwd_fee":100,"storage_fee":1,"gas_fee":3000,"fwd_fee":400},"destination_fees":[{"in_fwd_fee":0,"storage_fee":0,"gas_fee":0,"fwd_fee":20}]}}`)
	})

	wallet := models.Wallet{ID: "w", Address: walletAddr}
	msgs := []models.OutMessage{{Destination: walletAddr, Amount: big.NewInt(1), Mode: chain.DefaultSendMode}}
	unsigned, err := chain.WalletV4{}.Encode(wallet, 1, 1700000000, msgs)
	require.NoError(t, err)
	boc, err := chain.WalletV4{}.Sign(context.Background(), wallet, unsigned, signer.NewEstimation(make(ed25519.PublicKey, 32)))
	require.NoError(t, err)

	estimate, err := client.EstimateExternal(context.Background(), boc)
	require.NoError(t, err)
	require.True(t, got.IgnoreChksig)
	require.Equal(t, walletAddr, got.Address)
	require.NotEmpty(t, got.Body)
	require.Equal(t, "3521", estimate.Total().String())
}

func TestSendBocRejected(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"ok":false,"error":"exitcode=33","code":500}`)
	})
	_, err := client.SendBoc(context.Background(), []byte{1, 2, 3})
	require.True(t, errors.Is(err, models.ErrBroadcastFailed))
}

func TestSendBocReturnsHash(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sendBocReturnHash", r.URL.Path)
		io.WriteString(w, `{"ok":true,"result":{"@type":"ext.message.info","hash":"abc="}}`)
	})
	hash, err := client.SendBoc(context.Background(), []byte{1})
	require.NoError(t, err)
	require.Equal(t, "abc=", hash)
}
