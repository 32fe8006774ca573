package legacyrpc

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/rbfwallet/rbfjson"
	"github.com/btcsuite/rbfwallet/wallet"
	"github.com/stretchr/testify/require"
)

func TestThrottle(t *testing.T) {
	t.Parallel()

	const threshold = 1

	srv := httptest.NewServer(throttledFn(threshold,
		func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(20 * time.Millisecond)
		}),
	)
	defer srv.Close()

	codes := make(chan int, 2)
	for i := 0; i < cap(codes); i++ {
		go func() {
			res, err := http.Get(srv.URL)
			if err != nil {
				codes <- 0
				return
			}
			res.Body.Close()
			codes <- res.StatusCode
		}()
	}

	got := make(map[int]int, cap(codes))
	for i := 0; i < cap(codes); i++ {
		got[<-codes]++
	}

	want := map[int]int{200: 1, 429: 1}
	require.Equal(t, want, got)
}

// newTestServer starts a server listening on a local port.
func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := NewServer(&Options{
		Username:       "user",
		Password:       "pass",
		MaxPOSTClients: 10,
	}, []net.Listener{lis})
	t.Cleanup(server.Stop)

	return server, "http://" + lis.Addr().String()
}

// post sends the marshaled command and returns the decoded response.
func post(t *testing.T, url, user, pass string, body []byte) (int,
	*btcjson.Response) {

	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.SetBasicAuth(user, pass)

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	if res.StatusCode != http.StatusOK {
		return res.StatusCode, nil
	}

	var resp btcjson.Response
	require.NoError(t, json.Unmarshal(respBody, &resp))

	return res.StatusCode, &resp
}

// TestServerAuth checks that requests with wrong credentials are refused.
func TestServerAuth(t *testing.T) {
	t.Parallel()

	_, url := newTestServer(t)

	body, err := btcjson.MarshalCmd(
		btcjson.RpcVersion1, 1, btcjson.NewHelpCmd(nil),
	)
	require.NoError(t, err)

	code, _ := post(t, url, "user", "wrong", body)
	require.Equal(t, http.StatusUnauthorized, code)

	code, resp := post(t, url, "user", "pass", body)
	require.Equal(t, http.StatusOK, code)
	require.Nil(t, resp.Error)
}

// TestServerRoundTrip sends wallet requests through the HTTP server.
func TestServerRoundTrip(t *testing.T) {
	t.Parallel()

	server, url := newTestServer(t)

	body, err := btcjson.MarshalCmd(
		btcjson.RpcVersion1, 7, rbfjson.NewBumpFeeCmd(testTxid, nil),
	)
	require.NoError(t, err)

	// Wallet requests fail until a wallet is registered.
	_, resp := post(t, url, "user", "pass", body)
	require.Equal(t, &ErrUnloadedWallet, resp.Error)

	txHash, err := chainhash.NewHashFromStr(testTxid)
	require.NoError(t, err)

	w := &mockWallet{}
	w.On("BumpFee", txHash, &wallet.BumpFeeRequest{}).Return(
		&wallet.BumpFeeResult{
			Txid:   *txHash,
			OldFee: 1_000,
			Fee:    3_000,
		}, nil,
	).Once()
	server.registerWallet(w)

	_, resp = post(t, url, "user", "pass", body)
	require.Nil(t, resp.Error)

	var result rbfjson.BumpFeeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Equal(t, testTxid, result.TxID)
	require.Equal(t, 0.00003, result.Fee)

	require.NotNil(t, resp.ID)
	require.EqualValues(t, 7, *resp.ID)

	w.AssertExpectations(t)

	// Malformed requests are answered with an invalid request error.
	_, resp = post(t, url, "user", "pass", []byte("{"))
	require.Equal(t, btcjson.ErrRPCInvalidRequest.Code, resp.Error.Code)
}

// TestServerStop checks that the stop method requests a process shutdown.
func TestServerStop(t *testing.T) {
	t.Parallel()

	server, url := newTestServer(t)

	body, err := btcjson.MarshalCmd(
		btcjson.RpcVersion1, 1, btcjson.NewStopCmd(),
	)
	require.NoError(t, err)

	_, resp := post(t, url, "user", "pass", body)
	require.Nil(t, resp.Error)

	select {
	case <-server.RequestProcessShutdown():
	case <-time.After(time.Second):
		t.Fatal("shutdown was not requested")
	}
}

// TestSanitizeRequest checks that private keys are never logged.
func TestSanitizeRequest(t *testing.T) {
	t.Parallel()

	req := newRequest(t, "sweepprivkeys", `{"privkeys":["secret"]}`)
	require.NotContains(t, sanitizeRequest(req), "secret")

	req = newRequest(t, "bumpfee", `"`+testTxid+`"`)
	require.Contains(t, sanitizeRequest(req), testTxid)
}
