package source

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"

	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/config"
	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/txid"
)

func testID(t *testing.T, fill byte) txid.Identifier {
	t.Helper()
	id, err := txid.Parse(hex.EncodeToString([]byte(strings.Repeat(string([]byte{fill}), txid.Size))))
	require.NoError(t, err)
	return id
}

func testAccount() *address.Address {
	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i + 1)
	}
	return address.NewAddress(0, 0, data)
}

func testItem(url string) config.SourceItem {
	return config.SourceItem{URL: url}
}

func TestTransaction_Matches(t *testing.T) {
	id := testID(t, 0xab)
	raw, err := hex.DecodeString(id.String())
	require.NoError(t, err)

	tests := []struct {
		name  string
		tx    Transaction
		match bool
	}{
		{"lower hex in_msg", Transaction{InMsgHash: id.String()}, true},
		{"upper hex tx hash", Transaction{Hash: strings.ToUpper(id.String())}, true},
		{"std base64", Transaction{InMsgHash: base64.StdEncoding.EncodeToString(raw)}, true},
		{"url base64 unpadded", Transaction{Hash: base64.RawURLEncoding.EncodeToString(raw)}, true},
		{"other hash", Transaction{Hash: testID(t, 0x01).String()}, false},
		{"garbage", Transaction{Hash: "???", InMsgHash: "xyz"}, false},
		{"empty", Transaction{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.match, tc.tx.Matches(id))
		})
	}
}

func TestFindMatch(t *testing.T) {
	id := testID(t, 0x10)
	txs := []Transaction{
		{Hash: testID(t, 0x01).String()},
		{Hash: "tx-2", InMsgHash: id.Base64()},
		{Hash: id.String()},
	}
	got, ok := FindMatch(txs, id)
	require.True(t, ok)
	require.Equal(t, "tx-2", got.Hash)

	_, ok = FindMatch(txs[:1], id)
	require.False(t, ok)
}

func TestTonAPI_LookupByIdentifier(t *testing.T) {
	id := testID(t, 0xcd)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/blockchain/messages/"+id.String()+"/transaction", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		fmt.Fprintf(w, `{"hash":"aa%s","lt":100,"account":{"address":"0:abc"},"success":true,"utime":1700000000,
			"total_fees":1500,"in_msg":{"hash":"%s"},"out_msgs":[{"value":10000000,"fwd_fee":266669,"destination":{"address":"0:def"}}]}`,
			strings.Repeat("0", 62), id.String())
	}))
	defer srv.Close()

	item := testItem(srv.URL)
	item.APIKey = "secret"
	s, err := NewTonAPI(item, nil)
	require.NoError(t, err)

	tx, err := s.LookupByIdentifier(context.Background(), id)
	require.NoError(t, err)
	require.True(t, tx.Matches(id))
	require.True(t, tx.Success)
	require.Equal(t, NameTonAPI, tx.Source)
	require.Equal(t, uint64(10000000), tx.Value())
	require.Equal(t, uint64(1500), tx.TotalFees)
	require.Equal(t, "0:def", tx.Messages[0].Destination)
	require.NotEmpty(t, tx.Raw)
}

func TestTonAPI_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"not found", http.StatusNotFound, `{"error":"entity not found"}`, ErrNotFound},
		{"server error", http.StatusBadGateway, `bad gateway`, ErrProviderUnavailable},
		{"rate limited", http.StatusTooManyRequests, `{}`, ErrProviderUnavailable},
		{"bad body", http.StatusOK, `{not json`, ErrProviderUnavailable},
		{"empty object", http.StatusOK, `{}`, ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			s, err := NewTonAPI(testItem(srv.URL), nil)
			require.NoError(t, err)

			_, err = s.LookupByIdentifier(context.Background(), testID(t, 1))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestTonAPI_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	s, err := NewTonAPI(testItem(srv.URL), nil)
	require.NoError(t, err)

	_, err = s.LookupByIdentifier(context.Background(), testID(t, 1))
	require.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestTonAPI_DeadlineIsKept(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	s, err := NewTonAPI(testItem(srv.URL), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.LookupByIdentifier(ctx, testID(t, 1))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTonAPI_RateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	item := testItem(srv.URL)
	item.RPS = 0.01
	item.Burst = 2
	s, err := NewTonAPI(item, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = s.LookupByIdentifier(context.Background(), testID(t, 1))
		require.ErrorIs(t, err, ErrNotFound)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.LookupByIdentifier(ctx, testID(t, 1))
	require.ErrorIs(t, err, ErrRateLimited)
	require.NotErrorIs(t, err, ErrProviderUnavailable)
	require.Equal(t, int32(2), hits.Load())
}

func TestTonAPI_LookupRecent(t *testing.T) {
	account := testAccount()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/blockchain/accounts/"+account.String()+"/transactions", r.URL.Path)
		require.Equal(t, "3", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"transactions":[{"hash":"01","lt":2,"success":true},{"hash":"02","lt":1,"success":false}]}`))
	}))
	defer srv.Close()

	s, err := NewTonAPI(testItem(srv.URL), nil)
	require.NoError(t, err)

	txs, err := s.LookupRecent(context.Background(), account, 3)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.False(t, txs[1].Success)
}

func TestTonCenterV3_LookupByIdentifier(t *testing.T) {
	id := testID(t, 0x42)
	raw, _ := hex.DecodeString(id.String())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/transactionsByMessage", r.URL.Path)
		require.Equal(t, id.String(), r.URL.Query().Get("msg_hash"))
		require.Equal(t, "key", r.Header.Get("X-API-Key"))
		fmt.Fprintf(w, `{"transactions":[{"account":"0:AB","hash":"dHg=","lt":"77","now":1700000001,"total_fees":"900",
			"description":{"aborted":false},"in_msg":{"hash":"%s"},
			"out_msgs":[{"destination":"0:CD","value":"5000","fwd_fee":"10"}]}]}`,
			base64.StdEncoding.EncodeToString(raw))
	}))
	defer srv.Close()

	item := testItem(srv.URL)
	item.APIKey = "key"
	s, err := NewTonCenterV3(item, nil)
	require.NoError(t, err)

	tx, err := s.LookupByIdentifier(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, uint64(77), tx.Lt)
	require.Equal(t, uint64(5000), tx.Value())
	require.True(t, tx.Success)
}

func TestTonCenterV3_EmptyIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"transactions":[]}`))
	}))
	defer srv.Close()

	s, err := NewTonCenterV3(testItem(srv.URL), nil)
	require.NoError(t, err)

	_, err = s.LookupByIdentifier(context.Background(), testID(t, 2))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTonCenterV3_LookupRecent(t *testing.T) {
	account := testAccount()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/transactions", r.URL.Path)
		require.Equal(t, account.String(), r.URL.Query().Get("account"))
		require.Equal(t, "desc", r.URL.Query().Get("sort"))
		_, _ = w.Write([]byte(`{"transactions":[{"hash":"AQ==","lt":"1","description":{"aborted":true}}]}`))
	}))
	defer srv.Close()

	s, err := NewTonCenterV3(testItem(srv.URL), nil)
	require.NoError(t, err)

	txs, err := s.LookupRecent(context.Background(), account, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.False(t, txs[0].Success)
}

func TestTonCenterV2_LookupRecent(t *testing.T) {
	id := testID(t, 0x77)
	raw, _ := hex.DecodeString(id.String())
	account := testAccount()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/getTransactions", r.URL.Path)
		require.Equal(t, "1", r.URL.Query().Get("limit"))
		fmt.Fprintf(w, `{"ok":true,"result":[
			{"utime":5,"transaction_id":{"lt":"9","hash":"AA=="},"fee":"3","in_msg":{"hash":"%s"},"out_msgs":[{"destination":"x","value":"12","fwd_fee":"1"}]},
			{"utime":4,"transaction_id":{"lt":"8","hash":"AQ=="}}]}`,
			base64.URLEncoding.EncodeToString(raw))
	}))
	defer srv.Close()

	s, err := NewTonCenterV2(testItem(srv.URL), nil)
	require.NoError(t, err)

	txs, err := s.LookupRecent(context.Background(), account, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.True(t, txs[0].Matches(id))
	require.Equal(t, uint64(12), txs[0].Value())
}

func TestTonCenterV2_NotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"LITE_SERVER_UNKNOWN","code":503}`))
	}))
	defer srv.Close()

	s, err := NewTonCenterV2(testItem(srv.URL), nil)
	require.NoError(t, err)

	_, err = s.LookupRecent(context.Background(), testAccount(), 1)
	require.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestTonCenterV2_LookupByIdentifierUnsupported(t *testing.T) {
	s, err := NewTonCenterV2(testItem("http://127.0.0.1:1"), nil)
	require.NoError(t, err)

	_, err = s.LookupByIdentifier(context.Background(), testID(t, 3))
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestNewHTTPClient_RequiresURL(t *testing.T) {
	_, err := NewTonAPI(config.SourceItem{}, nil)
	require.Error(t, err)
}
