package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/polyclaw/internal/crypto"
	"github.com/alanyoungcy/polyclaw/internal/domain"
)

func testSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return crypto.NewSigner(key, 137)
}

func testCreds() *crypto.HMACAuth {
	return &crypto.HMACAuth{Key: "api-key", Secret: "c2VjcmV0", Passphrase: "pass"}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingFactory counts how many HTTP clients were built.
func countingFactory(n *int32) TransportFactory {
	return func() *http.Client {
		atomic.AddInt32(n, 1)
		return &http.Client{}
	}
}

func TestDeriveAPIKeySendsL1HeadersAndStoresCreds(t *testing.T) {
	signer := testSigner(t)
	var sawL2 atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/derive-api-key":
			if r.Header.Get("POLY_ADDRESS") != signer.Address().Hex() {
				http.Error(w, "bad address", http.StatusUnauthorized)
				return
			}
			if r.Header.Get("POLY_SIGNATURE") == "" || r.Header.Get("POLY_NONCE") != "0" {
				http.Error(w, "missing l1 headers", http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"apiKey":"k1","secret":"c2VjcmV0","passphrase":"p1"}`))
		case "/data/orders":
			if r.Header.Get("POLY_API_KEY") == "k1" && r.Header.Get("POLY_SIGNATURE") != "" {
				sawL2.Store(true)
			}
			_, _ = w.Write([]byte(`{"data":[],"next_cursor":"LTE="}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, signer, nil)
	if _, err := c.GetOpenOrders(context.Background()); err != nil {
		t.Fatalf("GetOpenOrders: %v", err)
	}
	if !sawL2.Load() {
		t.Fatal("expected L2 headers with derived key")
	}
}

func TestDeriveAPIKeyUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, testSigner(t), nil)
	err := c.DeriveAPIKey(context.Background())
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCheckHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{404, domain.ErrNotFound},
		{401, domain.ErrUnauthorized},
		{403, domain.ErrUnauthorized},
		{429, domain.ErrRateLimited},
	}
	for _, tt := range tests {
		err := checkHTTPStatus(tt.code, []byte("body"))
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: got %v, want %v", tt.code, err, tt.want)
		}
		if StatusCode(err) != tt.code {
			t.Errorf("status %d: StatusCode = %d", tt.code, StatusCode(err))
		}
	}

	if err := checkHTTPStatus(200, nil); err != nil {
		t.Errorf("200 should not error, got %v", err)
	}
	err := checkHTTPStatus(500, []byte("boom"))
	if err == nil || err.Error() != "HTTP 500: boom" {
		t.Errorf("unexpected 500 error: %v", err)
	}
}

func TestPostOrderSignsAndRoutesByNegRisk(t *testing.T) {
	var posted map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/neg-risk":
			_, _ = w.Write([]byte(`{"neg_risk":false}`))
		case "/order":
			if r.Header.Get("POLY_API_KEY") != "api-key" {
				http.Error(w, "no auth", http.StatusUnauthorized)
				return
			}
			_ = json.NewDecoder(r.Body).Decode(&posted)
			_, _ = w.Write([]byte(`{"success":true,"orderID":"0xorder","status":"live"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, testSigner(t), nil)
	c.SetCredentials(testCreds())

	order, err := BuildOrder("123", domain.OrderSideBuy, domain.OrderTypeGTC, 0.40, 10)
	if err != nil {
		t.Fatalf("BuildOrder: %v", err)
	}
	res, err := c.PostOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("PostOrder: %v", err)
	}
	if res.OrderID != "0xorder" || res.Filled() {
		t.Fatalf("unexpected result: %+v", res)
	}

	if posted["owner"] != "api-key" || posted["orderType"] != "GTC" {
		t.Fatalf("unexpected envelope: %v", posted)
	}
	inner, _ := posted["order"].(map[string]any)
	if inner["makerAmount"] != "4000000" || inner["takerAmount"] != "10000000" {
		t.Fatalf("unexpected amounts: maker=%v taker=%v", inner["makerAmount"], inner["takerAmount"])
	}
	if inner["side"] != "BUY" || inner["signature"] == "" {
		t.Fatalf("unexpected order body: %v", inner)
	}
}

func TestPostOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/neg-risk" {
			_, _ = w.Write([]byte(`{"neg_risk":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":false,"errorMsg":"not enough balance"}`))
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, testSigner(t), nil)
	c.SetCredentials(testCreds())
	order, _ := BuildOrder("9", domain.OrderSideSell, domain.OrderTypeFOK, 0.5, 1)
	_, err := c.PostOrder(context.Background(), order)
	if err == nil {
		t.Fatal("expected rejection error")
	}
}

func TestGetOpenOrdersFollowsCursor(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		switch r.URL.Query().Get("next_cursor") {
		case "":
			_, _ = w.Write([]byte(`{"data":[{"id":"a","price":"0.41","original_size":"10","size_matched":"0"}],"next_cursor":"MQ=="}`))
		case "MQ==":
			_, _ = w.Write([]byte(`{"data":[{"id":"b","price":"0.2","original_size":"5","size_matched":"1"}],"next_cursor":"LTE="}`))
		default:
			http.Error(w, "bad cursor", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, testSigner(t), nil)
	c.SetCredentials(testCreds())
	orders, err := c.GetOpenOrders(context.Background())
	if err != nil {
		t.Fatalf("GetOpenOrders: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "a" || orders[1].Price != 0.2 || orders[1].SizeMatched != 1 {
		t.Fatalf("unexpected orders: %+v", orders)
	}
	if calls != 2 {
		t.Fatalf("expected 2 page requests, got %d", calls)
	}
}

func TestCancelOrderNotCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte(`{"canceled":[],"not_canceled":{"x1":"order already matched"}}`))
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, testSigner(t), nil)
	c.SetCredentials(testCreds())
	if err := c.CancelOrder(context.Background(), "x1"); err == nil {
		t.Fatal("expected error for not_canceled order")
	}
	if err := c.CancelOrder(context.Background(), "x2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetOrderBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book" || r.URL.Query().Get("token_id") != "77" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"asset_id":"77","bids":[{"price":"0.30","size":"100"},{"price":"0.33","size":"5"}],"asks":[{"price":"0.36","size":"50"}]}`))
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, testSigner(t), nil)
	book, err := c.GetOrderBook(context.Background(), "77")
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if book.BestBid() != 0.33 || book.BestAsk() != 0.36 {
		t.Fatalf("unexpected best bid/ask: %v/%v", book.BestBid(), book.BestAsk())
	}

	if _, err := c.GetOrderBook(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResetTransportBuildsFreshClient(t *testing.T) {
	var built int32
	c := NewClobClient("http://unused", testSigner(t), countingFactory(&built))
	first := c.client()
	c.ResetTransport()
	if c.client() == first {
		t.Fatal("expected a new http client after reset")
	}
	if built != 2 {
		t.Fatalf("expected 2 clients built, got %d", built)
	}
}

func TestProxyTransportFactory(t *testing.T) {
	if _, err := ProxyTransportFactory("::not a url", 0); err == nil {
		t.Fatal("expected error for bad proxy url")
	}
	f, err := ProxyTransportFactory("http://user:pw@proxy.example:8080", 0)
	if err != nil {
		t.Fatalf("ProxyTransportFactory: %v", err)
	}
	tr, ok := f().Transport.(*http.Transport)
	if !ok {
		t.Fatal("expected *http.Transport")
	}
	req, _ := http.NewRequest(http.MethodGet, "https://clob.polymarket.com/order", nil)
	u, err := tr.Proxy(req)
	if err != nil || u == nil || u.Host != "proxy.example:8080" {
		t.Fatalf("unexpected proxy: %v, %v", u, err)
	}
}
