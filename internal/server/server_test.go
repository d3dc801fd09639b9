package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"lendbook/internal/book"
	"lendbook/internal/oracle"
	"lendbook/internal/token"
	"lendbook/internal/wad"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	quote := token.NewBank("USDC")
	base := token.NewBank("WETH")
	feed := oracle.NewStatic(wadStr(100).int())
	b, err := book.New(book.DefaultParams(), quote, base, feed, zap.NewNop())
	if err != nil {
		t.Fatalf("new book: %v", err)
	}
	srv := httptest.NewServer(New(b, quote, base, zap.NewNop()).Router())
	t.Cleanup(srv.Close)
	return srv
}

type wadStr int64

func (v wadStr) int() *big.Int {
	return new(big.Int).Mul(big.NewInt(int64(v)), wad.One)
}

func (v wadStr) String() string { return v.int().String() }

func post(t *testing.T, srv *httptest.Server, path string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, out
}

func get(t *testing.T, srv *httptest.Server, path string, v any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

const makerAddr = "0x00000000000000000000000000000000000000a1"

func TestDepositOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	status, _ := post(t, srv, "/v1/faucet", map[string]any{
		"address": makerAddr, "asset": "quote", "amount": wadStr(5000).String(),
	})
	if status != http.StatusOK {
		t.Fatalf("faucet status = %d", status)
	}
	status, _ = post(t, srv, "/v1/approve", map[string]any{
		"address": makerAddr, "asset": "quote", "amount": wadStr(5000).String(),
	})
	if status != http.StatusOK {
		t.Fatalf("approve status = %d", status)
	}

	status, out := post(t, srv, "/v1/deposit", map[string]any{
		"maker": makerAddr, "pool_id": 0, "paired_pool_id": 1,
		"quantity": wadStr(2000).String(), "is_buy_order": true,
	})
	if status != http.StatusOK {
		t.Fatalf("deposit status = %d, body %v", status, out)
	}
	orderID := out["order_id"].(float64)
	if orderID != 1 {
		t.Fatalf("order id = %v, want 1", orderID)
	}

	var pool book.PoolView
	if status := get(t, srv, "/v1/pools/0", &pool); status != http.StatusOK {
		t.Fatalf("pool status = %d", status)
	}
	if pool.Deposits != wadStr(2000).String() {
		t.Fatalf("pool deposits = %s, want 2000 WAD", pool.Deposits)
	}

	var order book.OrderView
	if status := get(t, srv, fmt.Sprintf("/v1/orders/%d", int(orderID)), &order); status != http.StatusOK {
		t.Fatalf("order status = %d", status)
	}
	if !strings.EqualFold(order.Maker, makerAddr) {
		t.Fatalf("order maker = %s, want %s", order.Maker, makerAddr)
	}

	var user book.UserView
	if status := get(t, srv, "/v1/users/"+makerAddr, &user); status != http.StatusOK {
		t.Fatalf("user status = %d", status)
	}
	if len(user.Orders) != 1 {
		t.Fatalf("user orders = %v, want one", user.Orders)
	}

	status, out = post(t, srv, "/v1/change-paired-price", map[string]any{
		"maker": makerAddr, "order_id": int(orderID), "new_paired_pool_id": 2,
	})
	if status != http.StatusOK {
		t.Fatalf("change paired status = %d, body %v", status, out)
	}
	if status := get(t, srv, fmt.Sprintf("/v1/orders/%d", int(orderID)), &order); status != http.StatusOK {
		t.Fatalf("order status = %d", status)
	}
	if order.PairedPoolID != 2 {
		t.Fatalf("paired pool = %d, want 2", order.PairedPoolID)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	// Unknown order id maps to 404.
	status, _ := post(t, srv, "/v1/withdraw", map[string]any{
		"maker": makerAddr, "order_id": 42, "quantity": wadStr(1).String(),
	})
	if status != http.StatusNotFound {
		t.Fatalf("withdraw unknown order status = %d, want 404", status)
	}

	// Malformed amount maps to 400.
	status, _ = post(t, srv, "/v1/deposit", map[string]any{
		"maker": makerAddr, "pool_id": 0, "paired_pool_id": 1,
		"quantity": "not-a-number", "is_buy_order": true,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("bad amount status = %d, want 400", status)
	}

	// Bad address maps to 400.
	status, _ = post(t, srv, "/v1/borrow", map[string]any{
		"borrower": "nope", "pool_id": 0, "quantity": wadStr(1).String(),
	})
	if status != http.StatusBadRequest {
		t.Fatalf("bad address status = %d, want 400", status)
	}

	// Unfunded deposit fails the token pull and maps to 409.
	status, _ = post(t, srv, "/v1/deposit", map[string]any{
		"maker": makerAddr, "pool_id": 0, "paired_pool_id": 1,
		"quantity": wadStr(2000).String(), "is_buy_order": true,
	})
	if status != http.StatusConflict {
		t.Fatalf("unfunded deposit status = %d, want 409", status)
	}

	if status := get(t, srv, "/v1/pools/999", nil); status != http.StatusNotFound {
		t.Fatalf("unknown pool status = %d, want 404", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	post(t, srv, "/v1/faucet", map[string]any{
		"address": makerAddr, "asset": "base", "amount": wadStr(10).String(),
	})
	if status := get(t, srv, "/metrics", nil); status != http.StatusOK {
		t.Fatalf("metrics status = %d", status)
	}
	if status := get(t, srv, "/healthz", nil); status != http.StatusOK {
		t.Fatalf("healthz status = %d", status)
	}
}
