package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"basalt/config"
	"basalt/observability/logging"
	"basalt/storage"
)

const (
	testPoolAddr     = "0x00000000000000000000000000000000000000Aa"
	testBackstopAddr = "0x00000000000000000000000000000000000000Bb"
	testBackstopTok  = "0x00000000000000000000000000000000000000Cc"
	testAssetA       = "0x0000000000000000000000000000000000000001"
	testAssetB       = "0x0000000000000000000000000000000000000002"
	testAlice        = "0x0000000000000000000000000000000000000101"
	testBob          = "0x0000000000000000000000000000000000000102"
)

func testConfig() *config.Config {
	flatReserve := func(asset string) config.Reserve {
		return config.Reserve{
			Asset:    asset,
			Decimals: 7,
			CFactor:  9_000_000,
			LFactor:  9_000_000,
			Util:     7_500_000,
		}
	}
	return &config.Config{
		ListenAddress: ":0",
		DataDir:       "unused",
		LogLevel:      "error",
		Pool: config.Pool{
			PoolAddress:      testPoolAddr,
			BackstopAddress:  testBackstopAddr,
			BackstopToken:    testBackstopTok,
			BackstopRate:     1_000_000,
			LiquidationBonus: 1_000_000,
		},
		Reserves: []config.Reserve{flatReserve(testAssetA), flatReserve(testAssetB)},
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	node, err := newNode(cfg, storage.NewMemDB(), logging.Setup("basaltd-test", cfg.LogLevel))
	require.NoError(t, err)

	server := httptest.NewServer(node.router())
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, server *httptest.Server, path string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(server.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func mintAndSetPrices(t *testing.T, server *httptest.Server) {
	t.Helper()
	for _, asset := range []string{testAssetA, testAssetB, testBackstopTok} {
		resp := postJSON(t, server, "/v1/oracle/price", map[string]string{
			"asset": asset,
			"price": "10000000",
		})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp.Body.Close()
	}
	for user, grants := range map[string][]string{
		testAlice: {testAssetA},
		testBob:   {testAssetB},
	} {
		for _, asset := range grants {
			resp := postJSON(t, server, "/v1/tokens/mint", map[string]string{
				"asset":  asset,
				"to":     user,
				"amount": "1000000",
			})
			require.Equal(t, http.StatusNoContent, resp.StatusCode)
			resp.Body.Close()
		}
	}
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReserveEndpoints(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/v1/reserves")
	require.NoError(t, err)
	views := decodeJSON[[]reserveView](t, resp)
	require.Len(t, views, 2)
	require.Equal(t, uint32(0), views[0].Index)
	require.Equal(t, "1000000000", views[0].BRate)

	resp, err = http.Get(server.URL + "/v1/reserves/" + testAssetA)
	require.NoError(t, err)
	view := decodeJSON[reserveView](t, resp)
	require.Equal(t, "0", view.DSupply)

	resp, err = http.Get(server.URL + "/v1/reserves/0x0000000000000000000000000000000000000099")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSupplyBorrowRoundTrip(t *testing.T) {
	server := newTestServer(t)
	mintAndSetPrices(t, server)

	resp := postJSON(t, server, "/v1/supply", map[string]string{
		"user": testAlice, "asset": testAssetA, "amount": "100000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeJSON[actionResponse](t, resp)
	require.Equal(t, "100000", result.Result)

	resp = postJSON(t, server, "/v1/supply", map[string]string{
		"user": testBob, "asset": testAssetB, "amount": "100000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, server, "/v1/borrow", map[string]string{
		"user": testAlice, "asset": testAssetB, "amount": "50000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(server.URL + "/v1/positions/" + testAlice)
	require.NoError(t, err)
	position := decodeJSON[positionView](t, resp)
	require.Equal(t, "90000", position.CollateralBase)
	// ceil(50000 / 0.9) in base units.
	require.Equal(t, "55556", position.LiabilityBase)
	require.True(t, position.Healthy)

	// Over-borrowing fails the health check with a 422.
	resp = postJSON(t, server, "/v1/borrow", map[string]string{
		"user": testAlice, "asset": testAssetB, "amount": "40000",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestBadRequestHandling(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server, "/v1/supply", map[string]string{
		"user": "not-an-address", "asset": testAssetA, "amount": "10",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, server, "/v1/supply", map[string]string{
		"user": testAlice, "asset": testAssetA, "amount": "ten",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// A liquidation auction cannot be opened through the generic
	// creation endpoint.
	resp = postJSON(t, server, "/v1/auctions", map[string]uint32{"type": 0})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(server.URL + "/v1/auctions/bogus/" + testAlice)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFailedInvocationLeavesNoTrace(t *testing.T) {
	server := newTestServer(t)
	mintAndSetPrices(t, server)

	// Supplying more than the minted balance fails inside the engine
	// after the reserve was already accrued and loaded.
	resp := postJSON(t, server, "/v1/supply", map[string]string{
		"user": testAlice, "asset": testAssetA, "amount": "2000000",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(server.URL + "/v1/reserves/" + testAssetA)
	require.NoError(t, err)
	view := decodeJSON[reserveView](t, resp)
	require.Equal(t, "0", view.BSupply)

	resp, err = http.Get(server.URL + fmt.Sprintf("/v1/positions/%s", testAlice))
	require.NoError(t, err)
	position := decodeJSON[positionView](t, resp)
	require.Equal(t, "0", position.CollateralBase)
}
