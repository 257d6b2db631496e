package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecoStock/internal/adapters/logger"
	"ecoStock/internal/domain"
	"ecoStock/internal/ports"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, AuthToken: "tok", Timeout: 2 * time.Second, Logger: logger.Nop()})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{BaseURL: "http://x"})
	assert.Error(t, err)
	_, err = New(Config{Logger: logger.Nop()})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestClient_ListSymbols(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/eco-stocks", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, []map[string]interface{}{{"id": 1, "code": "ECO1", "name": "Green Power"}})
	}))

	got, err := c.ListSymbols(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []domain.Symbol{{ID: 1, Code: "ECO1", Name: "Green Power"}}, got)
}

func TestClient_GetSnapshot(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/eco-stocks/7/chart", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"candles":[{"time":1000,"open":"100","high":"110","low":"95","close":105}],
			"volumes":[{"time":1000,"value":"12","color":"BUY"}],
			"extended":[1060,1120]
		}`))
	}))

	snap, err := c.GetSnapshot(context.Background(), 7)

	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.SymbolID)
	require.Len(t, snap.Candles, 1)
	assert.True(t, snap.Candles[0].Close.Equal(decimal.NewFromInt(105)))
	assert.Equal(t, domain.VolumeBuy, snap.Volumes[0].Color)
	assert.Equal(t, []int64{1060, 1120}, snap.Extended)
}

func TestClient_GetSnapshotErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   []error
	}{
		{name: "unknown symbol", status: http.StatusNotFound, want: []error{ports.ErrUnknownSymbol, ports.ErrNotFound}},
		{name: "server error", status: http.StatusBadGateway, want: []error{ports.ErrSnapshotUnavailable, ports.ErrServiceUnavailable}},
		{name: "rate limited", status: http.StatusTooManyRequests, want: []error{ports.ErrSnapshotUnavailable, ports.ErrRateLimited}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, errorBody{Message: "nope"})
			}))

			_, err := c.GetSnapshot(context.Background(), 1)

			for _, want := range tt.want {
				assert.ErrorIs(t, err, want)
			}
		})
	}
}

func TestClient_GetHolding(t *testing.T) {
	t.Run("holding", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/eco-stocks/3/holding", r.URL.Path)
			_, _ = w.Write([]byte(`{"totalQuantity":10,"totalCostBasis":"1000","availablePoints":"250.5"}`))
		}))

		h, err := c.GetHolding(context.Background(), 3)

		require.NoError(t, err)
		assert.Equal(t, int64(3), h.SymbolID)
		assert.Equal(t, int64(10), h.TotalQuantity)
		assert.True(t, h.TotalCostBasis.Equal(decimal.NewFromInt(1000)))
		assert.True(t, h.AvailablePoints.Equal(decimal.RequireFromString("250.5")))
	})

	t.Run("never bought", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

		h, err := c.GetHolding(context.Background(), 3)

		require.NoError(t, err)
		assert.Equal(t, int64(0), h.TotalQuantity)
	})

	t.Run("unauthorized", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: "AUTH", Message: "expired"})
		}))

		_, err := c.GetHolding(context.Background(), 3)

		assert.ErrorIs(t, err, ports.ErrAuthenticationFailed)
	})
}

func TestClient_SubmitSell(t *testing.T) {
	id := uuid.New()
	order := domain.SellOrder{ClientOrderID: id, SymbolID: 2, PriceAtConfirmation: decimal.NewFromInt(110), Quantity: 4}

	t.Run("settled", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/eco-stocks/2/sell", r.URL.Path)
			var req sellRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, id, req.ClientOrderID)
			assert.Equal(t, int64(4), req.Quantity)
			assert.True(t, req.Price.Equal(decimal.NewFromInt(110)))
			writeJSON(w, http.StatusOK, map[string]interface{}{"orderId": "S-9", "price": "110"})
		}))

		rcpt, err := c.SubmitSell(context.Background(), order)

		require.NoError(t, err)
		assert.Equal(t, "S-9", rcpt.OrderID)
		assert.Equal(t, int64(4), rcpt.Quantity)
		assert.True(t, rcpt.Proceeds.Equal(decimal.NewFromInt(440)), "proceeds default to the expected amount")
	})

	t.Run("rejected with server message", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, errorBody{Code: "MARKET_CLOSED", Message: "Market is closed"})
		}))

		_, err := c.SubmitSell(context.Background(), order)

		assert.ErrorIs(t, err, ports.ErrSellRejected)
		msg, ok := ports.UserMessage(err)
		assert.True(t, ok)
		assert.Equal(t, "Market is closed", msg)
	})

	t.Run("server failure has no user message", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))

		_, err := c.SubmitSell(context.Background(), order)

		assert.ErrorIs(t, err, ports.ErrServiceUnavailable)
		assert.NotErrorIs(t, err, ports.ErrSellRejected)
		_, ok := ports.UserMessage(err)
		assert.False(t, ok)
	})
}

func TestClient_ContextCanceled(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []domain.Symbol{})
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListSymbols(ctx)

	assert.ErrorIs(t, err, ports.ErrContextCanceled)
}
