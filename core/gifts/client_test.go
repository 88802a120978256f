package gifts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type apiServer struct {
	*httptest.Server
	authHits     atomic.Int64
	dispatchFn   func(w http.ResponseWriter, r *http.Request)
	balanceFn    func(w http.ResponseWriter, r *http.Request)
	lastAuthWire atomic.Value // string: Authorization header of last API call
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()
	s := &apiServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/get_token", func(w http.ResponseWriter, r *http.Request) {
		s.authHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tok-test","valid_thru":99999999999}`))
	})
	mux.HandleFunc("/check_balance", func(w http.ResponseWriter, r *http.Request) {
		s.lastAuthWire.Store(r.Header.Get("Authorization"))
		if s.balanceFn != nil {
			s.balanceFn(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"balance":1250.50}`))
	})
	mux.HandleFunc("/steam_gift/create_order", func(w http.ResponseWriter, r *http.Request) {
		s.lastAuthWire.Store(r.Header.Get("Authorization"))
		if s.dispatchFn != nil {
			s.dispatchFn(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"order_id":"remote-1"}`))
	})
	s.Server = httptest.NewServer(mux)
	return s
}

func newTestClient(s *apiServer) *Client {
	return NewClient(Config{
		BaseURL:     s.URL,
		Credentials: Credentials{Login: "op@example.com", Password: "pw"},
		HTTPClient:  s.Client(),
	})
}

func TestGetBalance(t *testing.T) {
	srv := newAPIServer(t)
	defer srv.Close()

	c := newTestClient(srv)
	balance, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("1250.50")))
	require.Equal(t, "Bearer tok-test", srv.lastAuthWire.Load())
}

func TestGetBalanceAPIError(t *testing.T) {
	srv := newAPIServer(t)
	defer srv.Close()
	srv.balanceFn = func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"account disabled"}`))
	}

	c := newTestClient(srv)
	_, err := c.GetBalance(context.Background())
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "account disabled", ae.Message)
}

func TestSendGiftSuccess(t *testing.T) {
	srv := newAPIServer(t)
	defer srv.Close()

	var sent map[string]any
	srv.dispatchFn = func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		_, _ = w.Write([]byte(`{"success":true,"order_id":"remote-42"}`))
	}

	c := newTestClient(srv)
	res, err := c.SendGift(context.Background(), FulfillmentRequest{
		Target:   "https://steamcommunity.com/id/alice",
		GiftName: "Game X",
		Region:   RegionRU,
	})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, "remote-42", res.Details["order_id"])

	require.Equal(t, "https://steamcommunity.com/id/alice", sent["friendLink"])
	require.Equal(t, "Game X", sent["giftName"])
	require.Equal(t, "ru", sent["region"])
	require.EqualValues(t, 0, sent["sub_id"])
	require.NotEmpty(t, sent["giftDescription"])
}

func TestSendGiftInsufficientBalanceIsResultNotError(t *testing.T) {
	srv := newAPIServer(t)
	defer srv.Close()
	srv.dispatchFn = func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"Insufficient balance for this order"}`))
	}

	c := newTestClient(srv)
	res, err := c.SendGift(context.Background(), FulfillmentRequest{Target: "t", GiftName: "g", Region: RegionRU})
	require.NoError(t, err, "expected rejection must not surface as an error")
	require.False(t, res.OK)
	require.Equal(t, ReasonInsufficientBalance, res.Reason)
}

func TestSendGiftOtherRejection(t *testing.T) {
	srv := newAPIServer(t)
	defer srv.Close()
	srv.dispatchFn = func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"profile is private"}`))
	}

	c := newTestClient(srv)
	res, err := c.SendGift(context.Background(), FulfillmentRequest{Target: "t", GiftName: "g", Region: RegionUA})
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, ReasonOther, res.Reason)
	require.Equal(t, "profile is private", res.Message)
}

func TestSendGift401InvalidatesToken(t *testing.T) {
	srv := newAPIServer(t)
	defer srv.Close()

	var rejected atomic.Bool
	rejected.Store(true)
	srv.dispatchFn = func(w http.ResponseWriter, _ *http.Request) {
		if rejected.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}

	c := newTestClient(srv)
	_, err := c.SendGift(context.Background(), FulfillmentRequest{Target: "t", GiftName: "g", Region: RegionRU})
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	require.EqualValues(t, 1, srv.authHits.Load())

	// next attempt re-authenticates instead of reusing the rejected token
	rejected.Store(false)
	res, err := c.SendGift(context.Background(), FulfillmentRequest{Target: "t", GiftName: "g", Region: RegionRU})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.EqualValues(t, 2, srv.authHits.Load())
}

func TestClassifyRejection(t *testing.T) {
	require.Equal(t, ReasonInsufficientBalance, classifyRejection("Insufficient funds"))
	require.Equal(t, ReasonInsufficientBalance, classifyRejection("low BALANCE on account"))
	require.Equal(t, ReasonOther, classifyRejection("region mismatch"))
}

func TestParseRegion(t *testing.T) {
	require.Equal(t, RegionRU, ParseRegion(""))
	require.Equal(t, RegionRU, ParseRegion("RU"))
	require.Equal(t, RegionUA, ParseRegion(" ua "))
	require.Equal(t, RegionKZ, ParseRegion("kz"))
	require.Equal(t, Region("tr"), ParseRegion("TR"))
}

func TestSendGiftHonorsContextCancellation(t *testing.T) {
	srv := newAPIServer(t)
	defer srv.Close()
	srv.dispatchFn = func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client going away;
		// an unread body keeps the request context alive past Close.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}

	c := newTestClient(srv)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.SendGift(ctx, FulfillmentRequest{Target: "t", GiftName: "g", Region: RegionRU})
	require.Error(t, err)
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
}
