package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/convergence/internal/ir"
)

func testClaim() Claim {
	return Claim{
		AgentID:       7,
		Identity:      "convergence/AVAX/2026-10-17T00:00:00Z",
		Score:         10200,
		ScoreDecimals: 2,
		Tag1:          "convergence",
		Tag2:          "2-agent",
		URI:           "convergence://signal/1",
		Hash:          ir.HashText("avax"),
	}
}

func TestHTTPClient_SubmitClaim(t *testing.T) {
	claim := testClaim()
	var got submitRequest
	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/claims", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tx_ref":"0xabc"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", WithAPIKey("secret"), WithRate(100, 10))
	ref, err := c.SubmitClaim(context.Background(), claim)
	require.NoError(t, err)

	assert.Equal(t, "0xabc", ref)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, int64(7), got.AgentID)
	assert.Equal(t, int64(10200), got.Score)
	assert.Equal(t, 2, got.ScoreDecimals)
	assert.Equal(t, "2-agent", got.Tag2)
	assert.Equal(t, "0x"+claim.Hash.String(), got.Hash)
}

func TestHTTPClient_RejectedClaim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "duplicate uri", http.StatusConflict)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithRate(100, 10))
	_, err := c.SubmitClaim(context.Background(), testClaim())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Contains(t, err.Error(), "duplicate uri")
}

func TestHTTPClient_ServerErrorIsNotRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithRate(100, 10))
	_, err := c.SubmitClaim(context.Background(), testClaim())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRejected))
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPClient_MissingTxRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithRate(100, 10))
	_, err := c.SubmitClaim(context.Background(), testClaim())
	assert.ErrorContains(t, err, "no tx_ref")
}

func TestHTTPClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewHTTPClient(srv.URL, WithRate(100, 10), WithTimeout(50*time.Millisecond))
	_, err := c.SubmitClaim(context.Background(), testClaim())
	require.Error(t, err)
}

func TestHTTPClient_FindClaim(t *testing.T) {
	claim := testClaim()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/claims/0x"+claim.Hash.String() {
			_, _ = w.Write([]byte(`{"tx_ref":"0xfound"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)

	ref, found, err := c.FindClaim(context.Background(), claim.Hash)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "0xfound", ref)

	_, found, err = c.FindClaim(context.Background(), ir.HashText("other"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHTTPClient_RateLimitHonorsContext(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"tx_ref":"0x1"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithRate(0.001, 1))
	_, err := c.SubmitClaim(context.Background(), testClaim())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.SubmitClaim(ctx, testClaim())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
