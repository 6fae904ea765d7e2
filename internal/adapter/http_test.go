package adapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dehouse/donation-ledger/internal/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestGetRetriesOnRateLimit(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		first := hits == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"value":42}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(5 * time.Second)

	var result struct {
		Value int `json:"value"`
	}
	require.NoError(t, client.Get(context.Background(), srv.URL, &result))
	assert.Equal(t, 42, result.Value)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, hits)
}

func TestPostRetriesResendFullBody(t *testing.T) {
	const payload = `{"jsonrpc":"2.0","method":"getTransaction","id":1}`

	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		mu.Lock()
		bodies = append(bodies, string(body))
		first := len(bodies) == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(5 * time.Second)

	resp, err := client.Post(context.Background(), srv.URL, "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp))

	// The retried attempt must carry the same payload as the first one, not a
	// drained reader
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.Equal(t, payload, bodies[0])
	assert.Equal(t, payload, bodies[1])
}

func TestGetDoesNotRetryPermanentStatus(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(5 * time.Second)

	var result struct{}
	err := client.Get(context.Background(), srv.URL, &result)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, hits)
}
