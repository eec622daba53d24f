package registry

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	host, port, err := net.SplitHostPort(rawURL[len("http://"):])
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p
}

func TestHeartbeat(t *testing.T) {
	var mu sync.Mutex
	var got []RegisterRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/register", r.URL.Path)
		var req RegisterRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		got = append(got, req)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(RegisterResponse{Id: req.Id, Success: true})
	}))
	defer srv.Close()
	host, port := hostPort(t, srv.URL)

	t.Run("Test Beat", func(t *testing.T) {
		hb := NewHeartbeat(host, port, time.Second, "10.0.0.2", 50051, 8080, func() (string, int) { return "SCANNING", 2 })
		require.NoError(t, hb.Beat(context.Background()))
		mu.Lock()
		defer mu.Unlock()
		require.NotEmpty(t, got)
		last := got[len(got)-1]
		assert.Equal(t, hb.ID(), last.Id)
		assert.Equal(t, "SCANNING", last.Status)
		assert.Equal(t, 2, last.Tracked)
		assert.Equal(t, 50051, last.RPCPort)
	})

	t.Run("Test Run Until Cancelled", func(t *testing.T) {
		mu.Lock()
		got = nil
		mu.Unlock()
		hb := NewHeartbeat(host, port, 10*time.Millisecond, "10.0.0.2", 1, 2, nil)
		ctx, cancel := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		wg.Add(1)
		go hb.Run(ctx, &wg)
		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) >= 3
		}, 2*time.Second, 5*time.Millisecond)
		cancel()
		wg.Wait()
	})
}

func TestHeartbeatRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(RegisterResponse{Success: false})
	}))
	defer srv.Close()
	host, port := hostPort(t, srv.URL)

	err := NewHeartbeat(host, port, 0, "", 1, 2, nil).Beat(context.Background())
	assert.ErrorContains(t, err, "rejected")
}

func TestHeartbeatServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	host, port := hostPort(t, srv.URL)

	err := NewHeartbeat(host, port, 0, "", 1, 2, nil).Beat(context.Background())
	assert.ErrorContains(t, err, "server returned error")
}
