package identity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arcade-scores/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const player = "0xabcdef0123456789abcdef0123456789abcdef01"

func newResolver(t *testing.T, baseURL string, timeout time.Duration) *Resolver {
	t.Helper()
	cfg := config.IdentityConfig{BaseURL: baseURL, Timeout: timeout}
	return NewResolver(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResolve(t *testing.T) {
	testCases := []struct {
		name     string
		status   int
		body     string
		wantName string
		wantOK   bool
	}{
		{
			name:     "registered",
			status:   http.StatusOK,
			body:     `{"hasUsername":true,"user":{"username":"neo"}}`,
			wantName: "neo",
			wantOK:   true,
		},
		{
			name:   "not registered",
			status: http.StatusOK,
			body:   `{"hasUsername":false}`,
		},
		{
			name:   "blank username",
			status: http.StatusOK,
			body:   `{"hasUsername":true,"user":{"username":"  "}}`,
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			body:   `{}`,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `oops`,
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   `{"hasUsername":`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/users/"+player, r.URL.Path)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			r := newResolver(t, srv.URL+"/users/", time.Second)
			name, ok := r.Resolve(context.Background(), player)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantName, name)
		})
	}
}

func TestResolveTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	r := newResolver(t, srv.URL, 50*time.Millisecond)
	start := time.Now()
	name, ok := r.Resolve(context.Background(), player)
	require.False(t, ok)
	assert.Empty(t, name)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestResolveDisabled(t *testing.T) {
	r := newResolver(t, "", time.Second)
	assert.False(t, r.Enabled())
	name, ok := r.Resolve(context.Background(), player)
	assert.False(t, ok)
	assert.Empty(t, name)
}
