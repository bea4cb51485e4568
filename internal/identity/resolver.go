// Package identity resolves player addresses to registered usernames.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arcade-scores/internal/config"
)

// maxBodyBytes bounds how much of a lookup response is read
const maxBodyBytes = 64 << 10

// lookupResponse is the wire shape of the username service
type lookupResponse struct {
	HasUsername bool `json:"hasUsername"`
	User        struct {
		Username string `json:"username"`
	} `json:"user"`
}

// Resolver looks up usernames over HTTP. Lookup failures never propagate:
// any error, timeout or empty answer resolves to ("", false).
type Resolver struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewResolver creates a resolver. An empty base URL disables lookups.
func NewResolver(cfg *config.IdentityConfig, logger *slog.Logger) *Resolver {
	transport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &Resolver{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger: logger,
	}
}

// Enabled reports whether a username service is configured
func (r *Resolver) Enabled() bool {
	return r.baseURL != ""
}

// Resolve returns the registered username for address, if any
func (r *Resolver) Resolve(ctx context.Context, address string) (string, bool) {
	if !r.Enabled() {
		return "", false
	}

	name, err := r.lookup(ctx, address)
	if err != nil {
		r.logger.Debug("username lookup failed", "player_address", address, "error", err)
		return "", false
	}
	if name == "" {
		return "", false
	}
	return name, true
}

func (r *Resolver) lookup(ctx context.Context, address string) (string, error) {
	endpoint := r.baseURL + "/" + url.PathEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting username: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if !body.HasUsername {
		return "", nil
	}
	return strings.TrimSpace(body.User.Username), nil
}
