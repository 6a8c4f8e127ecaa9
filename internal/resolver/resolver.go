// Package resolver turns a station id into a playable stream URL, handling
// the streaming service's token exchange.
package resolver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const clientTimeout = 10 * time.Second

// StreamSource is a resolved, playable stream location.
type StreamSource struct {
	URL       string
	AuthToken string
}

// StreamResolver resolves a station id to a stream source. Reset clears any
// cached authentication state so a retry starts from scratch.
type StreamResolver interface {
	Resolve(ctx context.Context, stationID string) (StreamSource, error)
	Reset()
}

// AuthError is a resolution failure caused by the service rejecting our
// credentials. It gets a distinct user-facing message from generic failures.
type AuthError struct {
	StationID string
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for station %s: %v", e.StationID, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError classifies err as an authentication/authorization failure.
// Besides the typed error, HTTP 403 and the usual denial phrasings in
// collaborator errors count.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"403", "forbidden", "access denied"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Config describes the token-exchange endpoints of the streaming service.
type Config struct {
	AuthURL   string `toml:"auth_url" mapstructure:"auth_url"`
	StreamURL string `toml:"stream_url" mapstructure:"stream_url"` // format: station id substituted for %s
	AppID     string `toml:"app_id" mapstructure:"app_id"`
	AppKey    string `toml:"app_key" mapstructure:"app_key"`
}

// HTTPResolver implements StreamResolver against the service's two-step
// token exchange: obtain a token plus key offset/length, answer with the
// partial key, then build the authorized stream URL.
type HTTPResolver struct {
	cfg    Config
	client *http.Client

	mu    sync.Mutex
	token string
}

func NewHTTPResolver(cfg Config) *HTTPResolver {
	return &HTTPResolver{cfg: cfg, client: &http.Client{Timeout: clientTimeout}}
}

// Reset drops the cached token so the next Resolve re-authenticates.
func (r *HTTPResolver) Reset() {
	r.mu.Lock()
	r.token = ""
	r.mu.Unlock()
}

// Resolve returns an authorized stream URL for the station.
func (r *HTTPResolver) Resolve(ctx context.Context, stationID string) (StreamSource, error) {
	token, err := r.authToken(ctx, stationID)
	if err != nil {
		return StreamSource{}, err
	}
	url := fmt.Sprintf(r.cfg.StreamURL, stationID)
	return StreamSource{URL: url, AuthToken: token}, nil
}

func (r *HTTPResolver) authToken(ctx context.Context, stationID string) (string, error) {
	r.mu.Lock()
	cached := r.token
	r.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.AuthURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Radiko-App", r.cfg.AppID)
	req.Header.Set("X-Radiko-User", "dummy_user")
	req.Header.Set("X-Radiko-Device", "pc")
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return "", &AuthError{StationID: stationID, Err: fmt.Errorf("auth endpoint returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth endpoint returned %d", resp.StatusCode)
	}

	token := resp.Header.Get("X-Radiko-AuthToken")
	offsetH := resp.Header.Get("X-Radiko-KeyOffset")
	lengthH := resp.Header.Get("X-Radiko-KeyLength")
	if token == "" {
		return "", &AuthError{StationID: stationID, Err: fmt.Errorf("auth endpoint returned no token")}
	}
	if err := r.confirm(ctx, stationID, token, offsetH, lengthH); err != nil {
		return "", err
	}

	r.mu.Lock()
	r.token = token
	r.mu.Unlock()
	return token, nil
}

// confirm answers the partial-key challenge for the issued token.
func (r *HTTPResolver) confirm(ctx context.Context, stationID, token, offsetH, lengthH string) error {
	var offset, length int
	_, _ = fmt.Sscanf(offsetH, "%d", &offset)
	_, _ = fmt.Sscanf(lengthH, "%d", &length)
	key := r.cfg.AppKey
	if length <= 0 || offset < 0 || offset+length > len(key) {
		offset, length = 0, len(key)
	}
	partial := base64.StdEncoding.EncodeToString([]byte(key[offset : offset+length]))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.AuthURL+"2", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Radiko-AuthToken", token)
	req.Header.Set("X-Radiko-PartialKey", partial)
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return &AuthError{StationID: stationID, Err: fmt.Errorf("partial key rejected: %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth confirmation returned %d", resp.StatusCode)
	}
	return nil
}
