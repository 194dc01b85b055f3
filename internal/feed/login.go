// Package feed connects the trading loop to the futures quote gateway: REST
// login with a TOTP second factor, the realtime websocket stream, and the
// in-day history backfill that runs before the first live tick is usable.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
)

const defaultTimeout = 7 * time.Second

// Config holds the gateway endpoints and credentials.
type Config struct {
	BaseURL    string // REST root, e.g. https://quote.example.com
	WSURL      string // websocket stream URL
	APIKey     string
	SecretKey  string
	TOTPSecret string // base32 seed for the second factor

	Timeout time.Duration // per-request; defaults to 7s
}

// Session is an authenticated gateway session.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the session token is still usable at t, with a one
// minute renewal margin.
func (s Session) Valid(t time.Time) bool {
	return s.Token != "" && t.Add(time.Minute).Before(s.ExpiresAt)
}

// Client is the REST client for the quote gateway. It caches the session and
// re-logs-in when the token is near expiry.
type Client struct {
	cfg  Config
	http *http.Client

	mu      sync.Mutex
	session Session
}

// NewClient creates a REST client for the given gateway.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

type loginRequest struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	TOTP      string `json:"totp"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"` // seconds
	Message   string `json:"message"`
}

// Login authenticates with the gateway. The one-time code is derived from
// the configured TOTP seed at call time.
func (c *Client) Login(ctx context.Context) (Session, error) {
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return Session{}, fmt.Errorf("feed: generate totp: %w", err)
	}

	body, err := json.Marshal(loginRequest{
		APIKey:    c.cfg.APIKey,
		SecretKey: c.cfg.SecretKey,
		TOTP:      code,
	})
	if err != nil {
		return Session{}, fmt.Errorf("feed: marshal login: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/session", bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("feed: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("feed: login request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Session{}, fmt.Errorf("feed: read login response: %w", err)
	}

	var lr loginResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		return Session{}, fmt.Errorf("feed: decode login response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("feed: login rejected: status=%d message=%q", resp.StatusCode, lr.Message)
	}
	if lr.Token == "" {
		return Session{}, fmt.Errorf("feed: login response missing token")
	}

	sess := Session{
		Token:     lr.Token,
		ExpiresAt: time.Now().Add(time.Duration(lr.ExpiresIn) * time.Second),
	}
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	return sess, nil
}

// EnsureSession returns the cached session, logging in again if it expired.
func (c *Client) EnsureSession(ctx context.Context) (Session, error) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess.Valid(time.Now()) {
		return sess, nil
	}
	return c.Login(ctx)
}
