package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fathima-sithara/chat-app/internal/apperrors"
	"github.com/fathima-sithara/chat-app/internal/models"
	"github.com/gorilla/websocket"
)

// HTTPClient talks to the /api/v1 surface. GETs are retried with
// exponential backoff; writes are sent once.
type HTTPClient struct {
	base         string
	http         *http.Client
	retryElapsed time.Duration

	mu     sync.RWMutex
	token  string
	connID string
}

func NewHTTPClient(baseURL string, timeout, retryElapsed time.Duration) *HTTPClient {
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    16,
		IdleConnTimeout: 90 * time.Second,
	}
	return &HTTPClient{
		base:         strings.TrimRight(baseURL, "/") + "/api/v1",
		http:         &http.Client{Transport: tr, Timeout: timeout},
		retryElapsed: retryElapsed,
	}
}

func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SetConnectionID names this client's socket so server broadcasts caused by
// its own HTTP calls skip it.
func (c *HTTPClient) SetConnectionID(id string) {
	c.mu.Lock()
	c.connID = id
	c.mu.Unlock()
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  apperrors.Wire  `json:"error"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	c.mu.RLock()
	token, connID := c.token, c.connID
	c.mu.RUnlock()

	op := func() error {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if connID != "" {
			req.Header.Set("X-Connection-ID", connID)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			err = fmt.Errorf("%s %s: decode response (status %d): %w", method, path, resp.StatusCode, err)
			if resp.StatusCode >= 500 {
				return err
			}
			return backoff.Permanent(err)
		}
		if env.Status != "ok" {
			kind := env.Error.Kind
			if kind == "" {
				kind = apperrors.KindInternal
			}
			apiErr := apperrors.New(kind, env.Error.Message)
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		if out != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, out); err != nil {
				return backoff.Permanent(err)
			}
		}
		return nil
	}

	if method != http.MethodGet {
		return unwrapPermanent(op())
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.retryElapsed
	return unwrapPermanent(backoff.Retry(op, backoff.WithContext(b, ctx)))
}

func unwrapPermanent(err error) error {
	if pe, ok := err.(*backoff.PermanentError); ok {
		return pe.Err
	}
	return err
}

type AuthResponse struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expires_at"`
	User      models.PublicUser `json:"user"`
}

func (c *HTTPClient) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	var out AuthResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

func (c *HTTPClient) Me(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *HTTPClient) SearchUsers(ctx context.Context, q string) ([]models.PublicUser, error) {
	var out []models.PublicUser
	err := c.do(ctx, http.MethodGet, "/users/search?q="+url.QueryEscape(q), nil, &out)
	return out, err
}

func (c *HTTPClient) OpenThread(ctx context.Context, peerID string) (*models.Thread, error) {
	var t models.Thread
	if err := c.do(ctx, http.MethodPost, "/threads/open", map[string]string{"peer_id": peerID}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *HTTPClient) ListThreads(ctx context.Context) ([]models.ThreadSummary, error) {
	var out []models.ThreadSummary
	err := c.do(ctx, http.MethodGet, "/threads", nil, &out)
	return out, err
}

func (c *HTTPClient) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	var out []models.Message
	err := c.do(ctx, http.MethodGet, "/threads/"+url.PathEscape(threadID)+"/messages", nil, &out)
	return out, err
}

func (c *HTTPClient) SendMessage(ctx context.Context, threadID string, req SendRequest) (*models.Message, error) {
	var m models.Message
	if err := c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/messages", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *HTTPClient) EditMessage(ctx context.Context, messageID, text string) (*models.Message, error) {
	var m models.Message
	if err := c.do(ctx, http.MethodPatch, "/messages/"+url.PathEscape(messageID), map[string]string{"text": text}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
}

func (c *HTTPClient) MarkThreadRead(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodPut, "/threads/"+url.PathEscape(threadID)+"/read", nil, nil)
}

// WSDialer opens gorilla websocket connections to /api/v1/ws.
type WSDialer struct {
	URL           string // ws://host:port
	Token         func() string
	ConnID        string
	WriteDeadline time.Duration
}

func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(strings.TrimRight(d.URL, "/") + "/api/v1/ws")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if d.Token != nil {
		q.Set("token", d.Token())
	}
	if d.ConnID != "" {
		q.Set("conn_id", d.ConnID)
	}
	u.RawQuery = q.Encode()

	c, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", u.Host, resp.StatusCode, err)
		}
		return nil, err
	}
	wd := d.WriteDeadline
	if wd <= 0 {
		wd = 10 * time.Second
	}
	return &wsConn{c: c, writeDeadline: wd}, nil
}

type wsConn struct {
	c             *websocket.Conn
	wmu           sync.Mutex
	writeDeadline time.Duration
}

func (w *wsConn) Send(ctx context.Context, frame []byte) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	deadline := time.Now().Add(w.writeDeadline)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = w.c.SetWriteDeadline(deadline)
	return w.c.WriteMessage(websocket.TextMessage, frame)
}

func (w *wsConn) Recv() ([]byte, error) {
	for {
		typ, data, err := w.c.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.TextMessage {
			return data, nil
		}
	}
}

func (w *wsConn) Close() error { return w.c.Close() }
