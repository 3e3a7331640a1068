// Package apiclient talks to the CloudFarm backend on behalf of the logged-in user.
//
// Every call carries the session's bearer token. An expired token is refreshed
// before the call, and a 401 triggers exactly one refresh and one retry.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"cloudfarm/internal/session"
)

const maxResponseBody = 8 << 20

type Options struct {
	BaseURL      string
	Timeout      time.Duration
	ProbeTimeout time.Duration
	HTTPClient   *http.Client
}

type Client struct {
	baseURL      *url.URL
	http         *http.Client
	probeTimeout time.Duration
	session      *session.Store
	log          zerolog.Logger

	refreshGroup singleflight.Group

	hooksMu     sync.Mutex
	logoutHooks []func()
}

func New(opts Options, store *session.Store, log zerolog.Logger) (*Client, error) {
	if store == nil {
		return nil, errors.New("apiclient: session store required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", opts.BaseURL)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	probe := opts.ProbeTimeout
	if probe <= 0 {
		probe = 5 * time.Second
	}
	return &Client{
		baseURL:      base,
		http:         httpClient,
		probeTimeout: probe,
		session:      store,
		log:          log.With().Str("component", "apiclient").Logger(),
	}, nil
}

func (c *Client) Session() *session.Store {
	return c.session
}

type Request struct {
	Method string
	// Path is joined to the base URL unless it is already absolute.
	Path        string
	Query       url.Values
	Header      http.Header
	Body        []byte
	ContentType string
}

// JSONRequest builds a request whose body is v encoded as JSON.
func JSONRequest(method, path string, v any) (Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Request{}, fmt.Errorf("encode request body: %w", err)
	}
	return Request{Method: method, Path: path, Body: body, ContentType: "application/json"}, nil
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Err returns a StatusError for non-2xx responses and nil otherwise.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return &StatusError{StatusCode: r.StatusCode, Message: errorMessage(r.Body), Body: r.Body}
}

// Do sends an authenticated request. Non-2xx statuses other than 401 are
// returned as a Response with a nil error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	token, _ := c.session.Token()
	if !c.session.IsTokenValid() {
		refreshed, err := c.Refresh(ctx)
		if err != nil {
			c.endSession(ctx)
			return nil, unauthenticated(err)
		}
		token = refreshed
	}

	resp, err := c.send(ctx, req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	c.log.Debug().Str("path", req.Path).Msg("401 received, refreshing token")
	token, err = c.Refresh(ctx)
	if err != nil {
		c.endSession(ctx)
		return nil, unauthenticated(err)
	}

	resp, err = c.send(ctx, req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.log.Warn().Str("path", req.Path).Msg("request rejected after refresh")
		c.endSession(ctx)
		return nil, unauthenticated(resp.Err())
	}
	return resp, nil
}

// Refresh exchanges the current token for a new one. Concurrent callers share
// a single in-flight request. On failure the session is cleared.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	v, err, shared := c.refreshGroup.Do("refresh", func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	if shared {
		c.log.Debug().Msg("joined in-flight token refresh")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) refresh(ctx context.Context) (string, error) {
	token, ok := c.session.Token()
	if !ok {
		return "", errors.New("refresh token: no session")
	}

	resp, err := c.send(ctx, Request{Method: http.MethodPost, Path: "/auth/refresh"}, token)
	if err != nil {
		c.session.Clear(ctx)
		return "", fmt.Errorf("refresh token: %w", err)
	}
	if err := resp.Err(); err != nil {
		c.session.Clear(ctx)
		return "", fmt.Errorf("refresh token: %w", err)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := resp.Decode(&body); err != nil || body.Token == "" {
		c.session.Clear(ctx)
		return "", errors.New("refresh token: response carried no token")
	}

	if err := c.session.UpdateToken(ctx, body.Token); err != nil {
		if errors.Is(err, session.ErrNoUser) {
			c.session.Clear(ctx)
			return "", fmt.Errorf("refresh token: %w", err)
		}
		c.log.Warn().Err(err).Msg("refreshed token not persisted")
	}
	c.log.Debug().Msg("token refreshed")
	return body.Token, nil
}

// OnLogout registers fn to run whenever the session ends, whether by an
// explicit Logout or a failed refresh.
func (c *Client) OnLogout(fn func()) {
	c.hooksMu.Lock()
	c.logoutHooks = append(c.logoutHooks, fn)
	c.hooksMu.Unlock()
}

// Logout tells the backend to drop the session, then clears it locally. The
// backend call is best effort.
func (c *Client) Logout(ctx context.Context) {
	if token, ok := c.session.Token(); ok {
		resp, err := c.send(ctx, Request{Method: http.MethodPost, Path: "/auth/logout"}, token)
		switch {
		case err != nil:
			c.log.Warn().Err(err).Msg("logout request failed")
		case !resp.OK() && resp.StatusCode != http.StatusUnauthorized:
			c.log.Warn().Int("status", resp.StatusCode).Msg("logout rejected")
		}
	}
	c.endSession(ctx)
}

func (c *Client) endSession(ctx context.Context) {
	c.session.Clear(ctx)

	c.hooksMu.Lock()
	hooks := append([]func(){}, c.logoutHooks...)
	c.hooksMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (c *Client) send(ctx context.Context, req Request, token string) (*Response, error) {
	target, err := c.resolve(req.Path, req.Query)
	if err != nil {
		return nil, err
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &NetworkError{Method: method, URL: target, Err: err}
	}

	c.log.Debug().
		Str("method", method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("request completed")

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) resolve(path string, query url.Values) (string, error) {
	var u *url.URL
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		parsed, err := url.Parse(path)
		if err != nil {
			return "", fmt.Errorf("parse url: %w", err)
		}
		u = parsed
	} else {
		ref := *c.baseURL
		ref.Path = c.baseURL.Path + "/" + strings.TrimLeft(path, "/")
		u = &ref
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
