package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloudfarm/internal/models"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string         `json:"token"`
	User  models.Profile `json:"user"`
}

// Login exchanges credentials for a session. When remember is set the email is
// kept as the remembered login identifier; otherwise any remembered one is
// forgotten.
func (c *Client) Login(ctx context.Context, email, password string, remember bool) (*models.Profile, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	req, err := JSONRequest(http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, req, "")
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	var out loginResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, fmt.Errorf("login: response carried no token")
	}
	if err := c.session.SetSession(ctx, out.Token, out.User); err != nil {
		c.log.Warn().Err(err).Msg("session kept in memory only")
	}

	remembered := ""
	if remember {
		remembered = email
	}
	_ = c.session.SetRememberedLogin(ctx, remembered)

	c.log.Info().Str("user_id", out.User.ID).Msg("logged in")
	return &out.User, nil
}

// Me fetches the profile of the session's user and refreshes the stored copy.
func (c *Client) Me(ctx context.Context) (*models.Profile, error) {
	var out struct {
		User models.Profile `json:"user"`
	}
	if err := c.getJSON(ctx, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	if token, ok := c.session.Token(); ok {
		if err := c.session.SetSession(ctx, token, out.User); err != nil {
			c.log.Warn().Err(err).Msg("profile kept in memory only")
		}
	}
	return &out.User, nil
}

type TalhaoFilter struct {
	Cultura string
	Status  models.TalhaoStatus
}

func (f TalhaoFilter) query() url.Values {
	q := url.Values{}
	if f.Cultura != "" {
		q.Set("cultura", f.Cultura)
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	return q
}

func (c *Client) ListTalhoes(ctx context.Context, filter TalhaoFilter) ([]models.Talhao, error) {
	var out struct {
		Talhoes []models.Talhao `json:"talhoes"`
	}
	if err := c.getJSON(ctx, "/api/talhoes", filter.query(), &out); err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range out.Talhoes {
		out.Talhoes[i].RefreshStatus(now)
	}
	if out.Talhoes == nil {
		out.Talhoes = []models.Talhao{}
	}
	return out.Talhoes, nil
}

func (c *Client) GetTalhao(ctx context.Context, id string) (*models.Talhao, error) {
	var out talhaoEnvelope
	if err := c.getJSON(ctx, "/api/talhoes/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out.talhao()
}

func (c *Client) CreateTalhao(ctx context.Context, in models.TalhaoInput) (*models.Talhao, error) {
	return c.writeTalhao(ctx, http.MethodPost, "/api/talhoes", in)
}

func (c *Client) UpdateTalhao(ctx context.Context, id string, in models.TalhaoInput) (*models.Talhao, error) {
	return c.writeTalhao(ctx, http.MethodPut, "/api/talhoes/"+url.PathEscape(id), in)
}

func (c *Client) DeleteTalhao(ctx context.Context, id string) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodDelete, Path: "/api/talhoes/" + url.PathEscape(id)})
	if err != nil {
		return err
	}
	return resp.Err()
}

func (c *Client) UploadTalhaoImage(ctx context.Context, id, filename string, r io.Reader) (*models.TalhaoImage, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	resp, err := c.Do(ctx, Request{
		Method:      http.MethodPost,
		Path:        "/api/talhoes/" + url.PathEscape(id) + "/imagens",
		Body:        buf.Bytes(),
		ContentType: mw.FormDataContentType(),
	})
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	var out struct {
		Imagem models.TalhaoImage `json:"imagem"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out.Imagem, nil
}

func (c *Client) ListTalhaoImages(ctx context.Context, id string) ([]models.TalhaoImage, error) {
	var out struct {
		Imagens []models.TalhaoImage `json:"imagens"`
	}
	if err := c.getJSON(ctx, "/api/talhoes/"+url.PathEscape(id)+"/imagens", nil, &out); err != nil {
		return nil, err
	}
	if out.Imagens == nil {
		out.Imagens = []models.TalhaoImage{}
	}
	return out.Imagens, nil
}

func (c *Client) Estatisticas(ctx context.Context) (*models.Estatisticas, error) {
	var out struct {
		Estatisticas models.Estatisticas `json:"estatisticas"`
	}
	if err := c.getJSON(ctx, "/api/estatisticas", nil, &out); err != nil {
		return nil, err
	}
	return &out.Estatisticas, nil
}

type HealthStatus struct {
	Status   string        `json:"status"`
	Database string        `json:"database,omitempty"`
	Cache    string        `json:"cache,omitempty"`
	Latency  time.Duration `json:"-"`
}

// Health probes the backend without credentials. It is bounded by the probe
// timeout; a timed-out probe matches ErrTimeout, an unreachable backend is a
// NetworkError and a degraded backend is a StatusError.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.send(ctx, Request{Method: http.MethodGet, Path: "/api/health"}, "")
	if err != nil {
		return nil, err
	}
	var out HealthStatus
	if len(resp.Body) > 0 {
		_ = resp.Decode(&out)
	}
	out.Latency = time.Since(start)
	if err := resp.Err(); err != nil {
		return &out, err
	}
	return &out, nil
}

type talhaoEnvelope struct {
	Talhao *models.Talhao `json:"talhao"`
}

func (e talhaoEnvelope) talhao() (*models.Talhao, error) {
	if e.Talhao == nil {
		return nil, fmt.Errorf("response carried no talhao")
	}
	e.Talhao.RefreshStatus(time.Now())
	return e.Talhao, nil
}

func (c *Client) writeTalhao(ctx context.Context, method, path string, in models.TalhaoInput) (*models.Talhao, error) {
	req, err := JSONRequest(method, path, in)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	var out talhaoEnvelope
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.talhao()
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	return resp.Decode(out)
}
