package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/refulearn/cache-service/internal/app/config"
	"github.com/refulearn/cache-service/internal/domain/entity"
)

const maxErrorBody = 512

// ErrNoOwnerToken is returned when a sync item has no token to replay with.
var ErrNoOwnerToken = errors.New("sync item carries no owner token")

// StatusError is returned for any non-2xx upstream response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s %s returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client talks to the RefuLearn REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(cfg config.UpstreamConfig) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// FetchJSON GETs path and returns the response body as raw JSON. A `data`
// envelope ({"success":true,"data":…}) is unwrapped. The caller's token is
// used when ctx carries one, the service token otherwise.
func (c *Client) FetchJSON(ctx context.Context, path string) (json.RawMessage, error) {
	token := c.token
	if caller, ok := entity.CallerFrom(ctx); ok && caller.Token != "" {
		token = caller.Token
	}
	body, err := c.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("upstream GET %s returned invalid JSON", path)
	}
	return unwrapData(body), nil
}

// Replay sends a queued write upstream as the user who queued it.
func (c *Client) Replay(ctx context.Context, item *entity.SyncItem) error {
	if item == nil {
		return errors.New("cannot replay nil sync item")
	}
	if item.Token == "" {
		return fmt.Errorf("replay %s %s: %w", item.Method, item.Path, ErrNoOwnerToken)
	}
	_, err := c.do(ctx, item.Method, item.Path, item.Token, item.Payload)
	return err
}

func (c *Client) do(ctx context.Context, method, path, token string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if len(payload) > 0 {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func unwrapData(body []byte) json.RawMessage {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return body
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil || len(envelope.Data) == 0 {
		return body
	}
	return envelope.Data
}
