/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/suparena/entitystate/errors"
	"github.com/suparena/entitystate/logging"
	"github.com/suparena/entitystate/storagemodels"
	"github.com/suparena/entitystate/transport"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	maxErrorBody      = 4 << 10
)

// Client talks JSON to a REST API: POST creates, GET lists, PATCH updates and
// DELETE removes. Paths are joined onto the base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    http.Header
	maxRetries uint
	backOff    func() backoff.BackOff
	logger     logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHeader adds a header sent with every request, e.g. Authorization.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Add(key, value)
	}
}

// WithMaxRetries sets how many times a list request is attempted in total.
func WithMaxRetries(n uint) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithBackOff sets the retry schedule for list requests.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) {
		if f != nil {
			c.backOff = f
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		headers:    make(http.Header),
		maxRetries: defaultMaxRetries,
		backOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
		logger: logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create POSTs body to the collection path.
func (c *Client) Create(ctx context.Context, path string, body storagemodels.Record) (storagemodels.Record, error) {
	var out storagemodels.Record
	if err := c.do(ctx, transport.OpCreate, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// List GETs the collection. Network failures and 429/502/503/504 responses
// are retried with exponential backoff.
func (c *Client) List(ctx context.Context, path string) ([]storagemodels.Record, error) {
	op := func() ([]storagemodels.Record, error) {
		var raw json.RawMessage
		err := c.do(ctx, transport.OpList, http.MethodGet, path, nil, &raw)
		if err != nil {
			if !retryable(err) {
				return nil, backoff.Permanent(err)
			}
			c.logger.Debug("retrying list", "path", path, logging.ErrAttr(err))
			return nil, err
		}
		list, err := decodeList(raw)
		if err != nil {
			return nil, backoff.Permanent(malformed(transport.OpList, path, err))
		}
		return list, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(c.backOff()),
		backoff.WithMaxTries(c.maxRetries),
	)
}

// Update PATCHes body onto the item path. An empty response body is allowed.
func (c *Client) Update(ctx context.Context, path string, body storagemodels.Record) (storagemodels.Record, error) {
	var out storagemodels.Record
	if err := c.do(ctx, transport.OpUpdate, http.MethodPatch, path, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the item at path.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, transport.OpDelete, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, op transport.Op, method, path string, body storagemodels.Record, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.NewValidationError("body", fmt.Sprintf("encode request: %v", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return errors.WrapTransport(string(op), path, fmt.Errorf("build request: %w", err))
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.WrapTransport(string(op), path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("http request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewTransportError(string(op), path, resp.StatusCode, errorMessage(resp))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WrapTransport(string(op), path, fmt.Errorf("read response: %w", err))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := decode(data, out); err != nil {
		return malformed(op, path, err)
	}
	return nil
}

func (c *Client) url(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// decode unmarshals JSON keeping integral numbers as int64.
func decode(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if rec, ok := out.(*storagemodels.Record); ok {
		*rec = normalizeRecord(*rec)
	}
	return nil
}

// decodeList accepts a bare array or an object wrapping it in "items" or "data".
func decodeList(raw json.RawMessage) ([]storagemodels.Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return []storagemodels.Record{}, nil
	}

	var list []storagemodels.Record
	if trimmed[0] == '{' {
		var envelope map[string]json.RawMessage
		if err := decode(trimmed, &envelope); err != nil {
			return nil, err
		}
		inner, ok := envelope["items"]
		if !ok {
			inner, ok = envelope["data"]
		}
		if !ok {
			return nil, fmt.Errorf("expected a list or an object with items")
		}
		trimmed = inner
	}
	if err := decode(trimmed, &list); err != nil {
		return nil, err
	}
	for i, r := range list {
		list[i] = normalizeRecord(r)
	}
	if list == nil {
		list = []storagemodels.Record{}
	}
	return list, nil
}

func normalizeRecord(r storagemodels.Record) storagemodels.Record {
	if r == nil {
		return nil
	}
	return storagemodels.Normalize(r).(storagemodels.Record)
}

// errorMessage extracts a message from an error response body: the "message"
// or "error" field of a JSON object, else the body text, else the status text.
func errorMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := strings.TrimSpace(string(data))

	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// retryable reports network failures and throttling or gateway statuses.
func retryable(err error) bool {
	switch errors.StatusOf(err) {
	case 0:
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return false
		}
		var urlErr *url.Error
		return stderrors.As(err, &urlErr)
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func malformed(op transport.Op, path string, err error) error {
	return &errors.TransportError{
		Op:      string(op),
		Path:    path,
		Message: "malformed response: " + err.Error(),
		Err:     err,
	}
}

var _ transport.Transport = (*Client)(nil)
