// Package httpstore is a kvstore backend that talks JSON over HTTP to a
// store server (see internal/services/httpapi).
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/record"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"golang.org/x/time/rate"
)

const dialProbeTries = 3

// compile time check.
var (
	_ kvstore.Connection = (*Conn)(nil)
	_ kvstore.Table      = (*Table)(nil)
)

// Conn is a connection to a store server. The underlying http.Client keeps
// its own keep-alive pool; Conn adds an optional request rate limit.
type Conn struct {
	id      string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	closed  atomic.Bool
}

// Dial probes the server health endpoint, retrying with backoff, and
// returns a connection once it answers.
func Dial(ctx context.Context, cfg kvstore.Config) (kvstore.Connection, error) {
	timeout, err := cfg.ParseDialTimeout()
	if err != nil {
		return nil, err
	}
	reqTimeout, err := cfg.ParseRequestTimeout()
	if err != nil {
		return nil, err
	}
	c := New(cfg.Address, reqTimeout, cfg.RequestsPerSecond, cfg.Burst)

	_, err = backoff.Retry(ctx, func() (HealthResponse, error) {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		h, err := c.Health(probeCtx)
		if err != nil {
			slog.Debug("[kvbulk.httpstore] health probe failed", "address", cfg.Address, "err", err)
		}
		return h, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(dialProbeTries),
		backoff.WithMaxElapsedTime(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Address, err)
	}
	return c, nil
}

// New returns a connection without probing the server. requestTimeout
// bounds each call; zero leaves it to the caller's context. A non-positive
// rps disables rate limiting.
func New(address string, requestTimeout time.Duration, rps float64, burst int) *Conn {
	c := &Conn{
		id:      kvstore.BackendHTTP + "-" + ksuid.New().String(),
		baseURL: strings.TrimSuffix(address, "/"),
		client:  &http.Client{Timeout: requestTimeout},
	}
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return c
}

func (c *Conn) ID() string {
	return c.id
}

// Health queries the server health endpoint.
func (c *Conn) Health(ctx context.Context) (HealthResponse, error) {
	var h HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &h)
	return h, err
}

func (c *Conn) Table(ctx context.Context, name string) (kvstore.Table, error) {
	if c.closed.Load() {
		return nil, kvstore.ErrClosed
	}
	if err := ValidateTableName(name); err != nil {
		return nil, err
	}
	if err := c.do(ctx, http.MethodGet, tablePath(name), nil, nil); err != nil {
		return nil, err
	}
	return &Table{name: name, conn: c}, nil
}

func (c *Conn) CreateTable(ctx context.Context, name string) error {
	if c.closed.Load() {
		return kvstore.ErrClosed
	}
	if err := ValidateTableName(name); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, tablePath(name), nil, nil)
}

func (c *Conn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.client.CloseIdleConnections()
	}
	return nil
}

// ValidateTableName rejects names that cannot travel as a single path
// segment of the table routes.
func ValidateTableName(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w: table name %q", kvstore.ErrInvalidArgument, name)
	}
	return nil
}

func tablePath(name string, op ...string) string {
	p := APIPrefix + "/" + url.PathEscape(name)
	if len(op) > 0 {
		p += "/" + op[0]
	}
	return p
}

func (c *Conn) do(ctx context.Context, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp, reqID)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response, reqID string) error {
	var er ErrorResponse
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &er); err != nil || er.Error == "" {
		er.Error = strings.TrimSpace(string(raw))
	}

	var base error
	switch resp.StatusCode {
	case http.StatusNotFound:
		base = kvstore.ErrTableNotFound
	case http.StatusConflict:
		base = kvstore.ErrTableExists
	case http.StatusBadRequest:
		base = kvstore.ErrInvalidArgument
	default:
		return fmt.Errorf("store server status %d (request %s): %s", resp.StatusCode, reqID, er.Error)
	}
	return fmt.Errorf("%w: %s", base, er.Error)
}

// Table is a handle on one remote table.
type Table struct {
	name   string
	conn   *Conn
	closed bool
}

func (t *Table) Name() string {
	return t.name
}

func (t *Table) usable() error {
	if t.closed || t.conn.closed.Load() {
		return kvstore.ErrClosed
	}
	return nil
}

func (t *Table) Mutate(ctx context.Context, m record.Mutation) error {
	if err := t.usable(); err != nil {
		return err
	}
	env, err := record.Wrap(m)
	if err != nil {
		return err
	}
	return t.conn.do(ctx, http.MethodPost, tablePath(t.name, "mutate"), MutateRequest{Mutation: env}, nil)
}

func (t *Table) Batch(ctx context.Context, ms []record.Mutation) error {
	if err := t.usable(); err != nil {
		return err
	}
	if len(ms) == 0 {
		return nil
	}
	envs := make([]record.Envelope, 0, len(ms))
	for _, m := range ms {
		env, err := record.Wrap(m)
		if err != nil {
			return err
		}
		envs = append(envs, env)
	}
	return t.conn.do(ctx, http.MethodPost, tablePath(t.name, "batch"), BatchRequest{Mutations: envs}, nil)
}

func (t *Table) CheckAndMutate(ctx context.Context, cm record.ConditionalMutation) (bool, error) {
	if err := t.usable(); err != nil {
		return false, err
	}
	env, err := record.WrapConditional(cm)
	if err != nil {
		return false, err
	}
	var resp CheckAndMutateResponse
	err = t.conn.do(ctx, http.MethodPost, tablePath(t.name, "check-and-mutate"), MutateRequest{Mutation: env}, &resp)
	return resp.Applied, err
}

func (t *Table) BatchGet(ctx context.Context, gets []record.Get) ([]record.Result, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	var resp BatchGetResponse
	if err := t.conn.do(ctx, http.MethodPost, tablePath(t.name, "batch-get"), BatchGetRequest{Gets: gets}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(gets) {
		return nil, errors.New("store server returned a short batch-get response")
	}
	return resp.Results, nil
}

func (t *Table) ScanPage(ctx context.Context, spec record.Scan, from []byte, limit int) (record.ScanPage, error) {
	if err := t.usable(); err != nil {
		return record.ScanPage{}, err
	}
	var page record.ScanPage
	err := t.conn.do(ctx, http.MethodPost, tablePath(t.name, "scan"), ScanRequest{Scan: spec, From: from, Limit: limit}, &page)
	return page, err
}

func (t *Table) Close() error {
	t.closed = true
	return nil
}
