// Package client talks to the relay over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/histsync/internal/record"
	"github.com/roach88/histsync/internal/syncer"
)

// Defaults for Options.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultConnectTimeout = 5 * time.Second
)

// ErrUnauthorized is returned when the relay refuses the token.
var ErrUnauthorized = errors.New("relay rejected token")

// Options configures a Client.
type Options struct {
	// Timeout bounds a whole request.
	Timeout time.Duration
	// ConnectTimeout bounds dialing.
	ConnectTimeout time.Duration
}

// Client is a relay client. It implements syncer.Remote.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

var _ syncer.Remote = (*Client)(nil)

// New creates a client for the relay at address.
func New(address, token string, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(address, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse sync address %q: %w", address, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("sync address %q: scheme must be http or https", address)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: opts.ConnectTimeout}).DialContext

	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: opts.Timeout, Transport: transport},
	}, nil
}

// Status returns the relay's status for the authenticated user.
func (c *Client) Status(ctx context.Context) (record.Status, error) {
	var status record.Status
	if err := c.do(ctx, http.MethodGet, "/records/status", nil, nil, &status); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	if status == nil {
		status = record.NewStatus()
	}
	return status, nil
}

// Push uploads recs. Rejections are returned in the result, not as errors.
func (c *Client) Push(ctx context.Context, recs []record.Record[record.Encrypted]) (record.PushResult, error) {
	body, err := json.Marshal(recs)
	if err != nil {
		return record.PushResult{}, fmt.Errorf("push: encode: %w", err)
	}
	var res record.PushResult
	if err := c.do(ctx, http.MethodPost, "/records", nil, body, &res); err != nil {
		return record.PushResult{}, fmt.Errorf("push: %w", err)
	}
	return res, nil
}

// Next fetches up to count records of (host, tag) starting at start. The
// relay may return fewer than asked.
func (c *Client) Next(ctx context.Context, host record.HostID, tag record.Tag, start record.Idx, count int) ([]record.Record[record.Encrypted], error) {
	q := url.Values{}
	q.Set("host", host.String())
	q.Set("tag", string(tag))
	q.Set("start", strconv.FormatUint(uint64(start), 10))
	q.Set("count", strconv.Itoa(count))

	var recs []record.Record[record.Encrypted]
	if err := c.do(ctx, http.MethodGet, "/records/next", q, nil, &recs); err != nil {
		return nil, fmt.Errorf("next %s/%s@%d: %w", host, tag, start, err)
	}
	return recs, nil
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", syncer.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", syncer.ErrTransport, err)
	}
	return nil
}

// statusError maps a non-200 response to an error. Server-side and
// throttling failures are transient.
func statusError(resp *http.Response) error {
	var eb errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &eb) != nil || eb.Error == "" {
		eb.Error = strings.TrimSpace(string(data))
	}
	msg := fmt.Sprintf("relay returned %d: %s", resp.StatusCode, eb.Error)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", record.ErrRecordTooLarge, msg)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", syncer.ErrTransport, msg)
	default:
		return errors.New(msg)
	}
}
