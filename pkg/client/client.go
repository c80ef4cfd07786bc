package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultEndpoint is where the daemon listens by default.
const DefaultEndpoint = "http://127.0.0.1:8090"

// Client is the rolematch SDK client.
type Client struct {
	endpoint string
	http     *http.Client
	backoff  BackoffStrategy
	attempts int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRetry sets how many times read calls are attempted and the wait
// between attempts. attempts <= 1 disables retries.
func WithRetry(attempts int, b BackoffStrategy) Option {
	return func(c *Client) {
		c.attempts = attempts
		if b != nil {
			c.backoff = b
		}
	}
}

// NewClient creates a new rolematch client.
// endpoint defaults to DefaultEndpoint if empty.
func NewClient(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		backoff:  DefaultBackoff(),
		attempts: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Requirements lists the unfilled roles of a facility.
func (c *Client) Requirements(ctx context.Context, facilityID string) ([]RoleRequirement, error) {
	var reqs []RoleRequirement
	err := c.get(ctx, "/v1/facilities/"+url.PathEscape(facilityID)+"/requirements", nil, &reqs)
	return reqs, err
}

// Candidates lists ranked candidates for a facility. limit <= 0 uses the
// daemon's default.
func (c *Client) Candidates(ctx context.Context, facilityID string, limit int) ([]Candidate, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var cands []Candidate
	err := c.get(ctx, "/v1/facilities/"+url.PathEscape(facilityID)+"/candidates", q, &cands)
	return cands, err
}

// Facility fetches a facility's attributes. An unknown id returns ErrNotFound.
func (c *Client) Facility(ctx context.Context, facilityID string) (FacilityInfo, error) {
	var info FacilityInfo
	err := c.get(ctx, "/v1/facilities/"+url.PathEscape(facilityID), nil, &info)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return FacilityInfo{}, fmt.Errorf("%s: %w", facilityID, ErrNotFound)
	}
	return info, err
}

// Report fetches a facility staffing report in format ("csv" or "json").
func (c *Client) Report(ctx context.Context, facilityID, format string) ([]byte, error) {
	q := url.Values{}
	if format != "" {
		q.Set("format", format)
	}
	var raw []byte
	err := c.get(ctx, "/v1/facilities/"+url.PathEscape(facilityID)+"/report", q, &raw)
	return raw, err
}

// History lists journaled assignment records.
func (c *Client) History(ctx context.Context, opts HistoryOptions) ([]AssignmentRecord, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("facility_id", opts.FacilityID)
	set("role_id", opts.RoleID)
	set("person_id", opts.PersonID)
	set("action", opts.Action)
	if !opts.From.IsZero() {
		q.Set("from", opts.From.Format(time.RFC3339))
	}
	if !opts.To.IsZero() {
		q.Set("to", opts.To.Format(time.RFC3339))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	var resp struct {
		Records []AssignmentRecord `json:"records"`
	}
	err := c.get(ctx, "/v1/assignments", q, &resp)
	return resp.Records, err
}

// Assign commits personID to roleID. It is never retried: a lost response
// may still have committed, which a second attempt would report as
// ErrConflict.
func (c *Client) Assign(ctx context.Context, facilityID, personID, roleID string) (Assignment, error) {
	var out Assignment
	err := c.do(ctx, http.MethodPost, "/v1/assignments", nil, Assignment{
		FacilityID: facilityID,
		PersonID:   personID,
		RoleID:     roleID,
	}, &out)
	return out, err
}

// Cleanup removes every assignment of personID to roleID and returns the
// deleted relationship ids.
func (c *Client) Cleanup(ctx context.Context, personID, roleID string) ([]string, error) {
	var resp struct {
		Deleted []string `json:"deleted"`
	}
	err := c.do(ctx, http.MethodDelete, "/v1/assignments", nil, map[string]string{
		"person_id": personID,
		"role_id":   roleID,
	}, &resp)
	return resp.Deleted, err
}

// Ping checks the health of the daemon.
func (c *Client) Ping(ctx context.Context) (Status, error) {
	var status Status
	err := c.do(ctx, http.MethodGet, "/v1/health", nil, nil, &status)
	return status, err
}

// get performs an idempotent request, retrying transport errors and 5xx.
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	attempts := c.attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff.Next(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = c.do(ctx, http.MethodGet, path, q, nil, out)
		if err == nil || !retryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.retryable()
	}
	// Decode failures are not transient.
	var syntaxErr *json.SyntaxError
	return !errors.As(err, &syntaxErr)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.endpoint + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if raw, ok := out.(*[]byte); ok {
		*raw, err = io.ReadAll(resp.Body)
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
