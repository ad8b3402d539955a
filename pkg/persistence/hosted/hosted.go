// Package hosted stores flows in a hosted Postgres backend-as-a-service
// through its REST surface (/rest/v1). Requests carry the caller's bearer
// token and the project api key; row level security on the service side
// is expected to agree with the owner filters sent here.
package hosted

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
	"strconv"
	"strings"
	"time"

	"github.com/dukex/anyflow/pkg/persistence"
	"github.com/dukex/anyflow/pkg/session"
)

const restPath = "/rest/v1/"

var errUnexpectedStatus = errors.New("unexpected response status")

// Persistence implements persistence.Persistence over HTTP.
type Persistence struct {
	client   *client
	flowRepo *FlowRepository
}

// Option configures the hosted backend.
type Option func(*client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.http = hc
	}
}

// NewPersistence creates a hosted backend rooted at baseURL (scheme and
// host, optionally a path prefix). apiKey is sent as the apikey header.
func NewPersistence(logger *slog.Logger, baseURL, apiKey string, opts ...Option) (*Persistence, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid hosted backend url: %w", err)
	}

	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid hosted backend url %q: scheme must be http or https", baseURL)
	}

	c := &client{
		base:   strings.TrimSuffix(base.String(), "/"),
		apiKey: apiKey,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger.With("module", "hosted_persistence"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return &Persistence{
		client:   c,
		flowRepo: &FlowRepository{client: c},
	}, nil
}

func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return p.flowRepo
}

// HealthCheck succeeds when the REST root answers with anything below 500.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	resp, err := p.client.send(ctx, http.MethodGet, "", nil, nil, nil)
	if err != nil {
		return err
	}

	if resp.status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", persistence.ErrBackendUnavailable, resp.status)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	p.client.http.CloseIdleConnections()

	return nil
}

type client struct {
	base   string
	apiKey string
	http   *http.Client
	logger *slog.Logger
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// send performs one request. Only transport failures are returned as errors;
// status handling is left to the caller.
func (c *client) send(ctx context.Context, method, table string, query url.Values, body any, header http.Header) (*response, error) {
	target := c.base + restPath + table
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.apiKey)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if s, ok := session.FromContext(ctx); ok && s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	c.logger.DebugContext(ctx, "Hosted backend request", "method", method, "table", table)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", persistence.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", persistence.ErrBackendUnavailable, err)
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// statusError maps a non-2xx response onto the persistence taxonomy.
func statusError(resp *response) error {
	switch {
	case resp.status == http.StatusUnauthorized, resp.status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", persistence.ErrUnauthorized, resp.status)
	case resp.status == http.StatusNotFound:
		return persistence.ErrFlowNotFound
	case resp.status == http.StatusConflict:
		return persistence.ErrFlowAlreadyExists
	case resp.status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", persistence.ErrBackendUnavailable, resp.status)
	default:
		return fmt.Errorf("%w %d: %s", errUnexpectedStatus, resp.status, truncate(resp.body, 200))
	}
}

func ok(resp *response) bool {
	return resp.status >= 200 && resp.status < 300
}

// contentRangeTotal reads the total from a "0-19/57" or "*/0" header.
func contentRangeTotal(header http.Header) (int64, bool) {
	value := header.Get("Content-Range")

	_, total, found := strings.Cut(value, "/")
	if !found || total == "*" {
		return 0, false
	}

	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, false
	}

	return n, true
}

func eq(value string) string {
	return "eq." + value
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}

	return string(b[:n]) + "..."
}
