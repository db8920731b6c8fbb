// Package rackbeat is the client for the source inventory API.
package rackbeat

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/powertrain/catalogsync/internal/config"
	"github.com/powertrain/catalogsync/internal/domain"
	"github.com/powertrain/catalogsync/internal/fieldresolver"
	"github.com/powertrain/catalogsync/internal/retry"
	"github.com/powertrain/catalogsync/pkg/errors"
)

// Client calls the Rackbeat products API with a bearer key
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     retry.Policy
	logger     *zap.Logger
}

// NewClient creates a Rackbeat HTTP client
func NewClient(cfg config.SourceConfig, policy retry.Policy, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(limit, burst),
		policy:     policy,
		logger:     logger,
	}
}

// Page is one page of the product listing
type Page struct {
	Items []*domain.SourceItem
	Pages int // total page count as reported by this response
}

// Page fetches one listing page. Both 200 and 206 are success; every other
// status is retried within the policy budget.
func (c *Client) Page(ctx context.Context, page, limit int) (*Page, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid source endpoint: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	op := fmt.Sprintf("rackbeat page %d", page)
	var out *Page
	err = retry.Do(ctx, c.policy.WithRetryable(retry.RetryAnyStatus), func(ctx context.Context) error {
		body, err := c.get(ctx, op, u.String(), http.StatusOK, http.StatusPartialContent)
		if err != nil {
			return err
		}
		p, err := decodePage(body)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		out = p
		return nil
	})
	if err != nil {
		c.logger.Warn("Rackbeat page request failed", zap.Int("page", page), zap.Error(err))
		return nil, err
	}
	return out, nil
}

func decodePage(body []byte) (*Page, error) {
	var doc map[string]any
	if err := decodeJSON(body, &doc); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}

	list, ok := doc["products"].([]any)
	if !ok {
		list, ok = doc["items"].([]any)
	}
	if !ok && doc["products"] != nil {
		return nil, fmt.Errorf("decode page: unexpected products shape")
	}

	p := &Page{Items: make([]*domain.SourceItem, 0, len(list))}
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		p.Items = append(p.Items, domain.NewSourceItem(obj))
	}

	switch n := doc["pages"].(type) {
	case json.Number:
		v, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("decode page: invalid pages %q", n.String())
		}
		p.Pages = int(v)
	case string:
		v, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return nil, fmt.Errorf("decode page: invalid pages %q", n)
		}
		p.Pages = v
	}
	return p, nil
}

// FetchFields loads an item's custom fields through its self link, trying
// the known endpoint shapes in order until one answers 200 with a
// recognizable field container. An empty map means no shape worked. When a
// shape could not be tried because the source stayed unavailable after
// retries, the error is returned instead, since the fields may well exist.
func (c *Client) FetchFields(ctx context.Context, selfURL string) (map[string]string, error) {
	base, err := c.resolveSelf(selfURL)
	if err != nil {
		return nil, err
	}

	var lastErr, transientErr error
	for _, candidate := range fieldCandidates(base) {
		body, err := c.getWithRetry(ctx, "rackbeat fields", candidate)
		if err != nil {
			if errors.IsUnauthorized(err) || ctx.Err() != nil {
				return nil, err
			}
			if isTransient(err) {
				transientErr = err
			}
			lastErr = err
			continue
		}

		var doc map[string]any
		if err := decodeJSON(body, &doc); err != nil {
			lastErr = err
			continue
		}
		if fields := fieldresolver.ParseContainers(doc); len(fields) > 0 {
			return fields, nil
		}
	}

	if transientErr != nil {
		return nil, fmt.Errorf("fields of %s unavailable: %w", base, transientErr)
	}
	if lastErr != nil {
		c.logger.Debug("No field endpoint answered", zap.String("self", base), zap.Error(lastErr))
	}
	return map[string]string{}, nil
}

// isTransient reports whether err is a retryable status or a transport
// failure, as opposed to the endpoint shape not existing.
func isTransient(err error) bool {
	var status *errors.ErrStatus
	if stderrors.As(err, &status) {
		return retry.RetryTransient(status.StatusCode)
	}
	return true
}

func fieldCandidates(base string) []string {
	return []string{
		base + "?include=fields",
		base + "?include=custom_fields",
		base,
		base + "/fields",
		base + "/custom-fields",
		base + "/custom_fields",
		base + "/field-values",
		base + "/field_values",
	}
}

// resolveSelf turns a self link into an absolute URL on the configured host.
// Links pointing elsewhere are refused so the API key is never sent off-host.
func (c *Client) resolveSelf(selfURL string) (string, error) {
	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid source endpoint: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(selfURL))
	if err != nil || selfURL == "" {
		return "", &errors.ErrValidation{Message: fmt.Sprintf("invalid self link %q", selfURL)}
	}
	u := endpoint.ResolveReference(ref)
	if u.Host != endpoint.Host {
		return "", &errors.ErrValidation{Message: fmt.Sprintf("self link %q is not on %s", selfURL, endpoint.Host)}
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}

// getWithRetry retries transient statuses; other statuses fail immediately
func (c *Client) getWithRetry(ctx context.Context, op, rawURL string) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, c.policy.WithRetryable(retry.RetryTransient), func(ctx context.Context) error {
		b, err := c.get(ctx, op, rawURL, http.StatusOK)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	return body, err
}

func (c *Client) get(ctx context.Context, op, rawURL string, ok ...int) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}
	if err := retry.CheckStatus(op, resp, body, ok...); err != nil {
		return nil, err
	}
	return body, nil
}

func decodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}
