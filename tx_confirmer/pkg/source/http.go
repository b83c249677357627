package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/config"
)

const (
	defaultHTTPTimeout = 8 * time.Second
	maxBodySize        = 4 << 20
)

// httpClient is the transport shared by the provider adapters. Status codes
// are folded into ErrNotFound or ErrProviderUnavailable here so adapters only
// decode bodies.
type httpClient struct {
	name    string
	baseURL string
	client  *retryablehttp.Client
	limiter *rate.Limiter
	auth    func(h http.Header)
}

func newHTTPClient(name string, item config.SourceItem, logger *logrus.Logger) (*httpClient, error) {
	if item.URL == "" {
		return nil, fmt.Errorf("%s: url is required", name)
	}
	if _, err := url.Parse(item.URL); err != nil {
		return nil, fmt.Errorf("%s: invalid url: %w", name, err)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Timeout = defaultHTTPTimeout
	retryClient.RetryMax = item.RetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = time.Second
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if logger != nil {
		retryClient.Logger = logger
	} else {
		retryClient.Logger = nil
	}

	var limiter *rate.Limiter
	if item.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(item.RPS), max(item.Burst, 1))
	}

	return &httpClient{
		name:    name,
		baseURL: strings.TrimRight(item.URL, "/"),
		client:  retryClient,
		limiter: limiter,
	}, nil
}

func (h *httpClient) getJSON(ctx context.Context, path string, query url.Values, out any) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrRateLimited, h.name, err)
		}
	}

	u := h.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.auth != nil {
		h.auth(req.Header)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrProviderUnavailable, h.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: failed to read response body: %w", ErrProviderUnavailable, h.name, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: %s returned status %d", ErrProviderUnavailable, h.name, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("%w: %s: failed to decode response: %v", ErrProviderUnavailable, h.name, err)
		}
	}
	return body, nil
}
