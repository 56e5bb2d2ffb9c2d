package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// HTTPClient abstracts the transport so callers can substitute their
// own (instrumented, mocked, ...) implementation.
type HTTPClient interface {
	PostJSON(ctx context.Context, u *url.URL, body any, out any) error
	GetJSON(ctx context.Context, u *url.URL, out any) error
	PostJSONWithBearer(ctx context.Context, u *url.URL, body any, bearer string, out any) error
}

// DefaultTimeout bounds every request of the default transport.
const DefaultTimeout = 30 * time.Second

// defaultHTTPClient is the stock implementation over net/http with a
// per-call timeout and correlation-id injection.
type defaultHTTPClient struct {
	inner *http.Client
}

// NewHTTPClient builds the default transport. A zero timeout selects
// DefaultTimeout.
func NewHTTPClient(timeout time.Duration) HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &defaultHTTPClient{inner: &http.Client{Timeout: timeout}}
}

func (c *defaultHTTPClient) PostJSON(ctx context.Context, u *url.URL, body any, out any) error {
	return c.do(ctx, http.MethodPost, u, body, "", out)
}

func (c *defaultHTTPClient) GetJSON(ctx context.Context, u *url.URL, out any) error {
	return c.do(ctx, http.MethodGet, u, nil, "", out)
}

func (c *defaultHTTPClient) PostJSONWithBearer(ctx context.Context, u *url.URL, body any, bearer string, out any) error {
	return c.do(ctx, http.MethodPost, u, body, bearer, out)
}

func (c *defaultHTTPClient) do(ctx context.Context, method string, u *url.URL, body any, bearer string, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", uuid.New().String())
	if bearer != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", bearer))
	}

	log.Debug().Str("method", method).Str("url", u.String()).Msg("token api request")
	res, err := c.inner.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &HTTPStatusError{Code: res.StatusCode}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
