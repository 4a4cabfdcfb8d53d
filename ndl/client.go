// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ndl

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stockparfait/datalink/apierr"
	"github.com/stockparfait/datalink/config"
	"github.com/stockparfait/datalink/retry"
	"github.com/stockparfait/errors"
)

// Version of the client, sent in the request-source-version header.
const Version = "1.0.0"

// RequestSource identifies this client to the server.
const RequestSource = "go"

type contextKey int

const (
	clientContextKey contextKey = iota
)

// Client for the Nasdaq Data Link API. It holds a private snapshot of the
// configuration taken at construction, and is safe for concurrent use.
type Client struct {
	config *config.Config
	http   *http.Client
}

type clientOptions struct {
	base  http.RoundTripper
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customizes a Client.
type Option func(*clientOptions)

// WithTransport sets the round tripper underneath the retry layer, e.g. the
// transport of a test server.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) { o.base = rt }
}

// WithSleep replaces the wait between retries, primarily for tests.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(o *clientOptions) { o.sleep = f }
}

// NewClient creates a client with a copy of c, or of config.Default() when c is
// nil.
func NewClient(c *config.Config, opts ...Option) (*Client, error) {
	if c == nil {
		c = config.Default()
	}
	snapshot := c.Copy()
	snapshot.Normalize()
	if err := snapshot.Validate(); err != nil {
		return nil, errors.Annotate(err, "invalid configuration")
	}
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	base := o.base
	if base == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.Proxy = http.ProxyFromEnvironment
		t.ResponseHeaderTimeout = snapshot.TimeoutDuration()
		if !snapshot.VerifyTLS {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		base = t
	}
	rt := retry.New(base, retry.NewPolicy(snapshot))
	rt.Limiter = retry.NewLimiter(snapshot.RequestsPerSecond)
	rt.Sleep = o.sleep
	return &Client{
		config: snapshot,
		http:   &http.Client{Transport: rt},
	}, nil
}

// Config returns a copy of the client's configuration.
func (c *Client) Config() *config.Config {
	return c.config.Copy()
}

// UseClient injects the client into the context.
func UseClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientContextKey, c)
}

// GetClient extracts the Client from the context, if any.
func GetClient(ctx context.Context) *Client {
	c, ok := ctx.Value(clientContextKey).(*Client)
	if !ok {
		return nil
	}
	return c
}

// Request to the API.
type Request struct {
	Method string // default: GET
	Path   string // relative to the base URL, e.g. "datatables/ZACKS/FC.json"
	Header http.Header
	Params url.Values

	// KeyInQuery sends the API key and version as api_key and api_version
	// query parameters instead of headers.
	KeyInQuery bool
}

// Response is a successful (2xx) API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string // the final URL, after redirects
}

// URL builds the full URL of the request.
func (c *Client) URL(r *Request) string {
	u := c.config.URL() + "/" + strings.TrimLeft(r.Path, "/")
	query := make(url.Values)
	for k, v := range r.Params {
		query[k] = append([]string(nil), v...)
	}
	if r.KeyInQuery {
		if c.config.APIKey != "" {
			query.Set("api_key", c.config.APIKey)
		}
		if c.config.APIVersion != "" {
			query.Set("api_version", c.config.APIVersion)
		}
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// accept is the content negotiation header value.
func (c *Client) accept() string {
	if c.config.APIVersion == "" {
		return "application/json"
	}
	return "application/json, application/vnd.data.nasdaq+json;version=" +
		c.config.APIVersion
}

// newHTTPRequest builds the outgoing request. The retry layer replays it as
// needed.
func (c *Client) newHTTPRequest(ctx context.Context, r *Request) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(r), nil)
	if err != nil {
		return nil, errors.Annotate(err, "failed to create request for %s", r.Path)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if !r.KeyInQuery && c.config.APIKey != "" {
		req.Header.Set("x-api-token", c.config.APIKey)
	}
	req.Header.Set("accept", c.accept())
	req.Header.Set("request-source", RequestSource)
	req.Header.Set("request-source-version", Version)
	return req, nil
}

// do sends the request. The caller owns the body of a successful response.
// Any other outcome is an *apierr.Error.
func (c *Client) do(ctx context.Context, r *Request) (*http.Response, error) {
	req, err := c.newHTTPRequest(ctx, r)
	if err != nil {
		return nil, apierr.Wrap(err, "invalid request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		// Don't let *url.Error leak the api_key query parameter.
		var cause error = err
		if ue, ok := err.(*url.Error); ok {
			cause = ue.Err
		}
		return nil, apierr.Wrap(cause, "%s %s", req.Method, r.Path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, apierr.Wrap(err, "failed to read error response (status %d)",
				resp.StatusCode)
		}
		return nil, apierr.Classify(resp.StatusCode, body)
	}
	return resp, nil
}

// Execute sends the request through the retry layer and reads the response.
// A non-2xx final response or a transport failure is returned as
// *apierr.Error.
func (c *Client) Execute(ctx context.Context, r *Request) (*Response, error) {
	resp, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Wrap(err, "failed to read response body")
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        resp.Request.URL.String(),
	}, nil
}

// ExecuteJSON executes the request and decodes the JSON response into v.
func (c *Client) ExecuteJSON(ctx context.Context, r *Request, v interface{}) error {
	resp, err := c.Execute(ctx, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return errors.Annotate(err, "failed to decode JSON response from %s", r.Path)
	}
	return nil
}
