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

// Package retry implements an http.RoundTripper which retries transient
// failures with exponential backoff.
//
// A request is retried when the round trip itself fails (e.g. the connection
// could not be established) or the response status is in the policy's set of
// retryable codes. The delay before retry n (n >= 1) is
//
//	min(MaxWait, BackoffFactor * 2^(n-1))
//
// possibly extended by the server's Retry-After header, but never beyond
// MaxWait.
package retry

import (
	"context"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/stockparfait/datalink/config"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"golang.org/x/exp/slices"
	"golang.org/x/time/rate"
)

// Policy for retrying requests.
type Policy struct {
	Retries       int // additional attempts after the first one
	BackoffFactor time.Duration
	MaxWait       time.Duration
	StatusCodes   []int // retryable response status codes
}

// NewPolicy creates the retry policy defined by the configuration. When
// retries are disabled, the policy allows a single attempt.
func NewPolicy(c *config.Config) Policy {
	if !c.UseRetries {
		return Policy{}
	}
	return Policy{
		Retries:       c.NumberOfRetries,
		BackoffFactor: c.BackoffFactor(),
		MaxWait:       c.MaxWait(),
		StatusCodes:   slices.Clone(c.RetryStatusCodes),
	}
}

// Backoff is the delay before the n-th retry, n >= 1.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := float64(p.BackoffFactor) * math.Pow(2, float64(n-1))
	if d >= float64(p.MaxWait) {
		return p.MaxWait
	}
	return time.Duration(d)
}

// Retryable checks if the response status code calls for a retry.
func (p Policy) Retryable(status int) bool {
	return slices.Contains(p.StatusCodes, status)
}

// retryAfter parses the Retry-After header, either in seconds or as an HTTP
// date.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0, false
	}
	if s, err := strconv.Atoi(h); err == nil && s >= 0 {
		return time.Duration(s) * time.Second, true
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NewLimiter creates a rate limiter for the given number of requests per
// second, or nil for rps = 0 (unlimited).
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Transport is a retrying http.RoundTripper.
type Transport struct {
	Base    http.RoundTripper // default: http.DefaultTransport
	Policy  Policy
	Limiter *rate.Limiter // optional; throttles every attempt

	// Sleep waits between attempts; default: Sleep. Tests may replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

var _ http.RoundTripper = &Transport{}

// New creates a retrying Transport over base.
func New(base http.RoundTripper, p Policy) *Transport {
	return &Transport{Base: base, Policy: p}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

func (t *Transport) sleep(ctx context.Context, d time.Duration) error {
	if t.Sleep == nil {
		return Sleep(ctx, d)
	}
	return t.Sleep(ctx, d)
}

// attemptRequest returns the request to send on the given attempt, with the
// body rewound for the retries.
func attemptRequest(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, errors.Reason("cannot retry %s %s: request body is not replayable",
			req.Method, req.URL.Path)
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, errors.Annotate(err, "failed to rewind request body")
	}
	r := req.Clone(req.Context())
	r.Body = body
	return r, nil
}

// discard drains and closes the body of a response which is about to be
// retried, so the connection can be reused.
func discard(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()
}

// RoundTrip implements http.RoundTripper. The response of the last attempt is
// returned as is, whatever its status code.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	for attempt := 0; ; attempt++ {
		if t.Limiter != nil {
			if err := t.Limiter.Wait(ctx); err != nil {
				return nil, errors.Annotate(err, "rate limiter")
			}
		}
		r, err := attemptRequest(req, attempt)
		if err != nil {
			return nil, err
		}
		resp, err := t.base().RoundTrip(r)
		if attempt >= t.Policy.Retries {
			return resp, err
		}

		delay := t.Policy.Backoff(attempt + 1)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, err
			}
			logging.Warningf(ctx, "%s %s failed, retry %d of %d in %s: %s",
				req.Method, req.URL.Path, attempt+1, t.Policy.Retries, delay, err.Error())
		case t.Policy.Retryable(resp.StatusCode):
			if d, ok := retryAfter(resp); ok && d > delay {
				delay = d
				if delay > t.Policy.MaxWait {
					delay = t.Policy.MaxWait
				}
			}
			discard(resp)
			logging.Warningf(ctx, "%s %s returned status %d, retry %d of %d in %s",
				req.Method, req.URL.Path, resp.StatusCode, attempt+1, t.Policy.Retries, delay)
		default:
			return resp, nil
		}
		if err := t.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}
