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
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/stockparfait/datalink/config"
)

type testResponse struct {
	Status int
	Body   string
}

type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
}

// scriptServer replies with the scripted responses in order, repeating the
// last one, and records the requests.
type scriptServer struct {
	*httptest.Server
	mu        sync.Mutex
	responses []testResponse
	requests  []recordedRequest
}

func newScriptServer(responses ...testResponse) *scriptServer {
	s := &scriptServer{responses: responses}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *scriptServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
	})
	i := len(s.requests) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	resp := s.responses[i]
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	fmt.Fprint(w, resp.Body)
}

func (s *scriptServer) Requests() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

func ok(body string) testResponse {
	return testResponse{Status: http.StatusOK, Body: body}
}

func errorResponse(status int, code string) testResponse {
	return testResponse{
		Status: status,
		Body: fmt.Sprintf(`{"quandl_error":{"code":"%s","message":"something went wrong"}}`,
			code),
	}
}

const testKey = "testkey"

// testConfig points the configuration at a local server URL.
func testConfig(serverURL string) *config.Config {
	c := config.New()
	c.Protocol = "http://"
	c.BaseURL = strings.TrimPrefix(serverURL, "http://") + "/api/v3"
	c.APIKey = testKey
	return c
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// newTestClient creates a client for the server; update, if not nil, may
// modify the configuration first.
func newTestClient(server *httptest.Server, sr *sleepRecorder, update func(c *config.Config)) *Client {
	c := testConfig(server.URL)
	if update != nil {
		update(c)
	}
	client, err := NewClient(c, WithTransport(server.Client().Transport), WithSleep(sr.Sleep))
	if err != nil {
		panic(err)
	}
	return client
}
