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

// Package apierr defines the error taxonomy of the Nasdaq Data Link client.
//
// All API and client errors are represented by a single *Error type tagged
// with a Kind. Server errors are produced by Classify from the HTTP status and
// the response body, which normally carries an error envelope of the form:
//
//	{"quandl_error": {"code": "QELx04", "message": "..."}}
//
// The third letter of the code selects the Kind.
package apierr

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/stockparfait/errors"
)

// Kind of the error.
type Kind int

// Values of Kind. KindGeneric covers unparseable or unmapped server errors and
// local validation failures.
const (
	KindGeneric Kind = iota
	KindCredential
	KindLimitExceeded
	KindInternalServer
	KindAuthentication
	KindForbidden
	KindInvalidRequest
	KindNotFound
	KindServiceUnavailable
)

var kindNames = map[Kind]string{
	KindGeneric:            "DataLinkError",
	KindCredential:         "CredentialError",
	KindLimitExceeded:      "LimitExceededError",
	KindInternalServer:     "InternalServerError",
	KindAuthentication:     "AuthenticationError",
	KindForbidden:          "ForbiddenError",
	KindInvalidRequest:     "InvalidRequestError",
	KindNotFound:           "NotFoundError",
	KindServiceUnavailable: "ServiceUnavailableError",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the tagged error value returned by the client.
type Error struct {
	Kind       Kind
	Code       string // API error code, e.g. "QECx02"; may be empty
	Message    string
	HTTPStatus int    // 0 when no HTTP response was involved
	Body       string // raw response body, when it could not be classified
	Cause      error  // underlying error, e.g. a transport failure
}

var _ error = &Error{}

// Error implements error.
func (e *Error) Error() string {
	var parts []string
	if e.HTTPStatus != 0 {
		parts = append(parts, fmt.Sprintf("(Status %d)", e.HTTPStatus))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("(Nasdaq Data Link Error %s)", e.Code))
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg != "" {
		parts = append(parts, msg)
	}
	if len(parts) == 0 {
		return e.Kind.String()
	}
	return strings.Join(parts, " ")
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a generic error caused by err, e.g. a failed round trip.
func Wrap(err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindGeneric,
		Message: fmt.Sprintf(format, args...) + ": " + err.Error(),
		Cause:   err,
	}
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind checks whether err carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// envelope is the JSON error body sent by the API.
type envelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"quandl_error"`
}

var codeKinds = map[byte]Kind{
	'L': KindLimitExceeded,
	'M': KindInternalServer,
	'A': KindAuthentication,
	'P': KindForbidden,
	'S': KindInvalidRequest,
	'C': KindNotFound,
	'X': KindServiceUnavailable,
}

var codePattern = regexp.MustCompile(`^QE([A-Z])[x0-9]`)

// KindForCode maps an API error code to its Kind, KindGeneric if unrecognized.
func KindForCode(code string) Kind {
	m := codePattern.FindStringSubmatch(code)
	if m == nil {
		return KindGeneric
	}
	if k, ok := codeKinds[m[1][0]]; ok {
		return k
	}
	return KindGeneric
}

// Classify converts a non-successful HTTP response into an *Error. A body
// that is not a JSON error envelope yields KindGeneric with the raw body.
func Classify(status int, body []byte) *Error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return &Error{
			Kind:       KindGeneric,
			Message:    fmt.Sprintf("unexpected response: %s", strings.TrimSpace(string(body))),
			HTTPStatus: status,
			Body:       string(body),
		}
	}
	return &Error{
		Kind:       KindForCode(env.Error.Code),
		Code:       env.Error.Code,
		Message:    env.Error.Message,
		HTTPStatus: status,
	}
}
