// Copyright 2018 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

// Package apierr defines the coordinator's error taxonomy (spec §7) and the
// single envelope every HTTP response uses to carry it.
package apierr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Code is one of the authoritative error codes from spec §7.
type Code string

const (
	UnauthorizedKey Code = "UNAUTHORIZED_KEY"
	RateLimited     Code = "RATE_LIMITED"
	InvalidPayload  Code = "INVALID_PAYLOAD"
	TTLOutOfRange   Code = "TTL_OUT_OF_RANGE"
	JobNotFound     Code = "JOB_NOT_FOUND"
	Forbidden       Code = "FORBIDDEN"
	JobNotReady     Code = "JOB_NOT_READY"
	ConflictState   Code = "CONFLICT_STATE"
	ConflictReceipt Code = "CONFLICT_RECEIPT"
	BadSignature    Code = "BAD_SIGNATURE"
	NoEligibleMiner Code = "NO_ELIGIBLE_MINER" // internal; never serialized to a miner response
	Internal        Code = "INTERNAL"
)

// Error is returned by every coordinator component boundary. It wraps an
// optional lower-level cause (store/driver errors) via github.com/pkg/errors
// so the original stack is preserved for logs while callers only branch on Code.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New creates an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a lower-level cause (e.g. a store error) to a coordinator
// error code, preserving the cause's stack trace via pkg/errors.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, cause: errors.WithStack(cause)}
}

// WithDetails attaches structured detail fields (e.g. retry_after).
func (e *Error) WithDetails(d map[string]interface{}) *Error {
	e.Details = d
	return e
}

// As reports whether err is (or wraps) an *Error with the given code.
func As(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// HTTPStatus maps a Code to the HTTP status the C8 surface should emit.
func HTTPStatus(code Code) int {
	switch code {
	case UnauthorizedKey:
		return http.StatusUnauthorized
	case RateLimited:
		return http.StatusTooManyRequests
	case InvalidPayload, TTLOutOfRange:
		return http.StatusBadRequest
	case JobNotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case JobNotReady:
		return 425 // Too Early (spec: "425-equivalent")
	case ConflictState, ConflictReceipt:
		return http.StatusConflict
	case BadSignature:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the wire shape for every error response.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

type EnvelopeBody struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ToEnvelope converts any error into the wire envelope, coercing unknown
// error types into Internal so no raw internal error ever leaks to a client.
func ToEnvelope(err error) (int, Envelope) {
	var e *Error
	if !errors.As(err, &e) {
		e = New(Internal, "internal error")
	}
	return HTTPStatus(e.Code), Envelope{Error: EnvelopeBody{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}}
}
