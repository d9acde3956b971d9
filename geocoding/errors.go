// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"errors"
	"fmt"
	"net/http"
)

// GeocodingError describes a failed provider request.
type GeocodingError struct {
	Type ErrorType
	// StatusCode is the HTTP status of the response, zero if none was received.
	StatusCode int
	Message    string
	Err        error
}

// ErrorType classifies geocoding errors.
type ErrorType int

const (
	// ErrorTypeUnknown is an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork is a transport failure or timeout.
	ErrorTypeNetwork
	// ErrorTypeRateLimit means the provider throttled the client.
	ErrorTypeRateLimit
	// ErrorTypeUnexpectedStatus is any HTTP status other than 200 and 429.
	ErrorTypeUnexpectedStatus
	// ErrorTypeMalformed is a response that could not be decoded.
	ErrorTypeMalformed
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeRateLimit:
		return "rate_limited"
	case ErrorTypeUnexpectedStatus:
		return "unexpected_status"
	case ErrorTypeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

func (e *GeocodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *GeocodingError) Unwrap() error {
	return e.Err
}

func errorType(err error) ErrorType {
	var geoErr *GeocodingError
	if errors.As(err, &geoErr) {
		return geoErr.Type
	}

	return ErrorTypeUnknown
}

// IsRateLimitError reports whether err is a provider throttling response.
func IsRateLimitError(err error) bool {
	return errorType(err) == ErrorTypeRateLimit
}

// IsNetworkError reports whether err is a transport failure.
func IsNetworkError(err error) bool {
	return errorType(err) == ErrorTypeNetwork
}

// IsMalformedError reports whether err is an undecodable response.
func IsMalformedError(err error) bool {
	return errorType(err) == ErrorTypeMalformed
}

// IsUnexpectedStatusError reports whether err is a non-200, non-429 response.
func IsUnexpectedStatusError(err error) bool {
	return errorType(err) == ErrorTypeUnexpectedStatus
}

// StatusCode returns the HTTP status carried by err, or zero.
func StatusCode(err error) int {
	var geoErr *GeocodingError
	if errors.As(err, &geoErr) {
		return geoErr.StatusCode
	}

	return 0
}

// ClassifyHTTPError turns a non-200 HTTP status into a geocoding error.
func ClassifyHTTPError(statusCode int) *GeocodingError {
	if statusCode == http.StatusTooManyRequests {
		return &GeocodingError{
			Type:       ErrorTypeRateLimit,
			StatusCode: statusCode,
			Message:    "rate limit reached",
		}
	}

	return &GeocodingError{
		Type:       ErrorTypeUnexpectedStatus,
		StatusCode: statusCode,
		Message:    fmt.Sprintf("unexpected HTTP status %d", statusCode),
	}
}

func networkError(err error) *GeocodingError {
	return &GeocodingError{
		Type:    ErrorTypeNetwork,
		Message: "geocoding request failed",
		Err:     err,
	}
}

func malformedError(statusCode int, err error) *GeocodingError {
	return &GeocodingError{
		Type:       ErrorTypeMalformed,
		StatusCode: statusCode,
		Message:    "malformed geocoding response",
		Err:        err,
	}
}

func throttledError(err error) *GeocodingError {
	return &GeocodingError{
		Type:    ErrorTypeRateLimit,
		Message: "no request slot before deadline",
		Err:     err,
	}
}
