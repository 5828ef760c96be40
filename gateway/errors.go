// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrSessionExpired marks a request dropped because the credential could not
// be refreshed. The logout flow it triggers is the user-visible outcome;
// callers should not surface this as an additional error toast.
var ErrSessionExpired = errors.New("gateway: session expired")

// Category classifies backend rejections by status code. Requests failing
// with any of these are never retried automatically.
type Category string

const (
	CategoryValidation  Category = "validation"
	CategoryForbidden   Category = "forbidden"
	CategoryNotFound    Category = "not_found"
	CategoryConflict    Category = "conflict"
	CategoryRateLimited Category = "rate_limited"
	CategoryServer      Category = "server"
	CategoryUnavailable Category = "unavailable"
	CategoryUnknown     Category = "unknown"
)

// defaultMessages are the per-category fallbacks, overridable per call site
// with WithErrorMessage.
var defaultMessages = map[Category]string{
	CategoryValidation:  "The request was rejected as invalid.",
	CategoryForbidden:   "You do not have permission for this action.",
	CategoryNotFound:    "The requested resource was not found.",
	CategoryConflict:    "The request conflicts with the current state.",
	CategoryRateLimited: "Too many requests, slow down.",
	CategoryServer:      "The server encountered an internal error.",
	CategoryUnavailable: "The service is temporarily unavailable.",
	CategoryUnknown:     "The request failed.",
}

// APIError is a classified backend rejection.
type APIError struct {
	// Status is the HTTP status code.
	Status int

	// Category is the status classification.
	Category Category

	// Code is the envelope's application code, when present.
	Code int

	// Message is the backend's message, or the category default.
	Message string

	// RequestID echoes the request correlation ID.
	RequestID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: %s (%d): %s", e.Category, e.Status, e.Message)
}

// Is lets errors.Is match on category via sentinel comparison values.
func (e *APIError) Is(target error) bool {
	other, ok := target.(*APIError)
	if !ok {
		return false
	}
	return other.Category == e.Category && (other.Status == 0 || other.Status == e.Status)
}

// categorize maps a non-401 rejection status onto its category.
func categorize(status int) Category {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return CategoryValidation
	case status == http.StatusForbidden:
		return CategoryForbidden
	case status == http.StatusNotFound:
		return CategoryNotFound
	case status == http.StatusConflict:
		return CategoryConflict
	case status == http.StatusTooManyRequests:
		return CategoryRateLimited
	case status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return CategoryUnavailable
	case status >= 500:
		return CategoryServer
	default:
		return CategoryUnknown
	}
}
