// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package transport

import (
	"fmt"
	"net/http"

	"github.com/juju/errors"
)

// APIError is the error document the server returns with any
// non-success status, for example
// {"error": "not_found", "reason": "missing"}.
type APIError struct {
	Name   string `json:"error"`
	Reason string `json:"reason"`
}

// Error implements error.
func (e APIError) Error() string {
	if e.Reason == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Reason)
}

// AsError maps an APIError and the HTTP status it arrived with onto the
// standard error kinds, so that callers can use errors.IsNotFound and
// friends rather than matching on server-specific error names.
func (e APIError) AsError(statusCode int) error {
	switch statusCode {
	case http.StatusNotFound:
		return errors.NewNotFound(e, e.Error())
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.NewUnauthorized(e, e.Error())
	case http.StatusConflict, http.StatusPreconditionFailed:
		return errors.NewAlreadyExists(e, e.Error())
	case http.StatusBadRequest:
		return errors.NewBadRequest(e, e.Error())
	}
	return errors.Annotatef(e, "server error (%d)", statusCode)
}
