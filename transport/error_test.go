// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package transport

import (
	"net/http"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type ErrorSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&ErrorSuite{})

func (ErrorSuite) TestErrorWithReason(c *gc.C) {
	err := APIError{Name: "not_found", Reason: "missing"}
	c.Assert(err.Error(), gc.Equals, "not_found: missing")
}

func (ErrorSuite) TestErrorWithoutReason(c *gc.C) {
	err := APIError{Name: "unauthorized"}
	c.Assert(err.Error(), gc.Equals, "unauthorized")
}

func (ErrorSuite) TestAsErrorNotFound(c *gc.C) {
	err := APIError{Name: "not_found", Reason: "missing"}.AsError(http.StatusNotFound)
	c.Assert(err, jc.Satisfies, errors.IsNotFound)
	c.Assert(err, gc.ErrorMatches, "not_found: missing")
}

func (ErrorSuite) TestAsErrorConflict(c *gc.C) {
	err := APIError{Name: "conflict", Reason: "Document update conflict."}.AsError(http.StatusConflict)
	c.Assert(err, jc.Satisfies, errors.IsAlreadyExists)
}

func (ErrorSuite) TestAsErrorPreconditionFailed(c *gc.C) {
	err := APIError{Name: "file_exists", Reason: "The database could not be created."}.AsError(http.StatusPreconditionFailed)
	c.Assert(err, jc.Satisfies, errors.IsAlreadyExists)
}

func (ErrorSuite) TestAsErrorUnauthorized(c *gc.C) {
	err := APIError{Name: "unauthorized", Reason: "Name or password is incorrect."}.AsError(http.StatusUnauthorized)
	c.Assert(err, jc.Satisfies, errors.IsUnauthorized)
}

func (ErrorSuite) TestAsErrorBadRequest(c *gc.C) {
	err := APIError{Name: "bad_request", Reason: "invalid UTF-8 JSON"}.AsError(http.StatusBadRequest)
	c.Assert(err, jc.Satisfies, errors.IsBadRequest)
}

func (ErrorSuite) TestAsErrorServerError(c *gc.C) {
	err := APIError{Name: "unknown_error", Reason: "function_clause"}.AsError(http.StatusInternalServerError)
	c.Assert(err, gc.ErrorMatches, `server error \(500\): unknown_error: function_clause`)
	c.Assert(err, gc.Not(jc.Satisfies), errors.IsNotFound)
}
