// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package couchdb

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/juju/errors"
	"gopkg.in/httprequest.v1"

	"github.com/juju/couchdb/transport"
)

// MIME represents a MIME type for identifying requests and response bodies.
type MIME = string

const (
	// JSON represents the MIME type for JSON request and response types.
	JSON MIME = "application/json"
)

// Transport defines a type for making the actual request.
type Transport interface {
	// Do performs the *http.Request and returns a *http.Response or an error
	// if it fails to construct the transport.
	Do(*http.Request) (*http.Response, error)
}

// APIRequester creates a wrapper around the transport to allow for
// request and response tracing.
type APIRequester struct {
	transport Transport
}

// NewAPIRequester creates a new APIRequester for making requests to a server.
func NewAPIRequester(transport Transport) *APIRequester {
	return &APIRequester{
		transport: transport,
	}
}

// Do performs the *http.Request and returns a *http.Response or an error
// if it fails to construct the transport.
func (t *APIRequester) Do(req *http.Request) (*http.Response, error) {
	if logger.IsTraceEnabled() {
		if data, err := httputil.DumpRequest(req, true); err == nil {
			logger.Tracef("%s request %s", req.Method, data)
		} else {
			logger.Tracef("%s request DumpRequest error %s", req.Method, err.Error())
		}
	}

	resp, err := t.transport.Do(req)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if logger.IsTraceEnabled() {
		if data, err := httputil.DumpResponse(resp, false); err == nil {
			logger.Tracef("%s response %s", req.Method, data)
		} else {
			logger.Tracef("%s response DumpResponse error %s", req.Method, err.Error())
		}
	}
	return resp, nil
}

// RESTClient defines a type for making requests to a server.
type RESTClient interface {
	// Get performs a GET request against the given URL, parsing the
	// response into result.
	Get(ctx context.Context, u *url.URL, result interface{}) error

	// Head performs a HEAD request against the given URL and returns
	// the response status code.
	Head(ctx context.Context, u *url.URL) (int, error)

	// Put performs a PUT request with a JSON body against the given
	// URL, parsing the response into result.
	Put(ctx context.Context, u *url.URL, body, result interface{}) error

	// PutRaw performs a PUT request with an opaque body of the given
	// content type, parsing the response into result.
	PutRaw(ctx context.Context, u *url.URL, contentType MIME, body io.Reader, result interface{}) error

	// Delete performs a DELETE request against the given URL, parsing
	// the response into result.
	Delete(ctx context.Context, u *url.URL, result interface{}) error
}

// HTTPRESTClient represents a RESTClient that expects to interact with
// an HTTP transport.
type HTTPRESTClient struct {
	transport Transport
}

// NewHTTPRESTClient creates a new HTTPRESTClient.
func NewHTTPRESTClient(transport Transport) *HTTPRESTClient {
	return &HTTPRESTClient{
		transport: transport,
	}
}

// Get implements RESTClient.
func (c *HTTPRESTClient) Get(ctx context.Context, u *url.URL, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return errors.Annotate(err, "can not make new request")
	}
	return errors.Trace(c.do(req, result))
}

// Head implements RESTClient.
func (c *HTTPRESTClient) Head(ctx context.Context, u *url.URL) (int, error) {
	req, err := http.NewRequestWithContext(ctx, "HEAD", u.String(), nil)
	if err != nil {
		return 0, errors.Annotate(err, "can not make new request")
	}
	resp, err := c.transport.Do(req)
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, nil
}

// Put implements RESTClient.
func (c *HTTPRESTClient) Put(ctx context.Context, u *url.URL, body, result interface{}) error {
	buffer := new(bytes.Buffer)
	if err := json.NewEncoder(buffer).Encode(body); err != nil {
		return errors.Trace(err)
	}
	req, err := http.NewRequestWithContext(ctx, "PUT", u.String(), buffer)
	if err != nil {
		return errors.Annotate(err, "can not make new request")
	}
	req.Header.Set("Content-Type", JSON)
	return errors.Trace(c.do(req, result))
}

// PutRaw implements RESTClient.
func (c *HTTPRESTClient) PutRaw(ctx context.Context, u *url.URL, contentType MIME, body io.Reader, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "PUT", u.String(), body)
	if err != nil {
		return errors.Annotate(err, "can not make new request")
	}
	req.Header.Set("Content-Type", contentType)
	return errors.Trace(c.do(req, result))
}

// Delete implements RESTClient.
func (c *HTTPRESTClient) Delete(ctx context.Context, u *url.URL, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", u.String(), nil)
	if err != nil {
		return errors.Annotate(err, "can not make new request")
	}
	return errors.Trace(c.do(req, result))
}

func (c *HTTPRESTClient) do(req *http.Request, result interface{}) error {
	req.Header.Set("Accept", JSON)

	resp, err := c.transport.Do(req)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return errors.Trace(unmarshalError(resp))
	}
	if result == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := httprequest.UnmarshalJSONResponse(resp, result); err != nil {
		return errors.Annotate(err, "cannot unmarshal response")
	}
	return nil
}

// unmarshalError decodes the error document carried by a non-success
// response and maps it onto the standard error kinds. A response
// without a decodable error document is reported by status alone.
func unmarshalError(resp *http.Response) error {
	var apiErr transport.APIError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Name == "" {
		return errors.Errorf("unexpected response status %q", resp.Status)
	}
	return apiErr.AsError(resp.StatusCode)
}
