// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	dmerr "github.com/deskmux-dev/deskmux/pkg/errors"
)

// defaultHTTPClient is the package-level HTTP client used by daemon
// commands. Overridden in tests via httptest.
var defaultHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// daemonClient provides HTTP access to a running deskmux daemon.
type daemonClient struct {
	baseURL string
	http    *http.Client
}

// newDaemonClient creates a client targeting the given host:port address.
func newDaemonClient(addr string) *daemonClient {
	return &daemonClient{
		baseURL: "http://" + addr,
		http:    defaultHTTPClient,
	}
}

// getJSON performs a GET request and decodes the JSON response into dest.
func (c *daemonClient) getJSON(path string, dest any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return dmerr.Wrap(err, dmerr.CodeCLIRequestFailure, "building request")
	}
	return c.doJSON(req, dest)
}

// postJSON performs a POST with an optional JSON body and decodes the
// response into dest when dest is non-nil.
func (c *daemonClient) postJSON(path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return dmerr.Wrap(err, dmerr.CodeCLIRequestFailure, "encoding request")
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return dmerr.Wrap(err, dmerr.CodeCLIRequestFailure, "building request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.doJSON(req, dest)
}

// deleteJSON performs a DELETE request.
func (c *daemonClient) deleteJSON(path string, dest any) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return dmerr.Wrap(err, dmerr.CodeCLIRequestFailure, "building request")
	}
	return c.doJSON(req, dest)
}

func (c *daemonClient) doJSON(req *http.Request, dest any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if isDialError(err) {
			return dmerr.New(dmerr.CodeCLIDaemonNotRunning, "daemon is not running (connection refused)")
		}
		return dmerr.Wrap(err, dmerr.CodeCLIRequestFailure, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return dmerr.Errorf(dmerr.CodeCLIRequestFailure,
			"daemon returned status %d: %s", resp.StatusCode, string(body))
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return dmerr.Wrap(err, dmerr.CodeCLIRequestFailure, "invalid response")
	}
	return nil
}

// isDialError returns true if err is a net dial error (connection refused).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}

// notRunningMessage renders the standard hint for a refused connection.
func notRunningMessage(addr string) string {
	return fmt.Sprintf("Daemon at %s is not running (connection refused)", addr)
}
