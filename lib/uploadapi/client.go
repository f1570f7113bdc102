// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package uploadapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bureau-foundation/reassembly/lib/catalog"
	"github.com/bureau-foundation/reassembly/lib/fingerprint"
	"github.com/bureau-foundation/reassembly/lib/upload"
)

// FingerprintHeader carries a chunk's expected fingerprint in
// "<algorithm>:<hex>" form.
const FingerprintHeader = "Chunk-Fingerprint"

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`

	// Kind names the upload error sentinel, see upload.Kind.
	Kind string `json:"kind,omitempty"`
}

// Error is returned for a non-2xx response. It unwraps to the
// matching upload sentinel when the service sent a known kind.
type Error struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("reassembly service: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("reassembly service: %s", e.Message)
}

func (e *Error) Unwrap() error { return upload.KindError(e.Kind) }

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the service at baseURL
// ("http://127.0.0.1:8470"). A nil httpClient uses
// http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: httpClient}
}

// Register creates an upload session.
func (c *Client) Register(ctx context.Context, request upload.RegisterRequest) (upload.Status, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return upload.Status{}, fmt.Errorf("encoding register request: %w", err)
	}
	var status upload.Status
	err = c.do(ctx, http.MethodPost, "/uploads", bytes.NewReader(body), "application/json", nil, &status)
	return status, err
}

// SubmitChunk uploads one chunk. A non-zero expected fingerprint is
// sent for server-side verification.
func (c *Client) SubmitChunk(ctx context.Context, id string, index int, payload []byte, expected fingerprint.Fingerprint) (upload.SubmitResult, error) {
	header := http.Header{}
	if !expected.IsZero() {
		header.Set(FingerprintHeader, expected.String())
	}
	path := "/uploads/" + url.PathEscape(id) + "/chunks/" + strconv.Itoa(index)
	var result upload.SubmitResult
	err := c.do(ctx, http.MethodPut, path, bytes.NewReader(payload), "application/octet-stream", header, &result)
	return result, err
}

// Status reports a session's progress.
func (c *Client) Status(ctx context.Context, id string) (upload.Status, error) {
	var status upload.Status
	err := c.do(ctx, http.MethodGet, "/uploads/"+url.PathEscape(id), nil, "", nil, &status)
	return status, err
}

// Sessions lists every registered session.
func (c *Client) Sessions(ctx context.Context) ([]upload.Status, error) {
	var sessions []upload.Status
	err := c.do(ctx, http.MethodGet, "/uploads", nil, "", nil, &sessions)
	return sessions, err
}

// Finalize acknowledges a complete session. While the session is
// incomplete the error wraps upload.ErrPending.
func (c *Client) Finalize(ctx context.Context, id string) (*upload.Artifact, error) {
	var artifact upload.Artifact
	if err := c.do(ctx, http.MethodPost, "/uploads/"+url.PathEscape(id)+"/finalize", nil, "", nil, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// Cancel aborts a session.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/uploads/"+url.PathEscape(id), nil, "", nil, nil)
}

// Artifacts lists up to limit finalized artifacts, newest first.
func (c *Client) Artifacts(ctx context.Context, limit int) ([]catalog.Entry, error) {
	path := "/artifacts"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var entries []catalog.Entry
	err := c.do(ctx, http.MethodGet, path, nil, "", nil, &entries)
	return entries, err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, header http.Header, result any) error {
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	for key, values := range header {
		request.Header[key] = values
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 || response.StatusCode == http.StatusAccepted {
		return decodeError(response)
	}
	if result == nil || response.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(result); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(response *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(response.Body, 64<<10))
	var decoded ErrorResponse
	if err := json.Unmarshal(data, &decoded); err != nil || decoded.Error == "" {
		return &Error{StatusCode: response.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return &Error{StatusCode: response.StatusCode, Kind: decoded.Kind, Message: decoded.Error}
}
