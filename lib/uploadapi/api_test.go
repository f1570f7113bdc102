// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package uploadapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bureau-foundation/reassembly/lib/catalog"
	"github.com/bureau-foundation/reassembly/lib/clock"
	"github.com/bureau-foundation/reassembly/lib/fingerprint"
	"github.com/bureau-foundation/reassembly/lib/scratch"
	"github.com/bureau-foundation/reassembly/lib/testutil"
	"github.com/bureau-foundation/reassembly/lib/upload"
)

type testServer struct {
	client *Client
	url    string
	engine *upload.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()
	clk := clock.Real()

	store, err := scratch.New(filepath.Join(root, "scratch"), scratch.Options{})
	if err != nil {
		t.Fatalf("scratch.New: %v", err)
	}
	assembler, err := upload.NewFileAssembler(filepath.Join(root, "artifacts"), clk, nil)
	if err != nil {
		t.Fatalf("NewFileAssembler: %v", err)
	}
	artifactCatalog, err := catalog.Open(filepath.Join(root, "catalog.db"), clk, nil)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	engine, err := upload.New(upload.Options{
		Store:        store,
		Assembler:    assembler,
		Catalog:      artifactCatalog,
		Clock:        clk,
		MaxChunkSize: 8192,
	})
	if err != nil {
		t.Fatalf("upload.New: %v", err)
	}

	server := httptest.NewServer(NewHandler(HandlerConfig{
		Engine:       engine,
		Artifacts:    artifactCatalog,
		MaxChunkSize: 8192,
		Logger:       testLogger(),
	}))
	t.Cleanup(func() {
		server.Close()
		engine.Close(context.Background())
		artifactCatalog.Close()
	})
	return &testServer{client: New(server.URL, server.Client()), url: server.URL, engine: engine}
}

func requireKind(t *testing.T, err error, want error, wantStatus int) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want %v", err, want)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v is not an *Error", err)
	}
	if apiErr.StatusCode != wantStatus {
		t.Errorf("status = %d, want %d", apiErr.StatusCode, wantStatus)
	}
}

func TestUploadOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	data := testutil.Payload(7, 3*4096)
	chunks := testutil.Split(t, data, 4096)

	status, err := ts.client.Register(ctx, upload.RegisterRequest{
		Name:           "image.bin",
		ExpectedChunks: 3,
		TotalSize:      int64(len(data)),
		ChunkSize:      4096,
		ExpectedDigest: fingerprint.Digest(fingerprint.XXH64, data),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if status.ID == "" || status.State != upload.StateActive {
		t.Fatalf("Register status = %+v", status)
	}
	id := status.ID

	_, err = ts.client.Finalize(ctx, id)
	requireKind(t, err, upload.ErrPending, http.StatusAccepted)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for _, index := range []int{2, 0, 1} {
		wg.Go(func() {
			expected := fingerprint.Digest(fingerprint.XXH64, chunks[index])
			if _, err := ts.client.SubmitChunk(ctx, id, index, chunks[index], expected); err != nil {
				errs <- fmt.Errorf("chunk %d: %w", index, err)
			}
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	status, err = ts.client.Status(ctx, id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != upload.StateComplete || status.ReceivedBytes != 12288 {
		t.Fatalf("status after upload = %+v", status)
	}

	artifact, err := ts.client.Finalize(ctx, id)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if artifact.Size != 12288 || artifact.Chunks != 3 {
		t.Errorf("artifact = %+v", artifact)
	}
	written, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	if !bytes.Equal(written, data) {
		t.Error("artifact bytes differ from the uploaded data")
	}

	again, err := ts.client.Finalize(ctx, id)
	if err != nil {
		t.Fatalf("repeated Finalize: %v", err)
	}
	if again.Path != artifact.Path || again.Digest != artifact.Digest {
		t.Errorf("repeated Finalize = %+v, want %+v", again, artifact)
	}

	entries, err := ts.client.Artifacts(ctx, 10)
	if err != nil {
		t.Fatalf("Artifacts: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id {
		t.Errorf("Artifacts = %+v", entries)
	}
}

func TestChunkErrorsOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	status, err := ts.client.Register(ctx, upload.RegisterRequest{ID: "errors", ExpectedChunks: 2})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err = ts.client.Register(ctx, upload.RegisterRequest{ID: status.ID, ExpectedChunks: 2})
	requireKind(t, err, upload.ErrDuplicateSession, http.StatusConflict)

	first := []byte("first version")
	result, err := ts.client.SubmitChunk(ctx, status.ID, 0, first, fingerprint.Fingerprint{})
	if err != nil {
		t.Fatalf("SubmitChunk: %v", err)
	}
	if result.Outcome != upload.OutcomeAccepted {
		t.Errorf("outcome = %v, want accepted", result.Outcome)
	}
	result, err = ts.client.SubmitChunk(ctx, status.ID, 0, first, fingerprint.Fingerprint{})
	if err != nil || result.Outcome != upload.OutcomeDuplicate {
		t.Errorf("resubmission = %+v, %v; want duplicate", result, err)
	}

	_, err = ts.client.SubmitChunk(ctx, status.ID, 0, []byte("second version"), fingerprint.Fingerprint{})
	requireKind(t, err, upload.ErrChunkHashMismatch, http.StatusConflict)

	_, err = ts.client.SubmitChunk(ctx, status.ID, 5, first, fingerprint.Fingerprint{})
	requireKind(t, err, upload.ErrChunkIndexOutOfRange, http.StatusBadRequest)

	_, err = ts.client.SubmitChunk(ctx, status.ID, 1, make([]byte, 8193), fingerprint.Fingerprint{})
	requireKind(t, err, upload.ErrChunkSizeMismatch, http.StatusBadRequest)

	_, err = ts.client.Status(ctx, "missing")
	requireKind(t, err, upload.ErrUnknownSession, http.StatusNotFound)
}

func TestCancelOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	status, err := ts.client.Register(ctx, upload.RegisterRequest{ExpectedChunks: 4})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := ts.client.SubmitChunk(ctx, status.ID, 1, []byte("partial"), fingerprint.Fingerprint{}); err != nil {
		t.Fatalf("SubmitChunk: %v", err)
	}

	sessions, err := ts.client.Sessions(ctx)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("Sessions = %+v, %v", sessions, err)
	}

	if err := ts.client.Cancel(ctx, status.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	_, err = ts.client.SubmitChunk(ctx, status.ID, 2, []byte("late"), fingerprint.Fingerprint{})
	requireKind(t, err, upload.ErrUnknownSession, http.StatusNotFound)
}

func TestMalformedRequests(t *testing.T) {
	ts := newTestServer(t)
	if _, err := ts.client.Register(context.Background(), upload.RegisterRequest{ID: "m", ExpectedChunks: 1}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		header http.Header
		body   string
		want   int
	}{
		{name: "unknown register field", method: http.MethodPost, path: "/uploads", body: `{"expected_chunks":1,"bogus":true}`, want: http.StatusBadRequest},
		{name: "zero chunks", method: http.MethodPost, path: "/uploads", body: `{"expected_chunks":0}`, want: http.StatusBadRequest},
		{name: "non-numeric index", method: http.MethodPut, path: "/uploads/m/chunks/first", body: "x", want: http.StatusBadRequest},
		{
			name:   "bad fingerprint header",
			method: http.MethodPut,
			path:   "/uploads/m/chunks/0",
			header: http.Header{FingerprintHeader: {"md5:00"}},
			body:   "x",
			want:   http.StatusBadRequest,
		},
		{name: "cancel unknown", method: http.MethodDelete, path: "/uploads/nobody", want: http.StatusNoContent},
		{name: "health", method: http.MethodGet, path: "/healthz", want: http.StatusOK},
		{name: "bad limit", method: http.MethodGet, path: "/artifacts?limit=many", want: http.StatusBadRequest},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			request, err := http.NewRequest(test.method, ts.url+test.path, strings.NewReader(test.body))
			if err != nil {
				t.Fatal(err)
			}
			for key, values := range test.header {
				request.Header[key] = values
			}
			response, err := http.DefaultClient.Do(request)
			if err != nil {
				t.Fatalf("%s %s: %v", test.method, test.path, err)
			}
			response.Body.Close()
			if response.StatusCode != test.want {
				t.Errorf("status = %d, want %d", response.StatusCode, test.want)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{upload.ErrPending, http.StatusAccepted},
		{upload.ErrUnknownSession, http.StatusNotFound},
		{upload.ErrChunkHashMismatch, http.StatusConflict},
		{upload.ErrAlreadyComplete, http.StatusConflict},
		{upload.ErrSessionExpired, http.StatusGone},
		{upload.ErrCapacityExceeded, http.StatusServiceUnavailable},
		{upload.ErrAssemblyFailure, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: %w", upload.ErrAssemblyFailure, upload.ErrChunkHashMismatch), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: %w", upload.ErrSessionFailed, upload.ErrIOFailure), http.StatusUnprocessableEntity},
		{upload.ErrIOFailure, http.StatusInternalServerError},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}
	for _, test := range tests {
		wrapped := &upload.SessionError{ID: "u", Index: -1, Err: test.err}
		if got := StatusCode(wrapped); got != test.want {
			t.Errorf("StatusCode(%v) = %d, want %d", test.err, got, test.want)
		}
	}
}
