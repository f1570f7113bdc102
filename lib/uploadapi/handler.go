// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package uploadapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bureau-foundation/reassembly/lib/catalog"
	"github.com/bureau-foundation/reassembly/lib/fingerprint"
	"github.com/bureau-foundation/reassembly/lib/upload"
)

// Engine is the part of *upload.Engine the handler drives.
type Engine interface {
	Register(ctx context.Context, request upload.RegisterRequest) (upload.Status, error)
	SubmitChunk(ctx context.Context, id string, index int, payload []byte, expected fingerprint.Fingerprint) (upload.SubmitResult, error)
	Status(id string) (upload.Status, error)
	Sessions() []upload.Status
	Finalize(ctx context.Context, id string) (*upload.Artifact, error)
	Cancel(ctx context.Context, id string) error
}

// ArtifactLister lists finalized artifacts. *catalog.Catalog
// implements it.
type ArtifactLister interface {
	List(ctx context.Context, limit int) ([]catalog.Entry, error)
}

// HandlerConfig configures NewHandler.
type HandlerConfig struct {
	// Engine is required.
	Engine Engine

	// Artifacts serves GET /artifacts. Without it the route answers
	// 404.
	Artifacts ArtifactLister

	// MaxChunkSize caps a chunk request body. Zero means 64 MiB.
	MaxChunkSize int64

	// Logger is required.
	Logger *slog.Logger
}

type handler struct {
	engine       Engine
	artifacts    ArtifactLister
	maxChunkSize int64
	logger       *slog.Logger
}

// maxRegisterBody bounds a registration request.
const maxRegisterBody = 64 << 10

// NewHandler returns the HTTP handler for the upload API.
func NewHandler(config HandlerConfig) http.Handler {
	if config.Engine == nil {
		panic("uploadapi.NewHandler: Engine is required")
	}
	if config.Logger == nil {
		panic("uploadapi.NewHandler: Logger is required")
	}
	if config.MaxChunkSize == 0 {
		config.MaxChunkSize = 64 << 20
	}
	h := &handler{
		engine:       config.Engine,
		artifacts:    config.Artifacts,
		maxChunkSize: config.MaxChunkSize,
		logger:       config.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /uploads", h.handleRegister)
	mux.HandleFunc("GET /uploads", h.handleSessions)
	mux.HandleFunc("GET /uploads/{id}", h.handleStatus)
	mux.HandleFunc("PUT /uploads/{id}/chunks/{index}", h.handleSubmit)
	mux.HandleFunc("POST /uploads/{id}/finalize", h.handleFinalize)
	mux.HandleFunc("DELETE /uploads/{id}", h.handleCancel)
	mux.HandleFunc("GET /artifacts", h.handleArtifacts)
	mux.HandleFunc("GET /healthz", func(writer http.ResponseWriter, _ *http.Request) {
		writeJSON(writer, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func (h *handler) handleRegister(writer http.ResponseWriter, request *http.Request) {
	var register upload.RegisterRequest
	decoder := json.NewDecoder(http.MaxBytesReader(writer, request.Body, maxRegisterBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&register); err != nil {
		h.writeError(writer, request, fmt.Errorf("%w: decoding request: %w", upload.ErrInvalidRequest, err))
		return
	}
	status, err := h.engine.Register(request.Context(), register)
	if err != nil {
		h.writeError(writer, request, err)
		return
	}
	writer.Header().Set("Location", "/uploads/"+status.ID)
	writeJSON(writer, http.StatusCreated, status)
}

func (h *handler) handleSessions(writer http.ResponseWriter, request *http.Request) {
	sessions := h.engine.Sessions()
	if sessions == nil {
		sessions = []upload.Status{}
	}
	writeJSON(writer, http.StatusOK, sessions)
}

func (h *handler) handleStatus(writer http.ResponseWriter, request *http.Request) {
	status, err := h.engine.Status(request.PathValue("id"))
	if err != nil {
		h.writeError(writer, request, err)
		return
	}
	writeJSON(writer, http.StatusOK, status)
}

func (h *handler) handleSubmit(writer http.ResponseWriter, request *http.Request) {
	id := request.PathValue("id")
	index, err := strconv.Atoi(request.PathValue("index"))
	if err != nil {
		h.writeError(writer, request, fmt.Errorf("%w: chunk index %q is not an integer",
			upload.ErrInvalidRequest, request.PathValue("index")))
		return
	}

	var expected fingerprint.Fingerprint
	if header := request.Header.Get(FingerprintHeader); header != "" {
		expected, err = fingerprint.Parse(header)
		if err != nil {
			h.writeError(writer, request, fmt.Errorf("%w: %s header: %w", upload.ErrInvalidRequest, FingerprintHeader, err))
			return
		}
	}

	payload, err := io.ReadAll(http.MaxBytesReader(writer, request.Body, h.maxChunkSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(writer, request, fmt.Errorf("%w: chunk exceeds %d bytes", upload.ErrChunkSizeMismatch, tooLarge.Limit))
			return
		}
		h.writeError(writer, request, fmt.Errorf("%w: reading chunk body: %w", upload.ErrInvalidRequest, err))
		return
	}

	result, err := h.engine.SubmitChunk(request.Context(), id, index, payload, expected)
	if err != nil {
		h.writeError(writer, request, err)
		return
	}
	code := http.StatusCreated
	if result.Outcome == upload.OutcomeDuplicate {
		code = http.StatusOK
	}
	writeJSON(writer, code, result)
}

func (h *handler) handleFinalize(writer http.ResponseWriter, request *http.Request) {
	artifact, err := h.engine.Finalize(request.Context(), request.PathValue("id"))
	if err != nil {
		h.writeError(writer, request, err)
		return
	}
	writeJSON(writer, http.StatusOK, artifact)
}

func (h *handler) handleCancel(writer http.ResponseWriter, request *http.Request) {
	if err := h.engine.Cancel(request.Context(), request.PathValue("id")); err != nil {
		h.writeError(writer, request, err)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleArtifacts(writer http.ResponseWriter, request *http.Request) {
	if h.artifacts == nil {
		writeJSON(writer, http.StatusNotFound, ErrorResponse{Error: "no artifact catalog configured"})
		return
	}
	limit := 0
	if text := request.URL.Query().Get("limit"); text != "" {
		parsed, err := strconv.Atoi(text)
		if err != nil || parsed < 0 {
			h.writeError(writer, request, fmt.Errorf("%w: limit %q", upload.ErrInvalidRequest, text))
			return
		}
		limit = parsed
	}
	entries, err := h.artifacts.List(request.Context(), limit)
	if err != nil {
		h.writeError(writer, request, fmt.Errorf("%w: listing artifacts: %w", upload.ErrIOFailure, err))
		return
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	writeJSON(writer, http.StatusOK, entries)
}

// StatusCode maps an engine error to an HTTP status. Failed sessions
// and assemblies map to 422 even when the cause they wrap has a status
// of its own.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, upload.ErrPending):
		return http.StatusAccepted
	case errors.Is(err, upload.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, upload.ErrSessionFailed),
		errors.Is(err, upload.ErrAssemblyFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, upload.ErrDuplicateSession),
		errors.Is(err, upload.ErrChunkHashMismatch),
		errors.Is(err, upload.ErrAlreadyComplete):
		return http.StatusConflict
	case errors.Is(err, upload.ErrChunkIndexOutOfRange),
		errors.Is(err, upload.ErrChunkSizeMismatch),
		errors.Is(err, upload.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, upload.ErrCapacityExceeded),
		errors.Is(err, upload.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(writer http.ResponseWriter, request *http.Request, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", request.Method,
			"path", request.URL.Path,
			"status", code,
			"error", err,
		)
	}
	writeJSON(writer, code, ErrorResponse{Error: err.Error(), Kind: upload.Kind(err)})
}

func writeJSON(writer http.ResponseWriter, code int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(code)
	json.NewEncoder(writer).Encode(value)
}
