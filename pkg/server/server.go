/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package server exposes loaded vocabularies over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vmihailenco/msgpack/v5"
	"k8s.io/klog/v2"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/metrics"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/tokenization"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/utils/logging"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocab"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocabmap"
)

// MIMEMsgpack selects msgpack request and response bodies.
const MIMEMsgpack = "application/msgpack"

const shutdownTimeout = 5 * time.Second

// Server serves encoding queries against a tokenization.Registry.
type Server struct {
	registry *tokenization.Registry
	pool     *tokenization.Pool
	engine   *gin.Engine
}

// New creates a Server. Batch encoding is served only when pool is not nil;
// the caller runs the pool.
func New(registry *tokenization.Registry, pool *tokenization.Pool) *Server {
	metrics.Register()

	s := &Server{
		registry: registry,
		pool:     pool,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{})))

	v1 := s.engine.Group("/v1/vocabs")
	v1.GET("", s.LoadedHandler)
	v1.POST("/:name/pieces", s.PiecesHandler)
	v1.POST("/:name/ids", s.IDsHandler)
	v1.POST("/:name/ids/stack", s.StackHandler)
	v1.POST("/:name/ids/batch", s.BatchHandler)
	v1.GET("/:name/lookup", s.LookupHandler)
	v1.GET("/:name/rlookup/:id", s.RLookupHandler)
	v1.POST("/:name/decode", s.DecodeHandler)
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	klog.FromContext(ctx).Info("serving vocabularies", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		klog.FromContext(c.Request.Context()).V(logging.DEBUG).WithName("server").Info("request",
			"method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func isMsgpack(header string) bool {
	return strings.HasPrefix(header, MIMEMsgpack)
}

// bind decodes the request body as msgpack or JSON by its content type.
func bind(c *gin.Context, obj any) error {
	if isMsgpack(c.ContentType()) {
		if err := msgpack.NewDecoder(c.Request.Body).Decode(obj); err != nil {
			return fmt.Errorf("invalid msgpack body: %w", err)
		}
		return nil
	}
	return c.ShouldBindJSON(obj)
}

// respond encodes obj as msgpack when the client accepts it, JSON otherwise.
func respond(c *gin.Context, status int, obj any) {
	if isMsgpack(c.GetHeader("Accept")) {
		b, err := msgpack.Marshal(obj)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
			return
		}
		c.Data(status, MIMEMsgpack, b)
		return
	}
	c.JSON(status, obj)
}

func fail(c *gin.Context, err error) {
	respond(c, statusFor(err), ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tokenization.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, vocab.ErrUnknownID):
		return http.StatusNotFound
	case errors.Is(err, vocabmap.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, tokenization.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) LoadedHandler(c *gin.Context) {
	respond(c, http.StatusOK, LoadedResponse{Loaded: s.registry.Loaded()})
}

func (s *Server) PiecesHandler(c *gin.Context) {
	var req PiecesRequest
	if err := bind(c, &req); err != nil {
		respond(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	enc, err := s.registry.Encode(c.Request.Context(), c.Param("name"), req.Tokens, 0)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, PiecesResponse{Pieces: enc.Pieces})
}

func (s *Server) IDsHandler(c *gin.Context) {
	var req IDsRequest
	if err := bind(c, &req); err != nil {
		respond(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	enc, err := s.registry.Encode(c.Request.Context(), c.Param("name"), req.Tokens, req.MaxLen)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, enc)
}

func (s *Server) StackHandler(c *gin.Context) {
	var req StackRequest
	if err := bind(c, &req); err != nil {
		respond(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.Length <= 0 {
		respond(c, http.StatusBadRequest, ErrorResponse{Error: "length must be positive"})
		return
	}

	ids, lengths, err := s.registry.EncodeStack(c.Request.Context(), c.Param("name"), req.Batch, req.Length)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, StackResponse{IDs: ids, Lengths: lengths})
}

func (s *Server) BatchHandler(c *gin.Context) {
	if s.pool == nil {
		respond(c, http.StatusNotImplemented, ErrorResponse{Error: "batch encoding is disabled"})
		return
	}

	var req BatchRequest
	if err := bind(c, &req); err != nil {
		respond(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	encodings, err := s.pool.EncodeBatch(c.Request.Context(), c.Param("name"), req.Batch, req.MaxLen)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, BatchResponse{Encodings: encodings})
}

func (s *Server) LookupHandler(c *gin.Context) {
	token, ok := c.GetQuery("token")
	if !ok {
		respond(c, http.StatusBadRequest, ErrorResponse{Error: "missing token query parameter"})
		return
	}

	id, err := s.registry.Lookup(c.Request.Context(), c.Param("name"), token)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, LookupResponse{Token: token, ID: id})
}

func (s *Server) RLookupHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respond(c, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid id %q", c.Param("id"))})
		return
	}

	piece, err := s.registry.RLookup(c.Request.Context(), c.Param("name"), uint32(id))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, RLookupResponse{ID: uint32(id), Piece: piece})
}

func (s *Server) DecodeHandler(c *gin.Context) {
	var req DecodeRequest
	if err := bind(c, &req); err != nil {
		respond(c, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	text, err := s.registry.Decode(c.Request.Context(), c.Param("name"), req.IDs)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, DecodeResponse{Text: text})
}
