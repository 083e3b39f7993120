package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"asciidocartisan/engine/internal/logging"
)

const (
	jsonRPCVersion = "2.0"
	maxMessageSize = 10 * 1024 * 1024
)

// JSON-RPC 2.0 error codes. Handler failures use CodeServerError and carry
// an errinfo payload in data.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	APIVer  string          `json:"api_version,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type Handler func(ctx context.Context, params json.RawMessage) (any, *Error)

// Error is returned by handlers. A zero Code means CodeServerError.
type Error struct {
	Code    int
	Message string
	Data    any
}

// InvalidParams builds the error for params that do not decode or validate.
func InvalidParams(message string, data any) *Error {
	return &Error{Code: CodeInvalidParams, Message: message, Data: data}
}

type Server struct {
	apiVersion string
	reader     *bufio.Reader
	writer     *bufio.Writer
	mu         sync.Mutex
	handlers   map[string]Handler
	logger     *slog.Logger
	inflight   sync.WaitGroup
}

func NewServer(apiVersion string, r io.Reader, w io.Writer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		apiVersion: apiVersion,
		reader:     bufio.NewReader(r),
		writer:     bufio.NewWriter(w),
		handlers:   make(map[string]Handler),
		logger:     logger,
	}
}

func (s *Server) Register(method string, handler Handler) {
	s.handlers[method] = handler
}

// Serve reads newline-delimited requests until EOF. Handlers run
// concurrently; Serve returns only after every started handler has replied.
func (s *Server) Serve(ctx context.Context) error {
	defer s.inflight.Wait()
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.logger.Error("rpc.read_failed", "error", err.Error())
			return err
		}
		s.dispatch(ctx, line)
		if err != nil {
			return nil
		}
	}
}

func (s *Server) dispatch(ctx context.Context, line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	if len(line) > maxMessageSize {
		s.logger.Warn("rpc.message_too_large", "bytes", len(line))
		s.sendError(nil, CodeInvalidRequest, "message too large", nil)
		return
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Warn("rpc.invalid_json", "error", err.Error())
		s.sendError(nil, CodeParseError, "invalid json", nil)
		return
	}
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		s.logger.Warn("rpc.invalid_request", "version", req.JSONRPC, "method", req.Method)
		s.sendError(req.ID, CodeInvalidRequest, "invalid jsonrpc request", nil)
		return
	}
	if req.APIVer != "" && req.APIVer != s.apiVersion {
		s.logger.Warn("rpc.incompatible_version", "requested", req.APIVer, "expected", s.apiVersion)
		s.sendError(req.ID, CodeInvalidRequest, "incompatible api_version", map[string]string{"expected": s.apiVersion})
		return
	}
	handler, ok := s.handlers[req.Method]
	if !ok {
		s.logger.Warn("rpc.method_not_found", "method", req.Method)
		s.sendError(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
		return
	}
	s.logger.Debug("rpc.request", "method", req.Method, "id", string(req.ID), "params", logging.RedactJSON(req.Params))
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.handleRequest(ctx, req, handler)
	}()
}

func (s *Server) handleRequest(ctx context.Context, req Request, handler Handler) {
	result, rerr := s.call(ctx, req, handler)
	if req.ID == nil {
		return
	}
	if rerr != nil {
		code := rerr.Code
		if code == 0 {
			code = CodeServerError
		}
		s.logger.Warn("rpc.response_error", "method", req.Method, "id", string(req.ID), "code", code, "error", logging.RedactAny(rerr.Data))
		s.sendError(req.ID, code, rerr.Message, rerr.Data)
		return
	}
	s.logger.Debug("rpc.response", "method", req.Method, "id", string(req.ID))
	s.send(Response{JSONRPC: jsonRPCVersion, ID: req.ID, Result: result})
}

func (s *Server) call(ctx context.Context, req Request, handler Handler) (result any, rerr *Error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("rpc.handler_panic", "method", req.Method, "panic", fmt.Sprint(rec))
			result = nil
			rerr = &Error{Code: CodeServerError, Message: "internal error"}
		}
	}()
	return handler(ctx, req.Params)
}

func (s *Server) Notify(method string, params any) {
	s.logger.Debug("rpc.notify", "method", method)
	s.send(Notification{JSONRPC: jsonRPCVersion, Method: method, Params: params})
}

func (s *Server) sendError(id json.RawMessage, code int, message string, data any) {
	s.send(Response{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &ErrorPayload{Code: code, Message: message, Data: data},
	})
}

func (s *Server) send(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("rpc.marshal_failed", "error", err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.writer.Write(append(data, '\n'))
	_ = s.writer.Flush()
}
