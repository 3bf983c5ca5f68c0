package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// HandlerFunc implements one tool. Returning an *ErrorObject sends a
// structured error; any other error is sent as a plain string.
type HandlerFunc func(ctx context.Context, params map[string]any) (any, error)

// Server is the worker side of the protocol: a table of named tools served
// over a line-delimited stream.
type Server struct {
	name string

	mu    sync.RWMutex
	tools map[string]HandlerFunc
}

// NewServer creates an empty tool server.
func NewServer(name string) *Server {
	return &Server{name: name, tools: make(map[string]HandlerFunc)}
}

// Name returns the server name.
func (s *Server) Name() string {
	return s.name
}

// Register adds or replaces a tool. It returns s so registrations chain.
func (s *Server) Register(name string, handler HandlerFunc) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[name] = handler
	return s
}

// Tools lists the registered tool names in sorted order.
func (s *Server) Tools() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Serve answers requests read from r until EOF or ctx is done. Blank lines
// are ignored.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	out := bufio.NewWriter(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		resp := s.Handle(ctx, line)
		encoded, err := json.Marshal(resp)
		if err != nil {
			encoded, _ = json.Marshal(errorResponse(resp.ID, fmt.Sprintf("encode response: %v", err)))
		}
		if _, err := out.Write(append(encoded, '\n')); err != nil {
			return err
		}
		if err := out.Flush(); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Handle answers one request line.
func (s *Server) Handle(ctx context.Context, line []byte) *Response {
	var req struct {
		ID     *uint64        `json:"id"`
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(nil, fmt.Sprintf("invalid request: %v", err))
	}

	s.mu.RLock()
	handler, ok := s.tools[req.Method]
	s.mu.RUnlock()
	if !ok {
		return errorResponse(req.ID, fmt.Sprintf("Unknown method: %s", req.Method))
	}

	if req.Params == nil {
		req.Params = map[string]any{}
	}
	result, err := invoke(ctx, handler, req.Params)
	if err != nil {
		var obj *ErrorObject
		if errors.As(err, &obj) {
			raw, merr := json.Marshal(obj)
			if merr == nil {
				return &Response{ID: req.ID, Error: raw}
			}
		}
		return errorResponse(req.ID, err.Error())
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, fmt.Sprintf("encode result: %v", err))
	}
	return &Response{ID: req.ID, Result: raw}
}

func invoke(ctx context.Context, handler HandlerFunc, params map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return handler(ctx, params)
}

func errorResponse(id *uint64, message string) *Response {
	raw, _ := json.Marshal(message)
	return &Response{ID: id, Error: raw}
}
