// Package omietest runs an in-process fake of the Omie API for tests.
package omietest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"omiebridge/internal/config"
)

const (
	AppKey    = "test-app-key"
	AppSecret = "test-app-secret"
)

// Request is one RPC as received by the fake.
type Request struct {
	Path      string
	Call      string
	AppKey    string
	AppSecret string
	Param     map[string]any
}

// Int reads a numeric parameter, 0 when absent.
func (r Request) Int(key string) int {
	switch v := r.Param[key].(type) {
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// String reads a string parameter.
func (r Request) String(key string) string {
	s, _ := r.Param[key].(string)
	return s
}

// Handler answers one call. A string body is written verbatim, anything else is JSON encoded.
type Handler func(req Request) (status int, body any)

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Request
}

// NewServer starts a fake closed by t.Cleanup. Unhandled calls answer with an Omie style fault.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{handlers: map[string]Handler{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Handle registers h for an Omie call name, replacing any previous handler.
func (s *Server) Handle(call string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[call] = h
}

// Calls returns the received requests for call, or all of them when call is "".
func (s *Server) Calls(call string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, c := range s.calls {
		if call == "" || c.Call == call {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Config points an Omie client at the fake with retries disabled.
func (s *Server) Config() config.OmieConfig {
	return config.OmieConfig{
		AppKey:     AppKey,
		AppSecret:  AppSecret,
		BaseURL:    s.URL,
		HTTPClient: s.Client(),
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var envelope struct {
		Call      string           `json:"call"`
		AppKey    string           `json:"app_key"`
		AppSecret string           `json:"app_secret"`
		Param     []map[string]any `json:"param"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeJSON(w, http.StatusInternalServerError, Fault("SOAP-ENV:Client-100", "invalid JSON: "+err.Error()))
		return
	}
	req := Request{
		Path:      r.URL.Path,
		Call:      envelope.Call,
		AppKey:    envelope.AppKey,
		AppSecret: envelope.AppSecret,
	}
	if len(envelope.Param) > 0 {
		req.Param = envelope.Param[0]
	}

	s.mu.Lock()
	s.calls = append(s.calls, req)
	h, ok := s.handlers[req.Call]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusInternalServerError, Fault("SOAP-ENV:Client-103", fmt.Sprintf("Method %s not implemented", req.Call)))
		return
	}
	status, out := h(req)
	writeJSON(w, status, out)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if s, ok := body.(string); ok {
		_, _ = io.WriteString(w, s)
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// Fault builds the body Omie sends for business errors.
func Fault(code, message string) map[string]any {
	return map[string]any{"faultstring": message, "faultcode": code}
}

// NoRecords is the fault Omie sends for a page past the end of the data.
func NoRecords(page int) map[string]any {
	return Fault("SOAP-ENV:Client-5113", fmt.Sprintf("ERROR: Não existem registros para a página [%d]!", page))
}

// StockPages serves ListarPosEstoque from pages, 1-based, reporting len(pages) as the total.
func StockPages(pages ...[]map[string]any) Handler {
	return func(req Request) (int, any) {
		n := req.Int("nPagina")
		if n < 1 || n > len(pages) {
			return http.StatusInternalServerError, NoRecords(n)
		}
		return http.StatusOK, map[string]any{
			"nPagina":       n,
			"nTotPaginas":   len(pages),
			"nRegistros":    len(pages[n-1]),
			"nTotRegistros": countAll(pages),
			"produtos":      pages[n-1],
		}
	}
}

// ProductPages serves ListarProdutos from pages, 1-based, reporting len(pages) as the total.
func ProductPages(pages ...[]map[string]any) Handler {
	return func(req Request) (int, any) {
		n := req.Int("pagina")
		if n < 1 || n > len(pages) {
			return http.StatusInternalServerError, NoRecords(n)
		}
		return http.StatusOK, map[string]any{
			"pagina":                   n,
			"total_de_paginas":         len(pages),
			"registros":                len(pages[n-1]),
			"total_de_registros":       countAll(pages),
			"produto_servico_cadastro": pages[n-1],
		}
	}
}

func countAll(pages [][]map[string]any) int {
	total := 0
	for _, p := range pages {
		total += len(p)
	}
	return total
}
