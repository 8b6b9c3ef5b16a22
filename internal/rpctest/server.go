// Package rpctest runs an in-process Solana JSON-RPC endpoint for tests.
package rpctest

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handler answers one method call. Returning a non-nil *Error sends it
// instead of the result.
type Handler func(params json.RawMessage) (any, *Error)

// Server is a fake RPC node. Unregistered methods answer -32601.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]Handler
	calls    map[string]int
}

func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{handlers: map[string]Handler{}, calls: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Handle registers h for method.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Calls reports how many times method was invoked.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

type request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	h := s.handlers[req.Method]
	s.calls[req.Method]++
	s.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if h == nil {
		resp["error"] = Error{Code: -32601, Message: "Method not found"}
	} else if result, rpcErr := h(req.Params); rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}

// ── Canned results ────────────────────────────────────────────────────────────

// AccountInfo is a getAccountInfo result for an account holding data.
func AccountInfo(owner solana.PublicKey, data []byte) map[string]any {
	return map[string]any{
		"context": map[string]any{"slot": 1},
		"value": map[string]any{
			"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
			"executable": false,
			"lamports":   1_000_000,
			"owner":      owner.String(),
			"rentEpoch":  0,
		},
	}
}

// MissingAccount is a getAccountInfo result for an account that does not exist.
func MissingAccount() map[string]any {
	return map[string]any{"context": map[string]any{"slot": 1}, "value": nil}
}

// LookupTableData serializes address lookup table account state.
func LookupTableData(addrs solana.PublicKeySlice, deactivated bool) []byte {
	deactivation := uint64(math.MaxUint64)
	if deactivated {
		deactivation = 42
	}
	authority := solana.SystemProgramID

	out := binary.LittleEndian.AppendUint32(nil, 1)
	out = binary.LittleEndian.AppendUint64(out, deactivation)
	out = binary.LittleEndian.AppendUint64(out, 10)
	out = append(out, 0, 1)
	out = append(out, authority[:]...)
	out = append(out, 0, 0)
	for _, a := range addrs {
		out = append(out, a[:]...)
	}
	return out
}
