package control

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
)

// Server exposes the control surface over a unix domain socket as a
// single JSON-in/JSON-out endpoint, mirroring the teacher's local
// management API shape (spec §6.3: every call is a request/response
// round trip, never fire-and-forget).
type Server struct {
	*http.Server
	sockFile string
	handler  Handler
}

// Option configures a Server at construction.
type Option func(*Server)

// WithSockFile sets the unix socket path the server listens on.
func WithSockFile(path string) Option {
	return func(s *Server) { s.sockFile = path }
}

// WithBaseContext sets the base context every accepted connection runs
// under.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.BaseContext = func(net.Listener) context.Context { return ctx } }
}

// NewServer builds a Server dispatching every request to h.
func NewServer(h Handler, opts ...Option) *Server {
	s := &Server{Server: &http.Server{}, handler: h}
	for _, o := range opts {
		o(s)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/control", s.handleControl)
	s.Handler = mux
	return s
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, Err(err))
		return
	}
	writeJSON(w, Dispatch(s.handler, req))
}

func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// ListenAndServeUnix removes any stale socket file at sockFile, listens
// on it, and serves until the listener is closed or the context used via
// WithBaseContext is done.
func (s *Server) ListenAndServeUnix() error {
	_ = os.Remove(s.sockFile)
	ln, err := net.Listen("unix", s.sockFile)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}
