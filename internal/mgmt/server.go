// internal/mgmt/server.go
// Thin net/http.Server wrapper binding an API's routes to an address,
// mirroring internal/listener.Listener's Start/Shutdown shape so
// cmd/apron-gateway manages both listeners identically.
package mgmt

import (
	"context"
	"net/http"
)

// Server hosts the Management API on its own address (--mgmt-addr).
type Server struct {
	srv *http.Server
}

// NewServer builds a Server bound to addr, serving api's routes.
func NewServer(addr string, api *API) *Server {
	mux := http.NewServeMux()
	api.Register(mux)
	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

// ListenAndServe blocks serving the Management API until Shutdown is called
// or a listener error occurs; returns nil on graceful shutdown.
func (s *Server) ListenAndServe() error {
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
