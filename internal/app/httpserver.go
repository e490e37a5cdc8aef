package app

import (
	"context"
	"net/http"
	"time"

	"github.com/fnplane/controlplane/internal/app/system"
	"github.com/fnplane/controlplane/pkg/logger"
)

// httpServer adapts an http.Handler into a system.Service so the listener's
// lifecycle is driven by the same Start/Stop as the reconciler, grounded on
// the teacher's internal/app/httpapi.Service.
type httpServer struct {
	addr    string
	handler http.Handler
	log     *logger.Logger
	server  *http.Server
}

// NewHTTPServer wraps the Request API's handler as a lifecycle-managed
// listener bound to addr.
func NewHTTPServer(addr string, handler http.Handler, log *logger.Logger) system.Service {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return &httpServer{addr: addr, handler: handler, log: log}
}

func (s *httpServer) Name() string { return "http" }

func (s *httpServer) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("http server error")
		}
	}()
	return nil
}

func (s *httpServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
