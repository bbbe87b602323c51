// Package httpserver wraps a net/http.Server as a system.Service, one per
// protocol adapter listener plus the control-plane and metrics listeners.
//
// Grounded on the teacher's internal/app/httpapi/service.go Service type:
// ListenAndServe runs on a background goroutine logging only a non-clean
// shutdown error, and Stop calls Shutdown with the caller's context.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corestack-dev/corestack/internal/app/system"
)

// Service is one named HTTP listener managed by the application's
// lifecycle manager.
type Service struct {
	name    string
	addr    string
	handler http.Handler
	log     *logrus.Entry
	server  *http.Server
}

// New constructs a listener service. name identifies it in logs and for
// system.Manager; addr is the bind address (e.g. ":9001").
func New(name, addr string, handler http.Handler, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{name: name, addr: addr, handler: handler, log: log}
}

var _ system.Service = (*Service)(nil)

// Name identifies this listener for system.Manager.
func (s *Service) Name() string { return s.name }

// Start launches ListenAndServe on a background goroutine.
func (s *Service) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithField("listener", s.name).WithError(err).Error("http listener exited")
		}
	}()
	return nil
}

// Stop gracefully shuts down the listener.
func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
