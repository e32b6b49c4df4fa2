// Package api is the REST boundary over the pipeline: request parsing and
// response formatting only, no pipeline logic.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/monitor"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/pipeline"
)

type Server struct {
	server *http.Server
	hub    *monitor.Hub
	log    *zap.Logger
}

func NewServer(port int, service *pipeline.Service, hub *monitor.Hub, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	h := &handlers{service: service, hub: hub, log: log}
	h.register(mux)

	wrapped := chain(
		recoveryMiddleware(log),
		loggerMiddleware(log),
		corsMiddleware,
	)(mux)

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      wrapped,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute, // evaluation over a large split is slow
			IdleTimeout:  120 * time.Second,
		},
		hub: hub,
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info("http server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.hub.Shutdown(ctx)
	return s.server.Shutdown(ctx)
}
