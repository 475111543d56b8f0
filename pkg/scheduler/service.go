package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"whatsapp-context-scheduler/pkg/config"
)

// Service owns the scheduler's runtime: the HTTP server and the periodic
// stale-state eviction routine.
type Service struct {
	cfg       *config.Config
	logger    *logrus.Logger
	scheduler *Scheduler
	server    *http.Server
}

func NewService(cfg *config.Config, logger *logrus.Logger, scheduler *Scheduler, server *http.Server) *Service {
	return &Service{
		cfg:       cfg,
		logger:    logger,
		scheduler: scheduler,
		server:    server,
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting conversation scheduler service")

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	go s.evictionRoutine(ctx)

	s.logger.WithField("instance_id", s.cfg.InstanceID).Info("Scheduler service started successfully")
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("Stopping scheduler service")

	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("Failed to shutdown HTTP server gracefully")
		}
	}

	if err := s.scheduler.Stop(ctx); err != nil {
		s.logger.WithError(err).Warn("In-flight units did not finish before shutdown deadline")
		return err
	}

	s.logger.Info("Scheduler service stopped")
	return nil
}

func (s *Service) startHTTPServer() error {
	go func() {
		s.logger.WithField("port", s.cfg.Port).Info("Starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	return nil
}

func (s *Service) evictionRoutine(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scheduler.EvictStale(time.Now())
		}
	}
}
