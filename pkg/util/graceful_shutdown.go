// Package util holds small process-level helpers.
package util

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// GracefulShutdown runs registered shutdown hooks in priority order.
// Ordering matters for this pipeline: intake stops before the recorder
// flushes, the recorder flushes before the writers drain, and the store
// closes last so every drained item still has somewhere to go.
type GracefulShutdown struct {
	resources []ShutdownResource
	mu        sync.Mutex
	logger    *logrus.Logger
	timeout   time.Duration
}

// ShutdownResource is one resource to shut down. Lower priorities run first.
type ShutdownResource struct {
	Name     string
	Priority int
	Shutdown func(context.Context) error
}

// NewGracefulShutdown creates a shutdown manager with the given total
// timeout across all resources.
func NewGracefulShutdown(logger *logrus.Logger, timeout time.Duration) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GracefulShutdown{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a resource, kept sorted by priority.
func (gs *GracefulShutdown) Register(resource ShutdownResource) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	inserted := false
	for i, r := range gs.resources {
		if resource.Priority < r.Priority {
			gs.resources = append(gs.resources[:i], append([]ShutdownResource{resource}, gs.resources[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		gs.resources = append(gs.resources, resource)
	}

	gs.logger.WithFields(logrus.Fields{
		"resource": resource.Name,
		"priority": resource.Priority,
	}).Debug("Registered resource for graceful shutdown")
}

// RegisterCloser registers an io.Closer for shutdown.
func (gs *GracefulShutdown) RegisterCloser(name string, closer io.Closer, priority int) {
	gs.Register(ShutdownResource{
		Name:     name,
		Priority: priority,
		Shutdown: func(context.Context) error {
			return closer.Close()
		},
	})
}

// Shutdown runs every hook sequentially in priority order under one
// deadline. The first error is returned after all hooks have run.
func (gs *GracefulShutdown) Shutdown(ctx context.Context) error {
	gs.mu.Lock()
	resources := make([]ShutdownResource, len(gs.resources))
	copy(resources, gs.resources)
	gs.mu.Unlock()

	gs.logger.WithField("resource_count", len(resources)).Info("Starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, gs.timeout)
	defer cancel()

	var first error
	for _, resource := range resources {
		if err := shutdownCtx.Err(); err != nil {
			gs.logger.WithField("resource", resource.Name).Warn("Shutdown deadline reached, skipping remaining resources")
			if first == nil {
				first = err
			}
			break
		}

		gs.logger.WithField("resource", resource.Name).Debug("Shutting down resource")
		if err := gs.runOne(shutdownCtx, resource); err != nil {
			gs.logger.WithError(err).WithField("resource", resource.Name).Error("Error shutting down resource")
			if first == nil {
				first = err
			}
			continue
		}
		gs.logger.WithField("resource", resource.Name).Debug("Resource shut down cleanly")
	}

	if first == nil {
		gs.logger.Info("Graceful shutdown complete")
	}
	return first
}

func (gs *GracefulShutdown) runOne(ctx context.Context, resource ShutdownResource) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic shutting down %s: %v", resource.Name, r)
		}
	}()

	done := make(chan error, 1)
	go func() {
		done <- resource.Shutdown(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("shutdown of %s interrupted: %w", resource.Name, ctx.Err())
	}
}
