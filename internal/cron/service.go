package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/packfinderz-serials/pkg/logger"
	"github.com/angelmondragon/packfinderz-serials/pkg/metrics"
)

const defaultInterval = time.Hour

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.JobMetrics
	// Interval between cycles; defaults to one hour.
	Interval time.Duration
}

// Service runs every registered job once per interval while it holds Lock.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.JobMetrics
	interval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	}
	svc := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: params.Interval,
	}
	if svc.registry == nil {
		svc.registry = &Registry{byName: map[string]Job{}}
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	return svc, nil
}

// Run starts with a cycle right away and then ticks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx, s.registry.Jobs()); err != nil {
			s.logg.Error(ctx, "scheduled run failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs the named jobs a single time under the lock. Every selected
// job runs; their failures are combined in the returned error. ErrLockHeld
// is returned when another worker is mid-cycle.
func (s *Service) RunOnce(ctx context.Context, names ...string) error {
	jobs, err := s.registry.Select(names...)
	if err != nil {
		return err
	}
	var jobErrs error
	locked, err := s.withLock(ctx, func() {
		for _, job := range jobs {
			if err := s.runJob(ctx, job); err != nil {
				jobErrs = multierr.Append(jobErrs, fmt.Errorf("%s: %w", job.Name(), err))
			}
		}
	})
	switch {
	case err != nil:
		return err
	case !locked:
		return ErrLockHeld
	}
	return jobErrs
}

// runCycle swallows job failures; runJob has already logged them.
func (s *Service) runCycle(ctx context.Context, jobs []Job) error {
	locked, err := s.withLock(ctx, func() {
		for _, job := range jobs {
			_ = s.runJob(ctx, job)
		}
	})
	if err != nil {
		return err
	}
	if !locked {
		s.logg.Info(ctx, "cron lock held elsewhere, skipping cycle")
	}
	return nil
}

func (s *Service) withLock(ctx context.Context, fn func()) (bool, error) {
	locked, err := s.lock.Acquire(ctx)
	if err != nil || !locked {
		if err != nil {
			err = fmt.Errorf("lock acquire: %w", err)
		}
		return false, err
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()
	fn()
	return true, nil
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	name := job.Name()
	ctx = s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})

	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)

	s.metrics.ObserveDuration(name, elapsed)
	ctx = s.logg.WithField(ctx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.metrics.IncFailure(name)
		s.logg.Error(ctx, "job failed", err)
		return err
	}
	s.metrics.IncSuccess(name)
	s.logg.Info(ctx, "job completed")
	return nil
}
