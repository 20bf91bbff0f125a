// Package cron drives the scheduled garden jobs. It is a thin minute
// ticker over cron expressions; the jobs themselves are idempotent
// run-now entry points that can equally be invoked from the CLI.
package cron

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/gardenista/beanbot/pkg/logger"
)

// Job is one scheduled trigger. The scheduler fires it at most once
// per due minute; surviving restarts is the job's own concern, which
// is why every job entry point is safe to invoke again.
type Job struct {
	Name string
	Expr string
	Run  func(ctx context.Context) error
}

// Service evaluates registered cron expressions once a minute in the
// configured timezone and runs due jobs concurrently.
type Service struct {
	loc  *time.Location
	gron *gronx.Gronx

	mu     sync.Mutex
	jobs   []Job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{loc: loc, gron: gronx.New()}
}

// Add registers a job after validating its expression.
func (s *Service) Add(name, expr string, run func(ctx context.Context) error) error {
	if !s.gron.IsValid(expr) {
		return fmt.Errorf("cron: invalid expression %q for job %s", expr, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, Job{Name: name, Expr: expr, Run: run})
	return nil
}

// Jobs returns the registered jobs.
func (s *Service) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...)
}

// Start begins the minute tick loop.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
	logger.InfoCF("cron", "Schedule service started", map[string]interface{}{"jobs": len(s.jobs)})
}

// Stop halts the tick loop and waits for running jobs to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	// Align the first tick to the top of the next minute so expressions
	// fire at their named minute, not a drifting offset.
	now := time.Now().In(s.loc)
	first := now.Truncate(time.Minute).Add(time.Minute).Sub(now)
	select {
	case <-ctx.Done():
		return
	case <-time.After(first):
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	s.fire(ctx, time.Now().In(s.loc))
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			s.fire(ctx, tick.In(s.loc))
		}
	}
}

func (s *Service) fire(ctx context.Context, now time.Time) {
	for _, job := range s.Jobs() {
		due, err := s.gron.IsDue(job.Expr, now)
		if err != nil {
			logger.WarnCF("cron", "Expression check failed", map[string]interface{}{
				"job":   job.Name,
				"error": err.Error(),
			})
			continue
		}
		if !due {
			continue
		}
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			logger.InfoCF("cron", "Running scheduled job", map[string]interface{}{"job": job.Name})
			if err := job.Run(ctx); err != nil {
				logger.ErrorCF("cron", "Scheduled job failed", map[string]interface{}{
					"job":   job.Name,
					"error": err.Error(),
				})
			}
		}(job)
	}
}

// DailyAt builds a cron expression firing once a day at HH:MM.
func DailyAt(hhmm string) (string, error) {
	h, m, err := parseClock(hhmm)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

// WeeklyAt builds a cron expression firing at HH:MM on one weekday,
// 0 = Sunday.
func WeeklyAt(hhmm string, weekday int) (string, error) {
	h, m, err := parseClock(hhmm)
	if err != nil {
		return "", err
	}
	if weekday < 0 || weekday > 6 {
		return "", fmt.Errorf("cron: weekday %d out of range 0-6", weekday)
	}
	return fmt.Sprintf("%d %d * * %d", m, h, weekday), nil
}

// EveryHours builds a cron expression firing on the hour every n hours.
func EveryHours(n int) (string, error) {
	if n < 1 || n > 23 {
		return "", fmt.Errorf("cron: interval %d out of range 1-23 hours", n)
	}
	return fmt.Sprintf("0 */%d * * *", n), nil
}

func parseClock(hhmm string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(hhmm), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("cron: clock time %q is not HH:MM", hhmm)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("cron: clock time %q has a bad hour", hhmm)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("cron: clock time %q has a bad minute", hhmm)
	}
	return hour, minute, nil
}
