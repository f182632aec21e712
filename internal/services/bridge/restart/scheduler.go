// Package restart schedules recurring, idempotent restarts for named game
// servers: durable cron jobs, a per-second countdown addressed to the target
// server, and the restart command itself.
package restart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/robfig/cron/v3"

	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/registry"
	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/storage"
	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/wire"
)

// DefaultJobIDPrefix namespaces restart jobs in the shared job store.
const DefaultJobIDPrefix = "server-restart-"

const countdownAuthor = "Console"

// Config controls scheduling and execution behavior.
type Config struct {
	// JobIDPrefix is prepended to the normalized server id to form the job id.
	JobIDPrefix string
	// ChatChannelID is the platform log channel carried on restart commands.
	ChatChannelID string
	// PollInterval is how often the store is checked for due jobs.
	PollInterval time.Duration
	// LookAhead bounds the ListUpcoming window.
	LookAhead time.Duration
	// CountdownSeconds is how many one-second countdown notices precede the
	// restart command.
	CountdownSeconds int
	// MaxAttempts bounds retries of one firing after a transport fault.
	MaxAttempts uint
	// RetryBackoff is the fixed delay between those retries.
	RetryBackoff time.Duration
}

func (c Config) normalized() Config {
	if c.JobIDPrefix == "" {
		c.JobIDPrefix = DefaultJobIDPrefix
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.LookAhead <= 0 {
		c.LookAhead = time.Hour
	}
	if c.CountdownSeconds <= 0 {
		c.CountdownSeconds = 5
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	return c
}

// Upcoming pairs a job with the server id recovered from its job id.
type Upcoming struct {
	ServerID string
	Job      storage.RestartJob
}

// Scheduler owns restart-job lifecycle and execution. It consults the live
// registry before every send, so a server disconnecting mid-countdown simply
// ends that firing.
type Scheduler struct {
	store    storage.JobStore
	registry *registry.Service
	cfg      Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a scheduler over the given job store and registry.
func New(store storage.JobStore, reg *registry.Service, cfg Config) *Scheduler {
	return &Scheduler{
		store:    store,
		registry: reg,
		cfg:      cfg.normalized(),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Scheduler) jobID(serverID string) string {
	return s.cfg.JobIDPrefix + registry.NormalizeID(serverID)
}

// ScheduleOrUpdate validates the cron expression and upserts the job keyed by
// the deterministic id, so re-scheduling a server updates rather than
// duplicates. A malformed expression is rejected before anything is persisted.
func (s *Scheduler) ScheduleOrUpdate(ctx context.Context, serverID, cronExpr string) (storage.RestartJob, error) {
	serverID = registry.NormalizeID(serverID)
	if serverID == "" {
		return storage.RestartJob{}, fmt.Errorf("server id is required")
	}
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return storage.RestartJob{}, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	job := storage.RestartJob{
		ID:            s.cfg.JobIDPrefix + serverID,
		ServerID:      serverID,
		CronExpr:      cronExpr,
		NextExecution: schedule.Next(s.now()),
	}
	if err := s.store.UpsertJob(ctx, job); err != nil {
		return storage.RestartJob{}, err
	}
	return job, nil
}

// Stop removes the server's restart job. Stopping a server without one
// succeeds as a no-op.
func (s *Scheduler) Stop(ctx context.Context, serverID string) error {
	err := s.store.DeleteJob(ctx, s.jobID(serverID))
	if errors.Is(err, storage.ErrJobNotFound) {
		return nil
	}
	return err
}

// ListUpcoming returns restart jobs due within the look-ahead window,
// soonest first.
func (s *Scheduler) ListUpcoming(ctx context.Context) ([]Upcoming, error) {
	jobs, err := s.store.ListJobs(ctx, s.cfg.JobIDPrefix)
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(s.cfg.LookAhead)
	var upcoming []Upcoming
	for _, job := range jobs {
		if job.NextExecution.After(cutoff) {
			continue
		}
		upcoming = append(upcoming, Upcoming{
			ServerID: strings.TrimPrefix(job.ID, s.cfg.JobIDPrefix),
			Job:      job,
		})
	}
	return upcoming, nil
}

// Run polls the store and executes due jobs until ctx is cancelled. Next
// execution times that lapsed while the process was down are recomputed
// first, without firing.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.recoverMissed(ctx); err != nil {
		return fmt.Errorf("recover missed restart jobs: %w", err)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.processDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Printf("restart: process due jobs: %v", err)
			}
		}
	}
}

func (s *Scheduler) recoverMissed(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx, s.cfg.JobIDPrefix)
	if err != nil {
		return err
	}
	now := s.now()
	for _, job := range jobs {
		if !job.NextExecution.Before(now) {
			continue
		}
		if err := s.rescheduleAfter(ctx, job, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) processDue(ctx context.Context) error {
	now := s.now()
	due, err := s.store.ListDueJobs(ctx, s.cfg.JobIDPrefix, now)
	if err != nil {
		return err
	}
	for _, job := range due {
		s.fire(ctx, job)
		if err := s.rescheduleAfter(ctx, job, s.now()); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (s *Scheduler) rescheduleAfter(ctx context.Context, job storage.RestartJob, after time.Time) error {
	schedule, err := cron.ParseStandard(job.CronExpr)
	if err != nil {
		// ScheduleOrUpdate validates before persisting, so this row is
		// corrupt; drop it rather than re-fail every poll.
		log.Printf("restart: removing job %s with unparseable schedule %q: %v", job.ID, job.CronExpr, err)
		if deleteErr := s.store.DeleteJob(ctx, job.ID); deleteErr != nil && !errors.Is(deleteErr, storage.ErrJobNotFound) {
			return deleteErr
		}
		return nil
	}
	return s.store.SetNextExecution(ctx, job.ID, schedule.Next(after))
}

// fire runs one scheduled firing with the bounded fixed-backoff retry policy.
// A missing target server is an expected non-error outcome; only transport
// faults are retried.
func (s *Scheduler) fire(ctx context.Context, job storage.RestartJob) {
	operation := func() (struct{}, error) {
		if err := s.executeOnce(ctx, job); err != nil {
			var transportErr *registry.TransportError
			if errors.As(err, &transportErr) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.cfg.RetryBackoff)),
		backoff.WithMaxTries(s.cfg.MaxAttempts),
	)
	if err != nil {
		log.Printf("restart: job %s failed after %d attempt(s): %v", job.ID, s.cfg.MaxAttempts, err)
	}
}

// executeOnce performs one restart attempt: the countdown, then the restart
// command. The target is looked up fresh before every send; once it is gone
// the remaining steps are skipped without error.
func (s *Scheduler) executeOnce(ctx context.Context, job storage.RestartJob) error {
	for i := s.cfg.CountdownSeconds; i >= 1; i-- {
		server := s.registry.GetOnlineServer(job.ServerID)
		if server == nil {
			log.Printf("restart: server %s offline, skipping firing", job.ServerID)
			return nil
		}
		notice := &wire.ChatMessage{
			ServerID:      job.ServerID,
			MessageAuthor: countdownAuthor,
			MessageBody:   fmt.Sprintf("Restarting in %s!", formatDelay(time.Duration(i)*time.Second)),
		}
		if err := s.registry.SendMessage(server, notice); err != nil {
			return err
		}
		if err := s.sleep(ctx, time.Second); err != nil {
			return err
		}
	}

	server := s.registry.GetOnlineServer(job.ServerID)
	if server == nil {
		log.Printf("restart: server %s disconnected during countdown", job.ServerID)
		return nil
	}
	command := &wire.GenericCommand{
		ServerID:       job.ServerID,
		ChannelID:      s.cfg.ChatChannelID,
		CommandName:    "restart",
		DefaultCommand: "restart",
	}
	return s.registry.SendMessage(server, command)
}

// formatDelay phrases a restart delay: minutes and seconds above one minute,
// bare seconds below it.
func formatDelay(d time.Duration) string {
	if d >= time.Minute {
		minutes := int(d / time.Minute)
		seconds := int(d % time.Minute / time.Second)
		if seconds == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", int(d/time.Second))
}
