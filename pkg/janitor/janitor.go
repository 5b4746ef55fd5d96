// Package janitor runs the scheduled cleanup jobs: expired invitations and
// idle sessions. It is a thin cron wrapper around the owning services.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/quayside-labs/saaskit/pkg/invites"
	"github.com/quayside-labs/saaskit/pkg/sessions"
)

// Config carries the cron schedules and retention knobs.
type Config struct {
	// InvitationSchedule purges expired invitations. Default: hourly.
	InvitationSchedule string
	// SessionSchedule purges idle sessions. Default: daily at 00:30 UTC.
	SessionSchedule string
	// SessionIdleTTL is how long a session may sit unused before it is
	// revoked.
	SessionIdleTTL time.Duration
	// JobTimeout bounds each run.
	JobTimeout time.Duration
}

// DefaultConfig returns the shipped schedules.
func DefaultConfig() Config {
	return Config{
		InvitationSchedule: "0 * * * *",
		SessionSchedule:    "30 0 * * *",
		SessionIdleTTL:     30 * 24 * time.Hour,
		JobTimeout:         5 * time.Minute,
	}
}

// Janitor owns the cron scheduler.
type Janitor struct {
	config   Config
	invites  *invites.Service
	sessions *sessions.Service
	logger   *logrus.Entry
	cron     *cron.Cron
}

// New creates a janitor. Start must be called to begin scheduling.
func New(config Config, inviteService *invites.Service, sessionService *sessions.Service, logger *logrus.Logger) *Janitor {
	return &Janitor{
		config:   config,
		invites:  inviteService,
		sessions: sessionService,
		logger:   logger.WithField("component", "janitor"),
		cron:     cron.New(),
	}
}

// Start registers the jobs and launches the scheduler.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.config.InvitationSchedule, j.runInvitationSweep); err != nil {
		return fmt.Errorf("failed to schedule invitation sweep: %w", err)
	}
	if _, err := j.cron.AddFunc(j.config.SessionSchedule, j.runSessionSweep); err != nil {
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}
	j.cron.Start()
	j.logger.WithFields(logrus.Fields{
		"invitation_schedule": j.config.InvitationSchedule,
		"session_schedule":    j.config.SessionSchedule,
	}).Info("janitor started")
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info("janitor stopped")
}

func (j *Janitor) runInvitationSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), j.config.JobTimeout)
	defer cancel()

	n, err := j.invites.PurgeExpired(ctx)
	if err != nil {
		j.logger.WithError(err).Error("invitation sweep failed")
		return
	}
	if n > 0 {
		j.logger.WithField("purged", n).Info("purged expired invitations")
	}
}

func (j *Janitor) runSessionSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), j.config.JobTimeout)
	defer cancel()

	n, err := j.sessions.PurgeIdle(ctx, j.config.SessionIdleTTL)
	if err != nil {
		j.logger.WithError(err).Error("session sweep failed")
		return
	}
	if n > 0 {
		j.logger.WithField("purged", n).Info("purged idle sessions")
	}
}
