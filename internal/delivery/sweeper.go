package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/printrail/printbridge/internal/models"
	"github.com/printrail/printbridge/internal/services"
	"github.com/printrail/printbridge/pkg/logger"
	"github.com/printrail/printbridge/pkg/mail"
	"github.com/printrail/printbridge/pkg/metrics"
)

const (
	defaultSweepSpec      = "@every 15m"
	defaultPurgeSpec      = "@daily"
	defaultResendInterval = time.Hour
)

// SweepStats captures what one delivery pass did.
type SweepStats struct {
	Sent    int
	Skipped int
	Failed  int
}

// Sweeper periodically re-delivers pending invitation emails and purges
// invites and verification codes that can no longer be used.
type Sweeper struct {
	db            *gorm.DB
	invites       *services.InviteService
	verifications *services.VerificationService
	cron          *cron.Cron
	now           func() time.Time
	log           *zap.Logger

	sweepSchedule  string
	purgeSchedule  string
	resendInterval time.Duration
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for scheduling and expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweepSchedule overrides the cron specification for the delivery pass.
func WithSweepSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.sweepSchedule = spec
		}
	}
}

// WithPurgeSchedule overrides the cron specification for the purge pass.
func WithPurgeSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.purgeSchedule = spec
		}
	}
}

// WithResendInterval adjusts how long the sweep waits before re-sending an
// invite that has already been delivered.
func WithResendInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.resendInterval = d
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults.
func NewSweeper(db *gorm.DB, invites *services.InviteService, verifications *services.VerificationService, opts ...Option) (*Sweeper, error) {
	if db == nil {
		return nil, errors.New("sweeper: db is required")
	}
	if invites == nil {
		return nil, errors.New("sweeper: invite service is required")
	}

	sweeper := &Sweeper{
		db:             db,
		invites:        invites,
		verifications:  verifications,
		now:            time.Now,
		log:            logger.WithModule("delivery"),
		sweepSchedule:  defaultSweepSpec,
		purgeSchedule:  defaultPurgeSpec,
		resendInterval: defaultResendInterval,
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return sweeper, nil
}

// Start registers the sweep and purge jobs with the scheduler and launches it.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.sweepSchedule, func() {
		ctx := context.Background()
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Warn("invite delivery sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.purgeSchedule, func() {
		ctx := context.Background()
		if err := s.Purge(ctx); err != nil {
			s.log.Warn("invite purge failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes one sweep and one purge pass sequentially. Primarily used
// in tests and during startup.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if _, err := s.Sweep(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := s.Purge(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}

	return errs
}

// Sweep delivers every pending, unexpired invite that has not been sent
// recently. A failure on one invite never blocks the rest of the pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now()
	stats := SweepStats{}

	var invites []models.OrganizationInvite
	if err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at > ?", models.InviteStatusPending, now).
		Order("created_at ASC").
		Find(&invites).Error; err != nil {
		return stats, err
	}

	metrics.PendingInvites.Set(float64(len(invites)))

	orgs := make(map[string]*models.Organization)

	for i := range invites {
		invite := &invites[i]

		if invite.LastSentAt != nil && now.Sub(*invite.LastSentAt) < s.resendInterval {
			stats.Skipped++
			metrics.InviteEmailsSent.WithLabelValues("skipped").Inc()
			continue
		}

		org, ok := orgs[invite.OrganizationID]
		if !ok {
			var loaded models.Organization
			err := s.db.WithContext(ctx).First(&loaded, "id = ?", invite.OrganizationID).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				orgs[invite.OrganizationID] = nil
			case err != nil:
				stats.Failed++
				s.log.Warn("failed to load organization for invite",
					zap.String("invite_id", invite.ID),
					zap.Error(err))
				continue
			default:
				orgs[invite.OrganizationID] = &loaded
			}
			org = orgs[invite.OrganizationID]
		}

		// Invites pointing at a deleted or inactive organization stay in
		// place until the purge removes them after expiry.
		if org == nil || org.Status != models.OrgStatusActive {
			stats.Skipped++
			metrics.InviteEmailsSent.WithLabelValues("skipped").Inc()
			continue
		}

		if err := s.invites.Deliver(ctx, invite, org); err != nil {
			if errors.Is(err, mail.ErrSMTPDisabled) {
				stats.Skipped++
				metrics.InviteEmailsSent.WithLabelValues("skipped").Inc()
				continue
			}
			stats.Failed++
			s.log.Warn("invite delivery failed",
				zap.String("invite_id", invite.ID),
				zap.String("email", invite.Email),
				zap.Error(err))
			continue
		}
		stats.Sent++
	}

	s.log.Debug("invite delivery sweep complete",
		zap.Int("sent", stats.Sent),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed))

	return stats, nil
}

// Purge removes invites that can never be accepted again and stale
// verification codes.
func (s *Sweeper) Purge(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now()
	var errs error

	if _, err := s.invites.PurgeTerminal(ctx, now); err != nil {
		errs = multierr.Append(errs, err)
	}

	if s.verifications != nil {
		if _, err := s.verifications.PurgeStale(ctx, now); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
